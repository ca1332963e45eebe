package handler

import (
	"errors"
	"net/http"

	"bookreview/bookreview-service/internal/app/bookreview/service"

	"github.com/gin-gonic/gin"
)

// respondError переводит ошибку сервиса в HTTP-ответ.
// forbidden - текст для 403, он зависит от операции.
func respondError(c *gin.Context, err error, forbidden string) {
	var validationErr *service.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": validationErr.Errors})
	case errors.Is(err, service.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Book not found"})
	case errors.Is(err, service.ErrReviewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Review not found"})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"message": forbidden})
	case errors.Is(err, service.ErrDuplicateReview):
		c.JSON(http.StatusBadRequest, gin.H{"message": "You have already reviewed this book"})
	case errors.Is(err, service.ErrUserExists):
		c.JSON(http.StatusBadRequest, gin.H{"message": "User already exists"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid credentials"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Token is not valid"})
	default:
		// Подробности уходят в лог запроса, клиенту - общий ответ
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
	}
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
}

// currentUserID достаёт id пользователя, положенный AuthMiddleware
func currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(ContextUserID)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok && id != ""
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"message": "No token, authorization denied"})
}
