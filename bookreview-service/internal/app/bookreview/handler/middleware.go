package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bookreview/bookreview-service/internal/app/bookreview/service"

	"github.com/gin-gonic/gin"
)

// Ключи контекста Gin
const (
	ContextUserID = "user_id"
	ContextToken  = "token"
)

// TokenValidator проверяет токен и возвращает id пользователя
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// AuthMiddleware проверяет Bearer-токен через AuthService (подпись, срок, черный список)
type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Authenticate отклоняет запрос с 401 до вызова обработчика
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c)
			c.Abort()
			return
		}

		token, found := strings.CutPrefix(authHeader, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Token is not valid"})
			c.Abort()
			return
		}

		userID, err := m.validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, service.ErrUnauthorized) {
				_ = c.Error(err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Token is not valid"})
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)
		c.Set(ContextToken, token)
		c.Next()
	}
}
