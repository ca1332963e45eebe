package handler

import (
	"errors"
	"fmt"
	"net/http"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/service"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ReviewHandler struct {
	reviewService service.ReviewServiceInterface
}

func NewReviewHandler(reviewService service.ReviewServiceInterface) *ReviewHandler {
	return &ReviewHandler{reviewService: reviewService}
}

func (h *ReviewHandler) CreateReview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req entity.CreateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	review, err := h.reviewService.CreateReview(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Review added successfully",
		"review":  review,
	})
}

func (h *ReviewHandler) UpdateReview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req entity.UpdateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	review, err := h.reviewService.UpdateReview(c.Request.Context(), c.Param("id"), userID, &req)
	if err != nil {
		respondError(c, err, "Not authorized to update this review")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Review updated successfully",
		"review":  review,
	})
}

func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	if err := h.reviewService.DeleteReview(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err, "Not authorized to delete this review")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Review deleted successfully"})
}

// GetBookReviews GET /api/reviews/book/:bookId
func (h *ReviewHandler) GetBookReviews(c *gin.Context) {
	bookID := c.Param("bookId")
	if !validIDParam(c, bookID, "bookId") {
		return
	}

	reviews, err := h.reviewService.GetReviewsByBook(c.Request.Context(), bookID)
	h.respondReviews(c, reviews, err, "bookId")
}

// GetMyReviews GET /api/reviews/my-reviews
func (h *ReviewHandler) GetMyReviews(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	reviews, err := h.reviewService.GetUserReviews(c.Request.Context(), userID)
	h.respondReviews(c, reviews, err, "userId")
}

// GetUserReviews GET /api/reviews/user/:userId
func (h *ReviewHandler) GetUserReviews(c *gin.Context) {
	userID := c.Param("userId")
	if !validIDParam(c, userID, "userId") {
		return
	}

	reviews, err := h.reviewService.GetUserReviews(c.Request.Context(), userID)
	h.respondReviews(c, reviews, err, "userId")
}

func (h *ReviewHandler) respondReviews(c *gin.Context, reviews []entity.ReviewView, err error, param string) {
	if err != nil {
		if errors.Is(err, service.ErrInvalidID) {
			invalidIDFormat(c, param)
			return
		}
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// validIDParam пишет 400 и возвращает false, если параметр пути не ObjectId
func validIDParam(c *gin.Context, id, param string) bool {
	if id == "" || id == "undefined" || id == "null" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": fmt.Sprintf("Valid %s is required", param),
			"error":   fmt.Sprintf("Invalid %s parameter", param),
		})
		return false
	}

	if !primitive.IsValidObjectID(id) {
		invalidIDFormat(c, param)
		return false
	}

	return true
}

func invalidIDFormat(c *gin.Context, param string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"message": fmt.Sprintf("Invalid %s format", param),
		"error":   fmt.Sprintf("%s must be a valid MongoDB ObjectId", param),
	})
}
