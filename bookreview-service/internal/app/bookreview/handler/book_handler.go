package handler

import (
	"net/http"
	"strconv"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/service"

	"github.com/gin-gonic/gin"
)

type BookHandler struct {
	bookService service.BookServiceInterface
}

func NewBookHandler(bookService service.BookServiceInterface) *BookHandler {
	return &BookHandler{bookService: bookService}
}

// ListBooks GET /api/books?page=&search=&genre=&sortBy=&sortOrder=
func (h *BookHandler) ListBooks(c *gin.Context) {
	// Нечисловая страница считается первой
	page, _ := strconv.Atoi(c.Query("page"))

	res, err := h.bookService.ListBooks(c.Request.Context(), entity.BookListQuery{
		Page:      page,
		Search:    c.Query("search"),
		Genre:     c.Query("genre"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	})
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *BookHandler) GetGenres(c *gin.Context) {
	genres, err := h.bookService.GetGenres(c.Request.Context())
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, gin.H{"genres": genres})
}

func (h *BookHandler) GetBook(c *gin.Context) {
	res, err := h.bookService.GetBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *BookHandler) CreateBook(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req entity.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	book, err := h.bookService.CreateBook(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err, "")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Book added successfully",
		"book":    book,
	})
}

func (h *BookHandler) UpdateBook(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	var req entity.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	book, err := h.bookService.UpdateBook(c.Request.Context(), c.Param("id"), userID, &req)
	if err != nil {
		respondError(c, err, "Not authorized to update this book")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Book updated successfully",
		"book":    book,
	})
}

func (h *BookHandler) DeleteBook(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		unauthorized(c)
		return
	}

	if err := h.bookService.DeleteBook(c.Request.Context(), c.Param("id"), userID); err != nil {
		respondError(c, err, "Not authorized to delete this book")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Book deleted successfully"})
}
