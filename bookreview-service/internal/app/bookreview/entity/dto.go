package entity

import "go.mongodb.org/mongo-driver/bson/primitive"

// PageSize - размер страницы каталога книг
const PageSize = 5

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,bcryptlen"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// BookRequest используется и при создании, и при изменении книги
type BookRequest struct {
	Title       string `json:"title" validate:"required,max=100"`
	Author      string `json:"author" validate:"required,max=50"`
	Description string `json:"description" validate:"required,min=10,max=1000"`
	Genre       string `json:"genre" validate:"required,max=30"`
	Year        int    `json:"year" validate:"required,min=1000,notfuture"`
}

type CreateReviewRequest struct {
	BookID     string `json:"bookId" validate:"required,objectid"`
	Rating     int    `json:"rating" validate:"required,min=1,max=5"`
	ReviewText string `json:"reviewText" validate:"required,min=10,max=500"`
}

type UpdateReviewRequest struct {
	Rating     int    `json:"rating" validate:"required,min=1,max=5"`
	ReviewText string `json:"reviewText" validate:"required,min=10,max=500"`
}

// BookListQuery - параметры GET /api/books в сыром виде, нормализуются в сервисе
type BookListQuery struct {
	Page      int
	Search    string
	Genre     string
	SortBy    string
	SortOrder string
}

// BookFilter - нормализованный запрос к хранилищу
type BookFilter struct {
	Search    string
	Genre     string
	SortBy    string
	Ascending bool
	Skip      int
	Limit     int
}

// FieldError повторяет формат ошибок express-validator, который ждёт фронтенд
type FieldError struct {
	Msg      string      `json:"msg"`
	Param    string      `json:"param"`
	Value    interface{} `json:"value"`
	Location string      `json:"location"`
}

type UserRef struct {
	ID   primitive.ObjectID `json:"_id"`
	Name string             `json:"name"`
}

type BookRef struct {
	ID     primitive.ObjectID `json:"_id"`
	Title  string             `json:"title,omitempty"`
	Author string             `json:"author,omitempty"`
}

// BookView - книга с раскрытым addedBy
type BookView struct {
	Book
	AddedBy UserRef `json:"addedBy"`
}

// ReviewView - отзыв с раскрытыми bookId и userId
type ReviewView struct {
	Review
	BookID BookRef `json:"bookId"`
	UserID UserRef `json:"userId"`
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalBooks  int  `json:"totalBooks"`
	HasNext     bool `json:"hasNext"`
	HasPrev     bool `json:"hasPrev"`
}

type BookListResponse struct {
	Books      []BookView `json:"books"`
	Pagination Pagination `json:"pagination"`
}

type BookDetailResponse struct {
	Book    BookView     `json:"book"`
	Reviews []ReviewView `json:"reviews"`
}

type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type AuthResult struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}
