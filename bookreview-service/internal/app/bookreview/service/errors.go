package service

import (
	"errors"
	"strings"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
)

var (
	ErrBookNotFound       = errors.New("book not found")
	ErrReviewNotFound     = errors.New("review not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrDuplicateReview    = errors.New("you have already reviewed this book")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidID          = errors.New("invalid id")
	ErrUnauthorized       = errors.New("unauthorized")
)

// ValidationError - ошибки полей запроса в формате, который отдаётся клиенту как есть
type ValidationError struct {
	Errors []entity.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Param+": "+fe.Msg)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
