package service

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"bookreview/bookreview-service/internal/app/bookreview/entity"
	"bookreview/bookreview-service/internal/app/bookreview/util"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fieldMessages - одно сообщение на поле, независимо от того, какое правило не прошло
var fieldMessages = map[string]string{
	"title":       "Title is required and must be less than 100 characters",
	"author":      "Author is required and must be less than 50 characters",
	"description": "Description must be between 10 and 1000 characters",
	"genre":       "Genre is required and must be less than 30 characters",
	"year":        "Year must be a valid year",
	"bookId":      "Valid book ID is required",
	"rating":      "Rating must be between 1 and 5",
	"reviewText":  "Review text must be between 10 and 500 characters",
	"name":        "Name must be between 2 and 50 characters",
	"email":       "Please enter a valid email",
	"password":    "Password must be at least 6 characters",
}

// ruleMessages уточняет сообщение для отдельных правил поля
var ruleMessages = map[string]string{
	"password.bcryptlen": "Password must be at most 72 bytes",
}

// Validator оборачивает go-playground/validator и переводит ошибки в ValidationError
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()

	// В ошибках используем имена из json-тегов
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Год издания не может быть в будущем
	_ = v.RegisterValidation("notfuture", func(fl validator.FieldLevel) bool {
		return fl.Field().Int() <= int64(time.Now().Year())
	})

	_ = v.RegisterValidation("objectid", func(fl validator.FieldLevel) bool {
		return primitive.IsValidObjectID(fl.Field().String())
	})

	_ = v.RegisterValidation("bcryptlen", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= util.MaxPasswordBytes
	})

	return &Validator{v: v}
}

// Validate возвращает *ValidationError или nil
func (v *Validator) Validate(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make([]entity.FieldError, 0, len(validationErrs))
	for _, e := range validationErrs {
		msg, ok := ruleMessages[e.Field()+"."+e.Tag()]
		if !ok {
			msg, ok = fieldMessages[e.Field()]
		}
		if !ok {
			msg = "Invalid value"
		}
		fieldErrors = append(fieldErrors, entity.FieldError{
			Msg:      msg,
			Param:    e.Field(),
			Value:    e.Value(),
			Location: "body",
		})
	}

	return &ValidationError{Errors: fieldErrors}
}
