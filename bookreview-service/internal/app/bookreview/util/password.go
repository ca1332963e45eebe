package util

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes - предел bcrypt: всё, что длиннее, он не хэширует
const MaxPasswordBytes = 72

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HashPassword возвращает bcrypt-хэш для хранения в users.passwordHash
func HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword сверяет пароль при логине. Битый хэш в базе - просто несовпадение.
func CheckPassword(password, hash string) bool {
	if len(password) > MaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
