package auth

import (
	"errors"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	MaxPasswordBytes = 72
)

var hashCost = bcrypt.DefaultCost

var (
	placeholderOnce sync.Once
	placeholder     string
)

var ErrWeakPassword = errors.New("password must be between 8 and 72 bytes")

func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength || len(password) > MaxPasswordBytes {
		return ErrWeakPassword
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	return string(hashed), err
}

func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// placeholderHash is compared against when there is no real hash to check,
// so unknown and locked accounts cost one bcrypt comparison like any other.
func placeholderHash() string {
	placeholderOnce.Do(func() {
		hashed, err := bcrypt.GenerateFromPassword([]byte("society-portal-placeholder"), hashCost)
		if err == nil {
			placeholder = string(hashed)
		}
	})
	return placeholder
}
