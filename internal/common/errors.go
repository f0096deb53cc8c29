package common

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	// ErrInsufficientCredits is fatal for a job attempt and never retried.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrNotFound covers missing documents, templates and jobs.
	ErrNotFound = errors.New("resource not found")
	// ErrAlreadyClaimed signals that another worker won the queued->running flip.
	ErrAlreadyClaimed = errors.New("job already claimed")
	ErrInvalidInput   = errors.New("invalid input")
	ErrDatabase       = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Truncate bounds user-visible error text to what the jobs table can hold.
// The cut never lands inside a multi-byte rune, so the result stays valid
// UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
