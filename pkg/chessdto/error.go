package chessdto

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeNotParticipant      Code = "not_participant"
	CodeUnauthorized        Code = "unauthorized"
	CodeStateConflict       Code = "state_conflict"
	CodeResultConflict      Code = "result_conflict"
	CodeConcurrencyConflict Code = "concurrency_conflict"
	CodeInternal            Code = "internal"
)

type DomainError struct {
	Code      Code
	Message   string
	Retryable bool
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return string(e.Code)
	}
	return "arena service error"
}

// Is matches any DomainError carrying the same code, so sentinels work with errors.Is
// regardless of the message.
func (e DomainError) Is(target error) bool {
	var t DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation          = DomainError{Code: CodeValidation}
	ErrNotFound            = DomainError{Code: CodeNotFound}
	ErrNotParticipant      = DomainError{Code: CodeNotParticipant}
	ErrUnauthorized        = DomainError{Code: CodeUnauthorized}
	ErrStateConflict       = DomainError{Code: CodeStateConflict}
	ErrResultConflict      = DomainError{Code: CodeResultConflict}
	ErrConcurrencyConflict = DomainError{Code: CodeConcurrencyConflict, Retryable: true}
)

// Errorf builds a DomainError with a formatted message.
func Errorf(code Code, format string, args ...any) error {
	return DomainError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: code == CodeConcurrencyConflict,
	}
}

// CodeOf returns the domain code of err, or CodeInternal for anything else.
func CodeOf(err error) Code {
	var de DomainError
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	return CodeInternal
}

func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotParticipant:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeStateConflict, CodeResultConflict, CodeConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
