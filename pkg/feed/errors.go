package feed

import (
	"errors"
	"fmt"
)

// ErrorType classifies feed API failures
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeItem        ErrorType = "item"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a feed API error
type Error struct {
	Type     ErrorType
	Message  string
	Code     int
	Endpoint string
}

func (e *Error) Error() string {
	return fmt.Sprintf("feed %s error (code %d) on %s: %s", e.Type, e.Code, e.Endpoint, e.Message)
}

// Temporary reports whether retrying the request may succeed
func (e *Error) Temporary() bool {
	return IsRetryable(e.Type)
}

// IsRetryable checks if an error type is transient
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeNetwork, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsAuthorError reports whether err concerns one author only: the account
// is unauthorized, protected, suspended or missing, or the feed reported
// an item-level error.
func IsAuthorError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeForbidden, ErrorTypeNotFound, ErrorTypeItem:
		return true
	default:
		return false
	}
}

// apiErrors is the body the feed returns for item-level failures
type apiErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (a apiErrors) String() string {
	if len(a.Errors) == 0 {
		return "unknown error"
	}
	msg := fmt.Sprintf("%s (code %d)", a.Errors[0].Message, a.Errors[0].Code)
	if n := len(a.Errors) - 1; n > 0 {
		msg += fmt.Sprintf(" and %d more", n)
	}
	return msg
}
