package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeSearchFailed       = "SEARCH_FAILED"
	ErrCodeTimeout            = "SEARCH_TIMEOUT"
	ErrCodeTarget             = "TARGET_ERROR"
	ErrCodeExtraction         = "EXTRACTION_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorKind classifies why a search step failed. The retry policy and the
// HTTP layer both key off it.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "TIMEOUT"
	KindBlocked            ErrorKind = "BLOCKED"
	KindConnectionReset    ErrorKind = "CONNECTION_RESET"
	KindNavigation         ErrorKind = "NAVIGATION_ERROR"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindNoParseableContent ErrorKind = "NO_PARSEABLE_CONTENT"
	KindCircuitOpen        ErrorKind = "CIRCUIT_OPEN"
	KindUnknown            ErrorKind = "UNKNOWN"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string    `json:"code"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Message string    `json:"message"`
}

// SearchError is the internal error type carrying an error code and the
// classification of the underlying failure.
// It implements the error interface and supports error wrapping via Unwrap.
type SearchError struct {
	Code    string
	Kind    ErrorKind
	Message string
	Err     error // wrapped original error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %s: %v", e.Code, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s(%s): %s", e.Code, e.Kind, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// NewSearchError creates a new SearchError.
func NewSearchError(code string, kind ErrorKind, message string, err error) *SearchError {
	return &SearchError{Code: code, Kind: kind, Message: message, Err: err}
}

// NewTargetError reports a failure observed while talking to the target site.
func NewTargetError(kind ErrorKind, message string, err error) *SearchError {
	return NewSearchError(ErrCodeTarget, kind, message, err)
}

// NewInvalidInputError reports a malformed plate or driver name.
func NewInvalidInputError(message string) *SearchError {
	return NewSearchError(ErrCodeInvalidInput, KindInvalidInput, message, nil)
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *SearchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Kind: e.Kind, Message: e.Message}
}

// KindOf returns the classification of the first SearchError in err's chain,
// or KindUnknown.
func KindOf(err error) ErrorKind {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the outermost SearchError in err's chain,
// or ErrCodeInternal.
func CodeOf(err error) string {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
