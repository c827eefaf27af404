package usagemeter

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrNoCapacity    = errors.New("usagemeter: plan grants no request capacity")
	ErrLimitExceeded = errors.New("usagemeter: request limit reached")
	ErrAccessDenied  = errors.New("usagemeter: capability not included in plan")
)

// Error wraps a quota or access failure with an HTTP-style status code and a
// human-readable message, so a transport layer can map it to a response
// without reinterpretation. Quota failures carry 402, access failures 403.
type Error struct {
	Err        error // sentinel, matchable with errors.Is
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("usagemeter: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP-style status code attached to err, or 500 when
// err carries none (storage and cache failures propagate untyped).
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

func noCapacityError(message string) *Error {
	return &Error{
		Err:        ErrNoCapacity,
		StatusCode: http.StatusPaymentRequired,
		Message:    message,
	}
}

func limitExceededError(message string) *Error {
	return &Error{
		Err:        ErrLimitExceeded,
		StatusCode: http.StatusPaymentRequired,
		Message:    message,
	}
}

func accessDeniedError(format string, args ...any) *Error {
	return &Error{
		Err:        ErrAccessDenied,
		StatusCode: http.StatusForbidden,
		Message:    fmt.Sprintf(format, args...),
	}
}
