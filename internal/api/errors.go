package api

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the backend rejects the bearer token. The
// stored credential has already been invalidated when callers see it.
var ErrUnauthorized = errors.New("api: unauthorized")

// Error is a domain failure reported by the backend, either through a
// success=false envelope or a non-2xx response body.
type Error struct {
	Op      string
	Status  int
	Message string
	Code    string
}

// Error returns the backend message verbatim so it can be shown to operators.
func (e *Error) Error() string {
	return e.Message
}

// IsCode reports whether err is an *Error carrying the given code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func statusMessage(status int) string {
	return fmt.Sprintf("Request failed with status %d", status)
}
