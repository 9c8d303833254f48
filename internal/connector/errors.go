package connector

import (
	"errors"
	"fmt"
)

const (
	ErrCodeTransport  = "Transport"
	ErrCodeNotFound   = "NoSuchKey"
	ErrCodeAuth       = "AccessDenied"
	ErrCodeBadRequest = "InvalidArgument"
)

// Error is returned by ObjectStore for every failed remote call. Code is the
// upstream error code when the store returned one, ErrCodeTransport when the
// request never got a response.
type Error struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("object store %s: %s (status %d): %s", e.Op, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("object store %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code == ErrCodeNotFound
	}
	return false
}
