package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when the backend has no row for the requested
// conversation.
var ErrNotFound = errors.New("review request not found")

// StatusError is a non-2xx response from the backend, after retries.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

// IsCancellation reports whether an error came from cooperative task
// cancellation. These are benign: logged at debug level and never shown
// to the user.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether an error means the record does not exist
// upstream.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
