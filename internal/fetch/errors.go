// SPDX-License-Identifier: MIT

package fetch

import (
	"errors"
	"fmt"
)

// ErrCancelled aborts a transfer on user request. It is never retried.
var ErrCancelled = errors.New("download cancelled")

// TransferError wraps a failed chunk transfer with its source URL.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// StatusError reports an unexpected upstream HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Retryable classifies transfer errors. Cancellation and client errors
// are permanent; server errors, rate limits and connection failures get
// another attempt.
func Retryable(err error) bool {
	if errors.Is(err, ErrCancelled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == 429
	}
	return true
}
