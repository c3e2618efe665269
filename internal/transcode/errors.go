// SPDX-License-Identifier: MIT

package transcode

import (
	"errors"
	"fmt"
)

// ErrUnavailable means no ffmpeg binary could be located.
var ErrUnavailable = errors.New("ffmpeg not available")

// MergeError wraps a failed video/audio mux.
type MergeError struct {
	Stderr string
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("ffmpeg merge failed: %v: %s", e.Err, e.Stderr)
}

func (e *MergeError) Unwrap() error { return e.Err }

// ConvertError wraps a failed quality conversion. Conversions degrade
// gracefully; callers keep the unconverted file.
type ConvertError struct {
	Stderr string
	Err    error
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("ffmpeg conversion failed: %v: %s", e.Err, e.Stderr)
}

func (e *ConvertError) Unwrap() error { return e.Err }
