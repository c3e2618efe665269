// SPDX-License-Identifier: MIT

package media

import "time"

// Status is the client-visible lifecycle of a download session.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling"
	StatusCancelled  Status = "cancelled"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether the status is final. Terminal sessions accept
// no further writes beyond the closing broadcast.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusCompleted, StatusError:
		return true
	}
	return false
}

// ErrorKind is a compact, typed failure signal. Keep these stable: metrics
// and client UX depend on them.
type ErrorKind string

const (
	ErrKindNone                  ErrorKind = ""
	ErrKindResolution            ErrorKind = "resolution"
	ErrKindTransfer              ErrorKind = "transfer"
	ErrKindCancelled             ErrorKind = "cancelled"
	ErrKindMerge                 ErrorKind = "merge"
	ErrKindTranscoderUnavailable ErrorKind = "transcoder_unavailable"
	ErrKindConvert               ErrorKind = "convert"
	ErrKindInternal              ErrorKind = "internal"
)

// Session is the unit of work: one user-initiated download request and its
// tracked state. Instances handed out by the store are copies; the store's
// serialized update path is the only writer of the canonical record.
type Session struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message"`
	Platform Platform `json:"platform"`
	Quality  string   `json:"quality,omitempty"`
	URL      string   `json:"url"`

	// AudioOnly sessions keep just the audio track of the post.
	AudioOnly bool `json:"audioOnly,omitempty"`

	DownloadedBytes         int64      `json:"downloadedBytes"`
	TotalBytes              int64      `json:"totalBytes"` // 0 = unknown
	CurrentSpeedBytesPerSec float64    `json:"currentSpeedBytesPerSec"`
	ETASeconds              *int64     `json:"etaSeconds,omitempty"`
	StartedAt               time.Time  `json:"startedAt"`
	LastSampleAt            time.Time  `json:"lastSampleAt,omitzero"`
	LastSampleBytes         int64      `json:"lastSampleBytes"`
	FinishedAt              *time.Time `json:"finishedAt,omitempty"`

	ResultFiles []string  `json:"resultFiles,omitempty"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
	ErrorDetail string    `json:"errorDetail,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	if s.ResultFiles != nil {
		cp.ResultFiles = append([]string(nil), s.ResultFiles...)
	}
	if s.ETASeconds != nil {
		v := *s.ETASeconds
		cp.ETASeconds = &v
	}
	if s.FinishedAt != nil {
		v := *s.FinishedAt
		cp.FinishedAt = &v
	}
	return &cp
}
