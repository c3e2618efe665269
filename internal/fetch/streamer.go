// SPDX-License-Identifier: MIT

// Package fetch streams remote media to disk: ranged requests, resume
// from partial files, adaptive chunk sizing and live progress reporting.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/metrics"
	"github.com/mediagrab/mediagrab/internal/retry"
)

const (
	initialChunkSize = 64 * 1024
	maxChunkSize     = 256 * 1024

	// stableChunksForGrowth is how many consecutive clean chunks double
	// the read size, up to maxChunkSize.
	stableChunksForGrowth = 10

	// emaAlpha weights the newest speed sample.
	emaAlpha = 0.7

	partSuffix = ".part"

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Progress is one transfer sample pushed to the caller.
type Progress struct {
	DownloadedBytes  int64
	TotalBytes       int64 // 0 = unknown
	SpeedBytesPerSec float64
	ETASeconds       *int64
	Percent          int // mapped into the request window
}

// Window maps raw transfer completion onto a sub-range of the overall
// session progress.
type Window struct {
	Lo int
	Hi int
}

// Clamp maps a completion fraction in [0,1] into the window.
func (w Window) Clamp(frac float64) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	span := w.Hi - w.Lo
	return w.Lo + int(frac*float64(span))
}

// Request describes one file transfer.
type Request struct {
	URL      string
	Dest     string
	Referer  string
	Platform media.Platform
	Window   Window

	// CancelRequested is polled between chunks. A true return deletes
	// the partial file and fails the transfer with ErrCancelled.
	CancelRequested func() bool

	// OnProgress receives throttled transfer samples. May be nil.
	OnProgress func(Progress)
}

// Streamer downloads files over HTTP with resume and retry. Transfers
// to the same destination path are serialized so concurrent sessions
// never interleave writes into one partial file.
type Streamer struct {
	client *http.Client
	policy retry.Policy

	mu    sync.Mutex
	dests map[string]*destLock
}

type destLock struct {
	mu   sync.Mutex
	refs int
}

func NewStreamer(client *http.Client, policy retry.Policy) *Streamer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Streamer{client: client, policy: policy, dests: make(map[string]*destLock)}
}

func (s *Streamer) lockDest(dest string) *destLock {
	s.mu.Lock()
	l, ok := s.dests[dest]
	if !ok {
		l = &destLock{}
		s.dests[dest] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Streamer) unlockDest(dest string, l *destLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.dests, dest)
	}
	s.mu.Unlock()
}

// Download fetches req.URL into req.Dest. Interrupted attempts resume
// from the partial file; the partial is removed on cancellation and
// after the retry budget is spent.
func (s *Streamer) Download(ctx context.Context, req Request) error {
	logger := log.WithComponent("fetch").With().
		Str("url", req.URL).
		Str("dest", filepath.Base(req.Dest)).
		Logger()

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	dest := filepath.Clean(req.Dest)
	l := s.lockDest(dest)
	defer s.unlockDest(dest, l)

	part := req.Dest + partSuffix
	err := retry.Do(ctx, s.policy, Retryable, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			metrics.IncTransferRetry(string(req.Platform))
			logger.Warn().Int("attempt", attempt).Msg("retrying transfer")
		}
		return s.attempt(ctx, req, part)
	})
	if err != nil {
		if removeErr := os.Remove(part); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn().Err(removeErr).Msg("failed to remove partial file")
		}
		return err
	}

	if err := os.Rename(part, req.Dest); err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	logger.Debug().Msg("transfer complete")
	return nil
}

func (s *Streamer) attempt(ctx context.Context, req Request, part string) error {
	var offset int64
	if info, err := os.Stat(part); err == nil {
		offset = info.Size()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return &TransferError{URL: req.URL, Err: err}
	}
	httpReq.Header.Set("User-Agent", defaultUserAgent)
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return &TransferError{URL: req.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		metrics.IncTransferResume(string(req.Platform))
	case http.StatusOK:
		// Server ignored the range; start over.
		if offset > 0 {
			if err := os.Truncate(part, 0); err != nil && !os.IsNotExist(err) {
				return &TransferError{URL: req.URL, Err: err}
			}
			offset = 0
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial already covers the full file.
		return nil
	default:
		return &TransferError{URL: req.URL, Err: &StatusError{URL: req.URL, StatusCode: resp.StatusCode}}
	}

	total := int64(0)
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path confined by caller
	if err != nil {
		return &TransferError{URL: req.URL, Err: err}
	}
	defer func() { _ = f.Close() }()

	return s.copyChunks(ctx, req, resp.Body, f, offset, total, part)
}

// copyChunks reads the body in adaptively sized chunks, checking the
// cancel flag and emitting progress between reads.
func (s *Streamer) copyChunks(ctx context.Context, req Request, body io.Reader, f *os.File, offset, total int64, part string) error {
	chunkSize := initialChunkSize
	stableChunks := 0
	downloaded := offset

	var speed float64
	lastSample := time.Now()
	lastBytes := downloaded

	buf := make([]byte, maxChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return &TransferError{URL: req.URL, Err: err}
		}
		if req.CancelRequested != nil && req.CancelRequested() {
			_ = f.Close()
			if err := os.Remove(part); err != nil && !os.IsNotExist(err) {
				logger := log.WithComponent("fetch")
				logger.Warn().Err(err).Msg("failed to remove partial file on cancel")
			}
			return ErrCancelled
		}

		n, readErr := io.ReadFull(body, buf[:chunkSize])
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return &TransferError{URL: req.URL, Err: writeErr}
			}
			downloaded += int64(n)
			metrics.AddBytesDownloaded(string(req.Platform), int64(n))
		}

		now := time.Now()
		if dt := now.Sub(lastSample).Seconds(); dt > 0 && n > 0 {
			sample := float64(downloaded-lastBytes) / dt
			if speed == 0 {
				speed = sample
			} else {
				speed = emaAlpha*sample + (1-emaAlpha)*speed
			}
			lastSample = now
			lastBytes = downloaded
		}
		s.emit(req, downloaded, total, speed)

		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				if n == 0 || errors.Is(readErr, io.EOF) {
					return s.verifyComplete(req, downloaded, total)
				}
				// Short final chunk; the next read returns EOF.
				continue
			}
			return &TransferError{URL: req.URL, Err: readErr}
		}

		stableChunks++
		if stableChunks >= stableChunksForGrowth && chunkSize < maxChunkSize {
			chunkSize *= 2
			if chunkSize > maxChunkSize {
				chunkSize = maxChunkSize
			}
			stableChunks = 0
		}
	}
}

func (s *Streamer) verifyComplete(req Request, downloaded, total int64) error {
	if total > 0 && downloaded < total {
		return &TransferError{URL: req.URL, Err: fmt.Errorf("connection closed at %d of %d bytes", downloaded, total)}
	}
	s.emit(req, downloaded, total, 0)
	return nil
}

func (s *Streamer) emit(req Request, downloaded, total int64, speed float64) {
	if req.OnProgress == nil {
		return
	}
	p := Progress{
		DownloadedBytes:  downloaded,
		TotalBytes:       total,
		SpeedBytesPerSec: speed,
	}
	if total > 0 {
		frac := float64(downloaded) / float64(total)
		p.Percent = req.Window.Clamp(frac)
		if speed > 0 && downloaded < total {
			eta := int64(float64(total-downloaded) / speed)
			p.ETASeconds = &eta
		}
	} else {
		p.Percent = req.Window.Lo
	}
	req.OnProgress(p)
}
