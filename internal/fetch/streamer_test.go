// SPDX-License-Identifier: MIT

package fetch

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func payload(t *testing.T, size int) []byte {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// rangeHandler serves content honoring Range requests.
func rangeHandler(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		if rng := r.Header.Get("Range"); rng != "" {
			v := strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-")
			offset, _ = strconv.Atoi(v)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(content)-1, len(content)))
			w.WriteHeader(http.StatusPartialContent)
		}
		_, _ = w.Write(content[offset:])
	}
}

func TestDownloadFull(t *testing.T) {
	content := payload(t, 3*1024*1024)
	srv := httptest.NewServer(rangeHandler(content))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(1))

	var last Progress
	err := s.Download(context.Background(), Request{
		URL:        srv.URL,
		Dest:       dest,
		Platform:   media.PlatformYouTube,
		Window:     Window{Lo: 10, Hi: 50},
		OnProgress: func(p Progress) { last = p },
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, 50, last.Percent)
	assert.Equal(t, int64(len(content)), last.DownloadedBytes)

	_, err = os.Stat(dest + partSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadResumesFromPartial(t *testing.T) {
	content := payload(t, 2*1024*1024)
	var sawRange bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange = true
		}
		rangeHandler(content)(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	half := len(content) / 2
	require.NoError(t, os.WriteFile(dest+partSuffix, content[:half], 0o644))

	s := NewStreamer(srv.Client(), fastPolicy(1))
	err := s.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Platform: media.PlatformYouTube})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.True(t, sawRange, "expected a ranged resume request")
}

func TestDownloadRetriesAfterMidStreamCut(t *testing.T) {
	content := payload(t, 1024*1024)
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			// Announce the full length, deliver half, then cut.
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			_, _ = w.Write(content[:len(content)/2])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			panic(http.ErrAbortHandler)
		}
		rangeHandler(content)(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(3))
	err := s.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Platform: media.PlatformYouTube})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.GreaterOrEqual(t, requests, 2)
}

func TestDownloadCancelRemovesPartial(t *testing.T) {
	content := payload(t, 4*1024*1024)
	srv := httptest.NewServer(rangeHandler(content))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(3))

	err := s.Download(context.Background(), Request{
		URL:             srv.URL,
		Dest:            dest,
		Platform:        media.PlatformYouTube,
		CancelRequested: func() bool { return true },
	})
	require.ErrorIs(t, err, ErrCancelled)

	_, statErr := os.Stat(dest + partSuffix)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadExhaustsRetriesOnServerError(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(3))

	err := s.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Platform: media.PlatformYouTube})
	require.Error(t, err)
	assert.Equal(t, 3, requests)
}

func TestDownloadDoesNotRetryClientError(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(5))

	err := s.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Platform: media.PlatformYouTube})
	require.Error(t, err)
	assert.Equal(t, 1, requests)
}

func TestConcurrentDownloadsToSameDestSerialize(t *testing.T) {
	content := payload(t, 512*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pace the response so the transfers overlap in time.
		for off := 0; off < len(content); off += 64 * 1024 {
			end := off + 64*1024
			if end > len(content) {
				end = len(content)
			}
			_, _ = w.Write(content[off:end])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(1))

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			errs <- s.Download(context.Background(), Request{URL: srv.URL, Dest: dest, Platform: media.PlatformYouTube})
		}()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Len(t, got, len(content))
	assert.Equal(t, content, got)

	_, err = os.Stat(dest + partSuffix)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadReportsSpeedAndETA(t *testing.T) {
	const chunk = 64 * 1024
	content := payload(t, 8*chunk)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		for off := 0; off < len(content); off += chunk {
			_, _ = w.Write(content[off : off+chunk])
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mp4")
	s := NewStreamer(srv.Client(), fastPolicy(1))

	var samples []Progress
	err := s.Download(context.Background(), Request{
		URL:        srv.URL,
		Dest:       dest,
		Platform:   media.PlatformYouTube,
		Window:     Window{Lo: 0, Hi: 100},
		OnProgress: func(p Progress) { samples = append(samples, p) },
	})
	require.NoError(t, err)
	require.NotEmpty(t, samples)

	sawETA := false
	for _, p := range samples {
		assert.GreaterOrEqual(t, p.SpeedBytesPerSec, 0.0)
		if p.ETASeconds != nil {
			sawETA = true
			assert.GreaterOrEqual(t, *p.ETASeconds, int64(0))
		}
	}
	assert.True(t, sawETA, "expected at least one sample with an ETA")

	// The smoothed speed should land near the paced serving rate, not at
	// an instantaneous burst value.
	served := chunk * int(time.Second/(20*time.Millisecond))
	var speed float64
	for _, p := range samples {
		if p.SpeedBytesPerSec > 0 {
			speed = p.SpeedBytesPerSec
		}
	}
	require.Greater(t, speed, 0.0)
	assert.Greater(t, speed, float64(served)/20)
	assert.Less(t, speed, float64(served)*20)
}

func TestRetryableClassification(t *testing.T) {
	assert.False(t, Retryable(ErrCancelled))
	assert.False(t, Retryable(&TransferError{Err: &StatusError{StatusCode: 403}}))
	assert.True(t, Retryable(&TransferError{Err: &StatusError{StatusCode: 503}}))
	assert.True(t, Retryable(&TransferError{Err: &StatusError{StatusCode: 429}}))
	assert.True(t, Retryable(fmt.Errorf("connection reset")))
}

func TestWindowClamp(t *testing.T) {
	w := Window{Lo: 15, Hi: 50}
	assert.Equal(t, 15, w.Clamp(0))
	assert.Equal(t, 50, w.Clamp(1))
	assert.Equal(t, 32, w.Clamp(0.5))
	assert.Equal(t, 15, w.Clamp(-1))
	assert.Equal(t, 50, w.Clamp(2))
}
