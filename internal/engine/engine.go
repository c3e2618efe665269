// SPDX-License-Identifier: MIT

// Package engine runs download sessions: a fixed worker pool pulls
// queued sessions and drives them through resolve, transfer, merge,
// convert and finalize phases.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediagrab/mediagrab/internal/fetch"
	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/metrics"
	"github.com/mediagrab/mediagrab/internal/session"
)

// ErrQueueFull is returned when the session queue cannot accept work.
var ErrQueueFull = errors.New("session queue is full")

const queueCapacity = 64

// Resolver resolves a post URL into fetchable media.
type Resolver interface {
	Resolve(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Resolution, error)
}

// Streamer transfers one media URL to disk.
type Streamer interface {
	Download(ctx context.Context, req fetch.Request) error
}

// Transcoder merges, converts and extracts media files.
type Transcoder interface {
	Merge(ctx context.Context, videoPath, audioPath, outPath string) error
	Convert(ctx context.Context, inPath, outPath string, preset media.QualityPreset, isVideo bool) error
	ExtractAudio(ctx context.Context, inPath, outPath string) error
}

// Config holds the engine's tunables.
type Config struct {
	DataDir         string
	Workers         int
	ItemConcurrency int
}

// Engine owns the worker pool and the per-session pipeline.
type Engine struct {
	cfg        Config
	store      *session.Store
	broadcast  *session.Broadcaster
	resolver   Resolver
	streamer   Streamer
	transcoder Transcoder // nil when ffmpeg is unavailable

	queue chan string
	wg    sync.WaitGroup
}

func New(cfg Config, store *session.Store, broadcast *session.Broadcaster, resolver Resolver, streamer Streamer, transcoder Transcoder) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ItemConcurrency < 1 {
		cfg.ItemConcurrency = 1
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		broadcast:  broadcast,
		resolver:   resolver,
		streamer:   streamer,
		transcoder: transcoder,
		queue:      make(chan string, queueCapacity),
	}
}

// Start launches the worker pool. Workers drain until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
}

// Wait blocks until all workers have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Submit registers a new session for the request and queues it.
func (e *Engine) Submit(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Session, error) {
	return e.enqueue(ctx, &media.Session{
		ID:        uuid.NewString(),
		Status:    media.StatusQueued,
		Platform:  platform,
		Quality:   quality,
		URL:       rawURL,
		Message:   "Queued",
		StartedAt: time.Now(),
	})
}

// SubmitAudio queues a session that keeps only the audio track of the post.
func (e *Engine) SubmitAudio(ctx context.Context, platform media.Platform, rawURL string) (*media.Session, error) {
	return e.enqueue(ctx, &media.Session{
		ID:        uuid.NewString(),
		Status:    media.StatusQueued,
		Platform:  platform,
		URL:       rawURL,
		AudioOnly: true,
		Message:   "Queued",
		StartedAt: time.Now(),
	})
}

func (e *Engine) enqueue(ctx context.Context, sess *media.Session) (*media.Session, error) {
	if err := e.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	select {
	case e.queue <- sess.ID:
		metrics.SessionStarted()
		metrics.SetQueueDepth(len(e.queue))
		return sess, nil
	default:
		e.store.Delete(ctx, sess.ID)
		return nil, ErrQueueFull
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := log.WithComponent("engine").With().Int("worker", id).Logger()
	logger.Debug().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("worker stopped")
			return
		case sessionID := <-e.queue:
			metrics.SetQueueDepth(len(e.queue))
			e.runSafely(ctx, sessionID)
		}
	}
}

// runSafely converts worker panics into an error state for the session
// instead of taking down the pool.
func (e *Engine) runSafely(ctx context.Context, sessionID string) {
	defer func() {
		if r := recover(); r != nil {
			logger := log.WithComponent("engine")
			logger.Error().
				Str("session", sessionID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("session worker panicked")
			e.fail(ctx, sessionID, media.ErrKindInternal, fmt.Sprintf("internal error: %v", r))
		}
	}()
	e.run(ctx, sessionID)
}
