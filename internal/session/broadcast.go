// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mediagrab/mediagrab/internal/bus"
	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
)

// Broadcaster publishes session snapshots to the bus with per-session
// rate limiting. Intermediate progress events are coalesced; transitions
// into a terminal state always publish so subscribers never miss the end.
type Broadcaster struct {
	bus         bus.Bus
	minInterval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewBroadcaster(b bus.Bus, minInterval time.Duration) *Broadcaster {
	return &Broadcaster{
		bus:         b,
		minInterval: minInterval,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (b *Broadcaster) limiter(id string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	lim, ok := b.limiters[id]
	if !ok {
		lim = rate.NewLimiter(rate.Every(b.minInterval), 1)
		b.limiters[id] = lim
	}
	return lim
}

// Publish sends a snapshot for the session. Rate-limited events are
// silently skipped unless the session is terminal.
func (b *Broadcaster) Publish(ctx context.Context, sess *media.Session) {
	if !sess.Status.IsTerminal() && b.minInterval > 0 && !b.limiter(sess.ID).Allow() {
		return
	}
	if err := b.bus.Publish(ctx, sess.ID, bus.Message{Session: sess}); err != nil {
		logger := log.WithComponent("broadcast")
		logger.Debug().
			Err(err).
			Str("session", sess.ID).
			Msg("progress publish failed")
	}
	if sess.Status.IsTerminal() {
		b.forget(sess.ID)
	}
}

func (b *Broadcaster) forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.limiters, id)
}
