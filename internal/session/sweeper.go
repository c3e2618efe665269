// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"time"

	"github.com/mediagrab/mediagrab/internal/log"
)

// Sweep periodically evicts terminal sessions older than ttl. It blocks
// until ctx is cancelled. Downloaded files stay on disk; only the session
// record is dropped.
func (s *Store) Sweep(ctx context.Context, ttl, interval time.Duration) {
	logger := log.WithComponent("session.sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.evictExpired(ttl)
			if n > 0 {
				logger.Info().Int("evicted", n).Msg("evicted expired sessions")
			}
		}
	}
}

func (s *Store) evictExpired(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if !sess.Status.IsTerminal() || sess.FinishedAt == nil {
			continue
		}
		if sess.FinishedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.cancels, id)
			n++
		}
	}
	return n
}
