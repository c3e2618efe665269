// SPDX-License-Identifier: MIT

// Package session tracks download sessions: an in-memory store with
// serialized mutation, cancellation flags, rate-limited progress
// broadcasting and TTL eviction of finished sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mediagrab/mediagrab/internal/media"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session not found")

	// ErrTerminal is returned when an update targets a finished session.
	ErrTerminal = errors.New("session already in a terminal state")
)

// Store keeps canonical session records. Reads hand out deep copies;
// all writes go through Update so record mutation is serialized per store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*media.Session

	// cancel flags live beside the records so a cancel request survives
	// until a worker observes it, even across retries.
	cancels map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*media.Session),
		cancels:  make(map[string]struct{}),
	}
}

// Create registers a new session record. The stored copy is detached from
// the caller's instance.
func (s *Store) Create(_ context.Context, sess *media.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return errors.New("session id already exists")
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a deep copy of the session.
func (s *Store) Get(_ context.Context, id string) (*media.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// List returns deep copies of all sessions.
func (s *Store) List(_ context.Context) []*media.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*media.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// Update applies fn to the canonical record under the store lock and
// returns a copy of the result. Terminal sessions reject further updates;
// progress never moves backwards.
func (s *Store) Update(_ context.Context, id string, fn func(*media.Session) error) (*media.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Status.IsTerminal() {
		return nil, ErrTerminal
	}

	prevProgress := sess.Progress
	if err := fn(sess); err != nil {
		return nil, err
	}
	if sess.Progress < prevProgress {
		sess.Progress = prevProgress
	}
	if sess.Progress > 100 {
		sess.Progress = 100
	}
	if sess.Status.IsTerminal() && sess.FinishedAt == nil {
		now := time.Now()
		sess.FinishedAt = &now
	}
	return sess.Clone(), nil
}

// Delete removes the session and any pending cancel flag.
func (s *Store) Delete(_ context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.cancels, id)
}

// RequestCancel raises the cancel flag for a session. It is a no-op for
// unknown or already terminal sessions; the bool reports whether the flag
// was set.
func (s *Store) RequestCancel(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status.IsTerminal() {
		return false
	}
	s.cancels[id] = struct{}{}
	return true
}

// IsCancelRequested reports whether a cancel flag is pending for id.
func (s *Store) IsCancelRequested(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cancels[id]
	return ok
}

// ClearCancel drops the cancel flag once the worker has acted on it.
func (s *Store) ClearCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, id)
}
