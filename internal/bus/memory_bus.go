// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/metrics"
)

// MemoryBus is the in-process pub/sub implementation. It is not durable;
// delivery is best-effort with per-subscriber buffering. A full subscriber
// buffer drops the event rather than stalling the session engine.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

const subscriberBuffer = 64

const dropLogEvery = 100

var dropCount atomic.Uint64

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	if err := ctx.Err(); err != nil {
		metrics.IncBusDrop(topic, "context_done")
		return fmt.Errorf("publish topic %q: %w", topic, err)
	}

	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.send(msg) {
			metrics.IncBusPublish(topic)
			continue
		}
		metrics.IncBusDrop(topic, "full")
		count := dropCount.Add(1)
		if count%dropLogEvery == 0 {
			logger := log.WithComponent("bus")
			logger.Warn().
				Str("topic", topic).
				Uint64("dropped", count).
				Msg("subscriber buffer full, dropping progress event")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscriber, error) {
	sub := &memSub{b: b, topic: topic, ch: make(chan Message, subscriberBuffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return sub, nil
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message

	mu     sync.Mutex
	closed bool
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

// send delivers without blocking. The subscriber mutex serializes sends
// against Close so a racing publisher never hits a closed channel.
func (s *memSub) send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *memSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		delete(s.b.subs, s.topic)
	} else {
		s.b.subs[s.topic] = out
	}
	return nil
}

var _ Bus = (*MemoryBus)(nil)
