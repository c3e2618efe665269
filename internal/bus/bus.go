// SPDX-License-Identifier: MIT

// Package bus provides in-process pub/sub for session progress events.
// Topics are session IDs; each subscriber gets its own buffered channel.
package bus

import (
	"context"

	"github.com/mediagrab/mediagrab/internal/media"
)

// Message is one progress event: a point-in-time snapshot of a session.
type Message struct {
	Session *media.Session
}

// Subscriber is a single consumer of a topic. Close detaches it and
// closes the channel returned by C.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

// Bus decouples progress producers from delivery transports. Publish must
// never block session work indefinitely; slow consumers lose events.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}
