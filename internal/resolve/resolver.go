// SPDX-License-Identifier: MIT

// Package resolve turns social media post URLs into directly fetchable
// media URLs. Each platform has its own resolver; all upstream calls run
// behind a per-platform circuit breaker.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/metrics"
	"github.com/mediagrab/mediagrab/internal/resilience"
)

// ErrNoMedia is returned when a post page yields no usable media URLs.
var ErrNoMedia = errors.New("no media found for this post")

// ResolutionError wraps a failed resolution with its platform.
type ResolutionError struct {
	Platform media.Platform
	URL      string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s url %s: %v", e.Platform, e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver resolves one post URL for a platform.
type Resolver interface {
	Resolve(ctx context.Context, rawURL, quality string) (*media.Resolution, error)
}

// Registry dispatches to platform resolvers behind circuit breakers.
type Registry struct {
	resolvers map[media.Platform]Resolver
	breakers  map[media.Platform]*resilience.CircuitBreaker
}

func NewRegistry(resolvers map[media.Platform]Resolver) *Registry {
	breakers := make(map[media.Platform]*resilience.CircuitBreaker, len(resolvers))
	for platform := range resolvers {
		breakers[platform] = resilience.NewCircuitBreaker("resolver_"+string(platform), 5, 30*time.Second)
	}
	return &Registry{resolvers: resolvers, breakers: breakers}
}

// Resolve runs the platform resolver. Breaker trips surface as resolution
// errors so the caller maps them onto the session error taxonomy.
func (r *Registry) Resolve(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Resolution, error) {
	resolver, ok := r.resolvers[platform]
	if !ok {
		return nil, &ResolutionError{Platform: platform, URL: rawURL, Err: media.ErrUnsupportedPlatform}
	}

	var res *media.Resolution
	err := r.breakers[platform].Execute(func() error {
		var rerr error
		res, rerr = resolver.Resolve(ctx, rawURL, quality)
		return rerr
	})
	if err != nil {
		metrics.RecordResolution(string(platform), "error")
		var re *ResolutionError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &ResolutionError{Platform: platform, URL: rawURL, Err: err}
	}
	metrics.RecordResolution(string(platform), "ok")
	return res, nil
}
