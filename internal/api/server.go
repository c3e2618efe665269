// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: session management, progress
// events over SSE, result file serving and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mediagrab/mediagrab/internal/bus"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/session"
)

// Submitter queues new download sessions.
type Submitter interface {
	Submit(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Session, error)
	SubmitAudio(ctx context.Context, platform media.Platform, rawURL string) (*media.Session, error)
}

// Previewer resolves a URL without starting a download.
type Previewer interface {
	Resolve(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Resolution, error)
}

// Config holds the API server settings.
type Config struct {
	DataDir         string
	FFmpegAvailable bool
	Version         string

	// RateLimit is requests per minute per client IP; 0 disables.
	RateLimit int
}

// Server binds handlers to their dependencies.
type Server struct {
	cfg       Config
	submitter Submitter
	previewer Previewer
	store     *session.Store
	broadcast *session.Broadcaster
	bus       bus.Bus
}

func NewServer(cfg Config, submitter Submitter, previewer Previewer, store *session.Store, broadcast *session.Broadcaster, b bus.Bus) *Server {
	return &Server{
		cfg:       cfg,
		submitter: submitter,
		previewer: previewer,
		store:     store,
		broadcast: broadcast,
		bus:       b,
	}
}

// Router assembles the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/download", s.handleDownload)
		r.Post("/download-audio", s.handleDownloadAudio)
		r.Post("/preview", s.handlePreview)
		r.Get("/downloads/{id}", s.handleGetSession)
		r.Get("/downloads/{id}/events", s.handleEvents)
		r.Post("/downloads/{id}/cancel", s.handleCancel)
		r.Get("/download-zip", s.handleZip)
		r.Get("/health", s.handleHealth)
	})
	r.Get("/downloads/{platform}/{filename}", s.handleFile)

	return otelhttp.NewHandler(r, "mediagrab.api")
}
