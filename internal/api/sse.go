// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
)

const sseHeartbeat = 15 * time.Second

// handleEvents streams session snapshots as server-sent events. The
// current snapshot is sent immediately; the stream ends after the
// terminal snapshot is delivered.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeNotFound(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.bus.Subscribe(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer func() { _ = sub.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if !writeEvent(w, flusher, sess) {
		return
	}
	if sess.Status.IsTerminal() {
		return
	}

	logger := log.WithContext(r.Context(), log.WithComponent("api.sse")).With().Str("session", id).Logger()
	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("event stream client disconnected")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-sub.C():
			if !open {
				return
			}
			if !writeEvent(w, flusher, msg.Session) {
				return
			}
			if msg.Session.Status.IsTerminal() {
				logger.Debug().Str("status", string(msg.Session.Status)).Msg("event stream finished")
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, sess *media.Session) bool {
	payload, err := json.Marshal(sess)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
