// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mediagrab/mediagrab/internal/engine"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/session"
)

type downloadRequest struct {
	URL      string `json:"url"`
	Platform string `json:"platform,omitempty"`
	Quality  string `json:"quality,omitempty"`
}

// resolvePlatform validates the explicit platform or infers it from the
// URL.
func resolvePlatform(req downloadRequest) (media.Platform, error) {
	if req.Platform != "" {
		p := media.Platform(req.Platform)
		if !p.Valid() {
			return "", media.ErrUnsupportedPlatform
		}
		return p, nil
	}
	return media.DetectPlatform(req.URL)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	platform, err := resolvePlatform(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported platform")
		return
	}
	if _, _, err := media.LookupQuality(req.Quality); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.submitter.Submit(r.Context(), platform, req.URL, req.Quality)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "too many active downloads, try again later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"download_id": sess.ID,
		"status":      string(sess.Status),
	})
}

func (s *Server) handleDownloadAudio(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	platform, err := resolvePlatform(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported platform")
		return
	}

	sess, err := s.submitter.SubmitAudio(r.Context(), platform, req.URL)
	if err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "too many active downloads, try again later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to start download")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"download_id": sess.ID,
		"status":      string(sess.Status),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeNotFound(w)
		return
	}
	if sess.Status.IsTerminal() {
		// Idempotent: cancelling a finished session is a no-op.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(sess.Status)})
		return
	}

	s.store.RequestCancel(r.Context(), id)
	updated, err := s.store.Update(r.Context(), id, func(sess *media.Session) error {
		sess.Status = media.StatusCancelling
		sess.Message = "Cancelling..."
		return nil
	})
	if err == nil {
		s.broadcast.Publish(r.Context(), updated)
	} else if !errors.Is(err, session.ErrTerminal) {
		writeError(w, http.StatusInternalServerError, "failed to cancel")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": string(media.StatusCancelling)})
}

type previewResponse struct {
	Platform           media.Platform `json:"platform"`
	Title              string         `json:"title"`
	Items              []media.Item   `json:"items"`
	NeedsMerge         bool           `json:"needsMerge,omitempty"`
	AvailableQualities []string       `json:"availableQualities,omitempty"`
	Thumbnail          string         `json:"thumbnail,omitempty"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	platform, err := resolvePlatform(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported platform")
		return
	}

	res, err := s.previewer.Resolve(r.Context(), platform, req.URL, req.Quality)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Platform:           platform,
		Title:              res.Title,
		Items:              res.Items,
		NeedsMerge:         res.NeedsMerge,
		AvailableQualities: res.AvailableQualities,
		Thumbnail:          res.Thumbnail,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.cfg.Version,
		"ffmpeg":  s.cfg.FFmpegAvailable,
	})
}
