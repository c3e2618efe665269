// SPDX-License-Identifier: MIT

package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagrab/mediagrab/internal/bus"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/session"
)

type fakeSubmitter struct {
	store *session.Store
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, platform media.Platform, rawURL, quality string) (*media.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess := &media.Session{
		ID:        "11111111-2222-3333-4444-555555555555",
		Status:    media.StatusQueued,
		Platform:  platform,
		URL:       rawURL,
		Quality:   quality,
		StartedAt: time.Now(),
	}
	if err := f.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (f *fakeSubmitter) SubmitAudio(ctx context.Context, platform media.Platform, rawURL string) (*media.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	sess := &media.Session{
		ID:        "99999999-8888-7777-6666-555555555555",
		Status:    media.StatusQueued,
		Platform:  platform,
		URL:       rawURL,
		AudioOnly: true,
		StartedAt: time.Now(),
	}
	if err := f.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

type fakePreviewer struct {
	res *media.Resolution
	err error
}

func (f *fakePreviewer) Resolve(context.Context, media.Platform, string, string) (*media.Resolution, error) {
	return f.res, f.err
}

type testEnv struct {
	srv       *httptest.Server
	store     *session.Store
	broadcast *session.Broadcaster
	bus       bus.Bus
	dataDir   string
}

func newTestEnv(t *testing.T, previewer Previewer) *testEnv {
	t.Helper()
	store := session.NewStore()
	b := bus.NewMemoryBus()
	broadcast := session.NewBroadcaster(b, 0)
	dataDir := t.TempDir()

	s := NewServer(Config{DataDir: dataDir, FFmpegAvailable: true, Version: "test"},
		&fakeSubmitter{store: store}, previewer, store, broadcast, b)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, broadcast: broadcast, bus: b, dataDir: dataDir}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestDownloadAccepted(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})

	resp := postJSON(t, env.srv.URL+"/api/download", map[string]string{
		"url":     "https://youtu.be/abc",
		"quality": "720p",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["download_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestDownloadValidation(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})

	tests := []struct {
		name string
		req  map[string]string
	}{
		{"missing url", map[string]string{}},
		{"unsupported platform url", map[string]string{"url": "https://example.com/v"}},
		{"bad explicit platform", map[string]string{"url": "https://youtu.be/a", "platform": "tiktok"}},
		{"bad quality", map[string]string{"url": "https://youtu.be/a", "quality": "999p"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, env.srv.URL+"/api/download", tc.req)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestDownloadAudioAccepted(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})

	resp := postJSON(t, env.srv.URL+"/api/download-audio", map[string]string{
		"url": "https://www.instagram.com/reel/x/",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	id := body["download_id"].(string)
	assert.Equal(t, "queued", body["status"])

	sess, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, sess.AudioOnly)
}

func TestDownloadAudioValidation(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})

	tests := []struct {
		name string
		req  map[string]string
	}{
		{"missing url", map[string]string{}},
		{"unsupported platform url", map[string]string{"url": "https://example.com/v"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, env.srv.URL+"/api/download-audio", tc.req)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetSession(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp := postJSON(t, env.srv.URL+"/api/download", map[string]string{"url": "https://youtu.be/abc"})
	body := decodeBody(t, resp)
	id := body["download_id"].(string)

	resp2, err := http.Get(env.srv.URL + "/api/downloads/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	got := decodeBody(t, resp2)
	assert.Equal(t, id, got["id"])

	resp3, err := http.Get(env.srv.URL + "/api/downloads/does-not-exist")
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestCancelSession(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp := postJSON(t, env.srv.URL+"/api/download", map[string]string{"url": "https://youtu.be/abc"})
	id := decodeBody(t, resp)["download_id"].(string)

	resp2, err := http.Post(env.srv.URL+"/api/downloads/"+id+"/cancel", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)
	assert.Equal(t, "cancelling", decodeBody(t, resp2)["status"])

	sess, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, media.StatusCancelling, sess.Status)
	assert.True(t, env.store.IsCancelRequested(id))

	// Cancelling again stays 202.
	resp3, err := http.Post(env.srv.URL+"/api/downloads/"+id+"/cancel", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp3.Body.Close() }()
	assert.Equal(t, http.StatusAccepted, resp3.StatusCode)
}

func TestCancelUnknownSession(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp, err := http.Post(env.srv.URL+"/api/downloads/nope/cancel", "", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsStreamDeliversTerminalSnapshot(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp := postJSON(t, env.srv.URL+"/api/download", map[string]string{"url": "https://youtu.be/abc"})
	id := decodeBody(t, resp)["download_id"].(string)

	go func() {
		// Give the client time to subscribe, then finish the session.
		time.Sleep(100 * time.Millisecond)
		sess, err := env.store.Update(context.Background(), id, func(s *media.Session) error {
			s.Status = media.StatusCompleted
			s.Progress = 100
			return nil
		})
		if err == nil {
			env.broadcast.Publish(context.Background(), sess)
		}
	}()

	resp2, err := http.Get(env.srv.URL + "/api/downloads/" + id + "/events")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "text/event-stream", resp2.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	events := string(body)
	assert.Contains(t, events, `"status":"queued"`)
	assert.Contains(t, events, `"status":"completed"`)
}

func TestEventsUnknownSession(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp, err := http.Get(env.srv.URL + "/api/downloads/nope/events")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{res: &media.Resolution{
		Title:              "Clip",
		Items:              []media.Item{{URL: "https://cdn/v.mp4", Kind: media.KindVideo}},
		AvailableQualities: []string{"1080p", "720p"},
	}})

	resp := postJSON(t, env.srv.URL+"/api/preview", map[string]string{"url": "https://youtu.be/abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Clip", body["title"])
	assert.Equal(t, "youtube", body["platform"])
}

func TestPreviewUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{err: errors.New("scrape failed")})
	resp := postJSON(t, env.srv.URL+"/api/preview", map[string]string{"url": "https://youtu.be/abc"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestFileServing(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	dir := filepath.Join(env.dataDir, "youtube")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.mp4"), []byte("0123456789"), 0o644))

	resp, err := http.Get(env.srv.URL + "/downloads/youtube/clip.mp4")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/downloads/youtube/clip.mp4", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-5")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	require.Equal(t, http.StatusPartialContent, resp2.StatusCode)
	partial, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(partial))
}

func TestFileServingRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	for _, path := range []string{
		"/downloads/youtube/..%2F..%2Fetc%2Fpasswd",
		"/downloads/tiktok/file.mp4",
		"/downloads/youtube/missing.mp4",
	} {
		resp, err := http.Get(env.srv.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestZipStreaming(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	dir := filepath.Join(env.dataDir, "instagram")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("bbb"), 0o644))

	resp, err := http.Get(env.srv.URL + "/api/download-zip?platform=instagram&files=a.jpg&files=b.jpg")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	names := []string{zr.File[0].Name, zr.File[1].Name}
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, names)
}

func TestZipValidation(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})

	resp, err := http.Get(env.srv.URL + "/api/download-zip?platform=instagram")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Get(env.srv.URL + "/api/download-zip?platform=instagram&files=..%2Fsecret")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["ffmpeg"])
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, &fakePreviewer{})
	resp, err := http.Get(env.srv.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "my-id")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Equal(t, "my-id", resp2.Header.Get("X-Request-ID"))
}

func TestUnsupportedPlatformDetection(t *testing.T) {
	_, err := resolvePlatform(downloadRequest{URL: "https://vimeo.com/1"})
	assert.ErrorIs(t, err, media.ErrUnsupportedPlatform)

	p, err := resolvePlatform(downloadRequest{URL: "https://pin.it/x"})
	require.NoError(t, err)
	assert.Equal(t, media.PlatformPinterest, p)

	p, err = resolvePlatform(downloadRequest{URL: "ignored", Platform: "instagram"})
	require.NoError(t, err)
	assert.Equal(t, media.PlatformInstagram, p)
}
