// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagrab/mediagrab/internal/media"
)

func watchPage(progressive bool) string {
	if progressive {
		return `<html><script>var ytInitialPlayerResponse = {
			"videoDetails":{"title":"Test Video","videoId":"abc"},
			"streamingData":{"formats":[
				{"itag":22,"url":"https://cdn.example/prog720.mp4","mimeType":"video/mp4","qualityLabel":"720p","bitrate":2000}
			],"adaptiveFormats":[]}
		};</script></html>`
	}
	return `<html><script>var ytInitialPlayerResponse = {
		"videoDetails":{"title":"Adaptive Video","videoId":"def"},
		"streamingData":{"formats":[],"adaptiveFormats":[
			{"itag":137,"url":"https://cdn.example/video1080.mp4","mimeType":"video/mp4; codecs=\"avc1\"","qualityLabel":"1080p","bitrate":4000},
			{"itag":136,"url":"https://cdn.example/video720.mp4","mimeType":"video/mp4; codecs=\"avc1\"","qualityLabel":"720p","bitrate":2000},
			{"itag":140,"url":"https://cdn.example/audio.m4a","mimeType":"audio/mp4; codecs=\"mp4a\"","bitrate":128},
			{"itag":251,"url":"https://cdn.example/audio.webm","mimeType":"audio/webm; codecs=\"opus\"","bitrate":160}
		]}
	};</script></html>`
}

func TestYouTubeResolveProgressive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, watchPage(true))
	}))
	defer srv.Close()

	y := NewYouTube(srv.Client())
	res, err := y.Resolve(context.Background(), srv.URL+"/watch?v=abc", "720p")
	require.NoError(t, err)

	assert.Equal(t, "Test Video", res.Title)
	assert.False(t, res.NeedsMerge)
	require.Len(t, res.Items, 1)
	assert.Equal(t, media.KindVideo, res.Items[0].Kind)
	assert.Contains(t, res.AvailableQualities, "720p")
}

func TestYouTubeResolveAdaptiveNeedsMerge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, watchPage(false))
	}))
	defer srv.Close()

	y := NewYouTube(srv.Client())
	res, err := y.Resolve(context.Background(), srv.URL+"/watch?v=def", "720p")
	require.NoError(t, err)

	assert.True(t, res.NeedsMerge)
	require.Len(t, res.Items, 2)
	assert.Equal(t, media.KindVideo, res.Items[0].Kind)
	assert.Equal(t, "https://cdn.example/video720.mp4", res.Items[0].URL)
	assert.Equal(t, media.KindAudio, res.Items[1].Kind)
	// The opus stream has the higher bitrate.
	assert.Equal(t, "https://cdn.example/audio.webm", res.Items[1].URL)
}

func TestYouTubeResolveFallsBackToHighest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, watchPage(false))
	}))
	defer srv.Close()

	y := NewYouTube(srv.Client())
	res, err := y.Resolve(context.Background(), srv.URL+"/watch?v=def", "480p")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/video1080.mp4", res.Items[0].URL)
}

func TestYouTubeResolveNoPlayerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>nothing here</html>")
	}))
	defer srv.Close()

	y := NewYouTube(srv.Client())
	_, err := y.Resolve(context.Background(), srv.URL+"/watch?v=abc", "720p")
	var re *ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, media.PlatformYouTube, re.Platform)
}

func TestYouTubeResolvePlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, watchPage(true))
	}))
	defer srv.Close()

	y := NewYouTube(srv.Client())
	y.baseURL = srv.URL
	y.playlist = func(ctx context.Context, playlistID string) ([]playlistEntry, error) {
		assert.Equal(t, "PLxyz", playlistID)
		return []playlistEntry{
			{VideoID: "v1", Title: "First"},
			{VideoID: "v2", Title: "Second"},
		}, nil
	}

	res, err := y.Resolve(context.Background(), "https://www.youtube.com/playlist?list=PLxyz", "720p")
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, "First", res.Items[0].SuggestedFilename)
	assert.False(t, res.NeedsMerge)
}

func TestExtractPlaylistID(t *testing.T) {
	assert.Equal(t, "PLxyz", extractPlaylistID("https://www.youtube.com/playlist?list=PLxyz"))
	assert.Empty(t, extractPlaylistID("https://www.youtube.com/watch?v=abc&list=PLxyz"))
	assert.Empty(t, extractPlaylistID("https://youtu.be/abc"))
}
