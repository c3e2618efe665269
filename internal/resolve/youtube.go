// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/ytget/ytdlp/v2"

	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
)

// maxPlaylistItems caps playlist expansion per session.
const maxPlaylistItems = 10

var playerResponseRe = regexp.MustCompile(`(?s)ytInitialPlayerResponse\s*=\s*(\{.+?\})\s*;`)

// playlistEntry is one playlist member.
type playlistEntry struct {
	VideoID string
	Title   string
}

// playlistLister abstracts the playlist client for tests.
type playlistLister func(ctx context.Context, playlistID string) ([]playlistEntry, error)

func listPlaylist(ctx context.Context, playlistID string) ([]playlistEntry, error) {
	d := ytdlp.New()
	items, err := d.GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]playlistEntry, 0, len(items))
	for _, it := range items {
		out = append(out, playlistEntry{VideoID: it.VideoID, Title: it.Title})
	}
	return out, nil
}

// YouTube resolves watch URLs by scraping the player response from the
// watch page. Playlist URLs are expanded into their member videos first.
type YouTube struct {
	client   *http.Client
	playlist playlistLister

	// baseURL overrides the watch page host in tests.
	baseURL string
}

func NewYouTube(client *http.Client) *YouTube {
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTube{
		client:   client,
		playlist: listPlaylist,
		baseURL:  "https://www.youtube.com",
	}
}

type playerResponse struct {
	VideoDetails struct {
		Title   string `json:"title"`
		VideoID string `json:"videoId"`
	} `json:"videoDetails"`
	StreamingData struct {
		Formats         []ytFormat `json:"formats"`
		AdaptiveFormats []ytFormat `json:"adaptiveFormats"`
	} `json:"streamingData"`
}

type ytFormat struct {
	Itag         int    `json:"itag"`
	URL          string `json:"url"`
	MimeType     string `json:"mimeType"`
	QualityLabel string `json:"qualityLabel"`
	Bitrate      int    `json:"bitrate"`
}

func (f ytFormat) isVideo() bool { return strings.HasPrefix(f.MimeType, "video/") }

func (f ytFormat) isAudio() bool { return strings.HasPrefix(f.MimeType, "audio/") }

func (f ytFormat) isMP4() bool { return strings.Contains(f.MimeType, "mp4") }

func (y *YouTube) Resolve(ctx context.Context, rawURL, quality string) (*media.Resolution, error) {
	if playlistID := extractPlaylistID(rawURL); playlistID != "" {
		return y.resolvePlaylist(ctx, playlistID, quality)
	}
	return y.resolveVideo(ctx, rawURL, quality)
}

func (y *YouTube) resolveVideo(ctx context.Context, rawURL, quality string) (*media.Resolution, error) {
	html, err := fetchPage(ctx, y.client, rawURL, "")
	if err != nil {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: rawURL, Err: err}
	}

	m := playerResponseRe.FindStringSubmatch(html)
	if m == nil {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: rawURL, Err: fmt.Errorf("player response not found")}
	}
	var pr playerResponse
	if err := json.Unmarshal([]byte(m[1]), &pr); err != nil {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: rawURL, Err: fmt.Errorf("parse player response: %w", err)}
	}

	res := &media.Resolution{Title: pr.VideoDetails.Title}
	res.AvailableQualities = availableQualities(pr)

	// Progressive stream at the requested tier needs no merge.
	if prog := pickProgressive(pr, quality); prog != nil {
		res.Items = []media.Item{{URL: prog.URL, Kind: media.KindVideo}}
		return res, nil
	}

	video := pickAdaptiveVideo(pr, quality)
	audio := pickBestAudio(pr)
	if video == nil {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: rawURL, Err: ErrNoMedia}
	}
	if audio == nil {
		res.Items = []media.Item{{URL: video.URL, Kind: media.KindVideo}}
		return res, nil
	}
	res.Items = []media.Item{
		{URL: video.URL, Kind: media.KindVideo},
		{URL: audio.URL, Kind: media.KindAudio},
	}
	res.NeedsMerge = true
	return res, nil
}

func (y *YouTube) resolvePlaylist(ctx context.Context, playlistID, quality string) (*media.Resolution, error) {
	items, err := y.playlist(ctx, playlistID)
	if err != nil {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: playlistID, Err: err}
	}
	if len(items) == 0 {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: playlistID, Err: ErrNoMedia}
	}
	if len(items) > maxPlaylistItems {
		items = items[:maxPlaylistItems]
	}

	logger := log.WithComponent("resolve.youtube")
	res := &media.Resolution{Title: fmt.Sprintf("Playlist %s", playlistID)}
	for _, item := range items {
		watchURL := y.baseURL + "/watch?v=" + item.VideoID
		vres, err := y.resolveVideo(ctx, watchURL, quality)
		if err != nil {
			logger.Warn().Err(err).Str("video", item.VideoID).Msg("skipping unresolvable playlist entry")
			continue
		}
		// Only the directly fetchable stream per entry; merging every
		// playlist member is out of scope.
		for _, it := range vres.Items {
			if it.Kind == media.KindVideo {
				it.SuggestedFilename = item.Title
				res.Items = append(res.Items, it)
				break
			}
		}
	}
	if len(res.Items) == 0 {
		return nil, &ResolutionError{Platform: media.PlatformYouTube, URL: playlistID, Err: ErrNoMedia}
	}
	return res, nil
}

func extractPlaylistID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if !strings.Contains(u.Path, "playlist") {
		return ""
	}
	return u.Query().Get("list")
}

func availableQualities(pr playerResponse) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range media.QualityNames() {
		for _, f := range append(pr.StreamingData.Formats, pr.StreamingData.AdaptiveFormats...) {
			if f.QualityLabel == name && f.URL != "" {
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					out = append(out, name)
				}
				break
			}
		}
	}
	return out
}

func pickProgressive(pr playerResponse, quality string) *ytFormat {
	for i := range pr.StreamingData.Formats {
		f := &pr.StreamingData.Formats[i]
		if f.URL == "" || !f.isMP4() {
			continue
		}
		if f.QualityLabel == quality {
			return f
		}
	}
	return nil
}

// pickAdaptiveVideo prefers an exact quality match, then the highest
// available mp4 video stream.
func pickAdaptiveVideo(pr playerResponse, quality string) *ytFormat {
	var best *ytFormat
	for i := range pr.StreamingData.AdaptiveFormats {
		f := &pr.StreamingData.AdaptiveFormats[i]
		if f.URL == "" || !f.isVideo() || !f.isMP4() {
			continue
		}
		if f.QualityLabel == quality {
			return f
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

func pickBestAudio(pr playerResponse) *ytFormat {
	var best *ytFormat
	for i := range pr.StreamingData.AdaptiveFormats {
		f := &pr.StreamingData.AdaptiveFormats[i]
		if f.URL == "" || !f.isAudio() {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}
