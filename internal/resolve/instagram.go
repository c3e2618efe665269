// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/mediagrab/mediagrab/internal/media"
)

// maxCarouselItems caps how many images a carousel post yields.
const maxCarouselItems = 10

var (
	shortcodeRe = regexp.MustCompile(`/(?:p|reel|reels)/([A-Za-z0-9_-]+)`)

	igVideoRe   = regexp.MustCompile(`"video_url":\s*"(https:[^"]+)"`)
	igDisplayRe = regexp.MustCompile(`"display_url":"(https:[^"]+)"`)
	igThumbRe   = regexp.MustCompile(`"thumbnail_src":"(https:[^"]+)"`)
)

// Instagram resolves post and reel URLs via the captioned embed page,
// which is served without authentication.
type Instagram struct {
	client *http.Client

	// baseURL overrides the embed host in tests.
	baseURL string
}

func NewInstagram(client *http.Client) *Instagram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Instagram{client: client, baseURL: "https://www.instagram.com"}
}

// ExtractShortcode pulls the post shortcode out of a URL.
func ExtractShortcode(rawURL string) (string, error) {
	m := shortcodeRe.FindStringSubmatch(rawURL)
	if m == nil {
		return "", fmt.Errorf("no shortcode in instagram url")
	}
	return m[1], nil
}

func (ig *Instagram) Resolve(ctx context.Context, rawURL, _ string) (*media.Resolution, error) {
	shortcode, err := ExtractShortcode(rawURL)
	if err != nil {
		return nil, &ResolutionError{Platform: media.PlatformInstagram, URL: rawURL, Err: err}
	}

	embedURL := fmt.Sprintf("%s/p/%s/embed/captioned/", ig.baseURL, shortcode)
	html, err := fetchPage(ctx, ig.client, embedURL, "https://www.instagram.com/")
	if err != nil {
		return nil, &ResolutionError{Platform: media.PlatformInstagram, URL: rawURL, Err: err}
	}

	res := &media.Resolution{Title: "Instagram " + shortcode}

	if m := igVideoRe.FindStringSubmatch(html); m != nil {
		res.Items = append(res.Items, media.Item{
			URL:               unescapeJSONURL(m[1]),
			Kind:              media.KindVideo,
			SuggestedFilename: shortcode,
		})
		return res, nil
	}

	// Image post or carousel: every display_url, thumbnails as fallback.
	matches := igDisplayRe.FindAllStringSubmatch(html, maxCarouselItems)
	if len(matches) == 0 {
		matches = igThumbRe.FindAllStringSubmatch(html, maxCarouselItems)
	}
	for i, m := range matches {
		res.Items = append(res.Items, media.Item{
			URL:               unescapeJSONURL(m[1]),
			Kind:              media.KindImage,
			SuggestedFilename: fmt.Sprintf("%s_%d", shortcode, i+1),
		})
	}
	if len(res.Items) == 0 {
		return nil, &ResolutionError{Platform: media.PlatformInstagram, URL: rawURL, Err: ErrNoMedia}
	}
	return res, nil
}
