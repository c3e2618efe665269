// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/mediagrab/mediagrab/internal/media"
)

var (
	pinVideoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"video_url":"(https:[^"]+mp4[^"]*)"`),
		regexp.MustCompile(`"contentUrl":"(https:[^"]+mp4[^"]*)"`),
		regexp.MustCompile(`"url":"(https:[^"]+\.mp4[^"]*)"`),
	}

	pinThumbRe = regexp.MustCompile(`"thumbnailUrl":"([^"]+)"`)

	pinImagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"images":\{"orig":\{"url":"([^"]+)"`),
		regexp.MustCompile(`"url":"(https://i\.pinimg\.com/originals/[^"]+)"`),
	}

	pinTitlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"title":"([^"]{1,500})"`),
		regexp.MustCompile(`"description":"([^"]{1,500})"`),
		regexp.MustCompile(`<meta property="og:title" content="([^"]+)"`),
	}
)

// Pinterest resolves pin URLs by scraping the pin page for the video
// stream or original-resolution images.
type Pinterest struct {
	client *http.Client
}

func NewPinterest(client *http.Client) *Pinterest {
	if client == nil {
		client = http.DefaultClient
	}
	return &Pinterest{client: client}
}

func (p *Pinterest) Resolve(ctx context.Context, rawURL, _ string) (*media.Resolution, error) {
	html, err := fetchPage(ctx, p.client, rawURL, "https://www.pinterest.com/")
	if err != nil {
		return nil, &ResolutionError{Platform: media.PlatformPinterest, URL: rawURL, Err: err}
	}

	res := &media.Resolution{Title: pinTitle(html)}

	if videoURL := extractPinVideoURL(html); videoURL != "" {
		res.Items = append(res.Items, media.Item{URL: videoURL, Kind: media.KindVideo, SuggestedFilename: "pinterest_video"})
		if m := pinThumbRe.FindStringSubmatch(html); m != nil {
			res.Thumbnail = unescapeJSONURL(m[1])
		}
		return res, nil
	}

	for i, url := range extractPinImageURLs(html) {
		name := "pinterest_image"
		if i > 0 {
			name = fmt.Sprintf("pinterest_image_%d", i)
		}
		res.Items = append(res.Items, media.Item{URL: url, Kind: media.KindImage, SuggestedFilename: name})
	}
	if len(res.Items) == 0 {
		return nil, &ResolutionError{Platform: media.PlatformPinterest, URL: rawURL, Err: ErrNoMedia}
	}
	return res, nil
}

const maxPinImages = 5

func extractPinImageURLs(html string) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, re := range pinImagePatterns {
		for _, m := range re.FindAllStringSubmatch(html, -1) {
			url := unescapeJSONURL(m[1])
			// 236x renditions are preview thumbnails, not originals.
			if strings.Contains(url, "/236x/") {
				continue
			}
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			urls = append(urls, url)
			if len(urls) == maxPinImages {
				return urls
			}
		}
	}
	return urls
}

func extractPinVideoURL(html string) string {
	for _, re := range pinVideoPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return strings.ReplaceAll(unescapeJSONURL(m[1]), `\`, "")
		}
	}
	return ""
}

func pinTitle(html string) string {
	for _, re := range pinTitlePatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			title := strings.TrimSpace(m[1])
			if title != "" && title != "Pinterest" {
				return title
			}
		}
	}
	return "Pinterest Post"
}
