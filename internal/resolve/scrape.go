// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// maxPageBytes bounds how much of a post page is read.
	maxPageBytes = 8 << 20
)

// fetchPage GETs a page with browser-like headers and returns its body.
func fetchPage(ctx context.Context, client *http.Client, url, referer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", scrapeUserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// unescapeJSONURL undoes the escaping found in inline JSON blobs.
func unescapeJSONURL(s string) string {
	s = strings.ReplaceAll(s, "\\u0026", "&")
	s = strings.ReplaceAll(s, "\\/", "/")
	return s
}
