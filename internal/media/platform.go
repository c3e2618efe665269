// SPDX-License-Identifier: MIT

// Package media holds the domain model shared by the download engine:
// platforms, media items, quality presets and session state.
package media

import (
	"errors"
	"strings"
)

// Platform identifies a supported source site.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformPinterest Platform = "pinterest"
)

// ErrUnsupportedPlatform is returned when a URL matches no known platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Platforms lists all supported platforms.
func Platforms() []Platform {
	return []Platform{PlatformYouTube, PlatformInstagram, PlatformPinterest}
}

// Valid reports whether p names a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformPinterest:
		return true
	}
	return false
}

// DetectPlatform infers the platform from the URL shape. Matching is by
// domain token, the same heuristic the public API uses when the caller
// omits an explicit platform.
func DetectPlatform(rawURL string) (Platform, error) {
	u := strings.ToLower(rawURL)
	switch {
	case strings.Contains(u, "youtu"):
		return PlatformYouTube, nil
	case strings.Contains(u, "instagram"):
		return PlatformInstagram, nil
	case strings.Contains(u, "pinterest"), strings.Contains(u, "pin.it"):
		return PlatformPinterest, nil
	}
	return "", ErrUnsupportedPlatform
}
