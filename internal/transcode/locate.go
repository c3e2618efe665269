// SPDX-License-Identifier: MIT

// Package transcode wraps ffmpeg for stream merging and quality
// conversion. Missing ffmpeg degrades the feature set instead of the
// whole daemon.
package transcode

import (
	"os"
	"os/exec"
	"path/filepath"
)

// candidatePaths are tried in order when no explicit binary is
// configured and PATH lookup fails.
var candidatePaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
}

// Locate finds the ffmpeg binary. An explicit override wins; otherwise
// PATH, the well-known locations and the working directory are tried.
func Locate(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, nil
		}
		return "", ErrUnavailable
	}

	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path, nil
	}
	for _, p := range candidatePaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if wd, err := os.Getwd(); err == nil {
		local := filepath.Join(wd, "ffmpeg")
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}
	return "", ErrUnavailable
}
