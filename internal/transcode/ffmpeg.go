// SPDX-License-Identifier: MIT

package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/metrics"
)

// Transcoder runs ffmpeg with a hard wall-clock timeout per invocation.
type Transcoder struct {
	binary  string
	timeout time.Duration
}

// New builds a Transcoder. override may be empty; ErrUnavailable is
// returned when no binary can be found.
func New(override string, timeout time.Duration) (*Transcoder, error) {
	binary, err := Locate(override)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Transcoder{binary: binary, timeout: timeout}, nil
}

// Binary returns the resolved ffmpeg path.
func (t *Transcoder) Binary() string { return t.binary }

// MergeArgs muxes a video and audio stream into one mp4 without
// re-encoding the video track.
func MergeArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-preset", "ultrafast",
		"-threads", "0",
		"-y", outPath,
	}
}

// ResizeArgs scales media to the preset while preserving aspect ratio.
// Videos re-encode with libx264; images re-encode at high JPEG quality.
func ResizeArgs(inPath, outPath string, preset media.QualityPreset, isVideo bool) []string {
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", preset.Width, preset.Height)
	if isVideo {
		return []string{
			"-i", inPath,
			"-vf", scale,
			"-c:v", "libx264",
			"-crf", "23",
			"-preset", "ultrafast",
			"-c:a", "copy",
			"-y", outPath,
		}
	}
	return []string{
		"-i", inPath,
		"-vf", scale,
		"-q:v", "2",
		"-y", outPath,
	}
}

// ExtractAudioArgs strips the video track and re-encodes the audio as mp3.
func ExtractAudioArgs(inPath, outPath string) []string {
	return []string{
		"-i", inPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-threads", "0",
		"-y", outPath,
	}
}

// Merge muxes videoPath and audioPath into outPath.
func (t *Transcoder) Merge(ctx context.Context, videoPath, audioPath, outPath string) error {
	stderr, err := t.run(ctx, "merge", MergeArgs(videoPath, audioPath, outPath))
	if err != nil {
		return &MergeError{Stderr: stderr, Err: err}
	}
	return nil
}

// Convert rescales inPath to the preset into outPath.
func (t *Transcoder) Convert(ctx context.Context, inPath, outPath string, preset media.QualityPreset, isVideo bool) error {
	stderr, err := t.run(ctx, "convert", ResizeArgs(inPath, outPath, preset, isVideo))
	if err != nil {
		return &ConvertError{Stderr: stderr, Err: err}
	}
	return nil
}

// ExtractAudio writes the audio track of inPath to outPath as mp3.
func (t *Transcoder) ExtractAudio(ctx context.Context, inPath, outPath string) error {
	stderr, err := t.run(ctx, "extract", ExtractAudioArgs(inPath, outPath))
	if err != nil {
		return &ConvertError{Stderr: stderr, Err: err}
	}
	return nil
}

// run executes ffmpeg and returns trimmed stderr. The context carries
// the wall-clock timeout; exceeding it kills the process.
func (t *Transcoder) run(ctx context.Context, operation string, args []string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	logger := log.WithComponent("transcode")
	start := time.Now()

	cmd := exec.CommandContext(runCtx, t.binary, args...) // #nosec G204 -- binary resolved by Locate, args built internally
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		if runCtx.Err() == context.DeadlineExceeded {
			result = "timeout"
			err = fmt.Errorf("ffmpeg killed after %s: %w", t.timeout, runCtx.Err())
		}
	}
	metrics.RecordTranscoderRun(operation, result, elapsed.Seconds())

	logger.Debug().
		Str("operation", operation).
		Str("result", result).
		Dur("elapsed", elapsed).
		Msg("ffmpeg run finished")

	return truncateStderr(stderr.String()), err
}

const maxStderr = 2048

func truncateStderr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return s[len(s)-maxStderr:]
	}
	return s
}
