// SPDX-License-Identifier: MIT

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediagrab/mediagrab/internal/fetch"
	"github.com/mediagrab/mediagrab/internal/fsutil"
	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
	"github.com/mediagrab/mediagrab/internal/metrics"
	"github.com/mediagrab/mediagrab/internal/transcode"
)

// Phase progress windows. Resolution ends at 10; transfers span up to
// 80; merge and conversion fill the gap to finalization at 100.
var (
	mergeVideoWindow = fetch.Window{Lo: 15, Hi: 40}
	mergeAudioWindow = fetch.Window{Lo: 40, Hi: 65}
	singleItemWindow = fetch.Window{Lo: 15, Hi: 85}
)

func (e *Engine) run(ctx context.Context, sessionID string) {
	logger := log.WithComponent("engine").With().Str("session", sessionID).Logger()

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Msg("queued session vanished")
		return
	}
	if e.store.IsCancelRequested(sessionID) {
		e.cancelled(ctx, sessionID)
		return
	}

	e.update(ctx, sessionID, func(s *media.Session) {
		s.Status = media.StatusRunning
		s.Progress = 5
		s.Message = "Resolving media..."
	})

	res, err := e.resolver.Resolve(ctx, sess.Platform, sess.URL, sess.Quality)
	if err != nil {
		logger.Warn().Err(err).Msg("resolution failed")
		e.fail(ctx, sessionID, media.ErrKindResolution, err.Error())
		return
	}
	if len(res.Items) == 0 {
		e.fail(ctx, sessionID, media.ErrKindResolution, "no media found for this post")
		return
	}

	dir := filepath.Join(e.cfg.DataDir, string(sess.Platform))
	if err := fsutil.EnsureDir(dir); err != nil {
		e.fail(ctx, sessionID, media.ErrKindInternal, fmt.Sprintf("create download directory: %v", err))
		return
	}

	var files []string
	switch {
	case sess.AudioOnly:
		files, err = e.runAudio(ctx, sess, res, dir)
	case res.NeedsMerge:
		files, err = e.runMerge(ctx, sess, res, dir)
	default:
		files, err = e.runItems(ctx, sess, res, dir)
	}
	if err != nil {
		e.finishWithError(ctx, sessionID, err)
		return
	}

	// A cancel that lands between transfer and conversion still removes
	// everything the session produced.
	if e.store.IsCancelRequested(sessionID) {
		e.removeFiles(dir, files)
		e.cancelled(ctx, sessionID)
		return
	}

	if !sess.AudioOnly {
		files = e.maybeConvert(ctx, sess, res, dir, files)
	}
	e.finalize(ctx, sess, res, dir, files)
}

// removeFiles deletes session output, leaving no partial results behind.
func (e *Engine) removeFiles(dir string, names []string) {
	logger := log.WithComponent("engine")
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("file", name).Msg("failed to remove cancelled output")
		}
	}
}

// runMerge downloads the separate video and audio streams and muxes them.
func (e *Engine) runMerge(ctx context.Context, sess *media.Session, res *media.Resolution, dir string) ([]string, error) {
	video, audio := res.Items[0], res.Items[1]
	base := e.baseName(res.Title, sess.ID)
	finalName := base + ".mp4"
	finalPath := filepath.Join(dir, finalName)
	tmpVideo := finalPath + ".video.tmp"
	tmpAudio := finalPath + ".audio.tmp"
	defer func() {
		logger := log.WithComponent("engine")
		for _, tmp := range []string{tmpVideo, tmpAudio} {
			if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
				logger.Warn().Err(err).Msg("failed to remove temp stream")
			}
		}
	}()

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Message = "Downloading video stream..."
	})
	if err := e.download(ctx, sess, video, tmpVideo, mergeVideoWindow); err != nil {
		return nil, err
	}

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Message = "Downloading audio stream..."
	})
	if err := e.download(ctx, sess, audio, tmpAudio, mergeAudioWindow); err != nil {
		return nil, err
	}

	if e.store.IsCancelRequested(sess.ID) {
		return nil, fetch.ErrCancelled
	}

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Progress = 70
		s.Message = "Merging audio and video..."
	})
	if e.transcoder == nil {
		return nil, transcode.ErrUnavailable
	}
	if err := e.transcoder.Merge(ctx, tmpVideo, tmpAudio, finalPath); err != nil {
		return nil, err
	}
	return []string{finalName}, nil
}

var errNoAudioSource = errors.New("no audio source found for this post")

// runAudio produces an audio-only result. Posts that expose a separate
// audio stream download it directly; otherwise the video is fetched and
// the audio track is stripped out with ffmpeg.
func (e *Engine) runAudio(ctx context.Context, sess *media.Session, res *media.Resolution, dir string) ([]string, error) {
	base := e.baseName(res.Title, sess.ID)

	for _, item := range res.Items {
		if item.Kind != media.KindAudio {
			continue
		}
		name := base + item.Ext()
		e.update(ctx, sess.ID, func(s *media.Session) {
			s.Message = "Downloading audio stream..."
		})
		if err := e.download(ctx, sess, item, filepath.Join(dir, name), singleItemWindow); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	var video *media.Item
	for i, item := range res.Items {
		if item.Kind == media.KindVideo {
			video = &res.Items[i]
			break
		}
	}
	if video == nil {
		return nil, errNoAudioSource
	}
	if e.transcoder == nil {
		return nil, transcode.ErrUnavailable
	}

	finalName := base + "_audio.mp3"
	finalPath := filepath.Join(dir, finalName)
	tmpVideo := finalPath + ".video.tmp"
	defer func() {
		if err := os.Remove(tmpVideo); err != nil && !os.IsNotExist(err) {
			logger := log.WithComponent("engine")
			logger.Warn().Err(err).Msg("failed to remove temp stream")
		}
	}()

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Message = "Downloading video stream..."
	})
	if err := e.download(ctx, sess, *video, tmpVideo, mergeVideoWindow); err != nil {
		return nil, err
	}

	if e.store.IsCancelRequested(sess.ID) {
		return nil, fetch.ErrCancelled
	}

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Progress = 75
		s.Message = "Extracting audio..."
	})
	if err := e.transcoder.ExtractAudio(ctx, tmpVideo, finalPath); err != nil {
		return nil, err
	}
	return []string{finalName}, nil
}

// runItems downloads every resolved item with bounded parallelism.
// Partial success completes the session with the successful subset.
func (e *Engine) runItems(ctx context.Context, sess *media.Session, res *media.Resolution, dir string) ([]string, error) {
	n := len(res.Items)
	if n == 1 {
		name := e.itemName(res.Items[0], res.Title, sess.ID, 0)
		if err := e.download(ctx, sess, res.Items[0], filepath.Join(dir, name), singleItemWindow); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	var (
		mu       sync.Mutex
		files    []string
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.ItemConcurrency)
	for idx, item := range res.Items {
		g.Go(func() error {
			if e.store.IsCancelRequested(sess.ID) {
				return fetch.ErrCancelled
			}
			name := e.itemName(item, res.Title, sess.ID, idx)
			window := fetch.Window{
				Lo: 10 + idx*70/n,
				Hi: 10 + (idx+1)*70/n,
			}
			if err := e.download(gctx, sess, item, filepath.Join(dir, name), window); err != nil {
				if errors.Is(err, fetch.ErrCancelled) {
					return err
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				logger := log.WithComponent("engine")
				logger.Warn().Err(err).
					Str("session", sess.ID).
					Str("item", item.URL).
					Msg("item transfer failed")
				return nil
			}
			mu.Lock()
			files = append(files, name)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancellation mid-batch: items that already finished are partial
		// session output and must not survive.
		e.removeFiles(dir, files)
		return nil, err
	}
	if len(files) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fetch.ErrCancelled
	}
	return files, nil
}

// download streams one item to destPath, feeding progress into the
// session and checking the cancel flag between chunks.
func (e *Engine) download(ctx context.Context, sess *media.Session, item media.Item, destPath string, window fetch.Window) error {
	return e.streamer.Download(ctx, fetch.Request{
		URL:      item.URL,
		Dest:     destPath,
		Referer:  refererFor(sess.Platform),
		Platform: sess.Platform,
		Window:   window,
		CancelRequested: func() bool {
			return e.store.IsCancelRequested(sess.ID)
		},
		OnProgress: func(p fetch.Progress) {
			e.update(ctx, sess.ID, func(s *media.Session) {
				s.Progress = p.Percent
				s.DownloadedBytes = p.DownloadedBytes
				s.TotalBytes = p.TotalBytes
				s.CurrentSpeedBytesPerSec = p.SpeedBytesPerSec
				s.ETASeconds = p.ETASeconds
				s.LastSampleAt = time.Now()
				s.LastSampleBytes = p.DownloadedBytes
			})
		},
	})
}

// maybeConvert rescales the downloaded files to the requested preset.
// Conversion failures keep the original file; the session still
// completes.
func (e *Engine) maybeConvert(ctx context.Context, sess *media.Session, res *media.Resolution, dir string, files []string) []string {
	preset, ok, err := media.LookupQuality(sess.Quality)
	if err != nil || !ok || e.transcoder == nil {
		return files
	}
	logger := log.WithComponent("engine").With().Str("session", sess.ID).Logger()

	out := make([]string, 0, len(files))
	for _, name := range files {
		e.update(ctx, sess.ID, func(s *media.Session) {
			s.Progress = 90
			s.Message = fmt.Sprintf("Converting to %s...", preset.Name)
		})

		ext := filepath.Ext(name)
		isVideo := ext == ".mp4"
		convertedName := strings.TrimSuffix(name, ext) + "_" + preset.Name + ext
		src := filepath.Join(dir, name)
		dst := filepath.Join(dir, convertedName)

		if err := e.transcoder.Convert(ctx, src, dst, preset, isVideo); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("quality conversion failed, keeping original")
			out = append(out, name)
			continue
		}
		if err := os.Remove(src); err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("failed to remove unconverted file")
		}
		out = append(out, convertedName)
	}
	return out
}

// manifest is the completion record written next to the result files.
type manifest struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Platform   string    `json:"platform"`
	URL        string    `json:"url"`
	Quality    string    `json:"quality,omitempty"`
	Files      []string  `json:"files"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (e *Engine) finalize(ctx context.Context, sess *media.Session, res *media.Resolution, dir string, files []string) {
	if err := writeManifest(filepath.Join(dir, sess.ID+".json"), manifest{
		ID:         sess.ID,
		Title:      res.Title,
		Platform:   string(sess.Platform),
		URL:        sess.URL,
		Quality:    sess.Quality,
		Files:      files,
		StartedAt:  sess.StartedAt,
		FinishedAt: time.Now(),
	}); err != nil {
		logger := log.WithComponent("engine")
		logger.Warn().Err(err).Str("session", sess.ID).Msg("failed to write session manifest")
	}

	e.update(ctx, sess.ID, func(s *media.Session) {
		s.Status = media.StatusCompleted
		s.Progress = 100
		s.ResultFiles = files
		s.Message = fmt.Sprintf("Downloaded %d file(s)", len(files))
	})
	e.recordOutcome(sess, "completed")
}

// finishWithError maps a pipeline error onto the session error taxonomy.
func (e *Engine) finishWithError(ctx context.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, fetch.ErrCancelled):
		e.cancelled(ctx, sessionID)
	case errors.Is(err, transcode.ErrUnavailable):
		e.fail(ctx, sessionID, media.ErrKindTranscoderUnavailable,
			"FFmpeg is required for merging video and audio streams")
	case errors.Is(err, errNoAudioSource):
		e.fail(ctx, sessionID, media.ErrKindResolution, err.Error())
	default:
		var me *transcode.MergeError
		if errors.As(err, &me) {
			e.fail(ctx, sessionID, media.ErrKindMerge, err.Error())
			return
		}
		var ce *transcode.ConvertError
		if errors.As(err, &ce) {
			e.fail(ctx, sessionID, media.ErrKindConvert, err.Error())
			return
		}
		e.fail(ctx, sessionID, media.ErrKindTransfer, err.Error())
	}
}

func (e *Engine) cancelled(ctx context.Context, sessionID string) {
	e.store.ClearCancel(sessionID)
	sess, _ := e.store.Update(ctx, sessionID, func(s *media.Session) error {
		s.Status = media.StatusCancelled
		s.Message = "Download cancelled"
		s.ErrorKind = media.ErrKindCancelled
		return nil
	})
	if sess != nil {
		e.broadcast.Publish(ctx, sess)
		e.recordOutcome(sess, "cancelled")
	}
}

func (e *Engine) fail(ctx context.Context, sessionID string, kind media.ErrorKind, detail string) {
	sess, _ := e.store.Update(ctx, sessionID, func(s *media.Session) error {
		s.Status = media.StatusError
		s.ErrorKind = kind
		s.ErrorDetail = detail
		s.Message = detail
		return nil
	})
	if sess != nil {
		e.broadcast.Publish(ctx, sess)
		e.recordOutcome(sess, "error")
	}
}

// update applies a mutation and broadcasts the new snapshot. Failed
// updates on terminal sessions are ignored; the closing snapshot has
// already been published.
func (e *Engine) update(ctx context.Context, sessionID string, mutate func(*media.Session)) {
	sess, err := e.store.Update(ctx, sessionID, func(s *media.Session) error {
		mutate(s)
		return nil
	})
	if err != nil {
		return
	}
	e.broadcast.Publish(ctx, sess)
}

func (e *Engine) recordOutcome(sess *media.Session, outcome string) {
	metrics.SessionFinished(string(sess.Platform), outcome, time.Since(sess.StartedAt).Seconds())
}

func (e *Engine) baseName(title, sessionID string) string {
	name := fsutil.SanitizeFilename(title)
	if name == "" || name == "file" {
		name = sessionID
	}
	return name
}

func (e *Engine) itemName(item media.Item, title, sessionID string, idx int) string {
	base := item.SuggestedFilename
	if base == "" {
		base = title
		if idx > 0 {
			base = fmt.Sprintf("%s_%d", title, idx+1)
		}
	}
	name := fsutil.SanitizeFilename(base)
	if name == "" || name == "file" {
		name = fmt.Sprintf("%s_%d", sessionID, idx+1)
	}
	return name + item.Ext()
}

func refererFor(platform media.Platform) string {
	switch platform {
	case media.PlatformInstagram:
		return "https://www.instagram.com/"
	case media.PlatformPinterest:
		return "https://www.pinterest.com/"
	default:
		return ""
	}
}
