// SPDX-License-Identifier: MIT

package api

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/mediagrab/mediagrab/internal/fsutil"
	"github.com/mediagrab/mediagrab/internal/log"
	"github.com/mediagrab/mediagrab/internal/media"
)

// handleFile serves a downloaded result file with range support. Paths
// are confined to the per-platform directory.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	platform := media.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		writeNotFound(w)
		return
	}
	filename := norm.NFC.String(chi.URLParam(r, "filename"))

	path, err := fsutil.ConfineRelPath(filepath.Join(s.cfg.DataDir, string(platform)), filename)
	if err != nil {
		writeNotFound(w)
		return
	}

	f, err := os.Open(path) // #nosec G304 -- confined above
	if err != nil {
		writeNotFound(w)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeNotFound(w)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleZip streams the named result files of one platform as a ZIP
// archive.
func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	platform := media.Platform(r.URL.Query().Get("platform"))
	if !platform.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported platform")
		return
	}
	files := r.URL.Query()["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "files parameter is required")
		return
	}

	dir := filepath.Join(s.cfg.DataDir, string(platform))
	paths := make([]string, 0, len(files))
	for _, name := range files {
		path, err := fsutil.ConfineRelPath(dir, norm.NFC.String(name))
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid filename %q", name))
			return
		}
		if _, err := os.Stat(path); err != nil {
			writeNotFound(w)
			return
		}
		paths = append(paths, path)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", string(platform)+"_media.zip"))
	w.WriteHeader(http.StatusOK)

	logger := log.WithContext(r.Context(), log.WithComponent("api.zip"))
	zw := zip.NewWriter(w)
	for _, path := range paths {
		if err := addZipEntry(zw, path); err != nil {
			// Headers are gone; all we can do is cut the stream.
			logger.Warn().Err(err).Str("file", path).Msg("zip streaming aborted")
			return
		}
	}
	if err := zw.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to finish zip stream")
	}
}

func addZipEntry(zw *zip.Writer, path string) error {
	f, err := os.Open(path) // #nosec G304 -- confined by caller
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}
