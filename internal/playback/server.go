// Package playback streams stored clip bytes to the browser's video element
// with HTTP Range support.
package playback

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
)

// Content is an in-memory media body.
type Content struct {
	ID          string
	FileName    string
	ContentType string
	Data        []byte
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// Serve writes c honouring Range and If-None-Match. Clip bytes never change
// after upload, so the clip id doubles as a strong ETag.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, c Content) {
	size := int64(len(c.Data))
	etag := strconv.Quote(c.ID)

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType(c))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if c.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": c.FileName}))
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	rng, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case err == ErrUnsatisfiable:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	case err != nil:
		// malformed ranges are ignored and the full body is sent
		s.logger.Debug("ignoring malformed range", "range", r.Header.Get("Range"), "clip_id", c.ID)
		rng = nil
	}

	body := bytes.NewReader(c.Data)
	if rng == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, body)
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.ContentLength(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	body.Seek(rng.Start, io.SeekStart)
	io.CopyN(w, body, rng.ContentLength())
}

func contentType(c Content) string {
	if c.ContentType != "" {
		return c.ContentType
	}
	if t := mime.TypeByExtension(filepath.Ext(c.FileName)); t != "" {
		return t
	}
	return "application/octet-stream"
}
