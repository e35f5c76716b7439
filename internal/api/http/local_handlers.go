package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"floatplay/internal/domain"
)

// SubtitleConverter turns a subtitle file into WebVTT text.
type SubtitleConverter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// LocalVideoHandler resolves local-video:<path> requests with byte-range
// support. Mounted under a prefix it takes the path from the rest of the URL.
type LocalVideoHandler struct {
	prefix string
	logger *slog.Logger
}

func NewLocalVideoHandler(prefix string, logger *slog.Logger) *LocalVideoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalVideoHandler{prefix: prefix, logger: logger}
}

func (h *LocalVideoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	path, err := resolveLocalPath(r.URL, domain.LocalVideoScheme, h.prefix)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	serveLocalFile(w, r, path, h.logger)
}

// LocalSubtitleHandler resolves local-subtitle:<path> requests to WebVTT.
type LocalSubtitleHandler struct {
	prefix    string
	converter SubtitleConverter
	logger    *slog.Logger
}

func NewLocalSubtitleHandler(prefix string, converter SubtitleConverter, logger *slog.Logger) *LocalSubtitleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSubtitleHandler{prefix: prefix, converter: converter, logger: logger}
}

func (h *LocalSubtitleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	path, err := resolveLocalPath(r.URL, domain.LocalSubtitleScheme, h.prefix)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeSubtitle(w, r, h.converter, path, h.logger)
}

func writeSubtitle(w http.ResponseWriter, r *http.Request, converter SubtitleConverter, path string, logger *slog.Logger) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	vtt, err := converter.Convert(r.Context(), path)
	if err != nil {
		status, code := subtitleStatus(err)
		logger.Warn("subtitle conversion failed",
			slog.String("path", path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		writeError(w, status, code, domain.UserMessage(err))
		return
	}
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.WriteString(w, vtt)
	}
}

// resolveLocalPath accepts either the scheme form (local-video:/abs/path,
// scheme-relative URLs included) or a prefixed HTTP path
// (/local-video/abs/path).
func resolveLocalPath(u *url.URL, scheme, prefix string) (string, error) {
	var raw string
	switch {
	case strings.EqualFold(u.Scheme, scheme) && u.Opaque != "":
		decoded, err := url.PathUnescape(u.Opaque)
		if err != nil {
			return "", fmt.Errorf("invalid %s url: %w", scheme, err)
		}
		raw = decoded
	case strings.EqualFold(u.Scheme, scheme):
		raw = u.Path
		if u.Host != "" {
			raw = "//" + u.Host + u.Path
		}
	case prefix != "" && strings.HasPrefix(u.Path, prefix):
		raw = strings.TrimPrefix(u.Path, prefix)
		if !strings.HasPrefix(raw, "/") {
			raw = "/" + raw
		}
	default:
		raw = u.Path
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "/" {
		return "", errors.New("file path is required")
	}
	return filepath.Clean(filepath.FromSlash(raw)), nil
}

// serveLocalFile writes path with single-range support. Errors are reported
// by status only; the raw OS error stays in the log.
func serveLocalFile(w http.ResponseWriter, r *http.Request, path string, logger *slog.Logger) {
	file, err := os.Open(path)
	if err != nil {
		writeFileError(w, path, err, logger)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeFileError(w, path, err, logger)
		return
	}
	if info.IsDir() {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	size := info.Size()
	w.Header().Set("Content-Type", videoContentType(filepath.Ext(path)))
	w.Header().Set("Accept-Ranges", "bytes")

	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.Copy(w, file)
		}
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	length := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, io.NewSectionReader(file, start, length)); err != nil {
		logger.Debug("range copy interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func writeFileError(w http.ResponseWriter, path string, err error, logger *slog.Logger) {
	classified := domain.ClassifyFileError(path, err, domain.ErrProbeFailed)
	switch {
	case errors.Is(classified, domain.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "not_found", "file not found")
	case errors.Is(classified, domain.ErrFileAccessDenied):
		writeError(w, http.StatusForbidden, "access_denied", "file access denied")
	default:
		logger.Error("local file read failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read file")
	}
}
