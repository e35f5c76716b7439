package apihttp

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"floatplay/internal/domain"
	"floatplay/internal/services/subtitle"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

// writePlaybackError maps a playback failure to its status code and writes
// the user-facing message.
func writePlaybackError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusForKind(kind), errorEnvelope{Error: errorPayload{
		Code:        string(kind),
		Message:     domain.UserMessage(err),
		Recoverable: domain.IsRecoverable(err),
	}})
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindFileNotFound:
		return http.StatusNotFound
	case domain.KindFileAccessDenied:
		return http.StatusForbidden
	case domain.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case domain.KindProbeFailed:
		return http.StatusUnprocessableEntity
	case domain.KindServerStartFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// subtitleStatus looks past the subtitle wrapper to the file-level cause.
func subtitleStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrFileNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrFileAccessDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, subtitle.ErrUnsupportedSubtitle), errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	default:
		return http.StatusInternalServerError, "subtitle_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

var errInvalidStartTime = errors.New("invalid startTime")

// parseStartTime reads the seek offset in seconds; empty means 0.
func parseStartTime(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	start, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(start) || math.IsInf(start, 0) || start < 0 {
		return 0, errInvalidStartTime
	}
	return start, nil
}

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses a single "bytes=" range against size. Unlike a
// lenient server it does not clamp: an end past the last byte is rejected.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "bytes=") {
		return 0, 0, errInvalidRange
	}

	rangeSet := strings.TrimSpace(value[len("bytes="):])
	if rangeSet == "" || strings.Contains(rangeSet, ",") {
		return 0, 0, errInvalidRange
	}

	startStr, endStr, found := strings.Cut(rangeSet, "-")
	if !found {
		return 0, 0, errInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		if endStr == "" {
			return 0, 0, errInvalidRange
		}
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	if endStr == "" {
		return start, size - 1, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < 0 {
		return 0, 0, errInvalidRange
	}
	if end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		return 0, 0, errRangeNotSatisfiable
	}
	return start, end, nil
}

func videoContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".m4v":
		return "video/x-m4v"
	case ".ogv", ".ogg":
		return "video/ogg"
	case ".wmv":
		return "video/x-ms-wmv"
	case ".flv":
		return "video/x-flv"
	case ".ts", ".m2ts":
		return "video/mp2t"
	default:
		return "video/mp4"
	}
}
