package subtitle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"floatplay/internal/domain"
	"floatplay/internal/metrics"
)

var (
	ErrUnsupportedSubtitle = errors.New("unsupported subtitle format")
	ErrEmptySubtitle       = errors.New("subtitle file is empty")
)

type Converter struct {
	logger *slog.Logger
}

func NewConverter(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// Convert reads a subtitle file and returns it as WebVTT text. Every error
// wraps domain.ErrSubtitleConversionFailed together with the specific cause.
func (c *Converter) Convert(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", conversionError(err, path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	format := strings.TrimPrefix(ext, ".")
	switch ext {
	case ".srt", ".smi", ".sami", ".vtt":
	default:
		metrics.SubtitleConversionsTotal.WithLabelValues("other", "unsupported").Inc()
		return "", conversionError(ErrUnsupportedSubtitle, path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		metrics.SubtitleConversionsTotal.WithLabelValues(format, "read_error").Inc()
		classified := domain.ClassifyFileError(path, err, domain.ErrSubtitleConversionFailed)
		if errors.Is(classified, domain.ErrSubtitleConversionFailed) {
			return "", classified
		}
		return "", fmt.Errorf("%w: %w", domain.ErrSubtitleConversionFailed, classified)
	}

	text, charset := Decode(raw)
	if strings.TrimSpace(text) == "" {
		metrics.SubtitleConversionsTotal.WithLabelValues(format, "empty").Inc()
		return "", conversionError(ErrEmptySubtitle, path)
	}

	var out string
	switch ext {
	case ".srt":
		out = SRTToVTT(text)
	case ".smi", ".sami":
		out = SAMIToVTT(text, c.logger.With(slog.String("path", path)))
	case ".vtt":
		out = EnsureVTTHeader(text)
	}

	metrics.SubtitleConversionsTotal.WithLabelValues(format, "ok").Inc()
	c.logger.Debug("subtitle converted",
		slog.String("path", path),
		slog.String("format", format),
		slog.String("charset", string(charset)),
		slog.Int("bytes", len(out)),
	)
	return out, nil
}

func conversionError(cause error, path string) error {
	return fmt.Errorf("%w: %w: %s", domain.ErrSubtitleConversionFailed, cause, path)
}
