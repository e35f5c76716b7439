package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"floatplay/internal/domain"
	"floatplay/internal/metrics"
)

const (
	EventPlayback      = "playback"
	EventPlaybackError = "playback_error"
	EventPlaybackStop  = "playback_stopped"

	defaultServerStartTimeout = 10 * time.Second
)

type MediaProbe interface {
	Probe(ctx context.Context, path string) (domain.MediaCapabilityReport, error)
}

// Streamer is the local streaming endpoint used when the file cannot be
// played natively.
type Streamer interface {
	Configure(ctx context.Context, source domain.StreamSource) error
	Start(ctx context.Context) error
	StopStreaming(ctx context.Context) error
	VideoURL() string
	SubtitleURL() string
}

// Notifier delivers playback events to the UI layer.
type Notifier interface {
	Notify(eventType string, payload any)
}

// SubtitleLocator finds a subtitle file next to a video.
type SubtitleLocator func(videoPath string) (string, bool)

// PlayFile locates a sibling subtitle, probes, decides, and then either builds a
// native descriptor or sets up the streaming server.
type PlayFile struct {
	Probe              MediaProbe
	Streamer           Streamer
	Notifier           Notifier
	LocateSubtitle     SubtitleLocator
	Logger             *slog.Logger
	ServerStartTimeout time.Duration
	Now                func() time.Time

	mu      sync.Mutex
	current *domain.PlaybackDescriptor
}

var tracer = otel.Tracer("floatplay/usecase")

func (uc *PlayFile) Execute(ctx context.Context, path string) (descriptor domain.PlaybackDescriptor, err error) {
	ctx, span := tracer.Start(ctx, "PlayFile.Execute", trace.WithAttributes(
		attribute.String("media.path", path),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.KindOf(err)))
		}
		span.End()
	}()

	logger := uc.logger()
	path = strings.TrimSpace(path)
	if path == "" {
		return uc.fail(ctx, path, fmt.Errorf("%w: file path is required", domain.ErrFileNotFound))
	}
	if uc.Probe == nil {
		return uc.fail(ctx, path, fmt.Errorf("%w: media probe not configured", domain.ErrProbeFailed))
	}

	subtitlePath, hasSubtitle := "", false
	if uc.LocateSubtitle != nil {
		subtitlePath, hasSubtitle = uc.LocateSubtitle(path)
	}

	report, err := uc.Probe.Probe(ctx, path)
	if err != nil {
		return uc.fail(ctx, path, err)
	}

	mode := domain.Decide(report)
	span.SetAttributes(
		attribute.String("playback.mode", string(mode)),
		attribute.String("media.video_codec", report.VideoCodec),
		attribute.String("media.audio_codec", report.AudioCodec),
		attribute.Float64("media.duration_seconds", report.DurationSeconds),
		attribute.Bool("media.has_subtitle", hasSubtitle),
	)

	descriptor = domain.PlaybackDescriptor{
		ID:         uuid.NewString(),
		Mode:       mode,
		SourcePath: path,
		CreatedAt:  uc.now(),
	}

	switch mode {
	case domain.PlaybackNative:
		if uc.Streamer != nil {
			if stopErr := uc.Streamer.StopStreaming(ctx); stopErr != nil {
				logger.Warn("failed to stop previous stream",
					slog.String("error", stopErr.Error()),
				)
			}
		}
		descriptor.VideoSource = domain.LocalVideoURL(path)
		if hasSubtitle {
			descriptor.SubtitleSource = domain.LocalSubtitleURL(subtitlePath)
		}
	default:
		if err := uc.startStream(ctx, report, path, subtitlePath); err != nil {
			return uc.fail(ctx, path, err)
		}
		descriptor.VideoSource = uc.Streamer.VideoURL()
		descriptor.DurationSeconds = report.DurationSeconds
		if hasSubtitle {
			descriptor.SubtitleSource = uc.Streamer.SubtitleURL()
		}
	}

	uc.mu.Lock()
	stored := descriptor
	uc.current = &stored
	uc.mu.Unlock()

	metrics.PlaybacksTotal.WithLabelValues(string(mode)).Inc()
	logger.Info("playback ready",
		slog.String("id", descriptor.ID),
		slog.String("mode", string(mode)),
		slog.String("path", path),
		slog.String("videoSource", descriptor.VideoSource),
		slog.String("subtitleSource", descriptor.SubtitleSource),
		slog.String("videoCodec", report.VideoCodec),
		slog.String("audioCodec", report.AudioCodec),
	)
	uc.notify(EventPlayback, descriptor)
	return descriptor, nil
}

func (uc *PlayFile) startStream(ctx context.Context, report domain.MediaCapabilityReport, path, subtitlePath string) error {
	if uc.Streamer == nil {
		return fmt.Errorf("%w: streaming server not configured", domain.ErrServerStartFailed)
	}
	timeout := uc.ServerStartTimeout
	if timeout <= 0 {
		timeout = defaultServerStartTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	source := domain.StreamSource{
		Path:           path,
		VideoSupported: report.VideoSupported,
		AudioSupported: report.AudioSupported,
		SubtitlePath:   subtitlePath,
	}
	if err := uc.Streamer.Configure(ctx, source); err != nil {
		return wrapServerStart(err)
	}
	if err := uc.Streamer.Start(ctx); err != nil {
		return wrapServerStart(err)
	}
	return nil
}

// fail reports err to the UI and returns it unchanged. Nothing else is
// touched so a failed request leaves the previous playback alone.
func (uc *PlayFile) fail(ctx context.Context, path string, err error) (domain.PlaybackDescriptor, error) {
	report := domain.NewErrorReport(err, path)
	uc.logger().WarnContext(ctx, "playback failed",
		slog.String("path", path),
		slog.String("kind", string(report.Kind)),
		slog.Bool("recoverable", report.Recoverable),
		slog.String("error", err.Error()),
	)
	uc.notify(EventPlaybackError, report)
	return domain.PlaybackDescriptor{}, err
}

// Stop tears down any stream and forgets the current descriptor.
func (uc *PlayFile) Stop(ctx context.Context) error {
	uc.mu.Lock()
	uc.current = nil
	uc.mu.Unlock()

	if uc.Streamer != nil {
		if err := uc.Streamer.StopStreaming(ctx); err != nil {
			return wrapTranscode(err)
		}
	}
	uc.logger().Info("playback stopped")
	uc.notify(EventPlaybackStop, nil)
	return nil
}

func (uc *PlayFile) Current() (domain.PlaybackDescriptor, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.current == nil {
		return domain.PlaybackDescriptor{}, false
	}
	return *uc.current, true
}

func (uc *PlayFile) notify(eventType string, payload any) {
	if uc.Notifier != nil {
		uc.Notifier.Notify(eventType, payload)
	}
}

func (uc *PlayFile) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}

func (uc *PlayFile) now() time.Time {
	if uc.Now != nil {
		return uc.Now().UTC()
	}
	return time.Now().UTC()
}
