package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"floatplay/internal/domain"
	"floatplay/internal/metrics"
)

const defaultProbeTimeout = 30 * time.Second

// runFunc executes ffmpeg and returns whatever it wrote to stderr.
type runFunc func(ctx context.Context, binary string, args ...string) (string, error)

// Prober inspects media files with "ffmpeg -i". Concurrent probes of the
// same path share one ffmpeg run.
type Prober struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
	run     runFunc
	group   singleflight.Group
}

type Option func(*Prober)

func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(binary string, opts ...Option) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	p := &Prober{
		binary:  bin,
		timeout: defaultProbeTimeout,
		logger:  slog.Default(),
		run:     runFFmpeg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prober) Probe(ctx context.Context, filePath string) (domain.MediaCapabilityReport, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return domain.MediaCapabilityReport{}, fmt.Errorf("%w: file path is required", domain.ErrFileNotFound)
	}

	ch := p.group.DoChan(path, func() (any, error) {
		return p.probe(context.WithoutCancel(ctx), path)
	})
	select {
	case <-ctx.Done():
		return domain.MediaCapabilityReport{}, fmt.Errorf("%w: %v", domain.ErrProbeFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.MediaCapabilityReport{}, res.Err
		}
		return res.Val.(domain.MediaCapabilityReport), nil
	}
}

func (p *Prober) probe(ctx context.Context, path string) (report domain.MediaCapabilityReport, err error) {
	start := time.Now()
	defer func() {
		metrics.ProbeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ProbeFailuresTotal.WithLabelValues(string(domain.KindOf(err))).Inc()
			p.logger.Warn("media probe failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		p.logger.Info("media probed",
			slog.String("path", path),
			slog.String("videoCodec", report.VideoCodec),
			slog.String("audioCodec", report.AudioCodec),
			slog.Float64("durationSeconds", report.DurationSeconds),
			slog.Int64("durationMs", time.Since(start).Milliseconds()),
		)
	}()

	if err := checkReadable(path); err != nil {
		return domain.MediaCapabilityReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, runErr := p.run(ctx, p.binary, "-hide_banner", "-i", path)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.MediaCapabilityReport{}, fmt.Errorf("%w after %s: %s", ErrProbeTimeout, p.timeout, path)
	}
	if runErr != nil {
		// A non-zero exit is expected without an output file; only failures
		// to run ffmpeg at all are errors.
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return domain.MediaCapabilityReport{}, fmt.Errorf("%w: run %s: %v", domain.ErrProbeFailed, p.binary, runErr)
		}
	}

	report, err = ParseOutput(output)
	if err != nil {
		return domain.MediaCapabilityReport{}, fmt.Errorf("%w: %s", err, path)
	}
	return report, nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return domain.ClassifyFileError(path, err, domain.ErrProbeFailed)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", domain.ErrUnsupportedFormat, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.ClassifyFileError(path, err, domain.ErrProbeFailed)
	}
	_ = f.Close()
	return nil
}

func runFFmpeg(ctx context.Context, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() == 0 {
		return stdout.String(), err
	}
	return stderr.String(), err
}
