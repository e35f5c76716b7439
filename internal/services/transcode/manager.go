package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"floatplay/internal/domain"
	"floatplay/internal/metrics"
)

const progressFD = 3

var ErrManagerClosed = errors.New("transcode manager closed")

type Config struct {
	FFmpegPath   string
	Preset       string
	CRF          int
	AudioBitrate string
	HWAccel      bool
	// BaseDir holds per-session HLS directories; empty means os.TempDir().
	BaseDir string
}

// Manager owns at most one running ffmpeg process.
type Manager struct {
	cfg     Config
	logger  *slog.Logger
	hw      *hwDetector
	command commandFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	current *Process
	// draining holds processes stopped without waiting; Start waits for
	// them before spawning.
	draining map[*Process]struct{}
	closed   bool
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.FFmpegPath) == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = os.TempDir()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		hw:         newHWDetector(cfg.FFmpegPath, cfg.HWAccel, logger),
		command:    exec.CommandContext,
		draining:   make(map[*Process]struct{}),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start stops whatever is running, waits for it to exit and then spawns a
// process for session. The returned session carries the assigned ID and,
// for HLS, the output directory.
func (m *Manager) Start(ctx context.Context, session domain.TranscodeSession) (*Process, error) {
	var encoder Encoder
	if !session.VideoSupported {
		encoder = m.videoEncoder(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("%w: %w", domain.ErrServerStartFailed, ErrManagerClosed)
	}
	if err := m.stopLocked(ctx); err != nil {
		return nil, err
	}

	session.ID = uuid.NewString()
	if session.Container == "" {
		session.Container = domain.ContainerFMP4
	}
	if session.Container == domain.ContainerHLS {
		dir := filepath.Join(m.cfg.BaseDir, "floatplay-"+session.ID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			metrics.TranscodeFailuresTotal.Inc()
			return nil, fmt.Errorf("%w: create segment dir: %w", domain.ErrServerStartFailed, err)
		}
		session.OutputDir = dir
	} else {
		session.OutputDir = ""
	}

	argCfg := ArgConfig{
		Input:        session.SourcePath,
		StartSeconds: session.StartSeconds,
		VideoCopy:    session.VideoSupported,
		AudioCopy:    session.AudioSupported,
		AudioBitrate: m.cfg.AudioBitrate,
		Container:    session.Container,
		Encoder:      encoder,
	}
	withProgress := progressSupported()
	if withProgress {
		argCfg.ProgressFD = progressFD
	}

	proc := newProcess(m.baseCtx, m.command, m.cfg.FFmpegPath, argCfg, session)
	if err := proc.start(withProgress); err != nil {
		metrics.TranscodeFailuresTotal.Inc()
		m.removeDir(session.OutputDir)
		m.logger.Error("transcode spawn failed",
			slog.String("sessionId", session.ID),
			slog.String("path", session.SourcePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: spawn %s: %w", domain.ErrServerStartFailed, m.cfg.FFmpegPath, err)
	}

	m.current = proc
	metrics.TranscodeActive.Set(1)
	metrics.TranscodeStartsTotal.WithLabelValues(string(session.Container)).Inc()
	m.logger.Info("transcode started",
		slog.String("sessionId", session.ID),
		slog.String("path", session.SourcePath),
		slog.String("container", string(session.Container)),
		slog.Float64("startSeconds", session.StartSeconds),
		slog.Bool("videoCopy", argCfg.VideoCopy),
		slog.Bool("audioCopy", argCfg.AudioCopy),
		slog.String("videoEncoder", encoderName(argCfg)),
	)
	go m.watch(proc)
	return proc, nil
}

func (m *Manager) videoEncoder(ctx context.Context) Encoder {
	if enc := m.hw.Encoder(ctx); enc != nil {
		return *enc
	}
	return softwareEncoder(m.cfg.Preset, m.cfg.CRF)
}

func encoderName(cfg ArgConfig) string {
	if cfg.VideoCopy {
		return "copy"
	}
	return cfg.Encoder.Name
}

// watch waits for the process to exit. A finished process stays current
// until the next Start or Stop so its segment dir can still be served and
// is cleaned up in one place.
func (m *Manager) watch(proc *Process) {
	err := proc.Wait()
	session := proc.Session()
	lifetime := proc.EndedAt().Sub(proc.StartedAt())
	metrics.TranscodeDuration.Observe(lifetime.Seconds())

	attrs := []any{
		slog.String("sessionId", session.ID),
		slog.String("path", session.SourcePath),
		slog.Duration("lifetime", lifetime),
		slog.Float64("outputSeconds", proc.Progress()),
	}
	switch {
	case proc.Intentional():
		metrics.TranscodeExitsTotal.WithLabelValues("stopped").Inc()
		m.logger.Info("transcode stopped", attrs...)
	case err == nil:
		metrics.TranscodeExitsTotal.WithLabelValues("finished").Inc()
		m.logger.Info("transcode finished", attrs...)
	default:
		metrics.TranscodeExitsTotal.WithLabelValues("error").Inc()
		attrs = append(attrs,
			slog.String("error", fmt.Errorf("%w: %w", domain.ErrTranscodeProcess, err).Error()),
			slog.String("stderr", proc.Stderr()),
		)
		m.logger.Error("transcode exited unexpectedly", attrs...)
	}

	m.mu.Lock()
	if m.current == proc {
		metrics.TranscodeActive.Set(0)
	}
	m.mu.Unlock()
}

// Stop terminates the running process, if any, and waits for it to exit.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

// StopProcess stops proc only if it is still the current process. Handlers
// use it on client disconnect so a stale request cannot kill a newer
// session.
func (m *Manager) StopProcess(proc *Process) {
	if proc == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != proc {
		return
	}
	proc.Stop()
	m.current = nil
	m.draining[proc] = struct{}{}
	metrics.TranscodeActive.Set(0)
	go func() {
		<-proc.Done()
		m.removeDir(proc.Session().OutputDir)
		m.mu.Lock()
		delete(m.draining, proc)
		m.mu.Unlock()
	}()
}

// stopLocked stops the current process and waits until it and every
// draining process have exited.
func (m *Manager) stopLocked(ctx context.Context) error {
	if proc := m.current; proc != nil {
		proc.Stop()
		if err := waitExit(ctx, proc); err != nil {
			return err
		}
		m.current = nil
		metrics.TranscodeActive.Set(0)
		m.removeDir(proc.Session().OutputDir)
	}
	for proc := range m.draining {
		if err := waitExit(ctx, proc); err != nil {
			return err
		}
	}
	return nil
}

func waitExit(ctx context.Context, proc *Process) error {
	select {
	case <-proc.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for previous transcode: %w", domain.ErrTranscodeProcess, ctx.Err())
	}
}

// Current returns the running process or nil.
func (m *Manager) Current() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.IsDone() {
		return nil
	}
	return m.current
}

// Latest returns the most recent process even after it exited on its own,
// until the next Start or Stop replaces it.
func (m *Manager) Latest() *Process {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// HardwareEncoder reports the detected hardware encoder name, or "" when
// encoding falls back to software.
func (m *Manager) HardwareEncoder(ctx context.Context) string {
	if enc := m.hw.Encoder(ctx); enc != nil {
		return enc.Name
	}
	return ""
}

// Close stops the running process and refuses further starts.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	err := m.stopLocked(ctx)
	m.baseCancel()
	return err
}

func (m *Manager) removeDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove segment dir",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
	}
}
