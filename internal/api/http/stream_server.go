package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"floatplay/internal/domain"
	"floatplay/internal/metrics"
	"floatplay/internal/services/transcode"
)

const (
	defaultStreamAddr      = "127.0.0.1:8888"
	defaultStartTimeout    = 10 * time.Second
	defaultPlaylistTimeout = 30 * time.Second
	defaultHLSIdleTimeout  = 60 * time.Second
	playlistPollInterval   = 120 * time.Millisecond
)

var errNoSource = errors.New("no stream source configured")

// Transcoder is the single-process transcode manager the stream server
// drives.
type Transcoder interface {
	Start(ctx context.Context, session domain.TranscodeSession) (*transcode.Process, error)
	Stop(ctx context.Context) error
	StopProcess(proc *transcode.Process)
	Latest() *transcode.Process
}

// StreamServer is the fixed-port listener that serves the live transcode of
// the configured source and its subtitles.
type StreamServer struct {
	addr            string
	container       domain.Container
	transcoder      Transcoder
	subtitles       SubtitleConverter
	logger          *slog.Logger
	startTimeout    time.Duration
	playlistTimeout time.Duration
	idleTimeout     time.Duration
	handler         http.Handler

	mu       sync.Mutex
	source   *domain.StreamSource
	server   *http.Server
	listener net.Listener
	reaper   chan struct{}

	// sessionMu serializes "reuse or restart" decisions for the playlist.
	sessionMu    sync.Mutex
	lastActivity atomic.Int64
}

type StreamServerOption func(*StreamServer)

func WithStreamAddr(addr string) StreamServerOption {
	return func(s *StreamServer) {
		if strings.TrimSpace(addr) != "" {
			s.addr = addr
		}
	}
}

func WithContainer(container domain.Container) StreamServerOption {
	return func(s *StreamServer) {
		s.container = container
	}
}

func WithStreamLogger(logger *slog.Logger) StreamServerOption {
	return func(s *StreamServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStreamTimeouts(start, playlist, idle time.Duration) StreamServerOption {
	return func(s *StreamServer) {
		if start > 0 {
			s.startTimeout = start
		}
		if playlist > 0 {
			s.playlistTimeout = playlist
		}
		if idle > 0 {
			s.idleTimeout = idle
		}
	}
}

func NewStreamServer(transcoder Transcoder, subtitles SubtitleConverter, opts ...StreamServerOption) *StreamServer {
	s := &StreamServer{
		addr:            defaultStreamAddr,
		container:       domain.ContainerFMP4,
		transcoder:      transcoder,
		subtitles:       subtitles,
		logger:          slog.Default(),
		startTimeout:    defaultStartTimeout,
		playlistTimeout: defaultPlaylistTimeout,
		idleTimeout:     defaultHLSIdleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/subtitle", s.handleSubtitle)
	mux.HandleFunc("/stream.m3u8", s.handlePlaylist)
	mux.HandleFunc("/", s.handleRoot)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "stream-server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !strings.HasSuffix(r.URL.Path, ".ts")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, metricsMiddleware(corsMiddleware(nil, traced)))
	return s
}

func (s *StreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Configure points the server at a new source. Any running transcode
// belongs to the previous source and is stopped.
func (s *StreamServer) Configure(ctx context.Context, source domain.StreamSource) error {
	if err := s.transcoder.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.source = &source
	s.mu.Unlock()
	s.logger.Info("stream source configured",
		slog.String("path", source.Path),
		slog.Bool("videoSupported", source.VideoSupported),
		slog.Bool("audioSupported", source.AudioSupported),
		slog.String("subtitlePath", source.SubtitlePath),
	)
	return nil
}

// StopStreaming stops the running transcode and forgets the source. The
// listener stays up for the next playback.
func (s *StreamServer) StopStreaming(ctx context.Context) error {
	s.mu.Lock()
	s.source = nil
	s.mu.Unlock()
	return s.transcoder.Stop(ctx)
}

func (s *StreamServer) currentSource() (domain.StreamSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == nil {
		return domain.StreamSource{}, false
	}
	return *s.source, true
}

// Start binds the listener. It is a no-op when already listening.
func (s *StreamServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %w", domain.ErrServerStartFailed, s.addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.server = srv
	s.listener = ln
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("stream server stopped", slog.String("error", err.Error()))
		}
	}()

	if s.container == domain.ContainerHLS {
		s.reaper = make(chan struct{})
		go s.reapIdle(s.reaper)
	}
	s.logger.Info("stream server listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("container", string(s.container)),
	)
	return nil
}

// Addr is the bound address, or the configured one before Start.
func (s *StreamServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *StreamServer) VideoURL() string {
	if s.container == domain.ContainerHLS {
		return "http://" + s.Addr() + "/" + transcode.PlaylistName
	}
	return "http://" + s.Addr() + "/video.mp4"
}

func (s *StreamServer) SubtitleURL() string {
	return "http://" + s.Addr() + "/subtitle"
}

// Close shuts the listener down, kills the transcode and removes its
// segment directory.
func (s *StreamServer) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.source = nil
	if s.reaper != nil {
		close(s.reaper)
		s.reaper = nil
	}
	s.mu.Unlock()

	stopErr := s.transcoder.Stop(ctx)
	if srv == nil {
		return stopErr
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return err
	}
	return stopErr
}

func (s *StreamServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/" || r.URL.Path == "/video.mp4":
		s.handleVideo(w, r)
	case strings.HasSuffix(r.URL.Path, ".ts"):
		s.handleSegment(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "not found")
	}
}

func (s *StreamServer) handleVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.container != domain.ContainerFMP4 {
		writeError(w, http.StatusNotFound, "not_found", "progressive stream disabled, use "+transcode.PlaylistName)
		return
	}
	source, ok := s.currentSource()
	if !ok {
		writeError(w, http.StatusBadRequest, "no_source", errNoSource.Error())
		return
	}
	start, err := parseStartTime(r.URL.Query().Get("startTime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if prev := s.transcoder.Latest(); prev != nil && start > 0 && prev.Session().SourcePath == source.Path {
		metrics.SeekRestartsTotal.Inc()
	}
	proc, err := s.transcoder.Start(r.Context(), source.Session(start, domain.ContainerFMP4))
	if err != nil {
		writePlaybackError(w, err)
		return
	}
	stdout := proc.Stdout()
	if stdout == nil {
		s.transcoder.StopProcess(proc)
		writeError(w, http.StatusInternalServerError, "internal_error", "transcode has no output stream")
		return
	}
	defer stdout.Close()

	// A blocked read on the pipe does not notice the client leaving, so tie
	// the process to the request context as well.
	stop := context.AfterFunc(r.Context(), func() {
		s.transcoder.StopProcess(proc)
		_ = stdout.Close()
	})
	defer stop()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	written, copyErr := io.Copy(flushWriter{w: w}, stdout)
	if copyErr != nil || r.Context().Err() != nil {
		s.transcoder.StopProcess(proc)
		s.logger.Info("stream client disconnected",
			slog.String("sessionId", proc.Session().ID),
			slog.Int64("bytes", written),
		)
		return
	}
	s.logger.Debug("stream completed",
		slog.String("sessionId", proc.Session().ID),
		slog.Int64("bytes", written),
	)
}

// flushWriter pushes each chunk to the client as ffmpeg produces it.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err == nil {
		_ = http.NewResponseController(f.w).Flush()
	}
	return n, err
}

func (s *StreamServer) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	if s.container != domain.ContainerHLS {
		writeError(w, http.StatusNotFound, "not_found", "hls disabled, use /video.mp4")
		return
	}
	source, ok := s.currentSource()
	if !ok {
		writeError(w, http.StatusBadRequest, "no_source", errNoSource.Error())
		return
	}
	start, err := parseStartTime(r.URL.Query().Get("startTime"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.touch()

	proc, err := s.ensureSession(r.Context(), source.Session(start, domain.ContainerHLS))
	if err != nil {
		writePlaybackError(w, err)
		return
	}

	playlist := filepath.Join(proc.Session().OutputDir, transcode.PlaylistName)
	if err := waitForFile(r.Context(), proc, playlist, s.playlistTimeout); err != nil {
		s.logger.Warn("playlist not ready",
			slog.String("sessionId", proc.Session().ID),
			slog.String("error", err.Error()),
			slog.String("stderr", truncate(proc.Stderr(), 400)),
		)
		writeError(w, http.StatusGatewayTimeout, "playlist_timeout", "stream is not ready")
		return
	}

	data, err := os.ReadFile(playlist)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "playlist not found")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ensureSession reuses the latest process when it targets the same source
// and offset and has not failed; otherwise it restarts the transcode.
func (s *StreamServer) ensureSession(ctx context.Context, session domain.TranscodeSession) (*transcode.Process, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	latest := s.transcoder.Latest()
	if latest != nil && latest.Session().SameTarget(session) {
		failed := latest.IsDone() && latest.Err() != nil && !latest.Intentional()
		if !failed {
			return latest, nil
		}
	}
	if latest != nil && latest.Session().SourcePath == session.SourcePath {
		metrics.SeekRestartsTotal.Inc()
	}
	return s.transcoder.Start(ctx, session)
}

var errPlaylistTimeout = errors.New("timed out waiting for playlist")

// waitForFile polls for path until it exists, the process exits without
// producing it, or timeout elapses.
func waitForFile(ctx context.Context, proc *transcode.Process, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(playlistPollInterval)
	defer ticker.Stop()
	for {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errPlaylistTimeout
			}
			return ctx.Err()
		case <-proc.Done():
			if info, err := os.Stat(path); err == nil && info.Size() > 0 {
				return nil
			}
			return fmt.Errorf("%w: exited before writing playlist", domain.ErrTranscodeProcess)
		case <-ticker.C:
		}
	}
}

func (s *StreamServer) handleSegment(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	proc := s.transcoder.Latest()
	if proc == nil || proc.Session().OutputDir == "" || name == "." || name == "/" {
		writeError(w, http.StatusNotFound, "not_found", "segment not found")
		return
	}
	s.touch()

	file, err := os.Open(filepath.Join(proc.Session().OutputDir, name))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "segment not found")
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "segment not found")
		return
	}
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, name, info.ModTime(), file)
}

func (s *StreamServer) handleSubtitle(w http.ResponseWriter, r *http.Request) {
	source, ok := s.currentSource()
	if !ok || source.SubtitlePath == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		writeError(w, http.StatusNotFound, "not_found", "no subtitle configured")
		return
	}
	writeSubtitle(w, r, s.subtitles, source.SubtitlePath, s.logger)
}

func (s *StreamServer) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// reapIdle stops an HLS transcode nobody has fetched from for idleTimeout;
// segmented playback has no single connection whose close would stop it.
func (s *StreamServer) reapIdle(stop <-chan struct{}) {
	interval := s.idleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			proc := s.transcoder.Latest()
			if proc == nil || proc.IsDone() {
				continue
			}
			idle := time.Since(time.Unix(0, s.lastActivity.Load()))
			if idle < s.idleTimeout {
				continue
			}
			s.logger.Info("stopping idle hls transcode",
				slog.String("sessionId", proc.Session().ID),
				slog.Duration("idle", idle),
			)
			s.transcoder.StopProcess(proc)
		}
	}
}
