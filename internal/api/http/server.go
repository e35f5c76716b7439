package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"floatplay/internal/domain"
)

const (
	LocalVideoPrefix    = "/local-video"
	LocalSubtitlePrefix = "/local-subtitle"

	maxPlaybackBody = 1 << 20
)

// PlaybackUseCase is the orchestrator behind the control API.
type PlaybackUseCase interface {
	Execute(ctx context.Context, path string) (domain.PlaybackDescriptor, error)
	Stop(ctx context.Context) error
	Current() (domain.PlaybackDescriptor, bool)
}

// Server is the control API the UI shell talks to.
type Server struct {
	playback       PlaybackUseCase
	subtitles      SubtitleConverter
	metricsHandler http.Handler
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins configures the CORS allow-list. Empty permits any
// origin.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithSubtitles enables the /local-subtitle/ resolver.
func WithSubtitles(converter SubtitleConverter) ServerOption {
	return func(s *Server) {
		s.subtitles = converter
	}
}

func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

type playbackRequest struct {
	Path string `json:"path"`
}

func NewServer(playback PlaybackUseCase, opts ...ServerOption) *Server {
	s := &Server{playback: playback}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/playback", s.handlePlayback)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", s.metricsHandler)
	mux.Handle(LocalVideoPrefix+"/", NewLocalVideoHandler(LocalVideoPrefix, s.logger))
	if s.subtitles != nil {
		mux.Handle(LocalSubtitlePrefix+"/", NewLocalSubtitleHandler(LocalSubtitlePrefix, s.subtitles, s.logger))
	}

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "floatplay-control",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Notify broadcasts a playback event to every connected UI client.
func (s *Server) Notify(eventType string, payload any) {
	s.wsHub.Broadcast(eventType, payload)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	s.wsHub.Close()
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startPlayback(w, r)
	case http.MethodDelete:
		if err := s.playback.Stop(r.Context()); err != nil {
			s.logger.Error("stop playback failed", slog.String("error", err.Error()))
			writePlaybackError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		descriptor, ok := s.playback.Current()
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "nothing is playing")
			return
		}
		writeJSON(w, http.StatusOK, descriptor)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) startPlayback(w http.ResponseWriter, r *http.Request) {
	var req playbackRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPlaybackBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	req.Path = strings.TrimSpace(req.Path)
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
		return
	}

	descriptor, err := s.playback.Execute(r.Context(), req.Path)
	if err != nil {
		writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptor)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	s.wsHub.attach(conn)
}
