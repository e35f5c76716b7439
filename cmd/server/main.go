package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "floatplay/internal/api/http"
	"floatplay/internal/app"
	"floatplay/internal/domain"
	"floatplay/internal/metrics"
	"floatplay/internal/services/probe"
	"floatplay/internal/services/subtitle"
	"floatplay/internal/services/transcode"
	"floatplay/internal/telemetry"
	"floatplay/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "floatplay")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "floatplay"),
		slog.String("controlAddr", cfg.ControlAddr),
		slog.String("streamAddr", cfg.StreamAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("ffmpeg", cfg.FFMPEGPath),
		slog.String("container", cfg.Container),
		slog.String("hwaccel", cfg.HWAccel),
		slog.String("hlsDir", cfg.HLSDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := probe.New(cfg.FFMPEGPath,
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithLogger(logger),
	)
	converter := subtitle.NewConverter(logger)
	manager := transcode.NewManager(transcode.Config{
		FFmpegPath:   cfg.FFMPEGPath,
		Preset:       cfg.Preset,
		CRF:          cfg.CRF,
		AudioBitrate: cfg.AudioBitrate,
		HWAccel:      cfg.HWAccel == "auto",
		BaseDir:      cfg.HLSDir,
	}, logger)

	// Encoder detection runs a few test encodes; do it before the first
	// playback request needs it.
	go func() {
		logger.Info("video encoder selected", slog.String("encoder", manager.HardwareEncoder(rootCtx)))
	}()

	streamServer := apihttp.NewStreamServer(manager, converter,
		apihttp.WithStreamAddr(cfg.StreamAddr),
		apihttp.WithContainer(domain.ParseContainer(cfg.Container)),
		apihttp.WithStreamLogger(logger),
		apihttp.WithStreamTimeouts(cfg.ServerStartTimeout, cfg.PlaylistTimeout, cfg.HLSIdleTimeout),
	)

	playFile := &usecase.PlayFile{
		Probe:              prober,
		Streamer:           streamServer,
		LocateSubtitle:     subtitle.Locate,
		Logger:             logger,
		ServerStartTimeout: cfg.ServerStartTimeout,
		Now:                time.Now,
	}

	handler := apihttp.NewServer(playFile,
		apihttp.WithLogger(logger),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		apihttp.WithSubtitles(converter),
	)
	playFile.Notifier = handler

	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.ControlAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := streamServer.Close(shutdownCtx); err != nil {
		logger.Warn("stream server close error", slog.String("error", err.Error()))
	}
	if err := manager.Close(shutdownCtx); err != nil {
		logger.Warn("transcode manager close error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
