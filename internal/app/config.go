package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ControlAddr        string
	StreamAddr         string
	LogLevel           string
	LogFormat          string
	FFMPEGPath         string
	Container          string // fmp4 or hls
	HLSDir             string
	Preset             string
	CRF                int
	AudioBitrate       string
	HWAccel            string // auto or off
	ProbeTimeout       time.Duration
	ServerStartTimeout time.Duration
	PlaylistTimeout    time.Duration
	HLSIdleTimeout     time.Duration
	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		ControlAddr:        getEnv("CONTROL_ADDR", "127.0.0.1:8890"),
		StreamAddr:         getEnv("STREAM_ADDR", "127.0.0.1:8888"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		FFMPEGPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		Container:          parseContainer(getEnv("TRANSCODE_CONTAINER", "fmp4")),
		HLSDir:             getEnv("HLS_DIR", ""),
		Preset:             getEnv("TRANSCODE_PRESET", "veryfast"),
		CRF:                int(getEnvInt64("TRANSCODE_CRF", 23)),
		AudioBitrate:       getEnv("TRANSCODE_AUDIO_BITRATE", "128k"),
		HWAccel:            parseHWAccel(getEnv("HWACCEL", "auto")),
		ProbeTimeout:       getEnvDuration("PROBE_TIMEOUT", 30*time.Second),
		ServerStartTimeout: getEnvDuration("SERVER_START_TIMEOUT", 10*time.Second),
		PlaylistTimeout:    getEnvDuration("HLS_PLAYLIST_TIMEOUT", 30*time.Second),
		HLSIdleTimeout:     getEnvDuration("HLS_IDLE_TIMEOUT", 60*time.Second),
		CORSAllowedOrigins: parseOrigins(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
}

func parseContainer(raw string) string {
	if strings.ToLower(strings.TrimSpace(raw)) == "hls" {
		return "hls"
	}
	return "fmp4"
}

func parseHWAccel(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off", "none", "false", "0":
		return "off"
	default:
		return "auto"
	}
}

func parseOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go duration strings ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
