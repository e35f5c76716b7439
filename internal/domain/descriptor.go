package domain

import "time"

type PlaybackMode string

const (
	PlaybackNative PlaybackMode = "native"
	PlaybackStream PlaybackMode = "stream"
)

const (
	LocalVideoScheme    = "local-video"
	LocalSubtitleScheme = "local-subtitle"
)

// PlaybackDescriptor tells the UI what to hand to its player widget.
// DurationSeconds is set only in stream mode, where the player cannot learn
// the duration from the live-generated stream.
type PlaybackDescriptor struct {
	ID              string       `json:"id"`
	Mode            PlaybackMode `json:"mode"`
	VideoSource     string       `json:"videoSource"`
	SubtitleSource  string       `json:"subtitleSource,omitempty"`
	DurationSeconds float64      `json:"durationSeconds,omitempty"`
	SourcePath      string       `json:"sourcePath"`
	CreatedAt       time.Time    `json:"createdAt"`
}

func LocalVideoURL(path string) string {
	return LocalVideoScheme + ":" + path
}

func LocalSubtitleURL(path string) string {
	return LocalSubtitleScheme + ":" + path
}
