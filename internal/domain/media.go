package domain

import "strings"

var (
	supportedVideoCodecs = map[string]struct{}{"h264": {}, "vp8": {}, "theora": {}}
	supportedAudioCodecs = map[string]struct{}{"aac": {}, "vorbis": {}, "opus": {}}
)

// MediaCapabilityReport is the result of probing a file. A report handed to
// callers always has a positive duration and a detected video codec.
type MediaCapabilityReport struct {
	VideoCodec      string  `json:"videoCodec"`
	AudioCodec      string  `json:"audioCodec,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	VideoSupported  bool    `json:"videoSupported"`
	AudioSupported  bool    `json:"audioSupported"`
}

func NewMediaCapabilityReport(videoCodec, audioCodec string, durationSeconds float64) MediaCapabilityReport {
	video := strings.ToLower(strings.TrimSpace(videoCodec))
	audio := strings.ToLower(strings.TrimSpace(audioCodec))
	return MediaCapabilityReport{
		VideoCodec:      video,
		AudioCodec:      audio,
		DurationSeconds: durationSeconds,
		VideoSupported:  IsSupportedVideoCodec(video),
		AudioSupported:  IsSupportedAudioCodec(audio),
	}
}

func IsSupportedVideoCodec(codec string) bool {
	_, ok := supportedVideoCodecs[strings.ToLower(codec)]
	return ok
}

func IsSupportedAudioCodec(codec string) bool {
	_, ok := supportedAudioCodecs[strings.ToLower(codec)]
	return ok
}
