package domain

// Decide picks native playback only when both streams are playable as-is.
// Partial support still transcodes: the output container is built by a
// single ffmpeg pass.
func Decide(report MediaCapabilityReport) PlaybackMode {
	if report.VideoSupported && report.AudioSupported {
		return PlaybackNative
	}
	return PlaybackStream
}
