package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"floatplay/internal/domain"
)

var (
	ErrNoDuration      = fmt.Errorf("%w: no duration in ffmpeg output", domain.ErrProbeFailed)
	ErrInvalidDuration = fmt.Errorf("%w: invalid duration", domain.ErrProbeFailed)
	ErrNoVideoStream   = fmt.Errorf("%w: no video stream", domain.ErrUnsupportedFormat)
	ErrProbeTimeout    = fmt.Errorf("%w: timed out", domain.ErrProbeFailed)
)

var (
	durationRe    = regexp.MustCompile(`Duration: ([\d:.]+),`)
	videoStreamRe = regexp.MustCompile(`Stream #\d+:\d+.*: Video: (\w+)`)
	audioStreamRe = regexp.MustCompile(`Stream #\d+:\d+.*: Audio: (\w+)`)
)

// ParseOutput scrapes the diagnostic text ffmpeg prints for "-i <file>".
// The first video and audio stream win.
func ParseOutput(output string) (domain.MediaCapabilityReport, error) {
	durationMatch := durationRe.FindStringSubmatch(output)
	if durationMatch == nil {
		return domain.MediaCapabilityReport{}, ErrNoDuration
	}

	videoMatch := videoStreamRe.FindStringSubmatch(output)
	if videoMatch == nil {
		return domain.MediaCapabilityReport{}, ErrNoVideoStream
	}
	videoCodec := strings.ToLower(videoMatch[1])
	if videoCodec == "none" {
		return domain.MediaCapabilityReport{}, &domain.UnsupportedCodecError{VideoCodec: videoCodec}
	}

	var audioCodec string
	if audioMatch := audioStreamRe.FindStringSubmatch(output); audioMatch != nil {
		audioCodec = strings.ToLower(audioMatch[1])
	}

	seconds, err := ParseDuration(durationMatch[1])
	if err != nil {
		return domain.MediaCapabilityReport{}, err
	}

	return domain.NewMediaCapabilityReport(videoCodec, audioCodec, seconds), nil
}

// ParseDuration converts HH:MM:SS(.fraction) into seconds.
func ParseDuration(raw string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	total := float64(hours*3600+minutes*60) + seconds
	if total <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return total, nil
}
