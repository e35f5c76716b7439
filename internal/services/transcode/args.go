package transcode

import (
	"fmt"
	"strconv"

	"floatplay/internal/domain"
)

const (
	hlsSegmentSeconds = 2
	hlsListSize       = 6
	PlaylistName      = "stream.m3u8"
	segmentPattern    = "seg-%05d.ts"
)

// ArgConfig holds everything buildArgs needs. It is a value type so the
// builder stays a pure function.
type ArgConfig struct {
	Input        string
	StartSeconds float64
	VideoCopy    bool
	AudioCopy    bool
	Encoder      Encoder
	AudioBitrate string
	Container    domain.Container
	ProgressFD   int // 0 disables -progress
}

func BuildArgs(cfg ArgConfig) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	if cfg.ProgressFD > 0 {
		args = append(args, "-progress", "pipe:"+strconv.Itoa(cfg.ProgressFD), "-nostats")
	}
	if cfg.StartSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(cfg.StartSeconds, 'f', 3, 64))
	}
	args = append(args,
		"-i", cfg.Input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-avoid_negative_ts", "make_zero",
	)

	if cfg.VideoCopy {
		args = append(args, "-c:v", "copy")
	} else {
		enc := cfg.Encoder
		if enc.Name == "" {
			enc = softwareEncoder("", 0)
		}
		args = append(args, "-c:v", enc.Name)
		args = append(args, enc.Flags...)
		args = append(args,
			"-pix_fmt", "yuv420p",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", hlsSegmentSeconds),
		)
	}

	if cfg.AudioCopy {
		args = append(args, "-c:a", "copy")
	} else {
		bitrate := cfg.AudioBitrate
		if bitrate == "" {
			bitrate = "128k"
		}
		args = append(args, "-c:a", "aac", "-b:a", bitrate, "-ac", "2")
	}

	if cfg.Container == domain.ContainerHLS {
		return append(args,
			"-f", "hls",
			"-hls_time", strconv.Itoa(hlsSegmentSeconds),
			"-hls_list_size", strconv.Itoa(hlsListSize),
			"-hls_flags", "delete_segments+independent_segments",
			"-hls_segment_filename", segmentPattern,
			PlaylistName,
		)
	}
	return append(args,
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"pipe:1",
	)
}
