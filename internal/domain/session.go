package domain

type Container string

const (
	ContainerFMP4 Container = "fmp4"
	ContainerHLS  Container = "hls"
)

func ParseContainer(raw string) Container {
	if Container(raw) == ContainerHLS {
		return ContainerHLS
	}
	return ContainerFMP4
}

// TranscodeSession describes one ffmpeg run. OutputDir is only used by the
// HLS container.
type TranscodeSession struct {
	ID             string    `json:"id"`
	SourcePath     string    `json:"sourcePath"`
	VideoSupported bool      `json:"videoSupported"`
	AudioSupported bool      `json:"audioSupported"`
	SubtitlePath   string    `json:"subtitlePath,omitempty"`
	StartSeconds   float64   `json:"startSeconds"`
	Container      Container `json:"container"`
	OutputDir      string    `json:"outputDir,omitempty"`
}

// SameTarget reports whether two sessions would produce the same output.
func (s TranscodeSession) SameTarget(other TranscodeSession) bool {
	return s.SourcePath == other.SourcePath &&
		s.StartSeconds == other.StartSeconds &&
		s.Container == other.Container
}

// StreamSource is what the streaming server needs to know about the file it
// transcodes on demand.
type StreamSource struct {
	Path           string `json:"path"`
	VideoSupported bool   `json:"videoSupported"`
	AudioSupported bool   `json:"audioSupported"`
	SubtitlePath   string `json:"subtitlePath,omitempty"`
}

// Session returns the transcode session for this source starting at start
// seconds.
func (s StreamSource) Session(start float64, container Container) TranscodeSession {
	return TranscodeSession{
		SourcePath:     s.Path,
		VideoSupported: s.VideoSupported,
		AudioSupported: s.AudioSupported,
		SubtitlePath:   s.SubtitlePath,
		StartSeconds:   start,
		Container:      container,
	}
}
