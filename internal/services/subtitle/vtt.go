package subtitle

import (
	"fmt"
	"strings"
)

const vttHeader = "WEBVTT\n\n"

// EnsureVTTHeader normalises line endings and prepends the WEBVTT header
// when the text does not already start with one.
func EnsureVTTHeader(content string) string {
	content = normalizeNewlines(content)
	if strings.HasPrefix(content, "WEBVTT") {
		return content
	}
	return vttHeader + content
}

// Cue is a single timed subtitle entry.
type Cue struct {
	StartMillis int64
	EndMillis   int64
	Text        string
}

// FormatTimestamp renders milliseconds as a zero-padded HH:MM:SS.mmm stamp.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := (ms % 3_600_000) / 60_000
	seconds := (ms % 60_000) / 1000
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}

func RenderVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString(vttHeader)
	for _, cue := range cues {
		b.WriteString(FormatTimestamp(cue.StartMillis))
		b.WriteString(" --> ")
		b.WriteString(FormatTimestamp(cue.EndMillis))
		b.WriteByte('\n')
		b.WriteString(cue.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}
