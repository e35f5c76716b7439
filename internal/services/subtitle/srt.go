package subtitle

import (
	"regexp"
	"strings"
)

var srtTimestampRe = regexp.MustCompile(`(\d{2}:\d{2}:\d{2}),(\d{3})`)

// SRTToVTT rewrites SRT timestamps to the dotted VTT form and prepends the
// WEBVTT header. Cue numbers are left in place; VTT treats them as cue ids.
func SRTToVTT(content string) string {
	content = normalizeNewlines(content)
	return vttHeader + srtTimestampRe.ReplaceAllString(content, "$1.$2")
}

func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}
