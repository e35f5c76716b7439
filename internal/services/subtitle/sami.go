package subtitle

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	lastCueMillis = 5000
	minCueMillis  = 50
)

var (
	samiSyncRe     = regexp.MustCompile(`(?i)<sync`)
	samiStartRe    = regexp.MustCompile(`(?i)start\s*=\s*["']?(\d+)`)
	samiTrailerRe  = regexp.MustCompile(`(?is)</(?:body|sami)>.*`)
	samiBreakRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	samiTagRe      = regexp.MustCompile(`<[^>]+>`)
	samiEntityRe   = regexp.MustCompile(`(?i)&(nbsp|lt|gt|quot|amp);`)
	samiEntityText = map[string]string{
		"nbsp": " ",
		"lt":   "<",
		"gt":   ">",
		"quot": `"`,
		"amp":  "&",
	}
)

// ParseSAMI extracts cues from SAMI markup. Cues are sorted by start time;
// each ends where the next one starts (at least 50ms later) and the last one
// lasts five seconds. SYNC blocks with an unreadable start are skipped.
// Blank blocks are dropped from the result but still end the cue before them.
func ParseSAMI(content string, logger *slog.Logger) []Cue {
	if logger == nil {
		logger = slog.Default()
	}

	type rawCue struct {
		start int64
		text  string
	}

	parts := samiSyncRe.Split(content, -1)
	raw := make([]rawCue, 0, len(parts))
	for i, part := range parts {
		if i == 0 {
			continue
		}
		match := samiStartRe.FindStringSubmatch(part)
		if match == nil {
			logger.Warn("sami sync without start time", slog.Int("block", i))
			continue
		}
		start, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			logger.Warn("sami sync start unparseable",
				slog.Int("block", i),
				slog.String("start", match[1]),
				slog.String("error", err.Error()),
			)
			continue
		}
		tagEnd := strings.IndexByte(part, '>')
		if tagEnd < 0 {
			continue
		}
		raw = append(raw, rawCue{start: start, text: cleanSAMIText(part[tagEnd+1:])})
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].start < raw[j].start })

	cues := make([]Cue, 0, len(raw))
	for i, cue := range raw {
		if cue.text == "" {
			continue
		}
		next := cue.start + lastCueMillis
		if i+1 < len(raw) {
			next = raw[i+1].start
		}
		cues = append(cues, Cue{
			StartMillis: cue.start,
			EndMillis:   max(cue.start+minCueMillis, next),
			Text:        cue.text,
		})
	}
	return cues
}

func SAMIToVTT(content string, logger *slog.Logger) string {
	return RenderVTT(ParseSAMI(content, logger))
}

func cleanSAMIText(fragment string) string {
	text := samiTrailerRe.ReplaceAllString(fragment, "")
	text = samiBreakRe.ReplaceAllString(text, "\n")
	text = samiTagRe.ReplaceAllString(text, " ")
	text = samiEntityRe.ReplaceAllStringFunc(text, func(entity string) string {
		name := strings.ToLower(entity[1 : len(entity)-1])
		return samiEntityText[name]
	})

	lines := strings.Split(normalizeNewlines(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			kept = append(kept, collapsed)
		}
	}
	return strings.Join(kept, "\n")
}
