package subtitle

import (
	"os"
	"path/filepath"
	"strings"
)

var siblingExtensions = []string{".srt", ".vtt", ".smi"}

// Locate looks for a subtitle next to videoPath sharing its base name.
// Extensions are tried in order, lower case first.
func Locate(videoPath string) (string, bool) {
	if strings.TrimSpace(videoPath) == "" {
		return "", false
	}
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	for _, ext := range siblingExtensions {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
			info, err := os.Stat(candidate)
			if err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}
