package subtitle

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
)

type Charset string

const (
	CharsetUTF8    Charset = "utf-8"
	CharsetUTF16LE Charset = "utf-16le"
	CharsetUTF16BE Charset = "utf-16be"
	CharsetEUCKR   Charset = "euc-kr"
)

// maxSAMIReplacements is the number of U+FFFD runes at which a UTF-8 reading
// of a SAMI file is considered mangled and EUC-KR is preferred.
const maxSAMIReplacements = 5

var (
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// Decode turns raw subtitle bytes into text. A byte order mark decides the
// encoding when present. Otherwise files that read as SAMI under EUC-KR are
// decoded as EUC-KR unless the UTF-8 reading is also SAMI and nearly clean.
func Decode(raw []byte) (string, Charset) {
	switch {
	case bytes.HasPrefix(raw, bomUTF16LE):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM), raw), CharsetUTF16LE
	case bytes.HasPrefix(raw, bomUTF16BE):
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), raw), CharsetUTF16BE
	case bytes.HasPrefix(raw, bomUTF8):
		return decodeWith(unicode.UTF8BOM, raw), CharsetUTF8
	}

	eucKR := decodeWith(korean.EUCKR, raw)
	if containsSAMIMarker(eucKR) {
		utf8Text := decodeWith(unicode.UTF8, raw)
		if containsSAMIMarker(utf8Text) && strings.Count(utf8Text, "\uFFFD") < maxSAMIReplacements {
			return utf8Text, CharsetUTF8
		}
		return eucKR, CharsetEUCKR
	}

	return decodeWith(unicode.UTF8, raw), CharsetUTF8
}

func containsSAMIMarker(text string) bool {
	return strings.Contains(strings.ToLower(text), "<sami>")
}

func decodeWith(enc encoding.Encoding, raw []byte) string {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD")
	}
	return string(out)
}
