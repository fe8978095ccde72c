package buffer

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/caffeineduck/vertigo/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// DefaultEncoding is used whenever an encoding name is omitted.
const DefaultEncoding = "utf-8"

const asciiName = "us-ascii"

var encodings = map[string]encoding.Encoding{
	"utf-8":        unicode.UTF8,
	"utf8":         unicode.UTF8,
	"utf-16":       unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	"utf16":        unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-32":       utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM),
	"utf-32be":     utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM),
	"utf-32le":     utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM),
	"iso-8859-1":   charmap.ISO8859_1,
	"iso8859-1":    charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"latin-1":      charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
}

var asciiAliases = map[string]bool{
	asciiName: true,
	"ascii":   true,
}

func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultEncoding
	}
	return name
}

func unsupported(name string) error {
	return errors.New(errors.PhaseMarshal, errors.KindUnsupported).
		Path("Buffer", "encoding").
		Value(name).
		Detail("unsupported encoding %q", name).
		Build()
}

// Supported reports whether name is a known encoding.
func Supported(name string) bool {
	n := normalize(name)
	_, ok := encodings[n]
	return ok || asciiAliases[n]
}

// Encodings lists every accepted encoding name.
func Encodings() []string {
	names := make([]string, 0, len(encodings)+len(asciiAliases))
	for n := range encodings {
		names = append(names, n)
	}
	for n := range asciiAliases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Encode converts s into bytes in the named encoding. Characters the encoding
// cannot represent are replaced.
func Encode(s, enc string) ([]byte, error) {
	n := normalize(enc)
	if asciiAliases[n] {
		out := make([]byte, 0, len(s))
		for _, r := range s {
			if r < utf8.RuneSelf {
				out = append(out, byte(r))
			} else {
				out = append(out, '?')
			}
		}
		return out, nil
	}
	e, ok := encodings[n]
	if !ok {
		return nil, unsupported(enc)
	}
	out, err := encoding.ReplaceUnsupported(e.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, fmt.Sprintf("encode %s", n))
	}
	return out, nil
}

// Decode converts bytes in the named encoding into a string. Malformed input
// decodes to U+FFFD.
func Decode(b []byte, enc string) (string, error) {
	n := normalize(enc)
	if asciiAliases[n] {
		var sb strings.Builder
		sb.Grow(len(b))
		for _, c := range b {
			if c < utf8.RuneSelf {
				sb.WriteByte(c)
			} else {
				sb.WriteRune(utf8.RuneError)
			}
		}
		return sb.String(), nil
	}
	e, ok := encodings[n]
	if !ok {
		return "", unsupported(enc)
	}
	out, err := e.NewDecoder().Bytes(b)
	if err != nil {
		return "", errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, fmt.Sprintf("decode %s", n))
	}
	return string(out), nil
}
