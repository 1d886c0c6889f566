package bintype

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// lookupEncoding resolves an &encoding name. A nil encoding with a nil error
// means the bytes are used as-is (ASCII, UTF-8).
func lookupEncoding(name string) (encoding.Encoding, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "_", "-")) {
	case "", "UTF-8", "UTF8", "ASCII", "US-ASCII":
		return nil, nil
	case "UTF-16LE":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), nil
	case "UTF-16BE":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case "UTF-32LE":
		return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), nil
	case "UTF-32BE":
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), nil
	case "CP437", "IBM437":
		return charmap.CodePage437, nil
	case "ISO-8859-1", "LATIN1":
		return charmap.ISO8859_1, nil
	case "SHIFT-JIS", "SJIS":
		return japanese.ShiftJIS, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding: %s", name)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %s has no implementation", name)
	}
	return enc, nil
}

func isASCII(name string) bool {
	switch strings.ToUpper(name) {
	case "ASCII", "US-ASCII":
		return true
	}
	return false
}

// decodeText converts raw string bytes to text. With trim set, trailing NULs
// are padding of a fixed-length field and are not part of the text.
func decodeText(data []byte, encodingName string, trim bool) (string, error) {
	if isASCII(encodingName) {
		for _, b := range data {
			if b > 127 {
				return "", fmt.Errorf("invalid ASCII character: %d", b)
			}
		}
	}
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return "", err
	}
	text := string(data)
	if enc != nil {
		if text, err = enc.NewDecoder().String(text); err != nil {
			return "", err
		}
	}
	if trim {
		text = strings.TrimRight(text, "\x00")
	}
	return text, nil
}

// encodeText converts text to raw string bytes.
func encodeText(text, encodingName string) ([]byte, error) {
	if isASCII(encodingName) {
		for _, r := range text {
			if r > 127 {
				return nil, fmt.Errorf("non-ASCII character in string")
			}
		}
	}
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(text), nil
	}
	return enc.NewEncoder().Bytes([]byte(text))
}
