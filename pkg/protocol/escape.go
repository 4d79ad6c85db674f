package protocol

import (
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Quote returns s as a double-quoted JSON string literal safe for every
// transport envelope. Beyond the mandatory quote and backslash escapes, it
// escapes U+0000-U+001F, U+007F-U+009F, U+2028 and U+2029 as \uXXXX: those
// characters are legal inside ordinary JSON but break line-oriented polling
// transports or are unsafe inside <script> contexts. All other characters
// pass through as UTF-8.
func Quote(s string) []byte {
	return AppendQuote(make([]byte, 0, len(s)+2), s)
}

// AppendQuote appends the quoted form of s to dst and returns the result.
func AppendQuote(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, r := range s {
		switch {
		case r == '"':
			dst = append(dst, '\\', '"')
		case r == '\\':
			dst = append(dst, '\\', '\\')
		case escapable(r):
			dst = append(dst, '\\', 'u',
				hexDigits[r>>12&0xf],
				hexDigits[r>>8&0xf],
				hexDigits[r>>4&0xf],
				hexDigits[r&0xf])
		default:
			dst = utf8.AppendRune(dst, r)
		}
	}
	return append(dst, '"')
}

// escapable reports whether r must be emitted as a \uXXXX escape. Every such
// rune fits in a single 4-digit escape.
func escapable(r rune) bool {
	if r < 0x20 {
		return true
	}
	if r >= 0x7f && r <= 0x9f {
		return true
	}
	return r == '\u2028' || r == '\u2029'
}
