package rcon

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// decodeBody turns a reassembled response into text. Game server logs carry
// non-UTF-8 noise, so each invalid byte becomes U+FFFD instead of failing.
func decodeBody(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		// The UTF-8 decoder replaces rather than rejects; this is unreachable in practice.
		return string(b)
	}
	return string(out)
}
