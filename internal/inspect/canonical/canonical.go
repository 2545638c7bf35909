// Package canonical normalizes untrusted input before it is scanned for
// malicious signatures, so URL-encoding or HTML-entity tricks can't hide
// a payload from the regex sweep.
package canonical

import (
	"html"
	"net/url"
	"strings"
)

const maxDecodeRounds = 3

// Normalize iteratively percent- and HTML-entity-decodes s (up to
// maxDecodeRounds times, or until a fixed point), strips null bytes, and
// lower-cases the result. Both decode steps run together in each round.
// Normalize(Normalize(s)) == Normalize(s) holds when decoding reaches a
// fixed point within maxDecodeRounds; input encoded more deeply keeps its
// remaining layers, and a second pass decodes further.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	decoded := s
	for i := 0; i < maxDecodeRounds; i++ {
		next := decoded
		if unescaped, err := url.QueryUnescape(next); err == nil {
			next = unescaped
		}
		next = html.UnescapeString(next)
		if next == decoded {
			break
		}
		decoded = next
	}

	decoded = strings.ReplaceAll(decoded, "\x00", "")
	return strings.ToLower(decoded)
}
