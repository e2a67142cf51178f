// Package phone canonicalizes phone numbers so caller IDs from the
// telephony provider can be compared against the allow-list.
package phone

import "strings"

// Normalize strips every non-digit from raw. A single leading "+" is kept
// when the trimmed input started with one. Blank input yields "".
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	if raw[0] == '+' {
		b.WriteByte('+')
		raw = raw[1:]
	}
	for i := 0; i < len(raw); i++ {
		if c := raw[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}

	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
