package dkim

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// decodeTagBase64 decodes a base64 tag value (b=, bh=), stripping any
// embedded FWS first: RFC 6376 base64 tag values may be folded across
// multiple lines.
func decodeTagBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stripWhitespace(s))
}

func encodeTagBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isQPSafe reports whether b may appear unencoded in a DKIM "dkim-quoted-
// printable" value (RFC 6376 section 2.11): printable US-ASCII, excluding
// ';' (0x3B) and '=' (0x3D); '>' (0x3E) is safe.
func isQPSafe(b byte) bool {
	return (b >= 0x21 && b <= 0x3A) || b == 0x3C || (b >= 0x3E && b <= 0x7E)
}

// encodeQP encodes a byte string using "dkim-quoted-printable" as used for
// the i= and z= tags: any byte outside 0x21..0x3A, 0x3C, 0x3E..0x7E becomes
// "=XX".
func encodeQP(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isQPSafe(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

// decodeQP decodes "dkim-quoted-printable": FWS is stripped first, then
// "=XX" escapes are resolved.
func decodeQP(s string) (string, error) {
	s = stripWhitespace(s)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("dkim: truncated quoted-printable escape")
		}
		hi, ok1 := hexDigit(s[i+1])
		lo, ok2 := hexDigit(s[i+2])
		if !ok1 || !ok2 {
			return "", fmt.Errorf("dkim: invalid quoted-printable escape %q", s[i:i+3])
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
