package dkim

import (
	"strings"
)

const crlf = "\r\n"

const headerFieldName = "DKIM-Signature"

var headerFieldNameLower = strings.ToLower(headerFieldName)

// header is the ordered list of header fields found in a message, each
// entry holding the field's raw bytes (name, colon, value, and any folded
// continuation lines) terminated by a single CRLF.
type header []string

// splitHeader scans buf for the header/body boundary (a blank line,
// tolerating a bare LF) and, if found, returns the parsed header fields and
// the index into buf where the body begins. ok is false if no blank line
// has been seen yet, meaning the caller must buffer more bytes.
func splitHeader(buf []byte) (h header, bodyStart int, ok bool) {
	s := string(buf)

	boundary, blankLen := findHeaderBoundary(s)
	if boundary < 0 {
		return nil, 0, false
	}

	raw := normalizeBareLF(s[:boundary])
	if raw != "" {
		for _, line := range strings.SplitAfter(raw, crlf) {
			if line == "" {
				continue
			}
			if len(h) > 0 && (line[0] == ' ' || line[0] == '\t') {
				h[len(h)-1] += line
			} else {
				h = append(h, line)
			}
		}
	}

	return h, boundary + blankLen, true
}

// findHeaderBoundary returns the byte offset where the header's own text
// ends (the start of the blank-line marker) and the length of that marker,
// scanning for two line terminators with nothing between them ("\r\n\r\n",
// "\n\n", or a mix of the two, tolerating bare LF).
// Returns offset -1 if no blank line has been seen yet.
func findHeaderBoundary(s string) (offset int, markerLen int) {
	prevEnd := -1
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' {
			continue
		}
		start, length := i, 1
		if i > 0 && s[i-1] == '\r' {
			start, length = i-1, 2
		}
		end := start + length
		if prevEnd == start {
			return prevEnd, end - start
		}
		prevEnd = end
	}
	return -1, 0
}

// fieldName returns the field name of a raw "Name: value..." header field,
// with surrounding whitespace trimmed from the name (so "Name :" matches
// "Name"). It does not alter the raw field text that simple
// canonicalization hashes.
func fieldName(raw string) string {
	i := strings.IndexByte(raw, ':')
	if i < 0 {
		return raw
	}
	return strings.TrimSpace(raw[:i])
}

// headerPicker selects header field occurrences by name, in the bottom-up
// order RFC 6376 section 5.4.2 requires: the last occurrence of a name is
// used for the first entry of that name in "h=", the second-to-last for a
// repeated entry, and so on. Fields with no further occurrence contribute
// nothing (per RFC 6376, "nonexistent header fields do not contribute").
//
// self, when non-empty, is the byte-identical text of the DKIM-Signature
// field being built: per RFC 6376 section 5.4.2, when "h=" names
// "dkim-signature" (signing over an earlier signature), the occurrence that
// is the signature itself is skipped rather than picked.
type headerPicker struct {
	h      header
	self   string
	picked map[string]int
}

func newHeaderPicker(h header, self string) *headerPicker {
	return &headerPicker{h: h, self: self, picked: make(map[string]int)}
}

// Pick returns the next not-yet-picked occurrence of name from the bottom
// of the header, or "" if there is none left.
func (p *headerPicker) Pick(name string) (raw string, ok bool) {
	lower := strings.ToLower(name)
	skip := p.picked[lower]

	for i := len(p.h) - 1; i >= 0; i-- {
		if !strings.EqualFold(fieldName(p.h[i]), lower) {
			continue
		}
		if lower == headerFieldNameLower && p.self != "" && p.h[i] == p.self {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		p.picked[lower]++
		return p.h[i], true
	}
	return "", false
}
