package dkim

import (
	"fmt"
	"strings"
)

// A tagList is the result of parsing a DKIM tag=value list, as used for both
// DKIM-Signature header fields and published key records (RFC 6376 section
// 3.2). Keys are lowercase-preserving (tag names are case sensitive per the
// RFC, but in practice always lowercase); values keep their original bytes,
// including any folding whitespace a caller asked to be preserved.
type tagList map[string]string

// parseTagList parses the tag=value grammar:
//
//	tag-list  =  tag-spec *( ";" tag-spec ) [ ";" ]
//	tag-spec  =  [FWS] tag-name [FWS] "=" [FWS] tag-value [FWS]
//	tag-name  =  ALPHA *ALNUMPUNC
//	tag-value =  [ tval *( 1*(WSP / FWS) tval ) ]
//	tval      =  1*VALCHAR
//
// Duplicate tag names and trailing garbage are hard errors. Internal FWS
// inside a value is preserved verbatim; callers that need it collapsed do so
// themselves (e.g. the relaxed header canonicalizer).
func parseTagList(s string) (tagList, error) {
	list := make(tagList)

	// A caller handing us a header field's own raw text passes its trailing
	// line terminator along with it; that terminator ends the field, not the
	// tag-list value, so it is never itself a tag-spec separator. Strip it
	// before parsing: FWS only recognizes a CRLF that folds into a following
	// WSP, so a bare trailing CRLF would otherwise be rejected as garbage.
	s = strings.TrimSuffix(s, "\r\n")
	s = strings.TrimSuffix(s, "\n")

	rest := s
	for {
		rest = skipFWS(rest)
		if rest == "" {
			break
		}

		name, rest2, err := scanTagName(rest)
		if err != nil {
			return nil, err
		}
		rest = skipFWS(rest2)

		if !strings.HasPrefix(rest, "=") {
			return nil, fmt.Errorf("dkim: malformed tag-list: expected '=' after tag name %q", name)
		}
		rest = skipFWS(rest[1:])

		value, rest3, err := scanTagValue(rest)
		if err != nil {
			return nil, err
		}
		rest = rest3

		if _, dup := list[name]; dup {
			return nil, fmt.Errorf("dkim: duplicate tag %q", name)
		}
		list[name] = value

		rest = skipFWS(rest)
		if strings.HasPrefix(rest, ";") {
			rest = rest[1:]
			continue
		}
		if rest == "" {
			break
		}
		return nil, fmt.Errorf("dkim: malformed tag-list: trailing garbage %q", rest)
	}

	return list, nil
}

func isTagNameStart(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z')
}

func isTagNameChar(ch byte) bool {
	return isTagNameStart(ch) || (ch >= '0' && ch <= '9') || ch == '_'
}

func scanTagName(s string) (name string, rest string, err error) {
	if s == "" || !isTagNameStart(s[0]) {
		return "", s, fmt.Errorf("dkim: malformed tag-list: expected a tag name")
	}
	i := 1
	for i < len(s) && isTagNameChar(s[i]) {
		i++
	}
	return s[:i], s[i:], nil
}

func isValChar(ch byte) bool {
	return (ch >= 0x21 && ch <= 0x3A) || (ch >= 0x3C && ch <= 0x7E)
}

// scanTagValue consumes runs of VALCHAR separated by FWS, stopping at the
// first ';' or end of string; FWS inside the value is kept verbatim.
func scanTagValue(s string) (value string, rest string, err error) {
	i := 0
	for i < len(s) {
		if s[i] == ';' {
			break
		}
		if isValChar(s[i]) {
			i++
			continue
		}
		fwsLen := fwsPrefixLen(s[i:])
		if fwsLen == 0 {
			break
		}
		// Only keep FWS if it's followed by more VALCHAR (trailing FWS is
		// stripped, per tag-spec = ... [FWS]).
		after := s[i+fwsLen:]
		if after == "" || after[0] == ';' {
			break
		}
		i += fwsLen
	}
	return s[:i], s[i:], nil
}

// skipFWS consumes leading folding whitespace: one or more WSP, optionally
// spanning a single CRLF.
func skipFWS(s string) string {
	for {
		n := fwsPrefixLen(s)
		if n == 0 {
			return s
		}
		s = s[n:]
	}
}

// fwsPrefixLen returns the length of a single WSP run, or of "CRLF WSP",
// at the start of s, or 0 if s doesn't start with whitespace.
func fwsPrefixLen(s string) int {
	if s == "" {
		return 0
	}
	if s[0] == ' ' || s[0] == '\t' {
		i := 1
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		return i
	}
	if strings.HasPrefix(s, "\r\n") && len(s) > 2 && (s[2] == ' ' || s[2] == '\t') {
		i := 3
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		return i
	}
	return 0
}
