// Package authres formats Authentication-Results header field values, as
// specified in RFC 8601. It is a trimmed companion to the dkim package: the
// dkim engine never reads or writes this header itself, but the command-line
// callers in cmd/ use it to report verification outcomes the way a real MTA
// would.
package authres

import (
	"sort"
	"strings"
	"unicode"
)

// ResultValue is an authentication result value, as defined in RFC 8601
// section 2.2.2.
type ResultValue string

const (
	ResultNone      ResultValue = "none"
	ResultPass      ResultValue = "pass"
	ResultFail      ResultValue = "fail"
	ResultPolicy    ResultValue = "policy"
	ResultNeutral   ResultValue = "neutral"
	ResultTempError ResultValue = "temperror"
	ResultPermError ResultValue = "permerror"
)

// Result is a single method's authentication result.
type Result interface {
	method() string
	format() (value ResultValue, params map[string]string)
}

// DKIMResult is the result of a single DKIM signature check, as reported by
// the dkim package's verification state machine.
type DKIMResult struct {
	Value      ResultValue
	Reason     string
	Domain     string // header.d
	Identifier string // header.i
	Selector   string // header.s
}

func (r *DKIMResult) method() string { return "dkim" }

func (r *DKIMResult) format() (ResultValue, map[string]string) {
	params := make(map[string]string)
	if r.Reason != "" {
		params["reason"] = r.Reason
	}
	if r.Domain != "" {
		params["header.d"] = r.Domain
	}
	if r.Identifier != "" {
		params["header.i"] = r.Identifier
	}
	if r.Selector != "" {
		params["header.s"] = r.Selector
	}
	return r.Value, params
}

// GenericResult is a result for a method this package doesn't model
// explicitly; it is kept so a caller can report non-DKIM methods (e.g.
// "spf") alongside DKIM results in the same header field.
type GenericResult struct {
	Method string
	Value  ResultValue
	Params map[string]string
}

func (r *GenericResult) method() string { return r.Method }

func (r *GenericResult) format() (ResultValue, map[string]string) {
	return r.Value, r.Params
}

// Format formats an Authentication-Results header field value for the given
// authentication service identifier and results.
func Format(identity string, results []Result) string {
	s := identity

	if len(results) == 0 {
		return s + "; none"
	}

	for _, r := range results {
		value, params := r.format()
		s += "; " + r.method() + "=" + string(value)
		if p := formatParams(params); p != "" {
			s += " " + p
		}
	}

	return s
}

func formatParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "reason" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if params["reason"] != "" {
		keys = append([]string{"reason"}, keys...)
	}

	var parts []string
	for _, k := range keys {
		if params[k] == "" {
			continue
		}
		var value string
		if k == "reason" {
			value = formatValue(params[k])
		} else {
			value = formatPvalue(params[k])
		}
		parts = append(parts, k+"="+value)
	}
	return strings.Join(parts, " ")
}

var tspecials = map[rune]struct{}{
	'(': {}, ')': {}, '<': {}, '>': {}, '@': {},
	',': {}, ';': {}, ':': {}, '\\': {}, '"': {},
	'/': {}, '[': {}, ']': {}, '?': {}, '=': {},
}

func formatValue(s string) string {
	shouldQuote := false
	for _, ch := range s {
		if _, special := tspecials[ch]; ch <= ' ' || special {
			shouldQuote = true
		}
	}
	if shouldQuote {
		return `"` + strings.Replace(s, `"`, `\"`, -1) + `"`
	}
	return s
}

var addressOk = map[rune]struct{}{
	'#': {}, '$': {}, '%': {}, '&': {},
	'\'': {}, '*': {}, '+': {}, ',': {},
	'.': {}, '/': {}, '-': {}, '@': {},
	'[': {}, ']': {}, '\\': {}, '^': {},
	'_': {}, '`': {}, '{': {}, '|': {},
	'}': {}, '~': {},
}

// formatPvalue formats a pvalue, preferring the unquoted form used for
// address-like values (e.g. domain names) per RFC 8601 section 2.3.
func formatPvalue(s string) string {
	addressLike := true
	for _, ch := range s {
		if _, ok := addressOk[ch]; !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && !ok {
			addressLike = false
			break
		}
	}
	if addressLike {
		return s
	}
	return formatValue(s)
}
