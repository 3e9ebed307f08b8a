package dkim

import (
	"crypto"
	"fmt"
	"strconv"
	"strings"
)

// Signature is a single DKIM-Signature record, whether discovered in an
// incoming message (for verification) or built from a sign template (for
// signing). Unrecognized tags are kept in Other so round-tripping an
// unmodified record preserves them; the RFC-defined fields below are the
// ones the engine inspects.
type Signature struct {
	Version     string
	KeyAlgo     string // always "rsa" in this package
	HashAlgo    HashAlgorithm
	HeaderCanon Canonicalization
	BodyCanon   Canonicalization
	Domain      string // d=
	Selector    string // s=
	HeaderKeys  []string
	Identity    string // i=, decoded
	BodyLength  *int64 // l=, nil means unlimited
	Time        *int64 // t=
	Expiration  *int64 // x=
	QueryMethods []string // q=, default ["dns/txt"]
	CopiedHeaders string // z=, raw, never interpreted
	Sig         []byte // b=, decoded (empty for a not-yet-signed template)
	BodyHash    []byte // bh=, decoded (empty for a not-yet-signed template)
	Other       map[string]string

	// Signer is set only on sign-only or sign_and_verify templates; it is
	// the private key used to produce b=, and is never serialized as a
	// tag. It corresponds to the ":key" side-channel field of a
	// sign-template.
	Signer crypto.Signer

	// raw is the original "DKIM-Signature: ..." field text, set only for
	// signatures discovered while parsing a message header. It's used to
	// find and exclude this exact occurrence when computing other
	// signatures' header hashes, and to build this signature's own header
	// hash with b= erased.
	raw string

	// parseErr records why parsing failed, for discovered signatures that
	// could not be turned into a usable Signature (invalid-header, per
	// RFC 6376 section 3.5); such slots still occupy a position in the
	// result list.
	parseErr error
}

func (s *Signature) algoString() string {
	return s.KeyAlgo + "-" + string(s.HashAlgo)
}

func (s *Signature) canonString() string {
	return string(s.HeaderCanon) + "/" + string(s.BodyCanon)
}

// identityDomain returns the domain portion of i= (everything after the
// last "@").
func (s *Signature) identityDomain() string {
	at := strings.LastIndexByte(s.Identity, '@')
	if at < 0 {
		return s.Identity
	}
	return s.Identity[at+1:]
}

// parseSignature interprets a parsed DKIM-Signature tag list as a
// verification candidate, per RFC 6376 section 3.5. On any invariant
// violation it returns an error; the caller turns that into an
// invalid-header result but keeps the signature's slot.
func parseSignature(tags tagList) (*Signature, error) {
	for _, tag := range []string{"v", "d", "s", "h", "b", "bh"} {
		if _, ok := tags[tag]; !ok {
			return nil, fmt.Errorf("dkim: missing required tag %q", tag)
		}
	}

	sig := &Signature{Other: make(map[string]string)}

	if stripWhitespace(tags["v"]) != "1" {
		return nil, fmt.Errorf("dkim: unsupported version %q", tags["v"])
	}
	sig.Version = "1"

	algo := tags["a"]
	if algo == "" {
		algo = "rsa-sha256"
	}
	keyAlgo, hashAlgo, ok := strings.Cut(stripWhitespace(algo), "-")
	if !ok || keyAlgo != "rsa" || !HashAlgorithm(hashAlgo).valid() {
		return nil, fmt.Errorf("dkim: unsupported algorithm %q", algo)
	}
	sig.KeyAlgo = keyAlgo
	sig.HashAlgo = HashAlgorithm(hashAlgo)

	headerCan, bodyCan, err := parseCanonicalization(tags["c"])
	if err != nil {
		return nil, err
	}
	sig.HeaderCanon, sig.BodyCanon = headerCan, bodyCan

	sig.Domain = stripWhitespace(tags["d"])
	if sig.Domain == "" {
		return nil, fmt.Errorf("dkim: empty domain")
	}
	sig.Selector = stripWhitespace(tags["s"])
	if sig.Selector == "" {
		return nil, fmt.Errorf("dkim: empty selector")
	}

	sig.HeaderKeys = normalizeHeaderKeys(tags["h"])
	hasFrom := false
	for _, k := range sig.HeaderKeys {
		if k == "from" {
			hasFrom = true
		}
	}
	if !hasFrom {
		return nil, fmt.Errorf("dkim: From header field not signed")
	}

	if i, ok := tags["i"]; ok {
		identity, err := decodeQP(i)
		if err != nil {
			return nil, fmt.Errorf("dkim: malformed identity: %v", err)
		}
		sig.Identity = identity
	} else {
		sig.Identity = "@" + sig.Domain
	}
	idDomain := sig.identityDomain()
	if idDomain != sig.Domain && !strings.HasSuffix(idDomain, "."+sig.Domain) {
		return nil, fmt.Errorf("dkim: identity domain %q is not %q or a subdomain of it", idDomain, sig.Domain)
	}

	if l, ok := tags["l"]; ok {
		n, err := parseDigits(stripWhitespace(l), 1, 76)
		if err != nil {
			return nil, fmt.Errorf("dkim: malformed body length: %v", err)
		}
		sig.BodyLength = &n
	}

	if t, ok := tags["t"]; ok {
		n, err := parseDigits(stripWhitespace(t), 1, 12)
		if err != nil {
			return nil, fmt.Errorf("dkim: malformed signature timestamp: %v", err)
		}
		sig.Time = &n
	}
	if x, ok := tags["x"]; ok {
		n, err := parseDigits(stripWhitespace(x), 1, 12)
		if err != nil {
			return nil, fmt.Errorf("dkim: malformed expiration: %v", err)
		}
		if sig.Time != nil && n < *sig.Time {
			return nil, fmt.Errorf("dkim: expiration %d precedes signature timestamp %d", n, *sig.Time)
		}
		sig.Expiration = &n
	}

	if q, ok := tags["q"]; ok {
		methods := splitColonList(q)
		for _, m := range methods {
			if m != "dns/txt" {
				return nil, fmt.Errorf("dkim: unsupported query method %q", m)
			}
		}
		sig.QueryMethods = methods
	} else {
		sig.QueryMethods = []string{"dns/txt"}
	}

	sig.CopiedHeaders = tags["z"]

	bh, err := decodeTagBase64(tags["bh"])
	if err != nil {
		return nil, fmt.Errorf("dkim: malformed body hash: %v", err)
	}
	sig.BodyHash = bh

	b, err := decodeTagBase64(tags["b"])
	if err != nil {
		return nil, fmt.Errorf("dkim: malformed signature: %v", err)
	}
	sig.Sig = b

	for k, v := range tags {
		switch k {
		case "v", "a", "c", "d", "s", "h", "i", "l", "t", "x", "q", "z", "bh", "b":
		default:
			sig.Other[k] = v
		}
	}

	return sig, nil
}

// parseCanonicalization parses the c= tag, defaulting either half to
// "simple" (RFC 6376 section 3.5: "c=relaxed" and "c=simple" are both
// shorthand for ".../simple").
func parseCanonicalization(s string) (header, body Canonicalization, err error) {
	header, body = CanonicalizationSimple, CanonicalizationSimple
	if s == "" {
		return header, body, nil
	}

	parts := strings.SplitN(stripWhitespace(s), "/", 2)
	if parts[0] != "" {
		header = Canonicalization(parts[0])
	}
	if len(parts) > 1 && parts[1] != "" {
		body = Canonicalization(parts[1])
	}

	if !validCanonicalization(header) {
		return "", "", fmt.Errorf("dkim: unsupported header canonicalization %q", header)
	}
	if !validCanonicalization(body) {
		return "", "", fmt.Errorf("dkim: unsupported body canonicalization %q", body)
	}
	return header, body, nil
}

// normalizeHeaderKeys lowercases a colon-separated h= list. Repeats are kept
// and kept in order: RFC 6376 section 5.4.2 lets a signer name a field more
// than once to sign more than one occurrence of it.
func normalizeHeaderKeys(s string) []string {
	var out []string
	for _, k := range splitColonList(s) {
		out = append(out, strings.ToLower(k))
	}
	return out
}

func splitColonList(s string) []string {
	parts := strings.Split(s, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = stripWhitespace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseDigits(s string, minLen, maxLen int) (int64, error) {
	if s == "" || len(s) > maxLen {
		return 0, fmt.Errorf("expected 1-%d digits, got %q", maxLen, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("non-digit in %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// removeSignatureValue erases the content of the b= tag from a raw
// DKIM-Signature field, keeping "b=" itself, per RFC 6376 section 3.7. It
// operates on unparsed field text so it can be applied before or after
// canonicalization.
func removeSignatureValue(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))

	rest := raw
	for {
		idx := strings.Index(rest, "b=")
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		// Make sure this "b=" starts a tag (preceded by ';', FWS, or the
		// start of the value) rather than matching inside another tag's
		// value or name (e.g. "bh=").
		if idx > 0 && !isTagBoundary(rest[idx-1]) {
			b.WriteString(rest[:idx+2])
			rest = rest[idx+2:]
			continue
		}
		b.WriteString(rest[:idx+2])
		rest = rest[idx+2:]
		end := strings.IndexByte(rest, ';')
		switch {
		case end >= 0:
			rest = rest[end:]
		case strings.HasSuffix(rest, crlf):
			// No further tag: the value runs to just before the field's own
			// line terminator, which isn't part of the tag-value.
			rest = rest[len(rest)-len(crlf):]
		default:
			rest = ""
		}
	}
	return b.String()
}

func isTagBoundary(ch byte) bool {
	return ch == ';' || ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n'
}
