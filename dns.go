package dkim

import "fmt"

// dnsState tags what is known about a single DNS name: it may be absent
// (never looked up), unresolved (raw TXT strings the caller supplied but
// this package hasn't parsed yet), a successfully parsed key, a failed
// lookup, or a permanently unusable record.
type dnsState int

const (
	dnsAbsent dnsState = iota
	dnsUnresolved
	dnsParsed
	dnsLookupFailed
	dnsPermFail
)

type dnsEntry struct {
	state  dnsState
	raw    []string
	key    *Key
	reason string
}

// DNSRecords is the caller-owned map from a DNS name
// ("<selector>._domainkey.<domain>") to whatever is known about it. The
// engine reads it during Results and memoizes parsed forms back into it
// under the same key it read; a
// DNSRecords may be shared across multiple Engines as long as the caller
// doesn't write to it concurrently.
type DNSRecords struct {
	entries map[string]*dnsEntry
}

// NewDNSRecords returns an empty DNS record map.
func NewDNSRecords() *DNSRecords {
	return &DNSRecords{entries: make(map[string]*dnsEntry)}
}

func (d *DNSRecords) entry(name string) *dnsEntry {
	if e, ok := d.entries[name]; ok {
		return e
	}
	return nil
}

// Set records one or more raw TXT strings retrieved for name, each an
// independent candidate key record (RFC 6376 allows more than one TXT RR
// at a selector name, though only one is intended to be valid). Call this
// as DNS lookups complete; the engine will parse candidates lazily, on the
// next call to Results.
func (d *DNSRecords) Set(name string, txt ...string) {
	d.entries[name] = &dnsEntry{state: dnsUnresolved, raw: txt}
}

// SetKey records an already-parsed key directly, skipping the parse step
// (useful for tests, or for callers that maintain their own key cache).
func (d *DNSRecords) SetKey(name string, key *Key) {
	d.entries[name] = &dnsEntry{state: dnsParsed, key: key}
}

// SetFailed records that the lookup for name failed (DNS error, timeout,
// SERVFAIL, etc.) — the "undef" sentinel of a failed lookup. Results
// depending on it resolve to temp-fail "dns lookup failed".
func (d *DNSRecords) SetFailed(name string) {
	d.entries[name] = &dnsEntry{state: dnsLookupFailed}
}

// resolve returns the parsed key for name, memoizing the parse on first
// use. ok is false if name is still absent (not yet looked up); err is set
// for a failed lookup or an unparseable record, distinguishing the two via
// errors.Is against errDNSLookupFailed.
func (d *DNSRecords) resolve(name string) (key *Key, ok bool, err error) {
	e := d.entry(name)
	if e == nil {
		return nil, false, nil
	}

	switch e.state {
	case dnsParsed:
		return e.key, true, nil
	case dnsLookupFailed:
		return nil, true, errDNSLookupFailed
	case dnsPermFail:
		return nil, true, fmt.Errorf("%s", e.reason)
	case dnsUnresolved:
		var lastErr error
		for _, txt := range e.raw {
			key, parseErr := parseKeyText(txt)
			if parseErr == nil {
				e.state, e.key, e.raw = dnsParsed, key, nil
				return key, true, nil
			}
			lastErr = parseErr
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("invalid or empty DKIM record")
		}
		e.state, e.reason, e.raw = dnsPermFail, lastErr.Error(), nil
		return nil, true, lastErr
	default:
		return nil, false, nil
	}
}

// errDNSLookupFailed is a sentinel returned by resolve for names marked
// failed via SetFailed.
var errDNSLookupFailed = fmt.Errorf("dns lookup failed")
