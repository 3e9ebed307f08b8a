package dkim

import "fmt"

// Status is a per-signature outcome, per RFC 6376 section 3.9
// ("Interpretation"). The numeric values
// match the RFC-recommended ordering from worst to best; StatusUndefined
// has no RFC-defined number since it isn't a final outcome — it marks a
// result still waiting on a DNS lookup.
type Status int

const (
	StatusInvalidHeader Status = -3
	StatusSoftFail      Status = -2
	StatusTempFail      Status = -1
	StatusPermFail      Status = 0
	StatusValid         Status = 1
	StatusUndefined     Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusInvalidHeader:
		return "invalid-header"
	case StatusSoftFail:
		return "soft-fail"
	case StatusTempFail:
		return "temp-fail"
	case StatusPermFail:
		return "perm-fail"
	case StatusValid:
		return "valid"
	case StatusUndefined:
		return "undefined"
	default:
		return "unknown"
	}
}

// Result is the outcome of checking, or attempting to sign, one
// DKIM-Signature. Results are positionally aligned with the
// DKIM-Signature fields found in the message header, in order, followed by
// any sign templates, in the order they were given.
type Result struct {
	// Signature is nil only for a result slot that failed before any tag
	// list could be parsed at all (never happens in practice, since even a
	// malformed field still carries a *Signature with parseErr set).
	Signature *Signature

	// DNSName is the "<selector>._domainkey.<domain>" name this result
	// depends on. It is set for every verify result whose signature
	// parsed, even after resolution, so a caller can tell which lookup
	// answered it; it is empty for an invalid-header result.
	DNSName string

	Status Status
	Error  string

	// SignedHeader holds the complete "DKIM-Signature: ...\r\n" field text
	// for a successful sign-result; empty otherwise.
	SignedHeader string
}

// pending reports whether this result is still waiting on a DNS lookup or
// on the message body finishing.
func (r *Result) pending() bool {
	return r.Status == StatusUndefined
}

// AllResolved reports whether every result in results is final. A caller
// driving Engine's NeedDNS loop can use this to decide whether another
// round of lookups is needed.
func AllResolved(results []Result) bool {
	for i := range results {
		if results[i].pending() {
			return false
		}
	}
	return true
}

// computeHeaderHash hashes the picked, already-canonicalized header text
// together with this signature's own field (with b= treated as empty, per
// RFC 6376 section 3.7), using sig's hash algorithm.
func computeHeaderHash(sig *Signature, pickedHeadersText, ownFieldRaw string) []byte {
	h := newHasher(sig.HashAlgo)
	h.Write([]byte(pickedHeadersText))
	h.Write([]byte(canonicalizeSignatureField(sig.HeaderCanon, ownFieldRaw)))
	return h.Sum(nil)
}

// verifyAgainstKey runs the verification substeps of RFC 6376 section 6.1.3
// against a resolved key, given the already-computed body and header
// hashes for this signature.
func verifyAgainstKey(sig *Signature, key *Key, computedBodyHash, computedHeaderHash []byte) (Status, string) {
	fail := func(reason string) (Status, string) {
		if key.testing() {
			return StatusSoftFail, reason
		}
		return StatusPermFail, reason
	}

	if key.Revoked {
		return fail("key revoked")
	}
	if !key.allowsHash(sig.HashAlgo) {
		return fail("hash algorithm not allowed")
	}
	if key.strict() && sig.identityDomain() != sig.Domain {
		return fail("identity does not match domain")
	}
	if !bytesEqual(computedBodyHash, sig.BodyHash) {
		return fail("body hash mismatch")
	}
	if err := verifyRSA(key.PublicKey, sig.HashAlgo.cryptoHash(), computedHeaderHash, sig.Sig); err != nil {
		return fail(fmt.Sprintf("header sig mismatch: %v", err))
	}
	return StatusValid, ""
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
