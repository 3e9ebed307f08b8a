package dkim

import (
	"sort"
	"strconv"
	"strings"
)

// sigFoldWidth is the column at which a DKIM-Signature field folds onto a
// continuation line. RFC 6376 section 3.5 only requires staying under the
// general header field-line limit; folding a tag-value on arbitrary byte
// boundaries is always grammatically legal, since any run of VALCHAR can be
// split into two tvals joined by FWS (tag-value = tval *(1*(WSP/FWS) tval)),
// and FWS is likewise permitted around the tag name and "=". After the
// 16-byte "DKIM-Signature: " prefix, this leaves 64 columns for the first
// line's tags; continuation lines are at most 80 columns.
const sigFoldWidth = 80

// sigEmitter accumulates a folded DKIM-Signature field, one tag at a time.
type sigEmitter struct {
	buf strings.Builder
	col int
}

func newSigEmitter() *sigEmitter {
	e := &sigEmitter{}
	e.buf.WriteString(headerFieldName + ":")
	e.col = len(headerFieldName + ":")
	return e
}

func (e *sigEmitter) fold() {
	e.buf.WriteString(crlf + " ")
	e.col = 1
}

// writeToken writes s, folding before the line grows past sigFoldWidth. A
// token longer than a whole line is itself split across as many
// continuations as needed.
func (e *sigEmitter) writeToken(s string) {
	for len(s) > 0 {
		if e.col >= sigFoldWidth {
			e.fold()
		}
		avail := sigFoldWidth - e.col
		if len(s) <= avail {
			e.buf.WriteString(s)
			e.col += len(s)
			return
		}
		e.buf.WriteString(s[:avail])
		e.col += avail
		s = s[avail:]
	}
}

// addTag appends one rendered "name=value;" tag, separated from whatever
// came before by a single space.
func (e *sigEmitter) addTag(rendered string) {
	e.writeToken(" ")
	e.writeToken(rendered)
}

func (e *sigEmitter) String() string {
	return e.buf.String() + crlf
}

// needsExplicitQ reports whether q= must be written out: the default,
// "dns/txt" alone, never needs to appear.
func needsExplicitQ(sig *Signature) bool {
	return !(len(sig.QueryMethods) == 0 || (len(sig.QueryMethods) == 1 && sig.QueryMethods[0] == "dns/txt"))
}

// buildSignatureLine renders the complete DKIM-Signature field text with
// the given string substituted for the b= value. Every tag before b= is a
// pure function of sig, so calling this twice — once with an empty string
// to get the text that gets hashed, once with the real base64 signature —
// produces byte-identical text up to the start of b=, which is exactly what
// RFC 6376 section 3.5 requires ("treat the value of the 'b=' tag... as
// though it were an empty string").
func buildSignatureLine(sig *Signature, bValue string) string {
	e := newSigEmitter()

	e.addTag("v=" + sig.Version + ";")
	e.addTag("a=" + sig.algoString() + ";")
	e.addTag("c=" + sig.canonString() + ";")
	e.addTag("d=" + sig.Domain + ";")
	if needsExplicitQ(sig) {
		e.addTag("q=" + strings.Join(sig.QueryMethods, ":") + ";")
	}
	e.addTag("s=" + sig.Selector + ";")
	if sig.Time != nil {
		e.addTag("t=" + strconv.FormatInt(*sig.Time, 10) + ";")
	}
	if sig.Expiration != nil {
		e.addTag("x=" + strconv.FormatInt(*sig.Expiration, 10) + ";")
	}
	e.addTag("h=" + strings.Join(sig.HeaderKeys, ":") + ";")
	if sig.BodyLength != nil {
		e.addTag("l=" + strconv.FormatInt(*sig.BodyLength, 10) + ";")
	}
	if sig.Identity != "" && sig.Identity != "@"+sig.Domain {
		e.addTag("i=" + encodeQP(sig.Identity) + ";")
	}
	if sig.CopiedHeaders != "" {
		e.addTag("z=" + sig.CopiedHeaders + ";")
	}

	others := make([]string, 0, len(sig.Other))
	for k := range sig.Other {
		others = append(others, k)
	}
	sort.Strings(others)
	for _, k := range others {
		e.addTag(k + "=" + sig.Other[k] + ";")
	}

	e.addTag("bh=" + encodeTagBase64(sig.BodyHash) + ";")
	// Start b= on a fresh line unless " b=;" fits whole, so a fold never
	// lands inside "b=" or between it and its value: the empty-b= text then
	// equals the final text with its b= value removed.
	if e.col+len(" b=;") > sigFoldWidth {
		e.fold()
	}
	e.addTag("b=" + bValue + ";")

	return e.String()
}

// candidateHeaderField returns the raw field text with b= empty, the form
// that gets canonicalized and hashed while computing the signature itself.
func (sig *Signature) candidateHeaderField() string {
	return buildSignatureLine(sig, "")
}

// signedHeaderField returns the final field text once Sig has been filled
// in by a successful signing operation.
func (sig *Signature) signedHeaderField() string {
	return buildSignatureLine(sig, encodeTagBase64(sig.Sig))
}

// signSignatureHeader signs headerHash with sig.Signer, stores the result
// in sig.Sig, and returns the final field text ready to prepend to a
// message.
func signSignatureHeader(sig *Signature, headerHash []byte) (string, error) {
	sigBytes, err := signRSA(sig.Signer, sig.HashAlgo.cryptoHash(), headerHash)
	if err != nil {
		return "", err
	}
	sig.Sig = sigBytes
	return sig.signedHeaderField(), nil
}
