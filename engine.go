package dkim

import (
	"io"
	"strings"
	"time"
)

// now is overridden in tests that need a fixed clock.
var now = time.Now

// Mode selects what an Engine does with a message: check the
// DKIM-Signature fields already present, produce new ones from templates,
// or both at once.
type Mode int

const (
	ModeVerify Mode = iota
	ModeSign
	ModeSignAndVerify
)

// Outcome tells the caller what an Engine needs before it can make more
// progress. The engine never performs I/O itself: NeedBytes means feed it
// more of the message, NeedDNS means resolve the names from
// PendingDNSNames and record them in its DNSRecords, and Done means
// Results is final.
type Outcome int

const (
	NeedBytes Outcome = iota
	NeedDNS
	Done
)

// Options configures a new Engine.
type Options struct {
	// DNS is the record map the engine reads published keys from and
	// memoizes parsed ones into. A nil DNS starts empty.
	DNS *DNSRecords

	Mode Mode

	// SignTemplates are the signatures to produce when Mode is ModeSign or
	// ModeSignAndVerify, each with Signer set. A template left with Time
	// nil is stamped with the current time when the header is seen, unless
	// its Expiration already lies before that time, in which case t= is
	// omitted.
	SignTemplates []*Signature
}

// Engine is a fully iterative DKIM signing and verification state machine.
// The caller owns all I/O: it pushes message bytes in with Append, tells
// the engine when the message ends with Finish, and supplies DNS lookup
// results through the Engine's DNSRecords. The engine never blocks and
// never performs a lookup on its own.
type Engine struct {
	mode          Mode
	dns           *DNSRecords
	signTemplates []*Signature

	headerBuf  []byte
	headerDone bool
	h          header

	pipelines []*sigPipeline

	finished bool
}

type sigPipeline struct {
	sig     *Signature
	isSign  bool
	dnsName string // verify pipelines only

	pickedHeadersText string
	headerHash        []byte

	bodyHasher        hasherWriter
	limited           *limitedWriter
	bodyCanon         *bodyCanonicalizer
	computedBodyHash  []byte // verify pipelines only; sign pipelines store into sig.BodyHash

	signResult *Result // cached once Finish computes a sign pipeline's outcome
}

// hasherWriter is the subset of hash.Hash the engine needs; named here so
// initBodyPipeline doesn't have to import "hash" just for a type name.
type hasherWriter interface {
	io.Writer
	Sum(b []byte) []byte
}

// NewEngine constructs an Engine ready to receive message bytes.
func NewEngine(opts Options) *Engine {
	dns := opts.DNS
	if dns == nil {
		dns = NewDNSRecords()
	}
	return &Engine{mode: opts.Mode, dns: dns, signTemplates: opts.SignTemplates}
}

// DNS returns the engine's record map, for a caller that wants to inspect
// or pre-populate it directly instead of only reacting to NeedDNS.
func (e *Engine) DNS() *DNSRecords {
	return e.dns
}

// Append feeds the next chunk of the message (header and/or body bytes, in
// any chunking the caller finds convenient) into the engine.
func (e *Engine) Append(b []byte) Outcome {
	if !e.headerDone {
		e.headerBuf = append(e.headerBuf, b...)
		h, bodyStart, ok := splitHeader(e.headerBuf)
		if !ok {
			return NeedBytes
		}
		remainder := append([]byte(nil), e.headerBuf[bodyStart:]...)
		e.headerBuf = nil
		e.onHeaderComplete(h)
		if len(remainder) > 0 {
			e.writeBody(remainder)
		}
		return e.checkOutcome()
	}

	e.writeBody(b)
	return e.checkOutcome()
}

// Finish tells the engine no more bytes are coming. It is safe to call
// more than once.
func (e *Engine) Finish() Outcome {
	if !e.headerDone {
		// No blank line was ever seen: treat everything buffered so far as
		// header text with an absent (empty) body.
		buf := append(e.headerBuf, []byte(crlf+crlf)...)
		h, _, ok := splitHeader(buf)
		if !ok {
			h = nil
		}
		e.headerBuf = nil
		e.onHeaderComplete(h)
	}

	if !e.finished {
		for _, p := range e.pipelines {
			p.bodyCanon.Close()
			sum := p.bodyHasher.Sum(nil)
			if p.isSign {
				p.sig.BodyHash = sum
				p.headerHash = computeHeaderHash(p.sig, p.pickedHeadersText, p.sig.candidateHeaderField())
			} else {
				p.computedBodyHash = sum
			}
		}
		e.finished = true

		for _, p := range e.pipelines {
			if !p.isSign {
				continue
			}
			field, err := signSignatureHeader(p.sig, p.headerHash)
			if err != nil {
				p.signResult = &Result{Signature: p.sig, Status: StatusPermFail, Error: err.Error()}
				continue
			}
			p.signResult = &Result{Signature: p.sig, Status: StatusValid, SignedHeader: field}
		}
	}

	return e.checkOutcome()
}

// Recheck re-evaluates the engine's outcome without feeding it new bytes,
// for use after a round of DNS lookups has been recorded into DNS().
func (e *Engine) Recheck() Outcome {
	return e.checkOutcome()
}

// PendingDNSNames returns the "<selector>._domainkey.<domain>" names of
// every verify pipeline that has no DNS entry at all yet (never looked up),
// in header order, without duplicates.
func (e *Engine) PendingDNSNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, p := range e.pipelines {
		if p.isSign || p.dnsName == "" || seen[p.dnsName] {
			continue
		}
		if e.dns.entry(p.dnsName) == nil {
			names = append(names, p.dnsName)
			seen[p.dnsName] = true
		}
	}
	return names
}

// Results returns one Result per pipeline, in the order the corresponding
// DKIM-Signature fields were found in the message followed by the sign
// templates in the order they were given. It can be called at any point;
// results not yet determinable report StatusUndefined.
func (e *Engine) Results() []Result {
	out := make([]Result, len(e.pipelines))
	for i, p := range e.pipelines {
		out[i] = e.resultFor(p)
	}
	return out
}

func (e *Engine) resultFor(p *sigPipeline) Result {
	if p.isSign {
		if p.signResult != nil {
			return *p.signResult
		}
		return Result{Signature: p.sig, Status: StatusUndefined, Error: "message body not yet complete"}
	}

	if p.sig.parseErr != nil {
		return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusInvalidHeader, Error: p.sig.parseErr.Error()}
	}
	if p.sig.Expiration != nil && *p.sig.Expiration < now().Unix() {
		return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusSoftFail, Error: "signature expired"}
	}
	if !e.finished {
		return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusUndefined, Error: "message body not yet complete"}
	}

	key, ok, err := e.dns.resolve(p.dnsName)
	if !ok {
		return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusUndefined}
	}
	if err != nil {
		if err == errDNSLookupFailed {
			return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusTempFail, Error: err.Error()}
		}
		return Result{Signature: p.sig, DNSName: p.dnsName, Status: StatusPermFail, Error: err.Error()}
	}

	status, reason := verifyAgainstKey(p.sig, key, p.computedBodyHash, p.headerHash)
	return Result{Signature: p.sig, DNSName: p.dnsName, Status: status, Error: reason}
}

func (e *Engine) checkOutcome() Outcome {
	if !e.headerDone || !e.finished {
		return NeedBytes
	}
	if len(e.PendingDNSNames()) > 0 {
		return NeedDNS
	}
	return Done
}

func (e *Engine) onHeaderComplete(h header) {
	e.h = h
	e.headerDone = true

	if e.mode != ModeSign {
		e.discoverVerifyPipelines()
	}
	if e.mode != ModeVerify {
		e.addSignPipelines()
	}

	for _, p := range e.pipelines {
		e.initPickedHeaders(p)
		e.initBodyPipeline(p)
	}
	e.computeVerifyHeaderHashes()
}

func (e *Engine) discoverVerifyPipelines() {
	for _, raw := range e.h {
		if !strings.EqualFold(fieldName(raw), headerFieldName) {
			continue
		}
		sig := parseSignatureField(raw)
		dnsName := ""
		if sig.parseErr == nil {
			dnsName = sig.Selector + "._domainkey." + sig.Domain
		}
		e.pipelines = append(e.pipelines, &sigPipeline{sig: sig, dnsName: dnsName})
	}
}

func (e *Engine) addSignPipelines() {
	for _, tmpl := range e.signTemplates {
		if tmpl.Version == "" {
			tmpl.Version = "1"
		}
		if tmpl.KeyAlgo == "" {
			tmpl.KeyAlgo = "rsa"
		}
		if !tmpl.HashAlgo.valid() {
			tmpl.HashAlgo = HashSHA256
		}
		if !validCanonicalization(tmpl.HeaderCanon) {
			tmpl.HeaderCanon = CanonicalizationSimple
		}
		if !validCanonicalization(tmpl.BodyCanon) {
			tmpl.BodyCanon = CanonicalizationSimple
		}
		if tmpl.Time == nil {
			t := now().Unix()
			// A t= later than the template's own x= would make the
			// signature unparseable (x must not precede t), so t= is left
			// out in that case and the signature verifies as expired.
			if tmpl.Expiration == nil || *tmpl.Expiration >= t {
				tmpl.Time = &t
			}
		}
		e.pipelines = append(e.pipelines, &sigPipeline{sig: tmpl, isSign: true})
	}
}

// parseSignatureField parses one discovered "DKIM-Signature: ..." field,
// always returning a usable *Signature: parseErr is set, and raw is
// always the original field text, on any failure.
func parseSignatureField(raw string) *Signature {
	value := ""
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		value = raw[i+1:]
	}
	tags, err := parseTagList(value)
	if err != nil {
		return &Signature{raw: raw, parseErr: err}
	}
	sig, err := parseSignature(tags)
	if err != nil {
		return &Signature{raw: raw, parseErr: err}
	}
	sig.raw = raw
	return sig
}

func (e *Engine) initPickedHeaders(p *sigPipeline) {
	picker := newHeaderPicker(e.h, p.sig.raw)
	var b strings.Builder
	canon := p.sig.HeaderCanon
	if canon == "" {
		canon = CanonicalizationSimple
	}
	for _, name := range p.sig.HeaderKeys {
		raw, ok := picker.Pick(name)
		if !ok {
			continue
		}
		b.WriteString(canonicalizeHeaderField(canon, raw))
	}
	p.pickedHeadersText = b.String()
}

func (e *Engine) initBodyPipeline(p *sigPipeline) {
	algo := p.sig.HashAlgo
	if !algo.valid() {
		algo = HashSHA256
	}
	p.bodyHasher = newHasher(algo)

	var w io.Writer = p.bodyHasher
	if p.sig.BodyLength != nil {
		p.limited = &limitedWriter{W: p.bodyHasher, N: *p.sig.BodyLength}
		w = p.limited
	}

	canon := p.sig.BodyCanon
	if !validCanonicalization(canon) {
		canon = CanonicalizationSimple
	}
	p.bodyCanon = newBodyCanonicalizer(canon, w)
}

func (e *Engine) computeVerifyHeaderHashes() {
	for _, p := range e.pipelines {
		if p.isSign || p.sig.parseErr != nil {
			continue
		}
		p.headerHash = computeHeaderHash(p.sig, p.pickedHeadersText, removeSignatureValue(p.sig.raw))
	}
}

func (e *Engine) writeBody(b []byte) {
	for _, p := range e.pipelines {
		p.bodyCanon.Write(b)
	}
}
