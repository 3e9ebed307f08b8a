package dkim

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
)

// Key is a parsed published DKIM key record (RFC 6376 section 3.6.1).
type Key struct {
	Version   string // v=, default "DKIM1"
	KeyAlgo   string // k=, default "rsa"
	PublicKey *rsa.PublicKey
	Revoked   bool // p= was present but empty
	Hashes    map[HashAlgorithm]bool // h=, default {sha1, sha256}
	Services  map[string]bool        // s=, default {"*"}
	Flags     map[string]bool        // t=
}

// allowsHash reports whether the key's h= tag permits the given algorithm.
func (k *Key) allowsHash(h HashAlgorithm) bool {
	return k.Hashes[h]
}

// allowsEmail reports whether the key's s= tag permits the "email" service.
func (k *Key) allowsEmail() bool {
	return k.Services["*"] || k.Services["email"]
}

func (k *Key) testing() bool { return k.Flags["y"] }
func (k *Key) strict() bool  { return k.Flags["s"] }

// parseKey interprets a parsed key-record tag list, per RFC 6376 section 3.6.1.
// An empty tag list is a permanent failure, matching the reference
// implementation's explicit "invalid or empty DKIM record" wording.
func parseKey(tags tagList) (*Key, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("invalid or empty DKIM record")
	}

	if v, ok := tags["v"]; ok && stripWhitespace(v) != "DKIM1" {
		return nil, fmt.Errorf("unsupported key record version %q", v)
	}

	k := &Key{Version: "DKIM1", KeyAlgo: "rsa"}

	if algo, ok := tags["k"]; ok {
		algo = stripWhitespace(algo)
		if algo != "rsa" {
			return nil, fmt.Errorf("unsupported key algorithm %q", algo)
		}
		k.KeyAlgo = algo
	}

	p, ok := tags["p"]
	if !ok {
		return nil, fmt.Errorf("key record missing public key data")
	}
	p = stripWhitespace(p)
	if p == "" {
		k.Revoked = true
		return k, nil
	}
	der, err := decodeTagBase64(p)
	if err != nil {
		return nil, fmt.Errorf("malformed public key: %v", err)
	}
	pub, err := parseRSAPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("malformed public key: %v", err)
	}
	k.PublicKey = pub

	k.Hashes = map[HashAlgorithm]bool{HashSHA1: true, HashSHA256: true}
	if h, ok := tags["h"]; ok {
		k.Hashes = make(map[HashAlgorithm]bool)
		for _, name := range splitColonList(h) {
			k.Hashes[HashAlgorithm(strings.ToLower(name))] = true
		}
	}

	k.Services = map[string]bool{"*": true}
	if s, ok := tags["s"]; ok {
		k.Services = make(map[string]bool)
		for _, name := range splitColonList(s) {
			k.Services[name] = true
		}
	}
	if !k.allowsEmail() {
		return nil, fmt.Errorf("key record does not permit the email service")
	}

	k.Flags = make(map[string]bool)
	if t, ok := tags["t"]; ok {
		for _, f := range splitColonList(t) {
			k.Flags[strings.ToLower(f)] = true
		}
	}

	// The deprecated "g" (granularity) tag is dropped unconditionally: RFC
	// 6376 itself declared it deprecated at publication, and nothing here
	// consults it.

	return k, nil
}

// parseRSAPublicKey accepts both the SubjectPublicKeyInfo encoding DKIM
// keys normally use and the bare PKCS#1 encoding some publishers mistakenly
// emit.
func parseRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPub, nil
	}
	return x509.ParsePKCS1PublicKey(der)
}

// parseKeyRecords parses one or more raw TXT record strings for a single
// DNS name as a single DKIM key: RFC 6376 section 3.6.2.2 requires callers
// to concatenate multi-string TXT records before parsing.
func parseKeyRecords(txt []string) (*Key, error) {
	return parseKeyText(strings.Join(txt, ""))
}

func parseKeyText(s string) (*Key, error) {
	tags, err := parseTagList(s)
	if err != nil {
		return nil, fmt.Errorf("invalid or empty DKIM record")
	}
	return parseKey(tags)
}
