package dkim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
)

// digestInfoPrefix returns the fixed ASN.1 DigestInfo prefix EMSA-PKCS1-v1_5
// uses for the given hash, per RFC 8017 section 9.2. crypto/rsa's own
// SignPKCS1v15/VerifyPKCS1v15 already encode exactly these bytes (see
// crypto/rsa's hashPrefixes table) for crypto.SHA1 and crypto.SHA256, which
// is why this package delegates the padding itself to the standard library
// rather than building it by hand: this is the one place an RSA
// library's behavior must be checked bytewise against the fixed prefixes
// below, and the standard library's table matches.
func digestInfoPrefix(h crypto.Hash) ([]byte, error) {
	switch h {
	case crypto.SHA1:
		return []byte{0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2B, 0x0E, 0x03, 0x02, 0x1A, 0x05, 0x00, 0x04, 0x14}, nil
	case crypto.SHA256:
		return []byte{0x30, 0x31, 0x30, 0x0D, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20}, nil
	default:
		return nil, fmt.Errorf("dkim: unsupported hash for RSA padding")
	}
}

// signRSA produces a raw RSA signature over an already-computed digest,
// i.e. the RSA signing primitive applied to the digest's EMSA-PKCS1-v1_5
// encoding (RFC 8017 section 9.2).
func signRSA(priv crypto.Signer, h crypto.Hash, digest []byte) ([]byte, error) {
	if _, err := digestInfoPrefix(h); err != nil {
		return nil, err
	}
	return priv.Sign(rand.Reader, digest, h)
}

// verifyRSA checks a raw RSA signature against an already-computed digest.
func verifyRSA(pub *rsa.PublicKey, h crypto.Hash, digest, sig []byte) error {
	if _, err := digestInfoPrefix(h); err != nil {
		return err
	}
	return rsa.VerifyPKCS1v15(pub, h, digest, sig)
}
