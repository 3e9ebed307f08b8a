// Command dkimsign reads a message from stdin, signs it with an RSA
// private key, and writes the signed message to stdout.
package main

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"github.com/streamdkim/dkim"
)

var (
	domain         string
	selector       string
	identity       string
	privateKeyPath string
	headerKeys     stringSliceFlag
	canon          string
	hashAlgo       string
)

func init() {
	flag.StringVar(&domain, "d", "", "SDID to sign as (required)")
	flag.StringVar(&selector, "s", "", "selector (required)")
	flag.StringVar(&identity, "i", "", "identity (i=); defaults to \"@<domain>\"")
	flag.StringVar(&privateKeyPath, "k", "", "PEM-encoded RSA private key (required)")
	flag.Var(&headerKeys, "h", "header field to sign (repeatable); defaults to a standard set")
	flag.StringVar(&canon, "c", "relaxed/relaxed", "header/body canonicalization")
	flag.StringVar(&hashAlgo, "a", "sha256", "hash algorithm (sha1 or sha256)")
	flag.Parse()

	if domain == "" || selector == "" || privateKeyPath == "" {
		log.Fatal("dkimsign: -d, -s and -k are required")
	}
}

type stringSliceFlag []string

func (f *stringSliceFlag) String() string { return strings.Join(*f, ",") }
func (f *stringSliceFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

var defaultHeaderKeys = []string{
	"From", "Reply-To", "Subject", "Date", "To", "Cc",
	"Resent-Date", "Resent-From", "Resent-To", "Resent-Cc",
	"In-Reply-To", "References",
	"List-Id", "List-Help", "List-Unsubscribe", "List-Subscribe",
	"List-Post", "List-Owner", "List-Archive",
}

func main() {
	signer := loadPrivateKey(privateKeyPath)

	headerCanon, bodyCanon, ok := strings.Cut(canon, "/")
	if !ok {
		headerCanon, bodyCanon = canon, canon
	}

	keys := []string(headerKeys)
	if len(keys) == 0 {
		keys = defaultHeaderKeys
	}

	sig := &dkim.Signature{
		Domain:      domain,
		Selector:    selector,
		Identity:    identity,
		HeaderKeys:  keys,
		HeaderCanon: dkim.Canonicalization(headerCanon),
		BodyCanon:   dkim.Canonicalization(bodyCanon),
		HashAlgo:    dkim.HashAlgorithm(hashAlgo),
		Signer:      signer,
	}

	engine := dkim.NewEngine(dkim.Options{
		Mode:          dkim.ModeSign,
		SignTemplates: []*dkim.Signature{sig},
	})

	message, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Fatalf("dkimsign: error reading message: %v", err)
	}

	engine.Append(message)
	engine.Finish()

	results := engine.Results()
	if len(results) != 1 || results[0].Status != dkim.StatusValid {
		log.Fatalf("dkimsign: failed to sign message: %s", results[0].Error)
	}

	os.Stdout.WriteString(results[0].SignedHeader)
	os.Stdout.Write(message)
}

func loadPrivateKey(path string) crypto.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("dkimsign: failed to read private key: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		log.Fatalf("dkimsign: no PEM block found in %q", path)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(*rsa.PrivateKey)
		if !ok {
			log.Fatalf("dkimsign: key in %q is not an RSA key", path)
		}
		return signer
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		log.Fatalf("dkimsign: failed to parse private key: %v", err)
	}
	return key
}
