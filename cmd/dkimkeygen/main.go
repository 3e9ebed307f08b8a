// Command dkimkeygen generates an RSA key pair for DKIM signing and prints
// the TXT record to publish at "<selector>._domainkey.<domain>".
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
)

var (
	nBits    int
	filename string
)

func init() {
	flag.IntVar(&nBits, "b", 2048, "number of bits in the RSA key")
	flag.StringVar(&filename, "f", "dkim.priv", "private key filename")
	flag.Parse()
}

func main() {
	log.Printf("generating a %v-bit RSA key", nBits)
	privKey, err := rsa.GenerateKey(rand.Reader, nBits)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		log.Fatalf("failed to marshal private key: %v", err)
	}

	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("failed to create key file: %v", err)
	}
	defer f.Close()

	block := &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}
	if err := pem.Encode(f, block); err != nil {
		log.Fatalf("failed to write key PEM block: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("failed to close key file: %v", err)
	}
	log.Printf("private key written to %q", filename)

	pubBytes := x509.MarshalPKCS1PublicKey(&privKey.PublicKey)
	params := []string{
		"v=DKIM1",
		"k=rsa",
		"p=" + base64.StdEncoding.EncodeToString(pubBytes),
	}
	log.Println(`public key, to be stored in the TXT record "<selector>._domainkey.<domain>":`)
	fmt.Println(strings.Join(params, "; "))
}
