// Command dkimmilter is a milter that verifies the DKIM-Signature fields
// of incoming mail and, for configured domains, signs outgoing mail.
package main

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"net"
	"net/mail"
	"net/textproto"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-milter"

	"github.com/streamdkim/dkim"
	"github.com/streamdkim/dkim/authres"
	"github.com/streamdkim/dkim/internal/resolver"
)

var (
	signDomains    stringSliceFlag
	identity       string
	listenURI      string
	privateKeyPath string
	selector       string
	verbose        bool
)

var privateKey crypto.Signer

var signHeaderKeys = []string{
	"From", "Reply-To", "Subject", "Date", "To", "Cc",
	"Resent-Date", "Resent-From", "Resent-To", "Resent-Cc",
	"In-Reply-To", "References",
	"List-Id", "List-Help", "List-Unsubscribe", "List-Subscribe",
	"List-Post", "List-Owner", "List-Archive",
}

func init() {
	flag.Var(&signDomains, "d", "domain(s) whose mail should be signed")
	flag.StringVar(&identity, "i", "", "server identity (defaults to hostname)")
	flag.StringVar(&listenURI, "l", "unix:///tmp/dkim-milter.sock", "listen URI")
	flag.StringVar(&privateKeyPath, "k", "", "private key (PEM-formatted RSA)")
	flag.StringVar(&selector, "s", "", "selector")
	flag.BoolVar(&verbose, "v", false, "enable verbose logging")
}

type stringSliceFlag []string

func (f *stringSliceFlag) String() string { return strings.Join(*f, ", ") }
func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

type session struct {
	authResDelete []int

	headerBuf      []byte
	signDomain     string
	signHeaderKeys []string

	engine *dkim.Engine
	res    *resolver.Resolver
}

func (s *session) Connect(host string, family string, port uint16, addr net.IP, m *milter.Modifier) (milter.Response, error) {
	return nil, nil
}

func (s *session) Helo(name string, m *milter.Modifier) (milter.Response, error) {
	return nil, nil
}

func (s *session) MailFrom(from string, m *milter.Modifier) (milter.Response, error) {
	return nil, nil
}

func (s *session) RcptTo(rcptTo string, m *milter.Modifier) (milter.Response, error) {
	return nil, nil
}

func parseAddressDomain(s string) (string, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", err
	}
	parts := strings.SplitN(addr.Address, "@", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("dkimmilter: malformed address: missing '@'")
	}
	return parts[1], nil
}

func (s *session) Header(name string, value string, m *milter.Modifier) (milter.Response, error) {
	if strings.EqualFold(name, "From") || strings.EqualFold(name, "Sender") {
		domain, err := parseAddressDomain(value)
		if err != nil {
			return nil, fmt.Errorf("dkimmilter: failed to parse header field %q: %v", name, err)
		}
		for _, d := range signDomains {
			if strings.EqualFold(d, domain) {
				s.signDomain = d
				break
			}
		}
	}
	for _, k := range signHeaderKeys {
		if strings.EqualFold(name, k) {
			s.signHeaderKeys = append(s.signHeaderKeys, name)
		}
	}

	s.headerBuf = append(s.headerBuf, []byte(name+": "+value+"\r\n")...)
	return milter.RespContinue, nil
}

func getIdentity(authRes string) string {
	parts := strings.SplitN(authRes, ";", 2)
	return strings.TrimSpace(parts[0])
}

// Headers fires once every header field has been seen through Header,
// which is also the first point the sign domain (decided from the From
// field) is known — so it's where the engine, with its mode and sign
// templates fixed for the rest of the session, actually gets built.
func (s *session) Headers(h textproto.MIMEHeader, m *milter.Modifier) (milter.Response, error) {
	for i, field := range h["Authentication-Results"] {
		if strings.EqualFold(identity, getIdentity(field)) {
			s.authResDelete = append(s.authResDelete, i)
		}
	}

	var templates []*dkim.Signature
	if s.signDomain != "" {
		templates = append(templates, &dkim.Signature{
			Domain:      s.signDomain,
			Selector:    selector,
			Signer:      privateKey,
			HeaderKeys:  s.signHeaderKeys,
			HeaderCanon: dkim.CanonicalizationRelaxed,
			BodyCanon:   dkim.CanonicalizationRelaxed,
			HashAlgo:    dkim.HashSHA256,
		})
	}

	mode := dkim.ModeVerify
	if len(templates) > 0 {
		mode = dkim.ModeSignAndVerify
	}

	s.engine = dkim.NewEngine(dkim.Options{Mode: mode, DNS: s.engine.DNS(), SignTemplates: templates})
	s.engine.Append(s.headerBuf)
	s.engine.Append([]byte("\r\n"))
	s.headerBuf = nil
	return milter.RespContinue, nil
}

func (s *session) BodyChunk(chunk []byte, m *milter.Modifier) (milter.Response, error) {
	s.engine.Append(chunk)
	return milter.RespContinue, nil
}

func (s *session) Body(m *milter.Modifier) (milter.Response, error) {
	outcome := s.engine.Finish()

	for outcome == dkim.NeedDNS {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, name := range s.engine.PendingDNSNames() {
			txt, err := s.res.LookupTXT(ctx, name)
			switch {
			case err != nil:
				s.engine.DNS().SetFailed(name)
			case txt == nil:
				s.engine.DNS().Set(name)
			default:
				s.engine.DNS().Set(name, txt...)
			}
		}
		cancel()
		outcome = s.engine.Recheck()
	}

	for _, index := range s.authResDelete {
		if err := m.ChangeHeader(index, "Authentication-Results", ""); err != nil {
			return nil, err
		}
	}

	results := s.engine.Results()

	var authResults []authres.Result
	for _, r := range results {
		if r.SignedHeader != "" {
			k, v, ok := strings.Cut(strings.TrimSuffix(r.SignedHeader, "\r\n"), ": ")
			if !ok {
				return nil, fmt.Errorf("dkimmilter: malformed DKIM-Signature header field")
			}
			if err := m.InsertHeader(0, k, v); err != nil {
				return nil, err
			}
			continue
		}

		val := authres.ResultNeutral
		switch r.Status {
		case dkim.StatusValid:
			val = authres.ResultPass
		case dkim.StatusPermFail, dkim.StatusInvalidHeader:
			val = authres.ResultFail
		case dkim.StatusSoftFail:
			val = authres.ResultPolicy
		case dkim.StatusTempFail:
			val = authres.ResultTempError
		}
		if verbose {
			log.Printf("DKIM verification for %v: %v (%v)", r.DNSName, val, r.Error)
		}

		domain, ident := "", ""
		if r.Signature != nil {
			domain, ident = r.Signature.Domain, r.Signature.Identity
		}
		authResults = append(authResults, &authres.DKIMResult{
			Value:      val,
			Reason:     r.Error,
			Domain:     domain,
			Identifier: ident,
		})
	}

	if len(authResults) == 0 {
		authResults = append(authResults, &authres.DKIMResult{Value: authres.ResultNone})
	}

	v := authres.Format(identity, authResults)
	if err := m.InsertHeader(0, "Authentication-Results", v); err != nil {
		return nil, err
	}

	return milter.RespAccept, nil
}

func loadPrivateKey(path string) (crypto.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM data found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key is not an RSA key")
		}
		return signer, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func main() {
	flag.Parse()

	if identity == "" {
		var err error
		identity, err = os.Hostname()
		if err != nil {
			log.Fatal("failed to read hostname: ", err)
		}
	}

	if (len(signDomains) > 0 || privateKeyPath != "" || selector != "") && !(len(signDomains) > 0 && privateKeyPath != "" && selector != "") {
		log.Fatal("domain(s) (-d), selector (-s) and private key (-k) must all be specified together")
	}

	if privateKeyPath != "" {
		var err error
		privateKey, err = loadPrivateKey(privateKeyPath)
		if err != nil {
			log.Fatalf("failed to load private key from %q: %v", privateKeyPath, err)
		}
	}

	listenNetwork, listenAddr, ok := strings.Cut(listenURI, "://")
	if !ok {
		log.Fatal("invalid listen URI")
	}

	res := resolver.New(resolver.Config{})

	srv := milter.Server{
		NewMilter: func() milter.Milter {
			return &session{engine: dkim.NewEngine(dkim.Options{Mode: dkim.ModeVerify}), res: res}
		},
		Actions:  milter.OptAddHeader | milter.OptChangeHeader,
		Protocol: milter.OptNoConnect | milter.OptNoHelo | milter.OptNoMailFrom | milter.OptNoRcptTo,
	}

	ln, err := net.Listen(listenNetwork, listenAddr)
	if err != nil {
		log.Fatal("failed to set up listener: ", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		if err := srv.Close(); err != nil {
			log.Fatal("failed to close server: ", err)
		}
	}()

	log.Println("milter listening at", listenURI)
	if err := srv.Serve(ln); err != nil && err != milter.ErrServerClosed {
		log.Fatal("failed to serve: ", err)
	}
}
