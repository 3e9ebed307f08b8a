// Command dkimverify reads a message from stdin and prints the
// Authentication-Results header field its DKIM-Signature fields produce.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/streamdkim/dkim"
	"github.com/streamdkim/dkim/authres"
	"github.com/streamdkim/dkim/internal/resolver"
)

var identity string

func init() {
	flag.StringVar(&identity, "i", "localhost", "identity to report results under")
	flag.Parse()
}

func main() {
	engine := dkim.NewEngine(dkim.Options{Mode: dkim.ModeVerify})
	res := resolver.New(resolver.Config{})

	outcome := runEngine(engine, res, os.Stdin)

	results := engine.Results()
	if outcome != dkim.Done {
		log.Printf("warning: %d result(s) still undetermined", countPending(results))
	}

	authResults := make([]authres.Result, 0, len(results))
	for _, r := range results {
		authResults = append(authResults, toAuthResResult(r))
	}
	log.Println(authres.Format(identity, authResults))
}

// runEngine drives engine to completion, performing DNS lookups with res as
// the engine asks for them. This is the entire I/O loop the dkim package
// itself never runs.
func runEngine(engine *dkim.Engine, res *resolver.Resolver, r io.Reader) dkim.Outcome {
	buf := make([]byte, 4096)
	outcome := dkim.NeedBytes

	for outcome == dkim.NeedBytes {
		n, err := r.Read(buf)
		if n > 0 {
			outcome = engine.Append(buf[:n])
		}
		if err == io.EOF {
			outcome = engine.Finish()
			break
		}
		if err != nil {
			log.Fatalf("error reading message: %v", err)
		}
	}

	for outcome == dkim.NeedDNS {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, name := range engine.PendingDNSNames() {
			txt, err := res.LookupTXT(ctx, name)
			switch {
			case err != nil:
				engine.DNS().SetFailed(name)
			case txt == nil:
				// No record at all; record an empty record set so
				// verification perm-fails with "invalid or empty DKIM record".
				engine.DNS().Set(name)
			default:
				engine.DNS().Set(name, txt...)
			}
		}
		cancel()
		outcome = engine.Recheck()
	}

	return outcome
}

func countPending(results []dkim.Result) int {
	n := 0
	for i := range results {
		if results[i].Status == dkim.StatusUndefined {
			n++
		}
	}
	return n
}

func toAuthResResult(r dkim.Result) authres.Result {
	value := authres.ResultNeutral
	switch r.Status {
	case dkim.StatusValid:
		value = authres.ResultPass
	case dkim.StatusPermFail, dkim.StatusInvalidHeader:
		value = authres.ResultFail
	case dkim.StatusSoftFail:
		value = authres.ResultPolicy
	case dkim.StatusTempFail:
		value = authres.ResultTempError
	case dkim.StatusUndefined:
		value = authres.ResultNeutral
	}

	domain, selector := "", ""
	if r.Signature != nil {
		domain, selector = r.Signature.Domain, r.Signature.Selector
	}

	return &authres.DKIMResult{
		Value:    value,
		Reason:   r.Error,
		Domain:   domain,
		Selector: selector,
	}
}
