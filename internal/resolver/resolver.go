// Package resolver performs the DNS TXT lookups a DKIM caller needs to
// drive dkim.Engine: the engine package itself never touches the network,
// so this lives outside it and is only imported by cmd/ tools.
package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// Config holds resolver tuning knobs.
type Config struct {
	// Nameservers are queried in order, e.g. "8.8.8.8:53". If empty,
	// servers from /etc/resolv.conf are used, falling back to public DNS.
	Nameservers []string

	// Timeout is the per-query timeout. Default 5s.
	Timeout time.Duration

	// Retries is the number of retries per nameserver on failure. Default 2.
	Retries int
}

// Resolver looks up DKIM selector TXT records over the network.
type Resolver struct {
	config Config
	client *mdns.Client
}

// New constructs a Resolver, filling in defaults for any zero-valued
// Config fields.
func New(config Config) *Resolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = systemNameservers()
	}
	return &Resolver{
		config: config,
		client: &mdns.Client{Timeout: config.Timeout},
	}
}

func systemNameservers() []string {
	conf, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		if !strings.Contains(s, ":") {
			s += ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

func absolute(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// LookupTXT returns the TXT record strings published at name (e.g.
// "selector._domainkey.example.com"), each element already joined from its
// character-strings per RFC 1035 section 3.3.14. A name with no TXT record
// at all returns a nil slice and a nil error, distinguishing "absent" from
// a lookup failure the caller should retry or treat as temporary.
func (r *Resolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	m := new(mdns.Msg)
	m.SetQuestion(absolute(name), mdns.TypeTXT)
	m.RecursionDesired = true

	var lastErr error
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		for _, server := range r.config.Nameservers {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("dkim: dns query to %s failed: %w", server, err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return txtStrings(resp), nil
			case mdns.RcodeNameError:
				return nil, nil
			default:
				lastErr = fmt.Errorf("dkim: dns query to %s returned rcode %d", server, resp.Rcode)
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("dkim: dns query for %s failed against all nameservers", name)
	}
	return nil, lastErr
}

func txtStrings(resp *mdns.Msg) []string {
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*mdns.TXT); ok {
			out = append(out, strings.Join(txt.Txt, ""))
		}
	}
	return out
}
