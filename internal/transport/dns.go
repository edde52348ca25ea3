package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// ErrResolveError wraps a failed DNS query.
type ErrResolveError struct {
	Name string
	Err  error
}

func (e *ErrResolveError) Error() string {
	return fmt.Sprintf("transport: resolve %s: %v", e.Name, e.Err)
}
func (e *ErrResolveError) Unwrap() error { return e.Err }

// Resolver performs DNS A and AAAA lookups using miekg/dns against the
// system's configured nameservers (/etc/resolv.conf), falling back to the
// Go runtime resolver if none can be read.
type Resolver struct {
	client     *dns.Client
	nameserver string
}

// NewResolver builds a Resolver bound to the system's first configured
// nameserver.
func NewResolver() *Resolver {
	r := &Resolver{client: &dns.Client{}}
	if cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(cfg.Servers) > 0 {
		r.nameserver = cfg.Servers[0] + ":" + cfg.Port
	}
	return r
}

// LookupHost resolves name to a set of IPv4/IPv6 address strings.
func (r *Resolver) LookupHost(ctx context.Context, name string) ([]string, error) {
	if r.nameserver == "" {
		return fallbackLookup(ctx, name)
	}

	var out []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		msg.RecursionDesired = true
		reply, _, err := r.client.ExchangeContext(ctx, msg, r.nameserver)
		if err != nil {
			continue
		}
		for _, ans := range reply.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				out = append(out, rr.A.String())
			case *dns.AAAA:
				out = append(out, rr.AAAA.String())
			}
		}
	}
	if len(out) == 0 {
		return fallbackLookup(ctx, name)
	}
	return out, nil
}

func fallbackLookup(ctx context.Context, name string) ([]string, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, name)
	if err != nil {
		return nil, &ErrResolveError{Name: name, Err: err}
	}
	return addrs, nil
}
