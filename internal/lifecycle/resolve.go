package lifecycle

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// resolveHost implements the connect sequence's host resolution step: if host is already an IP
// literal, use it unchanged; otherwise resolve it via DNS. A
// resolution failure is logged by the caller and falls back to the
// loopback literal rather than aborting bootstrap, which keeps local
// and docker-compose deployments working without real DNS.
func resolveHost(ctx context.Context, host, resolverAddr string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	if resolverAddr == "" {
		resolverAddr = "127.0.0.1:53"
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)

	c := new(dns.Client)
	c.Timeout = 2 * time.Second

	in, _, err := c.ExchangeContext(ctx, m, resolverAddr)
	if err != nil {
		return "", err
	}
	for _, ans := range in.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", errNoAddressRecord
}

var errNoAddressRecord = dnsError("no A record found")

type dnsError string

func (e dnsError) Error() string { return string(e) }
