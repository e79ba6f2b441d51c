package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// dnsLookup asks the server in u for the A record named by u's path.
// Resolvers such as OpenDNS answer myip.opendns.com with the address the query came from.
func dnsLookup(ctx context.Context, u *url.URL) (string, error) {
	name := strings.Trim(u.Path, "/")
	if name == "" {
		return "", errors.New("no query name in endpoint path")
	}
	server := u.Host
	if u.Port() == "" {
		server = net.JoinHostPort(u.Hostname(), "53")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: lookupTimeout}
	r, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return "", fmt.Errorf("dns query failed: %w", err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns query returned %s", dns.RcodeToString[r.Rcode])
	}
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record in answer for %s", name)
}
