package links

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gzhole/mailshield/internal/message"
	"github.com/gzhole/mailshield/internal/units/hostinfo"
)

// DefaultZone is the Spamhaus domain blocklist.
const DefaultZone = "dbl.spamhaus.org"

// dblCodes maps Spamhaus DBL answers to the threat they report. Answers in
// 127.255.255.0/24 are query errors and are not listed here.
var dblCodes = map[string]string{
	"127.0.1.2":   "Spamhaus DBL - Spam domain",
	"127.0.1.4":   "Spamhaus DBL - Phishing domain",
	"127.0.1.5":   "Spamhaus DBL - Malware domain",
	"127.0.1.6":   "Spamhaus DBL - Botnet C&C domain",
	"127.0.1.102": "Spamhaus DBL - Abused legit spam",
	"127.0.1.103": "Spamhaus DBL - Abused spammed redirector domain",
	"127.0.1.104": "Spamhaus DBL - Abused legit phish",
	"127.0.1.105": "Spamhaus DBL - Abused legit malware",
	"127.0.1.106": "Spamhaus DBL - Abused legit botnet C&C",
	"127.0.1.255": "Spamhaus DBL - Test point",
}

// Resolver is the subset of *net.Resolver used for blocklist queries.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSBLChecker queries a DNS blocklist for the host of each link.
type DNSBLChecker struct {
	Zone     string
	Resolver Resolver
}

// NewDNSBLChecker returns a checker for zone using the system resolver.
// An empty zone selects DefaultZone.
func NewDNSBLChecker(zone string) *DNSBLChecker {
	if zone == "" {
		zone = DefaultZone
	}
	return &DNSBLChecker{Zone: zone, Resolver: net.DefaultResolver}
}

func (c *DNSBLChecker) Name() string { return "dnsbl" }

// Check reports a listed host with score 0. Unlisted hosts score 100.
func (c *DNSBLChecker) Check(ctx context.Context, link message.Link) (Finding, error) {
	u, err := url.Parse(link.URL)
	if err != nil {
		return Finding{}, fmt.Errorf("dnsbl: parse %q: %w", link.URL, err)
	}
	host := hostinfo.Normalize(u.Hostname())
	if host == "" || hostinfo.IsIPLiteral(host) {
		return Finding{Score: 100}, nil
	}

	query := host + "." + strings.TrimSuffix(c.Zone, ".")
	addrs, err := c.Resolver.LookupHost(ctx, query)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return Finding{Score: 100}, nil
		}
		return Finding{}, fmt.Errorf("dnsbl: lookup %s: %w", query, err)
	}

	f := Finding{Score: 100}
	for _, a := range addrs {
		if threat, ok := dblCodes[a]; ok {
			f.Score = 0
			f.Threats = append(f.Threats, threat)
		}
	}
	return f, nil
}
