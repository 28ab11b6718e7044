package links

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/gzhole/mailshield/internal/message"
	"github.com/gzhole/mailshield/internal/units/hostinfo"
)

// Finding is one checker's opinion of a link.
type Finding struct {
	Score   float64  // 0-100, higher = safer
	Threats []string // human-readable reasons, empty when clean
}

// Checker inspects a single link. A returned error means the checker could
// not reach a conclusion; the link is then judged by the other checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context, link message.Link) (Finding, error)
}

var shorteners = map[string]struct{}{
	"bit.ly": {}, "tinyurl.com": {}, "t.co": {}, "goo.gl": {}, "ow.ly": {},
	"is.gd": {}, "buff.ly": {}, "rebrand.ly": {}, "cutt.ly": {}, "shorturl.at": {},
	"rb.gy": {}, "tiny.cc": {},
}

var visibleDomainPattern = regexp.MustCompile(`(?i)\b((?:[a-z0-9-]+\.)+[a-z]{2,})\b`)

type heuristicRule struct {
	threat  string
	penalty float64
	match   func(u *url.URL, link message.Link) bool
}

var heuristicRules = []heuristicRule{
	{
		threat:  "IP address used as host",
		penalty: 50,
		match:   func(u *url.URL, _ message.Link) bool { return hostinfo.IsIPLiteral(u.Hostname()) },
	},
	{
		threat:  "Lookalike or punycode domain",
		penalty: 60,
		match:   func(u *url.URL, _ message.Link) bool { return hostinfo.Deceptive(u.Hostname()) },
	},
	{
		threat:  "Credentials embedded before host",
		penalty: 50,
		match:   func(u *url.URL, _ message.Link) bool { return u.User != nil },
	},
	{
		threat:  "Link text names a different domain",
		penalty: 55,
		match:   textMismatch,
	},
	{
		threat:  "High-abuse top-level domain",
		penalty: 25,
		match:   func(u *url.URL, _ message.Link) bool { return hostinfo.SuspiciousTLD(u.Hostname()) },
	},
	{
		threat:  "URL shortener hides destination",
		penalty: 20,
		match: func(u *url.URL, _ message.Link) bool {
			_, ok := shorteners[hostinfo.Normalize(u.Hostname())]
			return ok
		},
	},
	{
		threat:  "Unexpected URL scheme",
		penalty: 40,
		match: func(u *url.URL, _ message.Link) bool {
			switch strings.ToLower(u.Scheme) {
			case "http", "https", "mailto", "tel", "":
				return false
			}
			return true
		},
	},
}

// HeuristicChecker scores a link from its shape alone, without network
// access.
type HeuristicChecker struct{}

func (HeuristicChecker) Name() string { return "heuristic" }

// Check subtracts a penalty for every rule the link trips.
func (HeuristicChecker) Check(_ context.Context, link message.Link) (Finding, error) {
	u, err := url.Parse(link.URL)
	if err != nil {
		return Finding{Score: 40, Threats: []string{"Malformed URL"}}, nil
	}
	f := Finding{Score: 100}
	for _, r := range heuristicRules {
		if r.match(u, link) {
			f.Score -= r.penalty
			f.Threats = append(f.Threats, r.threat)
		}
	}
	if f.Score < 0 {
		f.Score = 0
	}
	return f, nil
}

// textMismatch reports whether the visible text of an anchor spells out a
// domain outside the organization the link actually points to.
func textMismatch(u *url.URL, link message.Link) bool {
	if link.Type != TypeExplicit || link.Text == "" || u.Hostname() == "" {
		return false
	}
	for _, shown := range visibleDomainPattern.FindAllString(link.Text, -1) {
		if !hostinfo.SameOrganization(shown, u.Hostname()) {
			return true
		}
	}
	return false
}
