// Package hostinfo holds domain heuristics shared by the sender and link
// analyzers.
package hostinfo

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/gzhole/mailshield/internal/confusable"
)

// suspiciousTLDs are top-level domains heavily used by throwaway phishing
// infrastructure.
var suspiciousTLDs = map[string]struct{}{
	"xyz": {}, "top": {}, "info": {}, "click": {}, "link": {}, "zip": {},
	"mov": {}, "country": {}, "kim": {}, "gq": {}, "tk": {}, "ml": {},
	"cf": {}, "ga": {}, "work": {}, "rest": {}, "fit": {}, "loan": {},
	"support": {}, "cam": {},
}

// Normalize lowercases host, strips a port and a trailing dot.
func Normalize(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	return strings.TrimSuffix(host, ".")
}

// TLD returns the last label of host.
func TLD(host string) string {
	host = Normalize(host)
	if i := strings.LastIndexByte(host, '.'); i >= 0 {
		return host[i+1:]
	}
	return host
}

// SuspiciousTLD reports whether host ends in a high-abuse TLD.
func SuspiciousTLD(host string) bool {
	_, ok := suspiciousTLDs[TLD(host)]
	return ok
}

// BaseDomain returns the registrable part of host ("mail.example.co.uk" ->
// "example.co.uk"). IP literals and hosts without a public suffix are
// returned unchanged.
func BaseDomain(host string) string {
	host = Normalize(host)
	if IsIPLiteral(host) {
		return host
	}
	if base, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return base
	}
	return host
}

// SameOrganization reports whether two hosts share a base domain.
func SameOrganization(a, b string) bool {
	return BaseDomain(a) != "" && BaseDomain(a) == BaseDomain(b)
}

// IsIPLiteral reports whether host is an IPv4 or IPv6 address.
func IsIPLiteral(host string) bool {
	return net.ParseIP(Normalize(host)) != nil
}

// Deceptive reports whether host uses punycode labels or characters that
// imitate Latin letters.
func Deceptive(host string) bool {
	host = Normalize(host)
	for _, label := range strings.Split(host, ".") {
		if strings.HasPrefix(label, "xn--") {
			return true
		}
	}
	rep := confusable.Inspect(host)
	return rep.Has(confusable.KindHomoglyph) || rep.Hidden() || confusable.MixedScript(host)
}

// MostlyNumeric reports whether the first label of host is dominated by
// digits, a common trait of generated domains.
func MostlyNumeric(host string) bool {
	host = Normalize(host)
	if IsIPLiteral(host) {
		return true
	}
	label := host
	if i := strings.IndexByte(host, '.'); i >= 0 {
		label = host[:i]
	}
	if len(label) < 4 {
		return false
	}
	digits := 0
	for _, r := range label {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 > len(label)
}
