// Package sender scores how far the sender of a message can be trusted from
// its headers alone.
package sender

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
	"github.com/gzhole/mailshield/internal/units/hostinfo"
)

// warnBelow is the trust score under which raised flags become warnings.
const warnBelow = 70

// Flag names a sender trait that lowers trust.
type Flag string

const (
	FlagInvalidAddress     Flag = "invalid_address"
	FlagAuthFailure        Flag = "auth_failure"
	FlagHomoglyphDomain    Flag = "homoglyph_domain"
	FlagDisplayNameSpoof   Flag = "display_name_spoof"
	FlagReplyToMismatch    Flag = "reply_to_mismatch"
	FlagReturnPathMismatch Flag = "return_path_mismatch"
	FlagSuspiciousTLD      Flag = "suspicious_tld"
	FlagNumericDomain      Flag = "numeric_domain"
)

// penalties are applied in this order; warnings follow the same order.
var penalties = []struct {
	flag    Flag
	penalty float64
}{
	{FlagInvalidAddress, 60},
	{FlagAuthFailure, 35},
	{FlagHomoglyphDomain, 45},
	{FlagDisplayNameSpoof, 30},
	{FlagReplyToMismatch, 20},
	{FlagReturnPathMismatch, 10},
	{FlagSuspiciousTLD, 20},
	{FlagNumericDomain, 15},
}

// Profile is the data extracted from the message headers.
type Profile struct {
	Raw         string
	Address     string
	DisplayName string
	Domain      string
	ReplyTo     string
	ReturnPath  string
	AuthResults string
}

// Details is the opaque payload attached to the verdict.
type Details struct {
	TrustScore float64       `json:"trust_score"`
	Address    string        `json:"address"`
	Domain     string        `json:"domain"`
	Flags      map[Flag]bool `json:"flags"`
}

// Unit implements engine.Unit for sender trust.
type Unit struct{}

// New returns a sender trust unit.
func New() *Unit { return &Unit{} }

// Extract returns a Profile when the message has a From header.
func (u *Unit) Extract(msg *message.Message) (any, bool) {
	from := strings.TrimSpace(msg.From())
	if from == "" {
		return nil, false
	}
	p := Profile{
		Raw:         from,
		ReplyTo:     strings.TrimSpace(msg.Header("Reply-To")),
		ReturnPath:  strings.Trim(strings.TrimSpace(msg.Header("Return-Path")), "<>"),
		AuthResults: msg.Header("Authentication-Results"),
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		p.Address = strings.ToLower(addr.Address)
		p.DisplayName = addr.Name
		p.Domain = domainOf(p.Address)
	}
	return p, true
}

// Evaluate scores a Profile.
func (u *Unit) Evaluate(_ context.Context, data any) (engine.RawResult, error) {
	p, ok := data.(Profile)
	if !ok {
		return engine.RawResult{}, fmt.Errorf("sender: unexpected input %T", data)
	}

	flags := detectFlags(p)
	score := 100.0
	for _, pen := range penalties {
		if flags[pen.flag] {
			score -= pen.penalty
		}
	}
	if score < 0 {
		score = 0
	}

	res := engine.RawResult{
		Score: score,
		Details: Details{
			TrustScore: score,
			Address:    p.Address,
			Domain:     p.Domain,
			Flags:      flags,
		},
	}
	if score < warnBelow {
		for _, pen := range penalties {
			if flags[pen.flag] {
				res.Warnings = append(res.Warnings, strings.ReplaceAll(string(pen.flag), "_", " "))
			}
		}
	}
	return res, nil
}

func detectFlags(p Profile) map[Flag]bool {
	flags := make(map[Flag]bool, len(penalties))
	for _, pen := range penalties {
		flags[pen.flag] = false
	}

	if p.Address == "" || p.Domain == "" {
		flags[FlagInvalidAddress] = true
		return flags
	}

	flags[FlagAuthFailure] = authFailed(p.AuthResults)
	flags[FlagHomoglyphDomain] = hostinfo.Deceptive(p.Domain)
	flags[FlagDisplayNameSpoof] = displayNameSpoofs(p.DisplayName, p.Domain)
	flags[FlagReplyToMismatch] = foreignAddress(p.ReplyTo, p.Domain)
	flags[FlagReturnPathMismatch] = foreignAddress(p.ReturnPath, p.Domain)
	flags[FlagSuspiciousTLD] = hostinfo.SuspiciousTLD(p.Domain)
	flags[FlagNumericDomain] = hostinfo.MostlyNumeric(p.Domain)
	return flags
}

var authFailPattern = regexp.MustCompile(`(?i)\b(spf|dkim|dmarc)\s*=\s*(fail|softfail|permerror)\b`)

func authFailed(results string) bool {
	return authFailPattern.MatchString(results)
}

var embeddedDomainPattern = regexp.MustCompile(`(?i)\b([a-z0-9-]+\.)+[a-z]{2,}\b`)

// displayNameSpoofs reports whether the display name mentions an address or
// domain belonging to someone other than the sending domain.
func displayNameSpoofs(name, domain string) bool {
	if name == "" {
		return false
	}
	if at := strings.LastIndexByte(name, '@'); at >= 0 {
		return !hostinfo.SameOrganization(domainOf(name), domain)
	}
	for _, d := range embeddedDomainPattern.FindAllString(name, -1) {
		if !hostinfo.SameOrganization(d, domain) {
			return true
		}
	}
	return false
}

// foreignAddress reports whether raw is an address outside domain's
// organization. Empty or unparsable values are not counted.
func foreignAddress(raw, domain string) bool {
	if raw == "" {
		return false
	}
	addr := raw
	if parsed, err := mail.ParseAddress(raw); err == nil {
		addr = parsed.Address
	}
	other := domainOf(addr)
	if other == "" {
		return false
	}
	return !hostinfo.SameOrganization(other, domain)
}

func domainOf(addr string) string {
	at := strings.LastIndexByte(addr, '@')
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return hostinfo.Normalize(strings.Trim(addr[at+1:], " >\"'"))
}
