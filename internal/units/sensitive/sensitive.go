// Package sensitive flags emails that carry credentials or payment data, or
// that ask the reader to send them.
package sensitive

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
	"github.com/gzhole/mailshield/internal/secrets"
)

// defaultPenalty applies to labels missing from labelPenalties.
const defaultPenalty = 30

var labelPenalties = map[secrets.Label]float64{
	secrets.LabelPrivateKey:     50,
	secrets.LabelCardNumber:     40,
	secrets.LabelAWSKey:         35,
	secrets.LabelGitHubToken:    35,
	secrets.LabelStripeKey:      35,
	secrets.LabelSlackToken:     35,
	secrets.LabelAPIKey:         35,
	secrets.LabelBearerToken:    35,
	secrets.LabelPassword:       30,
	secrets.LabelURLCredentials: 25,
}

const solicitationPenalty = 30

var solicitationPattern = regexp.MustCompile(`(?i)\b(send|provide|reply\s+with|confirm|enter)\b[^.\n]{0,40}\b(social\s+security|ssn|card\s+number|cvv|cvc|security\s+code|bank\s+account|routing\s+number|date\s+of\s+birth|passport)\b`)

// Details is the opaque payload attached to the verdict. It never carries
// the matched text.
type Details struct {
	Labels    []secrets.Label `json:"labels"`
	Solicited bool            `json:"solicited"`
}

// Unit implements engine.Unit for sensitive data exposure.
type Unit struct{}

// New returns a sensitive-information unit.
func New() *Unit { return &Unit{} }

// Extract returns the visible body text.
func (u *Unit) Extract(msg *message.Message) (any, bool) {
	text := msg.TextContent()
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	return text, true
}

// Evaluate subtracts one penalty per distinct kind of secret found.
func (u *Unit) Evaluate(_ context.Context, data any) (engine.RawResult, error) {
	text, ok := data.(string)
	if !ok {
		return engine.RawResult{}, fmt.Errorf("sensitive: unexpected input %T", data)
	}

	labels := secrets.Labels(secrets.Find(text))
	details := Details{Labels: labels, Solicited: solicitationPattern.MatchString(text)}

	res := engine.RawResult{Score: 100, Details: details}
	for _, l := range labels {
		p, ok := labelPenalties[l]
		if !ok {
			p = defaultPenalty
		}
		res.Score -= p
		res.Warnings = append(res.Warnings, fmt.Sprintf("Message contains what looks like a %s", l))
	}
	if details.Solicited {
		res.Score -= solicitationPenalty
		res.Warnings = append(res.Warnings, "Message asks for personal or financial details")
		res.Recommendations = append(res.Recommendations, "Never send identity or banking details in reply to an email.")
	}
	if len(labels) > 0 {
		res.Recommendations = append(res.Recommendations, "Delete exposed credentials from your mailbox and rotate them.")
	}
	if res.Score < 0 {
		res.Score = 0
	}
	return res, nil
}
