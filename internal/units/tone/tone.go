// Package tone detects social-engineering pressure in the wording of an
// email: urgency, threats, credential and payment requests, and text aimed at
// AI mail assistants rather than the human reader.
package tone

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gzhole/mailshield/internal/confusable"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
)

// Signal is one pressure tactic found in the text.
type Signal struct {
	ID          string  `json:"id"`
	Category    string  `json:"category"`
	Penalty     float64 `json:"penalty"`
	Description string  `json:"description"`
}

// Details is the opaque payload attached to the verdict.
type Details struct {
	Signals []Signal `json:"signals"`
}

type rule struct {
	signal Signal
	match  func(text string) bool
	advice string // optional recommendation when the rule fires
}

// Unit implements engine.Unit for tone analysis.
type Unit struct {
	rules []rule
}

// New returns a tone unit with the built-in rules.
func New() *Unit {
	return &Unit{rules: buildRules()}
}

// Extract returns the subject and visible body text.
func (u *Unit) Extract(msg *message.Message) (any, bool) {
	body := msg.TextContent()
	if strings.TrimSpace(body) == "" {
		return nil, false
	}
	if subj := msg.Subject(); subj != "" {
		return subj + "\n" + body, true
	}
	return body, true
}

// Evaluate scores the text by subtracting the penalty of every signal.
func (u *Unit) Evaluate(_ context.Context, data any) (engine.RawResult, error) {
	text, ok := data.(string)
	if !ok {
		return engine.RawResult{}, fmt.Errorf("tone: unexpected input %T", data)
	}

	var signals []Signal
	var res engine.RawResult
	score := 100.0
	for _, r := range u.rules {
		if !r.match(text) {
			continue
		}
		signals = append(signals, r.signal)
		score -= r.signal.Penalty
		res.Warnings = append(res.Warnings, r.signal.Description)
		if r.advice != "" {
			res.Recommendations = append(res.Recommendations, r.advice)
		}
	}
	if score < 0 {
		score = 0
	}
	res.Score = score
	res.Details = Details{Signals: signals}
	return res, nil
}

func buildRules() []rule {
	return []rule{
		{
			signal: Signal{
				ID:          "urgency",
				Category:    "pressure",
				Penalty:     15,
				Description: "Message pushes for immediate action",
			},
			match: func(s string) bool { return matchesAnyPattern(s, urgencyPatterns) },
		},
		{
			signal: Signal{
				ID:          "account_threat",
				Category:    "pressure",
				Penalty:     20,
				Description: "Message threatens account suspension or loss of access",
			},
			match: func(s string) bool { return matchesAnyPattern(s, accountThreatPatterns) },
		},
		{
			signal: Signal{
				ID:          "credential_request",
				Category:    "credential-phishing",
				Penalty:     30,
				Description: "Message asks you to confirm a password or login details",
			},
			match:  func(s string) bool { return matchesAnyPattern(s, credentialRequestPatterns) },
			advice: "Never enter your password or verification codes through a link received by email.",
		},
		{
			signal: Signal{
				ID:          "payment_request",
				Category:    "fraud",
				Penalty:     20,
				Description: "Message requests a payment or change of bank details",
			},
			match:  func(s string) bool { return matchesAnyPattern(s, paymentRequestPatterns) },
			advice: "Confirm payment or banking changes by phone using a number you already know.",
		},
		{
			signal: Signal{
				ID:          "gift_card",
				Category:    "fraud",
				Penalty:     25,
				Description: "Message asks for gift cards",
			},
			match: func(s string) bool { return giftCardPattern.MatchString(s) },
		},
		{
			signal: Signal{
				ID:          "secrecy",
				Category:    "pressure",
				Penalty:     15,
				Description: "Message asks you to keep the request confidential",
			},
			match: func(s string) bool { return matchesAnyPattern(s, secrecyPatterns) },
		},
		{
			signal: Signal{
				ID:          "assistant_injection",
				Category:    "prompt-injection",
				Penalty:     35,
				Description: "Message contains instructions aimed at an AI assistant",
			},
			match: func(s string) bool {
				return matchesAnyPattern(s, instructionOverridePatterns) || matchesAnyPattern(s, indirectInjectionPatterns)
			},
		},
		{
			signal: Signal{
				ID:          "hidden_text",
				Category:    "obfuscation",
				Penalty:     25,
				Description: "Message contains invisible or direction-changing characters",
			},
			match: func(s string) bool { return confusable.Inspect(s).Hidden() },
		},
	}
}

var urgencyPatterns = compilePatterns([]string{
	`(?i)\b(urgent|immediately|right away|asap|act now)\b`,
	`(?i)\bwithin\s+(24|48|72)\s+hours?\b`,
	`(?i)\b(final|last)\s+(notice|warning|reminder)\b`,
	`(?i)\bexpires?\s+(today|tonight|soon)\b`,
})

var accountThreatPatterns = compilePatterns([]string{
	`(?i)\baccount\s+(will\s+be\s+|has\s+been\s+|is\s+)?(suspended|locked|closed|disabled|terminated|deactivated)\b`,
	`(?i)\b(lose|loss\s+of)\s+access\b`,
	`(?i)\bunusual\s+(sign-?in|login|activity)\b`,
})

var credentialRequestPatterns = compilePatterns([]string{
	`(?i)\b(verify|confirm|update|validate)\s+(your\s+)?(account|password|login|credentials|identity)\b`,
	`(?i)\b(enter|provide|send)\s+(your\s+)?(password|pin|verification\s+code|one-time\s+code|otp)\b`,
	`(?i)\breset\s+your\s+password\b.*\bclick\b`,
})

var paymentRequestPatterns = compilePatterns([]string{
	`(?i)\b(wire|bank)\s+transfer\b`,
	`(?i)\b(new|updated|changed)\s+(bank|banking|account)\s+(details|information|number)\b`,
	`(?i)\b(outstanding|overdue|unpaid)\s+(invoice|payment|balance)\b`,
	`(?i)\bpay(ment)?\s+(now|today|immediately)\b`,
})

var giftCardPattern = regexp.MustCompile(`(?i)\b(gift\s*cards?|itunes\s+cards?|google\s+play\s+cards?|steam\s+cards?)\b`)

var secrecyPatterns = compilePatterns([]string{
	`(?i)\b(keep\s+this|this\s+is)\s+(confidential|between\s+us|private)\b`,
	`(?i)\bdo\s+not\s+(tell|share\s+this\s+with|inform)\s+(anyone|others|your)\b`,
	`(?i)\bdon'?t\s+(tell|mention\s+this\s+to)\s+anyone\b`,
})

var instructionOverridePatterns = compilePatterns([]string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|rules?)`,
	`(?i)disregard\s+(all\s+)?(previous|prior|your)\s+(previous\s+)?(instructions?|rules?|guidelines?)`,
	`(?i)forget\s+(all\s+)?(your|previous)\s+(instructions?|rules?)`,
	`(?i)you\s+are\s+now\s+(free|unrestricted|unfiltered)`,
	`(?i)(AI|assistant|copilot|summar(y|izer))\s*[:,]?\s*(please\s+)?(mark|classify|treat)\s+this\s+(email|message)\s+as\s+(safe|legitimate|trusted)`,
})

var indirectInjectionPatterns = compilePatterns([]string{
	`(?i)SYSTEM:\s*(ignore|forget|override|you\s+are)`,
	`(?i)\[INST\]`,
	`(?i)<\|im_start\|>system`,
	`(?i)BEGIN\s+HIDDEN\s+INSTRUCTIONS?`,
	`(?i)IMPORTANT:\s*(ignore|disregard|override)`,
})

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

func matchesAnyPattern(s string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
