// Package secrets locates credentials and payment data in free text and
// redacts them before anything is written to disk.
package secrets

import (
	"regexp"
	"sort"
	"strings"
)

// Label names the kind of secret a pattern detects.
type Label string

const (
	LabelAWSKey         Label = "aws-key"
	LabelGitHubToken    Label = "github-token"
	LabelAPIKey         Label = "api-key"
	LabelPrivateKey     Label = "private-key"
	LabelBearerToken    Label = "bearer-token"
	LabelURLCredentials Label = "url-credentials"
	LabelSlackToken     Label = "slack-token"
	LabelStripeKey      Label = "stripe-key"
	LabelPassword       Label = "password"
	LabelCardNumber     Label = "card-number"
)

// Placeholder replaces every redacted span.
const Placeholder = "[REDACTED]"

type pattern struct {
	label Label
	re    *regexp.Regexp
	// valid filters regex hits that are structurally wrong (e.g. Luhn).
	valid func(string) bool
}

var patterns = []pattern{
	{label: LabelAWSKey, re: regexp.MustCompile(`(?i)(aws_access_key_id|aws_secret_access_key|aws_session_token)\s*[=:]\s*['"]?[A-Za-z0-9/+=]{20,}['"]?`)},
	{label: LabelAWSKey, re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{label: LabelGitHubToken, re: regexp.MustCompile(`(?i)(github_token|gh_token|github_pat)\s*[=:]\s*['"]?[A-Za-z0-9_-]{30,}['"]?`)},
	{label: LabelGitHubToken, re: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36}`)},
	{label: LabelAPIKey, re: regexp.MustCompile(`(?i)(api_key|apikey|api-key|secret_key|secretkey|secret-key|access_token|auth_token)\s*[=:]\s*['"]?[A-Za-z0-9_-]{16,}['"]?`)},
	{label: LabelAPIKey, re: regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}`)},
	{label: LabelPrivateKey, re: regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`)},
	{label: LabelBearerToken, re: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{20,}`)},
	{label: LabelURLCredentials, re: regexp.MustCompile(`https?://[^:/\s]+:[^@/\s]+@`)},
	{label: LabelSlackToken, re: regexp.MustCompile(`xox[baprs]-[0-9]{10,13}-[0-9]{10,13}[a-zA-Z0-9-]*`)},
	{label: LabelStripeKey, re: regexp.MustCompile(`[sr]k_live_[0-9a-zA-Z]{24}`)},
	{label: LabelPassword, re: regexp.MustCompile(`(?i)(password|passwd|pwd|mot de passe)\s*[=:]\s*['"]?[^\s'"]{6,}['"]?`)},
	{label: LabelCardNumber, re: regexp.MustCompile(`\b\d(?:[ -]?\d){12,18}\b`), valid: luhn},
}

// Match is one detected secret.
type Match struct {
	Label Label
	Start int
	End   int
}

// Find returns every secret in text ordered by position. Overlapping hits
// from different patterns are all reported.
func Find(text string) []Match {
	var out []Match
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.valid != nil && !p.valid(text[loc[0]:loc[1]]) {
				continue
			}
			out = append(out, Match{Label: p.label, Start: loc[0], End: loc[1]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Labels returns the distinct labels of matches in first-seen order.
func Labels(matches []Match) []Label {
	seen := make(map[Label]struct{}, len(matches))
	var out []Label
	for _, m := range matches {
		if _, ok := seen[m.Label]; ok {
			continue
		}
		seen[m.Label] = struct{}{}
		out = append(out, m.Label)
	}
	return out
}

// Redact replaces every detected secret with Placeholder.
func Redact(text string) string {
	matches := Find(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	cursor := 0
	for _, m := range matches {
		if m.End <= cursor {
			continue
		}
		// Overlaps extend the previous placeholder.
		if m.Start >= cursor {
			b.WriteString(text[cursor:m.Start])
			b.WriteString(Placeholder)
		}
		cursor = m.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// RedactAll applies Redact to each element.
func RedactAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = Redact(v)
	}
	return out
}

// luhn validates a card number candidate, ignoring spaces and dashes.
func luhn(candidate string) bool {
	var digits []int
	for _, r := range candidate {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
