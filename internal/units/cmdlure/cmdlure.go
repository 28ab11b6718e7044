// Package cmdlure detects "paste this command" lures: emails that talk the
// reader into running a shell or PowerShell one-liner, usually via the Run
// dialog or a terminal.
//
// Candidate lines are parsed with mvdan.cc/sh so that pipes and argument
// positions are read structurally. Lines the parser rejects (much PowerShell)
// fall back to a token scan.
package cmdlure

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
)

// Rule identifiers.
const (
	RulePipeToShell       = "pipe_to_shell"
	RuleEncodedPowerShell = "encoded_powershell"
	RuleDownloadExecute   = "download_execute"
	RuleLOLBin            = "lolbin"
	RuleHiddenWindow      = "hidden_window"
	RuleRunDialogLure     = "run_dialog_lure"
)

var rulePenalties = map[string]float64{
	RulePipeToShell:       60,
	RuleEncodedPowerShell: 60,
	RuleDownloadExecute:   50,
	RuleLOLBin:            50,
	RuleHiddenWindow:      20,
	RuleRunDialogLure:     30,
}

var ruleWarnings = map[string]string{
	RulePipeToShell:       "Email contains a command that downloads a script and pipes it into a shell",
	RuleEncodedPowerShell: "Email contains an encoded PowerShell command",
	RuleDownloadExecute:   "Email contains a command that downloads and runs a program",
	RuleLOLBin:            "Email contains a command abusing a Windows system binary",
	RuleHiddenWindow:      "Email contains a command that hides its window",
	RuleRunDialogLure:     "Email tells you to paste something into the Run dialog or a terminal",
}

// ruleOrder fixes the order of warnings.
var ruleOrder = []string{
	RulePipeToShell, RuleEncodedPowerShell, RuleDownloadExecute,
	RuleLOLBin, RuleHiddenWindow, RuleRunDialogLure,
}

var (
	downloaders  = set("curl", "wget", "iwr", "irm", "invoke-webrequest", "invoke-restmethod", "fetch")
	interpreters = set("sh", "bash", "zsh", "dash", "ksh", "python", "python3", "perl", "ruby", "node", "iex", "invoke-expression", "powershell", "pwsh", "cmd")
	lolbins      = set("mshta", "rundll32", "regsvr32", "certutil", "bitsadmin", "wscript", "cscript", "msiexec", "installutil")
	powershells  = set("powershell", "pwsh")
)

var triggerPattern = regexp.MustCompile(`(?i)\b(powershell|pwsh|cmd(\.exe)?|mshta|rundll32|regsvr32|certutil|bitsadmin|msiexec|wscript|cscript|curl|wget|iwr|irm|iex|invoke-webrequest|invoke-restmethod|invoke-expression|bash|sh)\b`)

var lurePattern = regexp.MustCompile(`(?i)(\bwin(dows)?\s*(key)?\s*\+\s*r\b|\bpress\s+(ctrl|control)\s*\+\s*v\b|\bpaste\s+(it|this|the\s+(code|command|text))\s+(in|into)\s+(the\s+)?(run|terminal|powershell|command\s+prompt|verification\s+window))`)

var psDownloadCradle = regexp.MustCompile(`(?i)(iwr|irm|invoke-webrequest|invoke-restmethod|downloadstring|downloadfile|net\.webclient|start-bitstransfer)`)
var psInvoke = regexp.MustCompile(`(?i)(\biex\b|invoke-expression|start-process|\&\s*\()`)

// Candidates is the data extracted from a message body.
type Candidates struct {
	Commands []string
	Lure     bool
}

// Finding is one rule hit.
type Finding struct {
	Rule    string `json:"rule"`
	Command string `json:"command,omitempty"`
}

// Details is the opaque payload attached to the verdict.
type Details struct {
	Findings []Finding `json:"findings"`
}

// Unit implements engine.Unit for command lures.
type Unit struct{}

// New returns a command-lure unit.
func New() *Unit {
	return &Unit{}
}

// Extract collects lines that look like commands and whether the body uses
// Run-dialog instructions.
func (u *Unit) Extract(msg *message.Message) (any, bool) {
	text := msg.TextContent()
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	c := Candidates{Lure: lurePattern.MatchString(text)}
	for _, line := range strings.Split(text, "\n") {
		if cmd, ok := candidate(line); ok {
			c.Commands = append(c.Commands, cmd)
		}
	}
	if len(c.Commands) == 0 && !c.Lure {
		return nil, false
	}
	return c, true
}

var inlineCode = regexp.MustCompile("`([^`]+)`")

// candidate trims a line down to the command it contains, if any. Inline
// code spans win over the surrounding prose.
func candidate(line string) (string, bool) {
	line = strings.TrimSpace(line)
	for _, m := range inlineCode.FindAllStringSubmatch(line, -1) {
		if triggerPattern.MatchString(m[1]) {
			return strings.TrimSpace(m[1]), true
		}
	}
	loc := triggerPattern.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	// Keep a Windows path or opening quote in front of the binary name.
	start := loc[0]
	if i := strings.LastIndexAny(line[:start], " \t"); i+1 < start {
		start = i + 1
	}
	return unquote(strings.TrimSpace(line[start:])), true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// Evaluate runs every rule over every candidate command.
func (u *Unit) Evaluate(_ context.Context, data any) (engine.RawResult, error) {
	c, ok := data.(Candidates)
	if !ok {
		return engine.RawResult{}, fmt.Errorf("cmdlure: unexpected input %T", data)
	}

	var findings []Finding
	seen := make(map[string]bool)
	add := func(rule, cmd string) {
		if !seen[rule] {
			seen[rule] = true
			findings = append(findings, Finding{Rule: rule, Command: cmd})
		}
	}

	for _, cmd := range c.Commands {
		for _, rule := range inspect(cmd) {
			add(rule, cmd)
		}
	}
	if c.Lure {
		add(RuleRunDialogLure, "")
	}

	res := engine.RawResult{Score: 100, Details: Details{Findings: findings}}
	for _, rule := range ruleOrder {
		if seen[rule] {
			res.Score -= rulePenalties[rule]
			res.Warnings = append(res.Warnings, ruleWarnings[rule])
		}
	}
	if res.Score < 0 {
		res.Score = 0
	}
	if len(findings) > 0 {
		res.Recommendations = []string{"Never paste commands from an email into the Run dialog, a terminal, or PowerShell."}
	}
	return res, nil
}

// inspect returns the rules a single command line trips.
func inspect(cmd string) []string {
	file, err := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash)).
		Parse(strings.NewReader(cmd), "")
	if err != nil {
		return scanTokens(cmd)
	}

	var rules []string
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.BinaryCmd:
			left, right := edgeCall(n.X, true), edgeCall(n.Y, false)
			if left == nil || right == nil {
				return true
			}
			switch n.Op {
			case syntax.Pipe:
				if downloaders[exeName(callWords(left))] && interpreters[exeName(callWords(right))] {
					rules = append(rules, RulePipeToShell)
				}
			case syntax.AndStmt:
				if downloaders[exeName(callWords(left))] && executes(callWords(right)) {
					rules = append(rules, RuleDownloadExecute)
				}
			}
		case *syntax.CallExpr:
			rules = append(rules, callRules(callWords(n))...)
		}
		return true
	})
	return rules
}

// callRules checks a single command invocation.
func callRules(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	exe := exeName(words)
	var rules []string
	if lolbins[exe] {
		rules = append(rules, RuleLOLBin)
	}
	if powershells[exe] {
		args := words[1:]
		if encodedFlag(args) {
			rules = append(rules, RuleEncodedPowerShell)
		}
		if hiddenWindow(args) {
			rules = append(rules, RuleHiddenWindow)
		}
		joined := strings.Join(args, " ")
		if psDownloadCradle.MatchString(joined) && psInvoke.MatchString(joined) {
			rules = append(rules, RuleDownloadExecute)
		}
	}
	return rules
}

// scanTokens is the fallback for lines the shell parser rejects.
func scanTokens(cmd string) []string {
	var rules []string
	stages := strings.Split(cmd, "|")
	for i, stage := range stages {
		words := fields(stage)
		rules = append(rules, callRules(words)...)
		if i > 0 && downloaders[exeName(fields(stages[i-1]))] && interpreters[exeName(words)] {
			rules = append(rules, RulePipeToShell)
		}
	}
	return rules
}

func fields(s string) []string {
	raw := strings.Fields(s)
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if f = strings.Trim(f, "\"'();"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// edgeCall returns the last (or first) simple command of stmt.
func edgeCall(stmt *syntax.Stmt, last bool) *syntax.CallExpr {
	if stmt == nil {
		return nil
	}
	switch c := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		return c
	case *syntax.BinaryCmd:
		if last {
			return edgeCall(c.Y, true)
		}
		return edgeCall(c.X, false)
	case *syntax.Subshell:
		return edgeOf(c.Stmts, last)
	case *syntax.Block:
		return edgeOf(c.Stmts, last)
	}
	return nil
}

func edgeOf(stmts []*syntax.Stmt, last bool) *syntax.CallExpr {
	if len(stmts) == 0 {
		return nil
	}
	if last {
		return edgeCall(stmts[len(stmts)-1], true)
	}
	return edgeCall(stmts[0], false)
}

func callWords(call *syntax.CallExpr) []string {
	words := make([]string, 0, len(call.Args))
	for _, w := range call.Args {
		words = append(words, wordString(w))
	}
	return words
}

// wordString returns the literal value of w, or its printed form with
// surrounding quotes removed when it contains expansions.
func wordString(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var sb strings.Builder
	syntax.NewPrinter().Print(&sb, w)
	return strings.Trim(sb.String(), "\"'")
}

// exeName normalizes the first word: lower case, no directory, no .exe.
func exeName(words []string) string {
	if len(words) == 0 {
		return ""
	}
	exe := strings.ToLower(words[0])
	if i := strings.LastIndexAny(exe, `/\`); i >= 0 {
		exe = exe[i+1:]
	}
	return strings.TrimSuffix(exe, ".exe")
}

// executes reports whether a command runs something it was handed: a
// local ./program, an interpreter, or chmod +x.
func executes(words []string) bool {
	if len(words) == 0 {
		return false
	}
	exe := exeName(words)
	return strings.HasPrefix(words[0], "./") || interpreters[exe] || lolbins[exe] ||
		exe == "start" || exe == "start-process" ||
		(exe == "chmod" && len(words) > 1 && strings.Contains(words[1], "x"))
}

func encodedFlag(args []string) bool {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "/") {
			continue
		}
		flag := strings.ToLower(a[1:])
		// PowerShell accepts any unambiguous prefix of -EncodedCommand.
		if flag == "e" || flag == "ec" || (len(flag) >= 3 && strings.HasPrefix("encodedcommand", flag)) {
			return true
		}
	}
	return false
}

func hiddenWindow(args []string) bool {
	for i := 0; i < len(args)-1; i++ {
		flag := strings.ToLower(strings.TrimLeft(args[i], "-/"))
		if (flag == "w" || (len(flag) >= 2 && strings.HasPrefix("windowstyle", flag))) &&
			strings.EqualFold(args[i+1], "hidden") {
			return true
		}
	}
	return false
}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}
