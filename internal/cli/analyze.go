package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/logger"
	"github.com/gzhole/mailshield/internal/message"
)

var (
	analyzeFormat  string
	analyzeNoDNSBL bool
	analyzeTimeout string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Score a message and print the verdict",
	Long: `Read a JSON-encoded message from a file, or from stdin when no file is
given, run every enabled analyzer and print the verdict.

The message format is:
  {"headers": {"From": "...", "Subject": "..."},
   "body": {"text": "...", "html": "..."},
   "links": [{"url": "...", "text": "..."}]}

Examples:
  mailshield analyze message.json
  mailshield analyze --format text --no-dnsbl < message.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: analyzeCommand,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeFormat, "format", "json", "Output format: json or text")
	analyzeCmd.Flags().BoolVar(&analyzeNoDNSBL, "no-dnsbl", false, "Skip blocklist lookups for links")
	analyzeCmd.Flags().StringVar(&analyzeTimeout, "timeout", "", "Per-analyzer timeout, e.g. 5s (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeCommand(cmd *cobra.Command, args []string) error {
	if analyzeFormat != "json" && analyzeFormat != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", analyzeFormat)
	}

	over := config.Overrides{NoDNSBL: analyzeNoDNSBL}
	if analyzeTimeout != "" {
		d, err := parsePositiveDuration(analyzeTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout: %w", err)
		}
		over.Timeout = d
	}
	cfg, err := loadConfig(over)
	if err != nil {
		return err
	}

	msg, err := readMessage(cmd, args)
	if err != nil {
		return err
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lg.Sync() }()

	reg, err := BuildRegistry(cfg, lg)
	if err != nil {
		return err
	}

	auditLogger, err := logger.NewAuditLogger(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer auditLogger.Close()

	eng := engine.New(reg, engine.Options{
		Timeout: cfg.Timeout,
		Logger:  lg,
		Auditor: auditLogger,
	})
	v := eng.Analyze(cmd.Context(), msg)

	lg.Debug("analyzed message", zap.String("id", v.ID), zap.Float64("score", v.Score))

	out := cmd.OutOrStdout()
	if analyzeFormat == "text" {
		printVerdict(out, v)
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readMessage loads the message from the file argument or from stdin.
// An interactive stdin is rejected rather than blocking on it.
func readMessage(cmd *cobra.Command, args []string) (*message.Message, error) {
	if len(args) == 1 {
		msg, err := message.Load(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		return msg, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, errors.New("no input: pass a message file or pipe a message on stdin")
	}
	msg, err := message.Decode(in)
	if errors.Is(err, io.EOF) {
		return nil, errors.New("no input: stdin was empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return msg, nil
}

func printVerdict(w io.Writer, v engine.Verdict) {
	fmt.Fprintf(w, "Trust score: %.1f / 100\n", v.Score)
	if len(v.CriticalConcerns) > 0 {
		fmt.Fprintf(w, "Critical:    %s\n", strings.Join(v.CriticalConcerns, ", "))
	}

	names := make([]string, 0, len(v.PerAnalyzer))
	for name := range v.PerAnalyzer {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		fmt.Fprintln(w, "\nAnalyzers:")
		for _, name := range names {
			p := v.PerAnalyzer[name]
			mark := ""
			if p.Critical {
				mark = "  critical"
			}
			fmt.Fprintf(w, "  %-10s %5.1f%s\n", name, p.Score, mark)
		}
	}

	if len(v.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range v.Warnings {
			fmt.Fprintf(w, "  - %s\n", strings.ReplaceAll(warn, "\n", "\n    "))
		}
	}
	if len(v.Recommendations) > 0 {
		fmt.Fprintln(w, "\nRecommendations:")
		for _, r := range v.Recommendations {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
}
