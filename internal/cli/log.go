package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/logger"
)

var (
	logFilterCritical bool
	logFilterBelow    float64
	logLast           int
	logSummary        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the verdict audit log",
	Long: `View the MailShield audit log with filtering and summary options.

Examples:
  mailshield log                        # Show all verdicts
  mailshield log --last 20              # Show last 20 verdicts
  mailshield log --critical             # Show only verdicts with critical concerns
  mailshield log --below 50             # Show only verdicts scoring under 50
  mailshield log --summary              # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().BoolVar(&logFilterCritical, "critical", false, "Show only verdicts with critical concerns")
	logCmd.Flags().Float64Var(&logFilterBelow, "below", 0, "Show only verdicts scoring below this value")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.Overrides{})
	if err != nil {
		return err
	}

	events, err := readAuditLog(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events)

	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, events)
		return nil
	}

	printEvents(out, filtered)
	return nil
}

func readAuditLog(path string) ([]logger.AuditEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []logger.AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event logger.AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func filterEvents(events []logger.AuditEvent) []logger.AuditEvent {
	if !logFilterCritical && logFilterBelow <= 0 {
		return events
	}

	var filtered []logger.AuditEvent
	for _, e := range events {
		if logFilterCritical && len(e.CriticalConcerns) == 0 {
			continue
		}
		if logFilterBelow > 0 && e.Score >= logFilterBelow {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, events []logger.AuditEvent) {
	for _, e := range events {
		critical := ""
		if len(e.CriticalConcerns) > 0 {
			critical = " [CRITICAL: " + strings.Join(e.CriticalConcerns, ", ") + "]"
		}

		fmt.Fprintf(w, "%5.1f %s %s%s\n", e.Score, formatTimestamp(e.Timestamp), e.Subject, critical)
		if e.Sender != "" {
			fmt.Fprintf(w, "      From: %s\n", e.Sender)
		}
		for _, warn := range e.Warnings {
			fmt.Fprintf(w, "      Warning: %s\n", strings.ReplaceAll(warn, "\n", " "))
		}
		if e.Error != "" {
			fmt.Fprintf(w, "      Error: %s\n", e.Error)
		}
		fmt.Fprintf(w, "      ID: %s\n\n", e.VerdictID)
	}
}

func printSummary(w io.Writer, all []logger.AuditEvent) {
	var low, critical int
	var total float64
	byAnalyzer := map[string]int{}

	for _, e := range all {
		total += e.Score
		if e.Score < engine.ReportThreshold {
			low++
		}
		if len(e.CriticalConcerns) > 0 {
			critical++
		}
		for _, name := range e.CriticalConcerns {
			byAnalyzer[name]++
		}
	}

	fmt.Fprintln(w, "MailShield Audit Summary")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "  Total verdicts:   %d\n", len(all))
	fmt.Fprintf(w, "  Average score:    %.1f\n", total/float64(len(all)))
	fmt.Fprintf(w, "  Below %.0f:         %d\n", engine.ReportThreshold, low)
	fmt.Fprintf(w, "  With critical:    %d\n", critical)
	fmt.Fprintf(w, "  First verdict:    %s\n", formatTimestamp(all[0].Timestamp))
	fmt.Fprintf(w, "  Last verdict:     %s\n", formatTimestamp(all[len(all)-1].Timestamp))

	if len(byAnalyzer) > 0 {
		fmt.Fprintln(w, "\n  Critical concerns by analyzer:")
		for _, name := range []string{config.Sender, config.Links, config.Tone, config.Sensitive, config.CmdLure} {
			if n := byAnalyzer[name]; n > 0 {
				fmt.Fprintf(w, "    %-10s %d\n", name, n)
			}
		}
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
