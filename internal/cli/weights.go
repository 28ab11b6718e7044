package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/mailshield/internal/config"
)

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show the effective analyzer weights and thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.Overrides{})
		if err != nil {
			return err
		}
		reg, err := BuildRegistry(cfg, zap.NewNop())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-10s %-8s %7s %9s %7s %9s\n", "ANALYZER", "FAMILY", "WEIGHT", "MODERATE", "SEVERE", "CRITICAL")
		var total float64
		for _, d := range reg.Snapshot().Descriptors() {
			fmt.Fprintf(out, "%-10s %-8s %7.3f %9.0f %7.0f %9.0f\n",
				d.Name, d.Family, d.Weight, d.Thresholds.Moderate, d.Thresholds.Severe, d.Thresholds.Critical)
			total += d.Weight
		}
		fmt.Fprintf(out, "\nTotal weight: %.3f\n", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(weightsCmd)
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive (got %s)", d)
	}
	return d, nil
}
