package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/logger"
)

var (
	configPath string
	logPath    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "mailshield",
	Short: "MailShield - Trust scoring for inbound email",
	Long: `MailShield scores inbound email by running independent analyzers
(sender trust, link safety, tone, sensitive content, command lures)
concurrently and combining their results into one 0-100 trust score with
warnings and recommendations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.mailshield/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "Path to audit log file (default: ~/.mailshield/audit.jsonl)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration with the persistent flags plus extra
// command-specific overrides.
func loadConfig(over config.Overrides) (*config.Config, error) {
	over.ConfigPath = configPath
	over.LogPath = logPath
	over.LogLevel = logLevel
	cfg, err := config.Load(over)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return lg, nil
}
