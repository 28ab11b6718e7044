package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/logger"
	"github.com/gzhole/mailshield/internal/metrics"
	"github.com/gzhole/mailshield/internal/server"
)

var (
	serveAddr    string
	serveNoDNSBL bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analyzer over HTTP",
	Long: `Start an HTTP server exposing:

  POST /v1/analyze   score a JSON-encoded message, respond with the verdict
  GET  /healthz      liveness probe
  GET  /metrics      Prometheus metrics`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8025", "Listen address")
	serveCmd.Flags().BoolVar(&serveNoDNSBL, "no-dnsbl", false, "Skip blocklist lookups for links")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(config.Overrides{NoDNSBL: serveNoDNSBL})
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

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.NewRecorder(promReg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	auditLogger, err := logger.NewAuditLogger(cfg.LogPath)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer auditLogger.Close()

	eng := engine.New(reg, engine.Options{
		Timeout:  cfg.Timeout,
		Logger:   lg,
		Observer: recorder,
		Auditor:  auditLogger,
	})

	mux := http.NewServeMux()
	server.RegisterRoutes(mux, eng, promReg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lg.Info("starting server",
		zap.Strings("analyzers", cfg.EnabledAnalyzers()),
		zap.Bool("dnsbl", cfg.DNSBL.Enabled))
	return server.Run(ctx, serveAddr, server.Logging(lg)(mux), lg)
}
