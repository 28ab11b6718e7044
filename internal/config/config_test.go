package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConfigDir != filepath.Join(home, DefaultConfigDir) {
		t.Errorf("unexpected config dir %q", cfg.ConfigDir)
	}
	if info, err := os.Stat(cfg.ConfigDir); err != nil || info.Mode().Perm() != 0700 {
		t.Errorf("expected config dir created with 0700, got %v, %v", info, err)
	}
	if cfg.Timeout != DefaultTimeout || cfg.LinkWorkers != DefaultLinkWorkers {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.DNSBL.Enabled || cfg.DNSBL.Zone != DefaultDNSBLZone {
		t.Errorf("unexpected dnsbl defaults: %+v", cfg.DNSBL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if got := strings.Join(cfg.EnabledAnalyzers(), ","); got != "cmdlure,links,sender,sensitive,tone" {
		t.Errorf("unexpected enabled analyzers %q", got)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeFile(t, home, `
log_level: debug
timeout: 3s
link_workers: 4
dnsbl:
  zone: dbl.example.org
analyzers:
  links:
    thresholds:
      critical: 60
  cmdlure:
    enabled: false
  tone:
    weight: 0.3
`)
	t.Setenv("MAILSHIELD_LINK_WORKERS", "8")
	t.Setenv("MAILSHIELD_LOG_LEVEL", "warn")

	cfg, err := Load(Overrides{ConfigPath: path, LogLevel: "error", NoDNSBL: true})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Timeout != 3*time.Second {
		t.Errorf("expected timeout from file, got %s", cfg.Timeout)
	}
	if cfg.LinkWorkers != 8 {
		t.Errorf("expected env to override file, got %d", cfg.LinkWorkers)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected flag to override env, got %q", cfg.LogLevel)
	}
	if cfg.DNSBL.Enabled || cfg.DNSBL.Zone != "dbl.example.org" {
		t.Errorf("unexpected dnsbl %+v", cfg.DNSBL)
	}

	links := cfg.Analyzers[Links]
	if links.Thresholds.Critical != 60 || links.Thresholds.Moderate != 70 {
		t.Errorf("expected partial threshold merge, got %+v", links.Thresholds)
	}
	if cfg.Analyzers[CmdLure].Enabled {
		t.Error("expected cmdlure disabled")
	}
	// sender .3 + links .3 + tone .3 + sensitive .1
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	if _, err := Load(Overrides{ConfigPath: filepath.Join(home, "missing.yaml")}); err == nil {
		t.Error("expected error for explicit missing config file")
	}

	path := writeFile(t, home, "analyzers:\n  bogus:\n    weight: 1\n")
	if _, err := Load(Overrides{ConfigPath: path}); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("expected unknown analyzer error, got %v", err)
	}

	t.Setenv("MAILSHIELD_TIMEOUT", "soon")
	if _, err := Load(Overrides{}); err == nil {
		t.Error("expected error for malformed MAILSHIELD_TIMEOUT")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Timeout:     time.Second,
			LinkWorkers: 10,
			DNSBL:       DNSBLConfig{Enabled: true, Zone: DefaultDNSBLZone},
			Analyzers:   DefaultAnalyzers(),
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		errSub string
	}{
		{"weights do not sum", func(c *Config) {
			a := c.Analyzers[Tone]
			a.Weight = 0.5
			c.Analyzers[Tone] = a
		}, "sum"},
		{"zero weight", func(c *Config) {
			a := c.Analyzers[Tone]
			a.Weight = 0
			c.Analyzers[Tone] = a
		}, "weight"},
		{"threshold out of range", func(c *Config) {
			a := c.Analyzers[Sender]
			a.Thresholds.Critical = 120
			c.Analyzers[Sender] = a
		}, "thresholds"},
		{"no analyzers", func(c *Config) {
			for name, a := range c.Analyzers {
				a.Enabled = false
				c.Analyzers[name] = a
			}
		}, "at least one"},
		{"workers", func(c *Config) { c.LinkWorkers = 0 }, "link_workers"},
		{"empty zone", func(c *Config) { c.DNSBL.Zone = "" }, "zone"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.errSub)
			}
		})
	}
}
