package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gzhole/mailshield/internal/engine"
)

const (
	DefaultConfigDir  = ".mailshield"
	DefaultConfigFile = "config.yaml"
	DefaultLogFile    = "audit.jsonl"

	DefaultTimeout     = 10 * time.Second
	DefaultLinkWorkers = 10
	DefaultDNSBLZone   = "dbl.spamhaus.org"

	envLogLevel    = "MAILSHIELD_LOG_LEVEL"
	envTimeout     = "MAILSHIELD_TIMEOUT"
	envDNSBLZone   = "MAILSHIELD_DNSBL_ZONE"
	envLinkWorkers = "MAILSHIELD_LINK_WORKERS"
)

// weightTolerance matches the registry's weight-sum tolerance.
const weightTolerance = 0.01

// Analyzer names known to the default wiring.
const (
	Sender    = "sender"
	Links     = "links"
	Tone      = "tone"
	Sensitive = "sensitive"
	CmdLure   = "cmdlure"
)

type Config struct {
	ConfigDir  string
	ConfigPath string
	LogPath    string
	LogLevel   string

	// Timeout bounds each analyzer's Evaluate call. Zero disables it.
	Timeout     time.Duration
	LinkWorkers int
	DNSBL       DNSBLConfig
	Analyzers   map[string]AnalyzerConfig
}

// DNSBLConfig controls the blocklist link checker.
type DNSBLConfig struct {
	Enabled bool
	Zone    string
}

// AnalyzerConfig is the per-analyzer section of the config file.
type AnalyzerConfig struct {
	Enabled    bool              `yaml:"enabled"`
	Weight     float64           `yaml:"weight"`
	Thresholds engine.Thresholds `yaml:"thresholds"`
}

// DefaultAnalyzers returns the built-in analyzer set. The weights are the
// final ones after the content family is attached to the sender/links pair.
func DefaultAnalyzers() map[string]AnalyzerConfig {
	sender := engine.Thresholds{Moderate: 70, Severe: 50, Critical: 30}
	links := engine.Thresholds{Moderate: 70, Severe: 50, Critical: 70}
	content := engine.Thresholds{Moderate: 70, Severe: 50, Critical: 30}
	return map[string]AnalyzerConfig{
		Sender:    {Enabled: true, Weight: 0.3, Thresholds: sender},
		Links:     {Enabled: true, Weight: 0.3, Thresholds: links},
		Tone:      {Enabled: true, Weight: 0.2, Thresholds: content},
		Sensitive: {Enabled: true, Weight: 0.1, Thresholds: content},
		CmdLure:   {Enabled: true, Weight: 0.1, Thresholds: content},
	}
}

// Overrides carries values from CLI flags. Empty fields are ignored.
type Overrides struct {
	ConfigPath string
	LogPath    string
	LogLevel   string
	Timeout    time.Duration
	NoDNSBL    bool
}

type fileConfig struct {
	LogLevel    string                  `yaml:"log_level"`
	AuditLog    string                  `yaml:"audit_log"`
	Timeout     string                  `yaml:"timeout"`
	LinkWorkers *int                    `yaml:"link_workers"`
	DNSBL       *fileDNSBL              `yaml:"dnsbl"`
	Analyzers   map[string]fileAnalyzer `yaml:"analyzers"`
}

type fileDNSBL struct {
	Enabled *bool  `yaml:"enabled"`
	Zone    string `yaml:"zone"`
}

type fileAnalyzer struct {
	Enabled    *bool           `yaml:"enabled"`
	Weight     *float64        `yaml:"weight"`
	Thresholds *fileThresholds `yaml:"thresholds"`
}

type fileThresholds struct {
	Moderate *float64 `yaml:"moderate"`
	Severe   *float64 `yaml:"severe"`
	Critical *float64 `yaml:"critical"`
}

// Load resolves configuration from defaults, the YAML file, environment
// variables and finally flag overrides. A missing config file is not an
// error.
func Load(over Overrides) (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configDir := filepath.Join(homeDir, DefaultConfigDir)

	if err := ensureDir(configDir); err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigDir:   configDir,
		ConfigPath:  filepath.Join(configDir, DefaultConfigFile),
		LogPath:     filepath.Join(configDir, DefaultLogFile),
		LogLevel:    "info",
		Timeout:     DefaultTimeout,
		LinkWorkers: DefaultLinkWorkers,
		DNSBL:       DNSBLConfig{Enabled: true, Zone: DefaultDNSBLZone},
		Analyzers:   DefaultAnalyzers(),
	}
	if over.ConfigPath != "" {
		cfg.ConfigPath = over.ConfigPath
	}

	if err := cfg.applyFile(cfg.ConfigPath, over.ConfigPath != ""); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyOverrides(over)
	return cfg, nil
}

// applyFile merges the YAML file at path. A missing file is only an error
// when the path was given explicitly.
func (c *Config) applyFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if raw.LogLevel != "" {
		c.LogLevel = raw.LogLevel
	}
	if raw.AuditLog != "" {
		c.LogPath = raw.AuditLog
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parse config %s: timeout: %w", path, err)
		}
		c.Timeout = d
	}
	if raw.LinkWorkers != nil {
		c.LinkWorkers = *raw.LinkWorkers
	}
	if raw.DNSBL != nil {
		if raw.DNSBL.Enabled != nil {
			c.DNSBL.Enabled = *raw.DNSBL.Enabled
		}
		if raw.DNSBL.Zone != "" {
			c.DNSBL.Zone = raw.DNSBL.Zone
		}
	}
	for name, fa := range raw.Analyzers {
		ac, ok := c.Analyzers[name]
		if !ok {
			return fmt.Errorf("parse config %s: unknown analyzer %q", path, name)
		}
		if fa.Enabled != nil {
			ac.Enabled = *fa.Enabled
		}
		if fa.Weight != nil {
			ac.Weight = *fa.Weight
		}
		if t := fa.Thresholds; t != nil {
			setIf(&ac.Thresholds.Moderate, t.Moderate)
			setIf(&ac.Thresholds.Severe, t.Severe)
			setIf(&ac.Thresholds.Critical, t.Critical)
		}
		c.Analyzers[name] = ac
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(envTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envTimeout, err)
		}
		c.Timeout = d
	}
	if v := getenv(envDNSBLZone); v != "" {
		c.DNSBL.Zone = v
	}
	if v := getenv(envLinkWorkers); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", envLinkWorkers, err)
		}
		c.LinkWorkers = n
	}
	return nil
}

func (c *Config) applyOverrides(over Overrides) {
	if over.LogPath != "" {
		c.LogPath = over.LogPath
	}
	if over.LogLevel != "" {
		c.LogLevel = over.LogLevel
	}
	if over.Timeout > 0 {
		c.Timeout = over.Timeout
	}
	if over.NoDNSBL {
		c.DNSBL.Enabled = false
	}
}

// EnabledAnalyzers returns the names of enabled analyzers, sorted.
func (c *Config) EnabledAnalyzers() []string {
	var names []string
	for name, ac := range c.Analyzers {
		if ac.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative (got %s)", c.Timeout)
	}
	if c.LinkWorkers < 1 || c.LinkWorkers > 64 {
		return fmt.Errorf("link_workers must be between 1 and 64 (got %d)", c.LinkWorkers)
	}
	if c.DNSBL.Enabled && c.DNSBL.Zone == "" {
		return errors.New("dnsbl zone cannot be empty when dnsbl is enabled")
	}

	var total float64
	enabled := 0
	for _, name := range c.EnabledAnalyzers() {
		ac := c.Analyzers[name]
		if !(ac.Weight > 0 && ac.Weight <= 1) {
			return fmt.Errorf("analyzer %s: weight must be in (0, 1] (got %v)", name, ac.Weight)
		}
		if err := validateThresholds(ac.Thresholds); err != nil {
			return fmt.Errorf("analyzer %s: %w", name, err)
		}
		total += ac.Weight
		enabled++
	}
	if enabled == 0 {
		return errors.New("at least one analyzer must be enabled")
	}
	if math.Abs(total-1) > weightTolerance {
		return fmt.Errorf("enabled analyzer weights sum to %.3f, want 1.0", total)
	}
	return nil
}

func validateThresholds(t engine.Thresholds) error {
	for _, v := range []float64{t.Moderate, t.Severe, t.Critical} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("thresholds must be within [0, 100] (got %+v)", t)
		}
	}
	return nil
}

func setIf(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0700)
	}
	return nil
}
