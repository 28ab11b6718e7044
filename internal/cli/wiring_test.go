package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/units/links"
)

func testConfig() *config.Config {
	return &config.Config{
		Timeout:     config.DefaultTimeout,
		LinkWorkers: 4,
		DNSBL:       config.DNSBLConfig{Enabled: false, Zone: config.DefaultDNSBLZone},
		Analyzers:   config.DefaultAnalyzers(),
	}
}

func TestBuildRegistry_Defaults(t *testing.T) {
	reg, err := BuildRegistry(testConfig(), nil)
	require.NoError(t, err)

	snap := reg.Snapshot()
	var names []string
	for _, d := range snap.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"sender", "links", "tone", "sensitive", "cmdlure"}, names)

	w := snap.Weights()
	assert.InDelta(t, 0.3, w["sender"], 1e-9)
	assert.InDelta(t, 0.3, w["links"], 1e-9)
	assert.InDelta(t, 0.2, w["tone"], 1e-9)
	assert.InDelta(t, 0.1, w["sensitive"], 1e-9)
	assert.InDelta(t, 0.1, w["cmdlure"], 1e-9)

	d, ok := snap.Lookup("links")
	require.True(t, ok)
	assert.Equal(t, engine.FamilyLinks, d.Family)
	assert.Equal(t, 70.0, d.Thresholds.Critical)
	lu, ok := d.Unit.(*links.Unit)
	require.True(t, ok)
	assert.Equal(t, 4, lu.Workers)
	assert.Len(t, lu.Checkers, 1, "dnsbl disabled")

	d, _ = snap.Lookup("tone")
	assert.Equal(t, engine.FamilyContent, d.Family)
}

func TestBuildRegistry_DNSBL(t *testing.T) {
	cfg := testConfig()
	cfg.DNSBL.Enabled = true
	reg, err := BuildRegistry(cfg, nil)
	require.NoError(t, err)

	d, _ := reg.Snapshot().Lookup("links")
	lu := d.Unit.(*links.Unit)
	require.Len(t, lu.Checkers, 2)
	assert.Equal(t, "dnsbl", lu.Checkers[1].Name())
}

func TestBuildRegistry_Subsets(t *testing.T) {
	disable := func(cfg *config.Config, names ...string) {
		for _, n := range names {
			a := cfg.Analyzers[n]
			a.Enabled = false
			cfg.Analyzers[n] = a
		}
	}
	setWeight := func(cfg *config.Config, name string, w float64) {
		a := cfg.Analyzers[name]
		a.Weight = w
		cfg.Analyzers[name] = a
	}

	t.Run("content only", func(t *testing.T) {
		cfg := testConfig()
		disable(cfg, config.Sender, config.Links)
		setWeight(cfg, config.Tone, 0.5)
		setWeight(cfg, config.Sensitive, 0.25)
		setWeight(cfg, config.CmdLure, 0.25)

		reg, err := BuildRegistry(cfg, nil)
		require.NoError(t, err)
		w := reg.Snapshot().Weights()
		assert.Len(t, w, 3)
		assert.InDelta(t, 0.5, w["tone"], 1e-9)
	})

	t.Run("core only", func(t *testing.T) {
		cfg := testConfig()
		disable(cfg, config.Tone, config.Sensitive, config.CmdLure)
		setWeight(cfg, config.Sender, 0.4)
		setWeight(cfg, config.Links, 0.6)

		reg, err := BuildRegistry(cfg, nil)
		require.NoError(t, err)
		w := reg.Snapshot().Weights()
		assert.InDelta(t, 0.4, w["sender"], 1e-9)
		assert.InDelta(t, 0.6, w["links"], 1e-9)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		setWeight(cfg, config.Tone, 0.9)
		_, err := BuildRegistry(cfg, nil)
		assert.Error(t, err)
	})
}
