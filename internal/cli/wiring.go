package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gzhole/mailshield/internal/config"
	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/units/cmdlure"
	"github.com/gzhole/mailshield/internal/units/links"
	"github.com/gzhole/mailshield/internal/units/sender"
	"github.com/gzhole/mailshield/internal/units/sensitive"
	"github.com/gzhole/mailshield/internal/units/tone"
)

// corePair is registered first; the content family is attached with one
// RegisterBatch call so the pair keeps its relative weights.
var corePair = []string{config.Sender, config.Links}

var contentFamily = []string{config.Tone, config.Sensitive, config.CmdLure}

// BuildRegistry wires the enabled analyzers from cfg into a registry.
func BuildRegistry(cfg *config.Config, logger *zap.Logger) (*engine.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var total float64
	for _, name := range cfg.EnabledAnalyzers() {
		total += cfg.Analyzers[name].Weight
	}

	var core []engine.Descriptor
	var coreTotal float64
	for _, name := range corePair {
		if ac := cfg.Analyzers[name]; ac.Enabled {
			core = append(core, descriptor(cfg, name, ac.Weight, logger))
			coreTotal += ac.Weight
		}
	}
	for i := range core {
		core[i].Weight /= coreTotal
	}

	reg, err := engine.NewRegistry(core...)
	if err != nil {
		return nil, err
	}

	var batch []engine.Descriptor
	for _, name := range contentFamily {
		if ac := cfg.Analyzers[name]; ac.Enabled {
			batch = append(batch, descriptor(cfg, name, ac.Weight/total, logger))
		}
	}
	if len(core) == 0 {
		// Nothing to rescale; the batch alone must carry the full weight.
		var batchTotal float64
		for _, d := range batch {
			batchTotal += d.Weight
		}
		for i := range batch {
			batch[i].Weight /= batchTotal
		}
	}
	if err := reg.RegisterBatch(batch); err != nil {
		return nil, err
	}
	return reg, nil
}

func descriptor(cfg *config.Config, name string, weight float64, logger *zap.Logger) engine.Descriptor {
	d := engine.Descriptor{
		Name:       name,
		Family:     engine.FamilyContent,
		Weight:     weight,
		Thresholds: cfg.Analyzers[name].Thresholds,
	}
	switch name {
	case config.Sender:
		d.Family = engine.FamilySender
		d.Unit = sender.New()
	case config.Links:
		d.Family = engine.FamilyLinks
		d.Unit = linkUnit(cfg, logger)
	case config.Tone:
		d.Unit = tone.New()
	case config.Sensitive:
		d.Unit = sensitive.New()
	case config.CmdLure:
		d.Unit = cmdlure.New()
	}
	return d
}

func linkUnit(cfg *config.Config, logger *zap.Logger) *links.Unit {
	checkers := []links.Checker{links.HeuristicChecker{}}
	if cfg.DNSBL.Enabled {
		checkers = append(checkers, links.NewDNSBLChecker(cfg.DNSBL.Zone))
	}
	u := links.New(logger.Named("links"), checkers...)
	u.Workers = cfg.LinkWorkers
	return u
}
