package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gzhole/mailshield/internal/message"
)

// Auditor persists verdicts. Failures are logged, never returned to callers.
type Auditor interface {
	Record(msg *message.Message, v Verdict) error
}

// Options configures an Engine. Zero values are usable.
type Options struct {
	Timeout  time.Duration // per-unit Evaluate deadline
	Logger   *zap.Logger
	Observer Observer
	Auditor  Auditor
	Profiles map[Family]FamilyProfile
}

// Engine ties the registry, orchestrator, aggregator and report builder
// together.
type Engine struct {
	registry     *Registry
	orchestrator *Orchestrator
	logger       *zap.Logger
	observer     Observer
	auditor      Auditor
	profiles     map[Family]FamilyProfile
	now          func() time.Time
}

// New creates an engine over reg.
func New(reg *Registry, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	orch := NewOrchestrator(opts.Timeout, logger)
	orch.Observer = opts.Observer
	return &Engine{
		registry:     reg,
		orchestrator: orch,
		logger:       logger,
		observer:     opts.Observer,
		auditor:      opts.Auditor,
		profiles:     profiles,
		now:          time.Now,
	}
}

// Registry returns the engine's registry (for hot reload and inspection).
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Analyze scores msg with every registered analyzer. It always returns a
// complete verdict; per-analyzer failures show up as warnings.
func (e *Engine) Analyze(ctx context.Context, msg *message.Message) Verdict {
	if msg == nil {
		msg = &message.Message{}
	}

	snap := e.registry.Snapshot()
	run := e.orchestrator.Run(ctx, msg, snap)
	agg := Aggregate(run.Results, snap)

	v := BuildVerdict(snap, run, agg, e.profiles)
	v.ID = uuid.NewString()
	v.AnalyzedAt = e.now().UTC()

	e.logger.Debug("verdict",
		zap.String("id", v.ID),
		zap.Float64("score", v.Score),
		zap.Int("analyzers", len(v.PerAnalyzer)),
		zap.Strings("critical", v.CriticalConcerns),
		zap.Int("warnings", len(v.Warnings)))

	if e.observer != nil {
		e.observer.ObserveVerdict(v)
	}
	if e.auditor != nil {
		if err := e.auditor.Record(msg, v); err != nil {
			e.logger.Warn("audit write failed", zap.String("id", v.ID), zap.Error(err))
		}
	}
	return v
}
