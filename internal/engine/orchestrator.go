package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/mailshield/internal/message"
)

// RunResult is the partial result set of one orchestration pass.
// Analyzers that had nothing to extract or that failed are absent from
// Results; failures are reported in Warnings.
type RunResult struct {
	Results  map[string]RawResult
	Warnings []string
	Timings  map[string]time.Duration
}

// Orchestrator runs analyzer units concurrently against one message.
type Orchestrator struct {
	// Timeout bounds each unit's Evaluate call. Zero means no deadline
	// beyond the caller's context.
	Timeout  time.Duration
	Logger   *zap.Logger
	Observer Observer
}

// NewOrchestrator returns an orchestrator with a per-unit timeout.
func NewOrchestrator(timeout time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{Timeout: timeout, Logger: logger}
}

// Run executes every descriptor of snap and waits for all of them to settle.
// It never fails: per-unit errors, panics and timeouts become warnings of the
// form "Analyzer error (<name>): <cause>".
func (o *Orchestrator) Run(ctx context.Context, msg *message.Message, snap Snapshot) RunResult {
	descs := snap.Descriptors()
	out := RunResult{
		Results: make(map[string]RawResult, len(descs)),
		Timings: make(map[string]time.Duration, len(descs)),
	}
	if len(descs) == 0 {
		return out
	}

	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var mu sync.Mutex
	failures := make(map[string]string)

	// Plain Group: a failing unit must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(len(descs))

	for _, d := range descs {
		g.Go(func() error {
			start := time.Now()
			res, ok, err := o.runOne(ctx, d, msg)
			elapsed := time.Since(start)

			outcome := OutcomeScored
			switch {
			case err != nil:
				outcome = OutcomeFailed
			case !ok:
				outcome = OutcomeSkipped
			}

			mu.Lock()
			out.Timings[d.Name] = elapsed
			switch outcome {
			case OutcomeScored:
				out.Results[d.Name] = res
			case OutcomeFailed:
				failures[d.Name] = fmt.Sprintf("Analyzer error (%s): %v", d.Name, err)
			}
			mu.Unlock()

			if err != nil {
				logger.Warn("analyzer failed",
					zap.String("analyzer", d.Name),
					zap.Duration("elapsed", elapsed),
					zap.Error(err))
			}
			if o.Observer != nil {
				o.Observer.ObserveAnalyzer(d.Name, elapsed, outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Emit failure warnings in snapshot order so verdicts are reproducible.
	for _, d := range descs {
		if w, ok := failures[d.Name]; ok {
			out.Warnings = append(out.Warnings, w)
		}
	}
	return out
}

// runOne extracts and evaluates a single unit. ok=false with a nil error
// means the unit had nothing to analyze.
func (o *Orchestrator) runOne(ctx context.Context, d Descriptor, msg *message.Message) (res RawResult, ok bool, err error) {
	data, ok, err := safeExtract(d.Unit, msg)
	if err != nil || !ok {
		return RawResult{}, false, err
	}

	evalCtx := ctx
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	res, err = evaluateWithDeadline(evalCtx, d.Unit, data)
	if err != nil {
		return RawResult{}, false, err
	}
	if err := validateResult(res); err != nil {
		return RawResult{}, false, err
	}
	return res, true, nil
}

var errTimedOut = errors.New("timed out")

type evalOutcome struct {
	res RawResult
	err error
}

// evaluateWithDeadline calls Evaluate in its own goroutine so a unit that
// ignores ctx still counts as failed once the deadline passes.
func evaluateWithDeadline(ctx context.Context, u Unit, data any) (RawResult, error) {
	done := make(chan evalOutcome, 1)
	go func() {
		res, err := safeEvaluate(ctx, u, data)
		done <- evalOutcome{res: res, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return RawResult{}, errTimedOut
		}
		return r.res, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return RawResult{}, errTimedOut
		}
		return RawResult{}, ctx.Err()
	}
}

func safeExtract(u Unit, msg *message.Message) (data any, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, ok, err = nil, false, fmt.Errorf("extract panicked: %v", r)
		}
	}()
	data, ok = u.Extract(msg)
	return data, ok, nil
}

func safeEvaluate(ctx context.Context, u Unit, data any) (res RawResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = RawResult{}, fmt.Errorf("evaluate panicked: %v", r)
		}
	}()
	return u.Evaluate(ctx, data)
}

func validateResult(res RawResult) error {
	if math.IsNaN(res.Score) || math.IsInf(res.Score, 0) {
		return fmt.Errorf("malformed result: non-finite score")
	}
	if res.Score < 0 || res.Score > 100 {
		return fmt.Errorf("malformed result: score %v outside 0-100", res.Score)
	}
	return nil
}
