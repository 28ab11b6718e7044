// Package links scores the URLs an email points to.
package links

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/mailshield/internal/engine"
	"github.com/gzhole/mailshield/internal/message"
)

const (
	// DefaultWorkers bounds concurrent link checks.
	DefaultWorkers = 10

	// A link is unsafe at or below this score.
	unsafeAtOrBelow = 50
)

// Result is the verdict for one link.
type Result struct {
	URL     string   `json:"url"`
	Domain  string   `json:"domain,omitempty"`
	Type    string   `json:"type,omitempty"`
	Score   float64  `json:"score"`
	Safe    bool     `json:"safe"`
	Threats []string `json:"threats,omitempty"`
}

// Details is the opaque payload attached to the verdict.
type Details struct {
	Links []Result `json:"links"`
}

// Unit implements engine.Unit for link safety.
type Unit struct {
	Checkers []Checker
	Workers  int
	Logger   *zap.Logger
}

// New returns a link unit running checkers. A nil logger disables logging.
func New(logger *zap.Logger, checkers ...Checker) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unit{Checkers: checkers, Workers: DefaultWorkers, Logger: logger}
}

// Extract returns the message's links: the parsed list when present,
// otherwise the links found in the HTML body.
func (u *Unit) Extract(msg *message.Message) (any, bool) {
	var found []message.Link
	if len(msg.Links) > 0 {
		for _, l := range msg.Links {
			if norm, ok := normalize(l.URL); ok {
				l.URL = norm
				if l.Domain == "" {
					l.Domain = hostOf(norm)
				}
				if l.Type == "" {
					l.Type = TypeExplicit
				}
				found = append(found, l)
			}
		}
	} else if msg.Body.HTML != "" {
		found = Extract(msg.Body.HTML)
	}
	if len(found) == 0 {
		return nil, false
	}
	return found, true
}

// Evaluate checks every link and scores the message by its worst link.
func (u *Unit) Evaluate(ctx context.Context, data any) (engine.RawResult, error) {
	found, ok := data.([]message.Link)
	if !ok {
		return engine.RawResult{}, fmt.Errorf("links: unexpected input %T", data)
	}

	results := make([]Result, len(found))

	workers := u.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, link := range found {
		g.Go(func() error {
			results[i] = u.checkLink(gctx, link)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return engine.RawResult{}, err
	}

	res := engine.RawResult{Score: 100, Details: Details{Links: results}}
	var unsafe []string
	for _, r := range results {
		if r.Score < res.Score {
			res.Score = r.Score
		}
		if !r.Safe {
			unsafe = append(unsafe, r.URL)
		}
	}
	if len(unsafe) > 0 {
		res.Warnings = []string{"suspicious link(s):\n- " + strings.Join(unsafe, "\n- ")}
	}
	return res, nil
}

// checkLink runs every checker and keeps the lowest score.
func (u *Unit) checkLink(ctx context.Context, link message.Link) Result {
	r := Result{URL: link.URL, Domain: link.Domain, Type: link.Type, Score: 100}
	for _, c := range u.Checkers {
		f, err := c.Check(ctx, link)
		if err != nil {
			u.logger().Warn("link check failed",
				zap.String("checker", c.Name()),
				zap.String("url", link.URL),
				zap.Error(err))
			continue
		}
		if f.Score < r.Score {
			r.Score = f.Score
		}
		r.Threats = append(r.Threats, f.Threats...)
	}
	r.Safe = r.Score > unsafeAtOrBelow
	return r
}

func (u *Unit) logger() *zap.Logger {
	if u.Logger == nil {
		return zap.NewNop()
	}
	return u.Logger
}
