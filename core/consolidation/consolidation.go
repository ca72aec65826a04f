// Package consolidation runs the slow maintenance strategies over a
// brain: pruning, merging, summarizing, maturation, co-activation
// inference, enrichment, dreaming, and habit mining. Every strategy
// supports dry-run and an explicit duration budget, aborting gracefully
// at the next safe boundary.
package consolidation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/adalundhe/neuralmem/core/lifecycle"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

// Strategy names one consolidation pass.
type Strategy string

const (
	StrategyPrune       Strategy = "prune"
	StrategyMerge       Strategy = "merge"
	StrategySummarize   Strategy = "summarize"
	StrategyMature      Strategy = "mature"
	StrategyInfer       Strategy = "infer"
	StrategyEnrich      Strategy = "enrich"
	StrategyDream       Strategy = "dream"
	StrategyLearnHabits Strategy = "learn_habits"
)

// Strategies lists every known strategy in dispatch order.
var Strategies = []Strategy{
	StrategyPrune, StrategyMerge, StrategySummarize, StrategyMature,
	StrategyInfer, StrategyEnrich, StrategyDream, StrategyLearnHabits,
}

// IsValid reports whether the strategy is known.
func (s Strategy) IsValid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// Report is the outcome of one strategy run.
type Report struct {
	Strategy Strategy       `json:"strategy"`
	DryRun   bool           `json:"dry_run"`
	Counts   map[string]int `json:"counts"`
	Duration time.Duration  `json:"duration"`
	// Aborted marks a run stopped by its duration budget; counts cover
	// the work completed before the boundary.
	Aborted bool `json:"aborted"`
}

func newReport(strategy Strategy, dryRun bool) *Report {
	return &Report{Strategy: strategy, DryRun: dryRun, Counts: make(map[string]int)}
}

// Options tune one consolidation run.
type Options struct {
	DryRun bool
	// MaxDuration bounds the run; zero means no budget.
	MaxDuration time.Duration
	// Seed drives the DREAM sampler; zero seeds from the clock.
	Seed int64
}

// Consolidator dispatches strategies over one brain.
type Consolidator struct {
	store  store.Store
	cfg    neural.BrainConfig
	decay  *lifecycle.DecayManager
	logger *slog.Logger
}

// New builds a consolidator over the store.
func New(s store.Store, cfg neural.BrainConfig, logger *slog.Logger) *Consolidator {
	cfg.Normalize()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consolidator{
		store:  s,
		cfg:    cfg,
		decay:  lifecycle.NewDecayManager(s, cfg, logger),
		logger: logger,
	}
}

// Run executes one strategy under the options' budget.
func (c *Consolidator) Run(ctx context.Context, strategy Strategy, opts Options, now time.Time) (*Report, error) {
	if !strategy.IsValid() {
		return nil, neuralerr.Invalid("consolidate", "unknown strategy %q", strategy)
	}

	runCtx := ctx
	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}

	started := time.Now()
	report := newReport(strategy, opts.DryRun)
	var err error
	switch strategy {
	case StrategyPrune:
		err = c.prune(runCtx, report, opts.DryRun)
	case StrategyMerge:
		err = c.merge(runCtx, report, opts.DryRun)
	case StrategySummarize:
		err = c.summarize(runCtx, report, opts.DryRun, now)
	case StrategyMature:
		err = c.mature(runCtx, report, opts.DryRun, now)
	case StrategyInfer:
		err = c.infer(runCtx, report, opts.DryRun, now)
	case StrategyEnrich:
		err = c.enrich(runCtx, report, opts.DryRun)
	case StrategyDream:
		seed := opts.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		err = c.dream(runCtx, report, opts.DryRun, rand.New(rand.NewSource(seed)), now)
	case StrategyLearnHabits:
		err = c.learnHabits(runCtx, report, opts.DryRun, now)
	}
	report.Duration = time.Since(started)

	// The duration budget expiring is a graceful abort, not a failure —
	// unless the caller's own context died.
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			report.Aborted = true
			return report, nil
		}
		return nil, err
	}
	return report, nil
}
