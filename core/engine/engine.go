// Package engine exposes the public operations of the memory engine:
// encode, query, list, decay, consolidate, export/import, stats, and
// health. Each brain is an independent unit with its own store file;
// encodes serialize per brain while retrievals run in parallel under a
// bounded semaphore.
package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adalundhe/neuralmem/core/config"
	"github.com/adalundhe/neuralmem/core/consolidation"
	"github.com/adalundhe/neuralmem/core/dirs"
	"github.com/adalundhe/neuralmem/core/encoder"
	"github.com/adalundhe/neuralmem/core/extraction"
	"github.com/adalundhe/neuralmem/core/lifecycle"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/retrieval"
	"github.com/adalundhe/neuralmem/core/store"
)

// StoreOpener creates the store behind one brain. The default opens a
// SQLite file per brain under the data directory; tests inject the
// in-memory store.
type StoreOpener func(ctx context.Context, brainID string) (store.Store, error)

// TokenizerFactory creates the per-brain tokenizer. Language-specific
// tokenizers plug in here; the default is the regex tokenizer.
type TokenizerFactory func(brainID string) extraction.Tokenizer

// Engine is the public facade over every open brain.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	openStore StoreOpener
	newTok    TokenizerFactory
	queries   *semaphore.Weighted

	mu     sync.Mutex
	brains map[string]*brainHandle
}

// brainHandle bundles one brain's components. encodeMu serializes
// encodes; retrievals run concurrently against store snapshots.
type brainHandle struct {
	brain        *neural.Brain
	store        store.Store
	tok          extraction.Tokenizer
	encoder      *encoder.Encoder
	pipeline     *retrieval.Pipeline
	decay        *lifecycle.DecayManager
	consolidator *consolidation.Consolidator

	encodeMu  sync.Mutex
	healthMu  sync.Mutex
	unhealthy bool
	lastDecay time.Time
}

// Option customizes engine construction.
type Option func(*Engine)

// WithStoreOpener injects the store factory.
func WithStoreOpener(open StoreOpener) Option {
	return func(e *Engine) { e.openStore = open }
}

// WithTokenizerFactory injects per-brain tokenizers.
func WithTokenizerFactory(factory TokenizerFactory) Option {
	return func(e *Engine) { e.newTok = factory }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an engine with the given config. A nil config uses the
// defaults.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		queries: semaphore.NewWeighted(int64(cfg.Retrieval.MaxConcurrent)),
		brains:  make(map[string]*brainHandle),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.openStore == nil {
		e.openStore = e.defaultStoreOpener()
	}
	if e.newTok == nil {
		e.newTok = func(string) extraction.Tokenizer { return extraction.NewRegexTokenizer() }
	}
	return e, nil
}

// defaultStoreOpener puts one SQLite file per brain under the data
// directory, with the content index beside it.
func (e *Engine) defaultStoreOpener() StoreOpener {
	return func(ctx context.Context, brainID string) (store.Store, error) {
		dataDir := e.cfg.Store.DataDir
		if dataDir == "" {
			resolved, err := dirs.Resolve()
			if err != nil {
				return nil, err
			}
			dataDir = resolved.Data
		}
		path, err := dirs.BrainPath(dataDir, brainID)
		if err != nil {
			return nil, neuralerr.Invalid("open_brain", "brain id %q: %v", brainID, err)
		}

		var index *store.ContentIndex
		if e.cfg.Store.ContentIndex {
			var err error
			index, err = store.OpenContentIndex(filepath.Join(dataDir, "brains", brainID+".bleve"))
			if err != nil {
				e.logger.Warn("content index unavailable", "brain", brainID, "error", err)
			}
		}

		sqlite, err := store.Open(ctx, path, store.Options{
			Index:      index,
			Logger:     e.logger,
			MaxReaders: e.cfg.Store.MaxReaders,
		})
		if err != nil {
			return nil, err
		}
		return store.NewCachedStore(sqlite, e.cfg.Store.NeuronCacheSize)
	}
}

// OpenBrain opens (or creates) a brain by id. The name applies only on
// creation.
func (e *Engine) OpenBrain(ctx context.Context, brainID, name string) error {
	if brainID == "" {
		return neuralerr.Invalid("open_brain", "brain id is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, open := e.brains[brainID]; open {
		return nil
	}

	s, err := e.openStore(ctx, brainID)
	if err != nil {
		return neuralerr.Internal("open_brain", err)
	}

	brain, err := s.GetBrain(ctx)
	if err == store.ErrBrainNotFound {
		brain = neural.NewBrain(name, e.cfg.Brain)
		brain.ID = brainID
		if err := s.SaveBrain(ctx, brain); err != nil {
			s.Close()
			return neuralerr.Internal("open_brain", err)
		}
	} else if err != nil {
		s.Close()
		return neuralerr.Internal("open_brain", err)
	}

	tok := e.newTok(brainID)
	tags, err := encoder.NewTagTable(0)
	if err != nil {
		s.Close()
		return neuralerr.Internal("open_brain", err)
	}
	enc, err := encoder.New(s, brain.Config, tok, tags, e.logger)
	if err != nil {
		s.Close()
		return neuralerr.Internal("open_brain", err)
	}

	e.brains[brainID] = &brainHandle{
		brain:        brain,
		store:        s,
		tok:          tok,
		encoder:      enc,
		pipeline:     retrieval.New(s, brain.Config, tok, e.logger),
		decay:        lifecycle.NewDecayManager(s, brain.Config, e.logger),
		consolidator: consolidation.New(s, brain.Config, e.logger),
		lastDecay:    time.Now().UTC(),
	}
	return nil
}

func (e *Engine) handle(brainID string) (*brainHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.brains[brainID]
	if !ok {
		return nil, neuralerr.NotFound("engine", "brain %s is not open", brainID)
	}
	return h, nil
}

func (h *brainHandle) refuseIfUnhealthy(op string) error {
	h.healthMu.Lock()
	defer h.healthMu.Unlock()
	if h.unhealthy {
		return neuralerr.New(neuralerr.KindUnhealthy, op,
			"brain failed an integrity check; writes refused until recheck")
	}
	return nil
}

func (h *brainHandle) markUnhealthy() {
	h.healthMu.Lock()
	h.unhealthy = true
	h.healthMu.Unlock()
}

// Encode stores one memory. Encodes serialize per brain; the whole
// mutation commits in a single transaction.
func (e *Engine) Encode(ctx context.Context, brainID string, req encoder.EncodeRequest) (*encoder.EncodeResult, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	if err := h.refuseIfUnhealthy("encode"); err != nil {
		return nil, err
	}

	h.encodeMu.Lock()
	defer h.encodeMu.Unlock()

	var result *encoder.EncodeResult
	err = neuralerr.Retry(ctx, neuralerr.DefaultRetryPolicy(), func() error {
		var encodeErr error
		result, encodeErr = h.encoder.Encode(ctx, req)
		return encodeErr
	})
	if err != nil {
		return nil, err
	}

	if req.SessionID != "" {
		event := store.ActionEvent{
			SessionID:  req.SessionID,
			Action:     actionOf(req),
			Tags:       req.Tags,
			OccurredAt: time.Now().UTC(),
		}
		if err := h.store.AppendActionEvent(ctx, event); err != nil {
			e.logger.Warn("action event append failed", "brain", brainID, "error", err)
		}
	}
	return result, nil
}

// actionOf condenses an encode into its action-event label.
func actionOf(req encoder.EncodeRequest) string {
	content := req.Content
	if len(content) > 60 {
		content = content[:60]
	}
	return content
}

// Query runs one retrieval under the engine's concurrency bound.
func (e *Engine) Query(ctx context.Context, brainID string, req retrieval.QueryRequest) (*retrieval.RetrievalResult, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	if err := e.queries.Acquire(ctx, 1); err != nil {
		return nil, neuralerr.Busy("query", "retrieval pool saturated: %v", err)
	}
	defer e.queries.Release(1)
	return h.pipeline.Query(ctx, req)
}

// ListNeurons pages through a brain's neurons.
func (e *Engine) ListNeurons(ctx context.Context, brainID string, filter store.NeuronFilter) ([]*neural.Neuron, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	neurons, err := h.store.ListNeurons(ctx, filter)
	if err != nil {
		return nil, neuralerr.Internal("list_neurons", err)
	}
	return neurons, nil
}

// GetFiber fetches one fiber, nil-safe at the boundary.
func (e *Engine) GetFiber(ctx context.Context, brainID, fiberID string) (*neural.Fiber, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	f, err := h.store.GetFiber(ctx, fiberID)
	if err == store.ErrFiberNotFound {
		return nil, neuralerr.NotFound("get_fiber", "fiber %s", fiberID)
	}
	if err != nil {
		return nil, neuralerr.Internal("get_fiber", err)
	}
	return f, nil
}

// Decay runs the decay manager over the time elapsed since the last run.
func (e *Engine) Decay(ctx context.Context, brainID string, dryRun bool) (*lifecycle.DecayReport, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	h.healthMu.Lock()
	elapsed := now.Sub(h.lastDecay)
	h.healthMu.Unlock()
	report, err := h.decay.Run(ctx, elapsed, dryRun)
	if err != nil {
		return nil, neuralerr.Internal("decay", err)
	}
	if !dryRun {
		h.healthMu.Lock()
		h.lastDecay = now
		h.healthMu.Unlock()
	}
	return report, nil
}

// DecayFor runs decay over an explicit simulated window.
func (e *Engine) DecayFor(ctx context.Context, brainID string, elapsed time.Duration, dryRun bool) (*lifecycle.DecayReport, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	report, err := h.decay.Run(ctx, elapsed, dryRun)
	if err != nil {
		return nil, neuralerr.Internal("decay", err)
	}
	return report, nil
}

// Reinforce records one reinforcement on a fiber and applies any stage
// transition it unlocks.
func (e *Engine) Reinforce(ctx context.Context, brainID, fiberID string) error {
	h, err := e.handle(brainID)
	if err != nil {
		return err
	}
	if err := h.refuseIfUnhealthy("reinforce"); err != nil {
		return err
	}
	if err := h.decay.Reinforce(ctx, fiberID, time.Now().UTC()); err != nil {
		if err == store.ErrFiberNotFound {
			return neuralerr.NotFound("reinforce", "fiber %s", fiberID)
		}
		return neuralerr.Internal("reinforce", err)
	}
	return nil
}

// Consolidate runs one maintenance strategy.
func (e *Engine) Consolidate(ctx context.Context, brainID string, strategy consolidation.Strategy,
	dryRun bool, maxDuration time.Duration) (*consolidation.Report, error) {

	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if err := h.refuseIfUnhealthy("consolidate"); err != nil {
			return nil, err
		}
	}
	if maxDuration <= 0 {
		maxDuration = e.cfg.Consolidation.MaxDuration
	}
	opts := consolidation.Options{DryRun: dryRun, MaxDuration: maxDuration}
	report, err := h.consolidator.Run(ctx, strategy, opts, time.Now().UTC())
	if err != nil {
		if neuralerr.KindOf(err) != neuralerr.KindInternal {
			return nil, err
		}
		return nil, neuralerr.Internal("consolidate", err)
	}
	return report, nil
}

// Export assembles the brain's snapshot.
func (e *Engine) Export(ctx context.Context, brainID string, excludeSensitive bool) (*store.Snapshot, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	snap, err := store.Export(ctx, h.store, store.ExportOptions{ExcludeSensitive: excludeSensitive})
	if err != nil {
		return nil, neuralerr.Internal("export", err)
	}
	return snap, nil
}

// ExportChunks streams the snapshot as bounded chunks for large brains.
func (e *Engine) ExportChunks(ctx context.Context, brainID string, excludeSensitive bool) (func() (*store.SnapshotChunk, error), error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	next, err := store.ExportChunks(ctx, h.store, store.ExportOptions{ExcludeSensitive: excludeSensitive})
	if err != nil {
		return nil, neuralerr.Internal("export", err)
	}
	return next, nil
}

// Import merges a snapshot into the brain under the given strategy.
func (e *Engine) Import(ctx context.Context, brainID string, snap *store.Snapshot, strategy store.MergeStrategy) (*store.ImportReport, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	if err := h.refuseIfUnhealthy("import"); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, neuralerr.Invalid("import", "snapshot is nil")
	}
	switch strategy {
	case "", store.MergeSkipExisting, store.MergeOverwrite, store.MergeKeepBoth:
	default:
		return nil, neuralerr.Invalid("import", "unknown merge strategy %q", strategy)
	}

	h.encodeMu.Lock()
	defer h.encodeMu.Unlock()
	report, err := store.Import(ctx, h.store, snap, strategy)
	if err != nil {
		return nil, neuralerr.Internal("import", err)
	}
	return report, nil
}

// Stats summarizes the brain.
func (e *Engine) Stats(ctx context.Context, brainID string) (*store.Stats, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return nil, neuralerr.Internal("stats", err)
	}
	return stats, nil
}

// RecheckHealth re-runs the integrity inspection and clears the
// unhealthy flag when the brain passes.
func (e *Engine) RecheckHealth(ctx context.Context, brainID string) (*HealthReport, error) {
	report, err := e.Health(ctx, brainID)
	if err != nil {
		return nil, err
	}
	h, handleErr := e.handle(brainID)
	if handleErr != nil {
		return nil, handleErr
	}
	h.healthMu.Lock()
	h.unhealthy = report.Grade == "F"
	h.healthMu.Unlock()
	return report, nil
}

// CloseBrain closes one brain's store and tokenizer.
func (e *Engine) CloseBrain(brainID string) error {
	e.mu.Lock()
	h, ok := e.brains[brainID]
	delete(e.brains, brainID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if err := h.tok.Close(); err != nil {
		e.logger.Warn("tokenizer close failed", "brain", brainID, "error", err)
	}
	return h.store.Close()
}

// Close shuts down every open brain.
func (e *Engine) Close() error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.brains))
	for id := range e.brains {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := e.CloseBrain(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
