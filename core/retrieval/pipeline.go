// Package retrieval orchestrates one query against a brain: parse the
// query into anchors, run hybrid activation, stabilize and inhibit the
// field, reconstruct an answer, and collect the Hebbian and conductivity
// writes into one batch. The batch is flushed synchronously, in one
// transaction, before Query returns the result.
package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/activation"
	"github.com/adalundhe/neuralmem/core/extraction"
	"github.com/adalundhe/neuralmem/core/learning"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

// DefaultTimeout is the soft wall-clock limit on one retrieval. If it
// expires during activation, the pipeline returns an empty result flagged
// partial; activation gathered before the deadline is not returned.
const DefaultTimeout = 5 * time.Second

// ConductivityBumpDelta is added to a traversed fiber's conductivity.
const ConductivityBumpDelta = 0.02

// Score penalties for conflicted knowledge.
const (
	disputedPenalty   = 0.5
	supersededPenalty = 0.25
)

// WorkflowTag marks fibers holding mined workflow templates.
const WorkflowTag = "workflow"

// QueryRequest is one retrieval.
type QueryRequest struct {
	Query string
	// Depth is the spread depth 0-3; nil classifies from query shape.
	Depth     *int
	MaxTokens int
	ValidAt   *time.Time
}

// RetrievalResult is the synthesized answer with its provenance.
type RetrievalResult struct {
	Answer              string          `json:"answer"`
	Context             []string        `json:"context,omitempty"`
	Confidence          float64         `json:"confidence"`
	NeuronsActivated    int             `json:"neurons_activated"`
	FibersMatched       int             `json:"fibers_matched"`
	CoActivations       int             `json:"co_activations"`
	SynthesisMethod     SynthesisMethod `json:"synthesis_method"`
	ScoreBreakdown      ScoreBreakdown  `json:"score_breakdown"`
	WorkflowSuggestions []string        `json:"workflow_suggestions,omitempty"`
	Partial             bool            `json:"partial"`
}

// Pipeline runs retrievals against one brain.
type Pipeline struct {
	store   store.Store
	cfg     neural.BrainConfig
	parser  *extraction.QueryParser
	engine  *activation.Engine
	rule    *learning.Rule
	logger  *slog.Logger
	timeout time.Duration
}

// New builds a pipeline over the store with the brain's config.
func New(s store.Store, cfg neural.BrainConfig, tok extraction.Tokenizer, logger *slog.Logger) *Pipeline {
	cfg.Normalize()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Pipeline{
		store:   s,
		cfg:     cfg,
		parser:  extraction.NewQueryParser(tok),
		engine:  activation.NewEngine(s, cfg, logger),
		rule:    learning.NewRule(cfg),
		logger:  logger,
		timeout: DefaultTimeout,
	}
}

// Query runs the full pipeline. Deferred writes flush after the result is
// assembled; canceling the context discards them.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*RetrievalResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, neuralerr.Invalid("query", "query is empty")
	}
	now := time.Now().UTC()

	softCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	stimulus := p.parser.Parse(query, now)
	depth := p.depthOf(req, stimulus)

	anchors, err := p.resolveAnchors(softCtx, stimulus)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return &RetrievalResult{SynthesisMethod: SynthesisNone}, nil
	}

	engine := p.engine
	if req.ValidAt != nil {
		graph := &validityGraph{Graph: p.store, store: p.store, validAt: req.ValidAt}
		engine = activation.NewEngine(graph, p.cfg, p.logger)
	}
	result, err := engine.Hybrid(softCtx, anchors, p.hopBudget(depth), now)
	if err != nil {
		if partial, ok := p.partialResult(ctx, err); ok {
			return partial, nil
		}
		return nil, neuralerr.Internal("query", err)
	}

	// Penalties and boosts apply to the raw field before stabilization.
	neuronIDs := scoreIDs(result.Scores)
	neurons, err := p.store.GetNeurons(softCtx, neuronIDs)
	if err != nil {
		return nil, neuralerr.Internal("query", err)
	}
	states, err := p.store.GetStates(softCtx, neuronIDs)
	if err != nil {
		return nil, neuralerr.Internal("query", err)
	}

	binding := result.BindingBoost(len(anchors))
	for id, boost := range binding {
		result.Scores[id] += boost
	}
	for id, n := range neurons {
		if n.MetaBool(neural.MetaSuperseded) {
			result.Scores[id] *= supersededPenalty
		} else if n.MetaBool(neural.MetaDisputed) {
			result.Scores[id] *= disputedPenalty
		}
	}

	// Ranking stabilizes on a damped copy of the field; confidence gates
	// the undamped peak.
	raw := make(map[string]float64, len(result.Scores))
	for id, v := range result.Scores {
		raw[id] = v
	}

	activation.Inhibit(result.Scores, p.cfg.LateralInhibitionK, p.cfg.LateralInhibitionFactor)
	activation.Stabilize(result.Scores, p.cfg.WeightNormalizationBudget)

	fibers := p.filterFibers(result.Fibers, req.ValidAt)

	rec := reconstruct(result.Scores, neurons, states, fibers, binding, now)
	out := &RetrievalResult{
		Answer:           rec.answer,
		Confidence:       p.confidence(rec, raw),
		NeuronsActivated: countActive(result.Scores),
		FibersMatched:    len(fibers),
		SynthesisMethod:  rec.method,
		ScoreBreakdown:   rec.breakdown,
		Partial:          result.Truncated,
	}
	out.Context = p.contextLines(fibers, req.MaxTokens)

	if stimulus.Intent == extraction.IntentPattern {
		out.WorkflowSuggestions = p.workflowSuggestions(softCtx)
	}

	batch := p.deferredBatch(result, neurons, states, fibers, now)
	out.CoActivations = len(batch.CoActivations)

	// Canceled retrievals leave no side effects; a timed-out one still
	// flushes what it learned.
	if ctx.Err() == nil {
		if err := p.store.ApplyDeferred(context.WithoutCancel(ctx), batch); err != nil {
			p.logger.Warn("deferred flush failed", "error", err)
		}
	}
	return out, nil
}

// depthOf takes the explicit depth or classifies the query shape:
// definition lookups stay shallow, "why" digs to the hop limit.
func (p *Pipeline) depthOf(req QueryRequest, stimulus *extraction.Stimulus) int {
	if req.Depth != nil {
		d := *req.Depth
		if d < 0 {
			return 0
		}
		if d > 3 {
			return 3
		}
		return d
	}
	switch stimulus.Intent {
	case extraction.IntentWhy:
		return 3
	case extraction.IntentPattern:
		return 2
	case extraction.IntentWhen, extraction.IntentCompare:
		return 1
	}
	lower := strings.ToLower(stimulus.RawQuery)
	if strings.Contains(lower, "before") || strings.Contains(lower, "after") {
		return 1
	}
	if strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "what's") {
		return 0
	}
	return 1
}

// hopBudget maps depth to spread hops: 0→1, 1→3, 2→5, 3→max_spread_hops.
func (p *Pipeline) hopBudget(depth int) int {
	switch depth {
	case 0:
		return 1
	case 1:
		return 3
	case 2:
		return 5
	}
	return p.cfg.MaxSpreadHops
}

// resolveAnchors matches each candidate against the graph: exact
// (type, content) first, then substring, then SimHash within the
// near-duplicate threshold. Temporal anchors keep top priority.
func (p *Pipeline) resolveAnchors(ctx context.Context, stimulus *extraction.Stimulus) ([]activation.Anchor, error) {
	var anchors []activation.Anchor
	claimed := make(map[string]struct{})

	add := func(id string, weight float64) {
		if _, dup := claimed[id]; dup {
			return
		}
		claimed[id] = struct{}{}
		anchors = append(anchors, activation.Anchor{NeuronID: id, Weight: weight})
	}

	for _, cand := range stimulus.Anchors {
		canonical := neural.CanonicalContent(cand.Text)

		if n, err := p.store.FindNeuron(ctx, cand.Type, canonical); err == nil {
			add(n.ID, cand.Weight)
			continue
		} else if err != store.ErrNeuronNotFound {
			return nil, neuralerr.Internal("query", err)
		}

		matches, err := p.store.FindNeuronsContaining(ctx, canonical, 3)
		if err != nil {
			return nil, neuralerr.Internal("query", err)
		}
		if len(matches) > 0 {
			add(matches[0].ID, cand.Weight*0.9)
			continue
		}

		near, err := p.store.FindNeuronsByHash(ctx, neural.SimHash(canonical), neural.SimHashMaxDistance)
		if err != nil {
			return nil, neuralerr.Internal("query", err)
		}
		if len(near) > 0 {
			add(near[0].ID, cand.Weight*0.8)
		}
	}
	return anchors, nil
}

// filterFibers drops fibers whose validity window excludes the as-of
// time.
func (p *Pipeline) filterFibers(fibers map[string]*neural.Fiber, validAt *time.Time) map[string]*neural.Fiber {
	if validAt == nil {
		return fibers
	}
	out := make(map[string]*neural.Fiber, len(fibers))
	for id, f := range fibers {
		if f.ValidAt(*validAt) {
			out[id] = f
		}
	}
	return out
}

// confidence maps the top cluster's pre-damping score through the
// sigmoid gate; the gate's ceiling of 1 is the theoretical max.
func (p *Pipeline) confidence(rec reconstruction, raw map[string]float64) float64 {
	if rec.method == SynthesisNone {
		return 0
	}
	return neural.Sigmoid(raw[rec.topID]+rec.breakdown.FreshnessBoost+
		rec.breakdown.FrequencyBoost, p.cfg.SigmoidSteepness)
}

// contextLines returns fiber summaries under the token budget, highest
// salience first. Tokens approximate to four characters.
func (p *Pipeline) contextLines(fibers map[string]*neural.Fiber, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxContextTokens
	}
	ordered := make([]*neural.Fiber, 0, len(fibers))
	for _, f := range fibers {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Salience != ordered[j].Salience {
			return ordered[i].Salience > ordered[j].Salience
		}
		return ordered[i].ID < ordered[j].ID
	})

	budget := maxTokens * 4
	var out []string
	for _, f := range ordered {
		if f.Summary == "" {
			continue
		}
		if budget-len(f.Summary) < 0 {
			break
		}
		budget -= len(f.Summary)
		out = append(out, f.Summary)
	}
	return out
}

// deferredBatch assembles the Hebbian updates, conductivity bumps,
// co-activation events, and state upserts the retrieval queues.
func (p *Pipeline) deferredBatch(result *activation.Result, neurons map[string]*neural.Neuron,
	states map[string]*neural.NeuronState, fibers map[string]*neural.Fiber, now time.Time) *store.DeferredBatch {

	batch := &store.DeferredBatch{}

	// Post-activation levels: the stabilized field through the gate.
	levels := make(map[string]float64, len(result.Scores))
	for id, score := range result.Scores {
		levels[id] = neural.Sigmoid(score, p.cfg.SigmoidSteepness)
	}

	superseded := func(id string) bool {
		n, ok := neurons[id]
		return ok && n.MetaBool(neural.MetaSuperseded)
	}

	var updates []store.SynapseUpdate
	outgoing := make(map[string][]*neural.Synapse)
	for _, hit := range result.Synapses {
		pre, post := levels[hit.PreID], levels[hit.PostID]
		// Contradicted knowledge anti-learns: edges into a superseded
		// claim weaken every time the field passes through them.
		if hit.Synapse.Type == neural.SynapseContradicts || superseded(hit.PostID) {
			updates = append(updates, p.rule.Weaken(hit.Synapse, pre, post, now))
		} else {
			updates = append(updates, p.rule.Strengthen(hit.Synapse, pre, post, now))
		}
		outgoing[hit.PreID] = append(outgoing[hit.PreID], hit.Synapse)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].SynapseID < updates[j].SynapseID })
	batch.SynapseUpdates = p.rule.Normalize(updates, outgoing)

	fiberIDs := make([]string, 0, len(fibers))
	for id := range fibers {
		fiberIDs = append(fiberIDs, id)
	}
	sort.Strings(fiberIDs)
	for _, id := range fiberIDs {
		batch.ConductivityBumps = append(batch.ConductivityBumps, store.ConductivityBump{
			FiberID:     id,
			Delta:       ConductivityBumpDelta,
			ConductedAt: now,
		})
	}

	// Top activated neurons co-fired this invocation; pairs persist in
	// canonical order for the INFER strategy.
	active := activation.RankedIDs(result.Scores)
	if len(active) > p.cfg.LateralInhibitionK {
		active = active[:p.cfg.LateralInhibitionK]
	}
	var fired []string
	for _, id := range active {
		if result.Scores[id] > 0 {
			fired = append(fired, id)
		}
	}
	for i := 0; i < len(fired); i++ {
		for j := i + 1; j < len(fired); j++ {
			batch.CoActivations = append(batch.CoActivations,
				store.NewCoActivationEvent(fired[i], fired[j], now))
		}
	}

	for _, id := range fired {
		st, ok := states[id]
		if !ok {
			st = neural.NewNeuronState(id, p.cfg.DecayRate)
		}
		st.FiringThreshold = p.cfg.DefaultFiringThreshold
		st.Activate(levels[id], now)
		batch.StateUpserts = append(batch.StateUpserts, st)
	}
	sort.Slice(batch.StateUpserts, func(i, j int) bool {
		return batch.StateUpserts[i].NeuronID < batch.StateUpserts[j].NeuronID
	})

	return batch
}

// workflowSuggestions surfaces mined workflow templates for pattern
// queries.
func (p *Pipeline) workflowSuggestions(ctx context.Context) []string {
	fibers, err := p.store.ListFibersByTag(ctx, WorkflowTag)
	if err != nil {
		p.logger.Warn("workflow lookup failed", "error", err)
		return nil
	}
	var out []string
	for _, f := range fibers {
		if f.Summary != "" {
			out = append(out, f.Summary)
		}
	}
	sort.Strings(out)
	return out
}

// partialResult turns a soft-deadline expiry into a flagged partial
// result; real cancellation propagates.
func (p *Pipeline) partialResult(parent context.Context, err error) (*RetrievalResult, bool) {
	if parent.Err() != nil {
		return nil, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RetrievalResult{SynthesisMethod: SynthesisNone, Partial: true}, true
	}
	return nil, false
}

// validityGraph narrows fiber selection to an as-of time during reflex
// activation.
type validityGraph struct {
	activation.Graph
	store   store.Store
	validAt *time.Time
}

func (g *validityGraph) FindFibersByNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Fiber, error) {
	fibers, err := g.store.FindFibersByNeurons(ctx, neuronIDs)
	if err != nil || g.validAt == nil {
		return fibers, err
	}
	out := fibers[:0]
	for _, f := range fibers {
		if f.ValidAt(*g.validAt) {
			out = append(out, f)
		}
	}
	return out, nil
}

func scoreIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func countActive(scores map[string]float64) int {
	count := 0
	for _, v := range scores {
		if v > 0 {
			count++
		}
	}
	return count
}
