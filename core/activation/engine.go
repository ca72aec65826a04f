// Package activation implements spreading activation over the memory
// graph: the classic breadth-first spread, the reflex trail walk along
// fiber pathways, and the hybrid merge the retrieval pipeline uses by
// default.
package activation

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

// QueueCap bounds the total number of queue entries one spread may
// process. Pathological graphs hit the cap and return truncated results
// instead of starving the process.
const QueueCap = 50_000

// DiscoveryFactor scales classic-BFS contributions merged into a hybrid
// result so reflex trail hits keep ranking first.
const DiscoveryFactor = 0.6

// Graph is the read surface the engine traverses. The store satisfies it;
// tests use the in-memory implementation.
type Graph interface {
	SynapsesForNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Synapse, error)
	GetStates(ctx context.Context, neuronIDs []string) (map[string]*neural.NeuronState, error)
	FindFibersByNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Fiber, error)
}

// Anchor seeds a spread with a resolved neuron and its signal weight.
type Anchor struct {
	NeuronID string
	Weight   float64
}

// SynapseHit records one traversal of a synapse for the deferred Hebbian
// pass.
type SynapseHit struct {
	Synapse *neural.Synapse
	PreID   string
	PostID  string
}

// Result is the raw outcome of one activation pass, before stabilization.
type Result struct {
	// Scores maps neuron id to accumulated raw activation.
	Scores map[string]float64
	// AnchorSources maps neuron id to the set of anchor indexes whose
	// signal reached it, for co-activation binding.
	AnchorSources map[string]map[int]struct{}
	// Synapses traversed, keyed by synapse id.
	Synapses map[string]SynapseHit
	// Fibers traversed by the reflex walk, keyed by fiber id.
	Fibers map[string]*neural.Fiber
	// Truncated marks a spread stopped by the queue cap.
	Truncated bool
}

func newResult() *Result {
	return &Result{
		Scores:        make(map[string]float64),
		AnchorSources: make(map[string]map[int]struct{}),
		Synapses:      make(map[string]SynapseHit),
		Fibers:        make(map[string]*neural.Fiber),
	}
}

func (r *Result) addScore(neuronID string, delta float64, anchorIdx int) {
	r.Scores[neuronID] += delta
	set, ok := r.AnchorSources[neuronID]
	if !ok {
		set = make(map[int]struct{})
		r.AnchorSources[neuronID] = set
	}
	set[anchorIdx] = struct{}{}
}

// BindingBoost returns the co-activation binding added to neurons reached
// from at least two distinct anchors: co_fire_count / anchor_count.
func (r *Result) BindingBoost(anchorCount int) map[string]float64 {
	out := make(map[string]float64)
	if anchorCount == 0 {
		return out
	}
	for id, sources := range r.AnchorSources {
		if len(sources) < 2 {
			continue
		}
		out[id] = float64(len(sources)) / float64(anchorCount)
	}
	return out
}

// merge folds other into r, scaling other's scores by factor.
func (r *Result) merge(other *Result, factor float64) {
	for id, score := range other.Scores {
		r.Scores[id] += score * factor
	}
	for id, sources := range other.AnchorSources {
		set, ok := r.AnchorSources[id]
		if !ok {
			set = make(map[int]struct{})
			r.AnchorSources[id] = set
		}
		for idx := range sources {
			set[idx] = struct{}{}
		}
	}
	for id, hit := range other.Synapses {
		if _, dup := r.Synapses[id]; !dup {
			r.Synapses[id] = hit
		}
	}
	for id, f := range other.Fibers {
		if _, dup := r.Fibers[id]; !dup {
			r.Fibers[id] = f
		}
	}
	r.Truncated = r.Truncated || other.Truncated
}

// Engine runs activation passes against one brain's graph.
type Engine struct {
	graph  Graph
	cfg    neural.BrainConfig
	logger *slog.Logger
}

// NewEngine creates an engine over the graph with the brain's config.
func NewEngine(graph Graph, cfg neural.BrainConfig, logger *slog.Logger) *Engine {
	cfg.Normalize()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{graph: graph, cfg: cfg, logger: logger}
}

type frontierEntry struct {
	neuronID   string
	activation float64
	// weight and lastActivated of the strongest synapse that reached this
	// entry, for deterministic tie-breaking.
	weight        float64
	lastActivated time.Time
	anchorIdx     int
}

// Spread runs classic breadth-first spreading activation from the anchors
// for up to maxHops hops. Each hop is a batched store read and a yield
// point: the context is checked between hops so long traversals stay
// cancellable.
func (e *Engine) Spread(ctx context.Context, anchors []Anchor, maxHops int, now time.Time) (*Result, error) {
	result := newResult()
	if len(anchors) == 0 {
		return result, nil
	}
	if maxHops <= 0 {
		maxHops = e.cfg.MaxSpreadHops
	}

	frontier := make([]frontierEntry, 0, len(anchors))
	for i, a := range anchors {
		result.addScore(a.NeuronID, a.Weight, i)
		frontier = append(frontier, frontierEntry{neuronID: a.NeuronID, activation: a.Weight, anchorIdx: i})
	}

	processed := len(anchors)
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(frontier))
		seen := make(map[string]struct{}, len(frontier))
		for _, entry := range frontier {
			if _, dup := seen[entry.neuronID]; dup {
				continue
			}
			seen[entry.neuronID] = struct{}{}
			ids = append(ids, entry.neuronID)
		}

		synapses, err := e.graph.SynapsesForNeurons(ctx, ids)
		if err != nil {
			return nil, err
		}
		outgoing := groupOutgoing(synapses)

		// Refractory neurons are skipped as propagation targets.
		var targetIDs []string
		targetSeen := make(map[string]struct{})
		for _, syns := range outgoing {
			for _, syn := range syns {
				for _, target := range synapseTargets(syn) {
					if _, dup := targetSeen[target]; !dup {
						targetSeen[target] = struct{}{}
						targetIDs = append(targetIDs, target)
					}
				}
			}
		}
		states, err := e.graph.GetStates(ctx, targetIDs)
		if err != nil {
			return nil, err
		}

		next := make(map[string]*frontierEntry)
		for _, entry := range frontier {
			for _, syn := range outgoing[entry.neuronID] {
				for _, target := range synapseTargets(syn) {
					if target == entry.neuronID {
						continue
					}
					if st, ok := states[target]; ok && st.InRefractory(now) {
						continue
					}

					candidate := entry.activation * syn.Weight * (1 - e.cfg.DecayRate)
					if candidate <= 0 {
						continue
					}
					result.addScore(target, candidate, entry.anchorIdx)
					if result.Scores[target] < e.cfg.ActivationThreshold {
						continue
					}
					result.Synapses[syn.ID] = SynapseHit{Synapse: syn, PreID: entry.neuronID, PostID: target}

					existing, ok := next[target]
					if !ok {
						next[target] = &frontierEntry{
							neuronID:      target,
							activation:    candidate,
							weight:        syn.Weight,
							lastActivated: synapseLastActivated(syn),
							anchorIdx:     entry.anchorIdx,
						}
						continue
					}
					existing.activation += candidate
					if syn.Weight > existing.weight {
						existing.weight = syn.Weight
						existing.lastActivated = synapseLastActivated(syn)
					}
				}
			}
		}

		frontier = frontier[:0]
		for _, entry := range next {
			frontier = append(frontier, *entry)
		}
		sortFrontier(frontier)

		processed += len(frontier)
		if processed > QueueCap {
			over := processed - QueueCap
			if over < len(frontier) {
				frontier = frontier[:len(frontier)-over]
			} else {
				frontier = frontier[:0]
			}
			result.Truncated = true
			e.logger.Warn("spread hit queue cap", "hop", hop, "cap", QueueCap)
		}
	}

	return result, nil
}

// Hybrid runs the reflex trail walk first, then a half-depth classic
// discovery pass, merging discovery scores at DiscoveryFactor so
// established pathways outrank fresh discoveries.
func (e *Engine) Hybrid(ctx context.Context, anchors []Anchor, maxHops int, now time.Time) (*Result, error) {
	result, err := e.Reflex(ctx, anchors, now)
	if err != nil {
		return nil, err
	}
	if maxHops <= 0 {
		maxHops = e.cfg.MaxSpreadHops
	}
	discoveryHops := maxHops / 2
	if discoveryHops < 1 {
		discoveryHops = 1
	}
	discovery, err := e.Spread(ctx, anchors, discoveryHops, now)
	if err != nil {
		return nil, err
	}
	result.merge(discovery, DiscoveryFactor)
	return result, nil
}

// sortFrontier orders by decreasing activation, breaking ties by greater
// synapse weight, older last_activated, then lexicographic id.
func sortFrontier(frontier []frontierEntry) {
	sort.Slice(frontier, func(i, j int) bool {
		a, b := frontier[i], frontier[j]
		if a.activation != b.activation {
			return a.activation > b.activation
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if !a.lastActivated.Equal(b.lastActivated) {
			return a.lastActivated.Before(b.lastActivated)
		}
		return a.neuronID < b.neuronID
	})
}

func groupOutgoing(synapses []*neural.Synapse) map[string][]*neural.Synapse {
	out := make(map[string][]*neural.Synapse)
	for _, syn := range synapses {
		out[syn.SourceID] = append(out[syn.SourceID], syn)
		if syn.Direction == neural.DirectionBi {
			out[syn.TargetID] = append(out[syn.TargetID], syn)
		}
	}
	for _, syns := range out {
		sort.Slice(syns, func(i, j int) bool { return syns[i].ID < syns[j].ID })
	}
	return out
}

// synapseTargets returns the neurons reachable over the synapse from
// either endpoint; a bidirectional edge conducts both ways.
func synapseTargets(syn *neural.Synapse) []string {
	if syn.Direction == neural.DirectionBi {
		return []string{syn.TargetID, syn.SourceID}
	}
	return []string{syn.TargetID}
}

func synapseLastActivated(syn *neural.Synapse) time.Time {
	if syn.LastActivated == nil {
		return time.Time{}
	}
	return *syn.LastActivated
}
