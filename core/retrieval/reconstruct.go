package retrieval

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/activation"
	"github.com/adalundhe/neuralmem/core/neural"
)

// SynthesisMethod names how the answer was assembled.
type SynthesisMethod string

const (
	// SynthesisSingle emits the dominant neuron's content.
	SynthesisSingle SynthesisMethod = "single"
	// SynthesisFiberSummary emits the dominant fiber's summary.
	SynthesisFiberSummary SynthesisMethod = "fiber_summary"
	// SynthesisMultiNeuron joins the top contributors along a pathway.
	SynthesisMultiNeuron SynthesisMethod = "multi_neuron"
	// SynthesisNone marks an empty result.
	SynthesisNone SynthesisMethod = "none"
)

// ScoreBreakdown decomposes the top cluster's score for the caller.
type ScoreBreakdown struct {
	BaseActivation    float64 `json:"base_activation"`
	IntersectionBoost float64 `json:"intersection_boost"`
	FreshnessBoost    float64 `json:"freshness_boost"`
	FrequencyBoost    float64 `json:"frequency_boost"`
}

// Dominance thresholds for synthesis selection.
const (
	singleDominanceRatio = 2.0
	fiberDominanceShare  = 0.6
	multiNeuronLimit     = 5
	freshnessWindowDays  = 30
	freshnessBoostFactor = 0.1
	frequencyBoostFactor = 0.05
)

// reconstruction is the synthesized answer plus its provenance.
type reconstruction struct {
	answer    string
	method    SynthesisMethod
	topID     string
	topFiber  *neural.Fiber
	breakdown ScoreBreakdown
	topScore  float64
}

// reconstruct selects the synthesis strategy from the stabilized score
// distribution: a dominant neuron speaks for itself, a dominant fiber
// answers with its summary, anything else joins the top contributors in
// pathway order.
func reconstruct(scores map[string]float64, neurons map[string]*neural.Neuron,
	states map[string]*neural.NeuronState, fibers map[string]*neural.Fiber,
	binding map[string]float64, now time.Time) reconstruction {

	ranked := activation.RankedIDs(scores)
	if len(ranked) == 0 || scores[ranked[0]] <= 0 {
		return reconstruction{method: SynthesisNone}
	}

	top := ranked[0]
	topScore := scores[top]
	rec := reconstruction{topID: top, topScore: topScore}
	rec.breakdown = breakdownFor(top, topScore, states[top], binding[top], now)

	// One neuron dominating the field answers alone.
	if len(ranked) == 1 || topScore > singleDominanceRatio*scores[ranked[1]] {
		if n, ok := neurons[top]; ok {
			rec.answer = n.Content
			rec.method = SynthesisSingle
			rec.topFiber = fiberContaining(fibers, top)
			return rec
		}
	}

	// One fiber holding most of the mass answers with its summary.
	if fiber, share := dominantFiber(scores, fibers); fiber != nil && share >= fiberDominanceShare && fiber.Summary != "" {
		rec.answer = fiber.Summary
		rec.method = SynthesisFiberSummary
		rec.topFiber = fiber
		return rec
	}

	// Otherwise the top contributors speak in pathway order.
	rec.topFiber = fiberContaining(fibers, top)
	limit := multiNeuronLimit
	if limit > len(ranked) {
		limit = len(ranked)
	}
	contributors := append([]string(nil), ranked[:limit]...)
	if rec.topFiber != nil {
		sort.SliceStable(contributors, func(i, j int) bool {
			pi, pj := rec.topFiber.PathwayPosition(contributors[i]), rec.topFiber.PathwayPosition(contributors[j])
			if pi < 0 {
				pi = len(rec.topFiber.Pathway)
			}
			if pj < 0 {
				pj = len(rec.topFiber.Pathway)
			}
			return pi < pj
		})
	}

	var parts []string
	for _, id := range contributors {
		if n, ok := neurons[id]; ok {
			parts = append(parts, n.Content)
		}
	}
	rec.answer = joinContributors(parts)
	rec.method = SynthesisMultiNeuron
	return rec
}

// breakdownFor decomposes one neuron's score into the reported boosts.
func breakdownFor(id string, score float64, st *neural.NeuronState, binding float64, now time.Time) ScoreBreakdown {
	b := ScoreBreakdown{BaseActivation: score, IntersectionBoost: binding}
	if st == nil {
		return b
	}
	if st.LastActivated != nil {
		days := now.Sub(*st.LastActivated).Hours() / 24
		if fresh := 1 - days/freshnessWindowDays; fresh > 0 {
			b.FreshnessBoost = fresh * freshnessBoostFactor
		}
	}
	b.FrequencyBoost = math.Log(1+float64(st.AccessFrequency)) * frequencyBoostFactor
	return b
}

// dominantFiber returns the fiber holding the largest share of the total
// score, with that share.
func dominantFiber(scores map[string]float64, fibers map[string]*neural.Fiber) (*neural.Fiber, float64) {
	var total float64
	for _, v := range scores {
		total += v
	}
	if total <= 0 {
		return nil, 0
	}

	var best *neural.Fiber
	var bestShare float64
	ids := make([]string, 0, len(fibers))
	for id := range fibers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := fibers[id]
		var sum float64
		for neuronID := range f.NeuronIDs {
			sum += scores[neuronID]
		}
		share := sum / total
		if share > bestShare {
			best = f
			bestShare = share
		}
	}
	return best, bestShare
}

func fiberContaining(fibers map[string]*neural.Fiber, neuronID string) *neural.Fiber {
	ids := make([]string, 0, len(fibers))
	for id := range fibers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if fibers[id].ContainsNeuron(neuronID) {
			return fibers[id]
		}
	}
	return nil
}

func joinContributors(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " with " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + ", and " + parts[len(parts)-1]
}
