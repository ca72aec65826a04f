// Package learning implements the Hebbian weight update with novelty
// adaptation, competitive normalization over each pre-neuron's outgoing
// budget, and the anti-Hebbian weakening used by conflict resolution.
package learning

import (
	"math"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Rule carries the brain's learning parameters.
type Rule struct {
	LearningRate        float64
	NoveltyBoostMax     float64
	NoveltyDecayRate    float64
	NormalizationBudget float64
}

// NewRule builds the rule from a brain config.
func NewRule(cfg neural.BrainConfig) *Rule {
	cfg.Normalize()
	return &Rule{
		LearningRate:        cfg.LearningRate,
		NoveltyBoostMax:     cfg.NoveltyBoostMax,
		NoveltyDecayRate:    cfg.NoveltyDecayRate,
		NormalizationBudget: cfg.WeightNormalizationBudget,
	}
}

// EffectiveRate returns the novelty-adapted learning rate for a synapse
// reinforced r times: a fresh synapse learns up to (1 + novelty_boost_max)
// times faster than a long-reinforced one.
func (r *Rule) EffectiveRate(reinforcedCount int) float64 {
	return r.LearningRate * (1 + r.NoveltyBoostMax*math.Exp(-r.NoveltyDecayRate*float64(reinforcedCount)))
}

// Strengthen computes the Hebbian update for one traversed synapse and
// returns the store-side update. The (w_max - w) saturation term keeps
// weights under the cap without clipping artifacts.
func (r *Rule) Strengthen(syn *neural.Synapse, preActivation, postActivation float64, now time.Time) store.SynapseUpdate {
	eta := r.EffectiveRate(syn.ReinforcedCount)
	delta := eta * preActivation * postActivation * (neural.WeightMax - syn.Weight)
	weight := syn.Weight + delta
	if weight > neural.WeightMax {
		weight = neural.WeightMax
	}
	return store.SynapseUpdate{
		SynapseID:       syn.ID,
		Weight:          weight,
		ReinforcedCount: syn.ReinforcedCount + 1,
		LastActivated:   now,
	}
}

// Weaken computes the anti-Hebbian update used by the disputed path:
// the weight shrinks proportionally to its own magnitude.
func (r *Rule) Weaken(syn *neural.Synapse, preActivation, postActivation float64, now time.Time) store.SynapseUpdate {
	eta := r.EffectiveRate(syn.ReinforcedCount)
	delta := eta * preActivation * postActivation * syn.Weight
	weight := syn.Weight - delta
	if weight < 0 {
		weight = 0
	}
	return store.SynapseUpdate{
		SynapseID:       syn.ID,
		Weight:          weight,
		ReinforcedCount: syn.ReinforcedCount + 1,
		LastActivated:   now,
	}
}

// Normalize applies competitive normalization to a batch of updates: for
// each pre-neuron whose total outgoing weight exceeds the budget, all its
// outgoing weights scale back proportionally. The synapse list supplies
// the pre-neuron of every updated edge plus the untouched outgoing edges
// that count against the budget.
func (r *Rule) Normalize(updates []store.SynapseUpdate, outgoing map[string][]*neural.Synapse) []store.SynapseUpdate {
	if r.NormalizationBudget <= 0 {
		return updates
	}

	updated := make(map[string]float64, len(updates))
	for _, u := range updates {
		updated[u.SynapseID] = u.Weight
	}

	scale := make(map[string]float64)
	for preID, syns := range outgoing {
		var total float64
		for _, syn := range syns {
			if w, ok := updated[syn.ID]; ok {
				total += w
			} else {
				total += syn.Weight
			}
		}
		if total > r.NormalizationBudget {
			scale[preID] = r.NormalizationBudget / total
		}
	}
	if len(scale) == 0 {
		return updates
	}

	synPre := make(map[string]string)
	for preID, syns := range outgoing {
		for _, syn := range syns {
			synPre[syn.ID] = preID
		}
	}

	out := make([]store.SynapseUpdate, 0, len(updates))
	for _, u := range updates {
		if factor, ok := scale[synPre[u.SynapseID]]; ok {
			u.Weight *= factor
		}
		out = append(out, u)
	}

	// Edges not touched this batch still shrink when their pre-neuron is
	// over budget.
	for preID, factor := range scale {
		for _, syn := range outgoing[preID] {
			if _, touched := updated[syn.ID]; touched {
				continue
			}
			out = append(out, store.SynapseUpdate{
				SynapseID:       syn.ID,
				Weight:          syn.Weight * factor,
				ReinforcedCount: syn.ReinforcedCount,
				LastActivated:   lastActivatedOf(syn),
			})
		}
	}
	return out
}

func lastActivatedOf(syn *neural.Synapse) time.Time {
	if syn.LastActivated != nil {
		return *syn.LastActivated
	}
	return syn.CreatedAt
}
