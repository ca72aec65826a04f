package activation

import (
	"context"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

// TimeFactorFloor is the minimum conduction time factor: even a fiber
// untouched for months still conducts a tenth of its signal.
const TimeFactorFloor = 0.1

// timeFactor decays fiber conduction linearly over one week of disuse:
// max(0.1, 1 - age_hours/168). The denominator is the documented
// one-week window.
func timeFactor(lastConducted *time.Time, createdAt, now time.Time) float64 {
	ref := createdAt
	if lastConducted != nil {
		ref = *lastConducted
	}
	ageHours := now.Sub(ref).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	factor := 1 - ageHours/168
	if factor < TimeFactorFloor {
		return TimeFactorFloor
	}
	return factor
}

// Reflex runs trail activation: anchors select candidate fibers, and the
// signal conducts along each fiber's pathway in both directions, decaying
// with synapse weight, conductivity, and disuse.
func (e *Engine) Reflex(ctx context.Context, anchors []Anchor, now time.Time) (*Result, error) {
	result := newResult()
	if len(anchors) == 0 {
		return result, nil
	}

	anchorIdx := make(map[string]int, len(anchors))
	ids := make([]string, 0, len(anchors))
	for i, a := range anchors {
		result.addScore(a.NeuronID, a.Weight, i)
		anchorIdx[a.NeuronID] = i
		ids = append(ids, a.NeuronID)
	}

	fibers, err := e.graph.FindFibersByNeurons(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, fiber := range fibers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(fiber.Pathway) == 0 {
			continue
		}

		pairWeights, err := e.pathwayWeights(ctx, fiber)
		if err != nil {
			return nil, err
		}
		tf := timeFactor(fiber.LastConducted, fiber.CreatedAt, now)

		conducted := false
		for _, a := range anchors {
			pos := fiber.PathwayPosition(a.NeuronID)
			if pos < 0 {
				if !fiber.ContainsNeuron(a.NeuronID) {
					continue
				}
				// Anchors off the pathway conduct from the fiber's head.
				pos = 0
			}
			idx := anchorIdx[a.NeuronID]
			e.conduct(result, fiber, pairWeights, pos, +1, a.Weight, tf, idx)
			e.conduct(result, fiber, pairWeights, pos, -1, a.Weight, tf, idx)
			conducted = true
		}
		if conducted {
			result.Fibers[fiber.ID] = fiber
		}
	}

	return result, nil
}

// conduct walks the pathway from position pos in the given direction,
// attenuating at every step:
// a_next = a_curr * (1 - decay) * synapse_weight * conductivity * time_factor.
func (e *Engine) conduct(result *Result, fiber *neural.Fiber, pairWeights map[[2]string]*neural.Synapse,
	pos, dir int, seed, tf float64, anchorIdx int) {

	current := seed
	for i := pos; ; i += dir {
		next := i + dir
		if next < 0 || next >= len(fiber.Pathway) {
			return
		}
		from, to := fiber.Pathway[i], fiber.Pathway[next]
		syn := lookupPair(pairWeights, from, to)
		weight := 0.5
		if syn != nil {
			weight = syn.Weight
		}

		current = current * (1 - e.cfg.DecayRate) * weight * fiber.Conductivity * tf
		if current < e.cfg.ActivationThreshold*TimeFactorFloor {
			return
		}
		result.addScore(to, current, anchorIdx)
		if syn != nil {
			result.Synapses[syn.ID] = SynapseHit{Synapse: syn, PreID: from, PostID: to}
		}
	}
}

// pathwayWeights batches the synapses between consecutive pathway neurons.
func (e *Engine) pathwayWeights(ctx context.Context, fiber *neural.Fiber) (map[[2]string]*neural.Synapse, error) {
	synapses, err := e.graph.SynapsesForNeurons(ctx, fiber.Pathway)
	if err != nil {
		return nil, err
	}
	out := make(map[[2]string]*neural.Synapse)
	for _, syn := range synapses {
		key := [2]string{syn.SourceID, syn.TargetID}
		if existing, ok := out[key]; !ok || syn.Weight > existing.Weight {
			out[key] = syn
		}
	}
	return out, nil
}

func lookupPair(pairs map[[2]string]*neural.Synapse, a, b string) *neural.Synapse {
	if syn, ok := pairs[[2]string{a, b}]; ok {
		return syn
	}
	if syn, ok := pairs[[2]string{b, a}]; ok {
		return syn
	}
	return nil
}
