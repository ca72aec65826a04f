// Package lifecycle manages the slow clock of a brain: type- and
// stage-aware activation decay, reinforcement, maturation stage
// transitions, and episodic-to-semantic pattern extraction.
package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Emotional modulation: strong negative memories persist longer, strong
// positive ones a little longer.
const (
	emotionIntensityGate    = 0.7
	negativeDecayModifier   = 0.7
	positiveDecayModifier   = 0.9
	inferredDecayMultiplier = 2.0
)

// DecayReport summarizes one decay run.
type DecayReport struct {
	StatesProcessed int     `json:"states_processed"`
	StatesDecayed   int     `json:"states_decayed"`
	PruneEligible   int     `json:"prune_eligible"`
	SynapsesDecayed int     `json:"synapses_decayed"`
	ElapsedDays     float64 `json:"elapsed_days"`
	DryRun          bool    `json:"dry_run"`
}

// DecayManager applies exponential decay across a brain on a cadence.
type DecayManager struct {
	store  store.Store
	cfg    neural.BrainConfig
	logger *slog.Logger
}

// NewDecayManager builds a manager over the store.
func NewDecayManager(s store.Store, cfg neural.BrainConfig, logger *slog.Logger) *DecayManager {
	cfg.Normalize()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DecayManager{store: s, cfg: cfg, logger: logger}
}

// Run decays every neuron state over the elapsed window:
// a' = a * exp(-rate * multiplier * days), where rate is the per-neuron
// type default and multiplier folds in maturation stage and emotional
// modulation. Inferred synapses below two reinforcements decay in weight
// at double rate. Dry runs report without writing.
func (d *DecayManager) Run(ctx context.Context, elapsed time.Duration, dryRun bool) (*DecayReport, error) {
	days := elapsed.Hours() / 24
	report := &DecayReport{ElapsedDays: days, DryRun: dryRun}
	if days <= 0 {
		return report, nil
	}

	states, err := d.store.AllStates(ctx)
	if err != nil {
		return nil, err
	}
	multipliers, err := d.neuronMultipliers(ctx)
	if err != nil {
		return nil, err
	}

	var updated []*neural.NeuronState
	for _, st := range states {
		report.StatesProcessed++
		rate := st.DecayRate
		if rate <= 0 {
			rate = d.cfg.DecayRate
		}
		multiplier, ok := multipliers[st.NeuronID]
		if !ok {
			multiplier = 1.0
		}

		next := st.ActivationLevel * math.Exp(-rate*multiplier*days)
		if next != st.ActivationLevel {
			report.StatesDecayed++
		}
		st.ActivationLevel = next
		if next < d.cfg.PruneThreshold {
			report.PruneEligible++
		}
		updated = append(updated, st)
	}

	synapses, err := d.store.AllSynapses(ctx)
	if err != nil {
		return nil, err
	}
	var synapseUpdates []store.SynapseUpdate
	for _, syn := range synapses {
		if !syn.Inferred() || syn.ReinforcedCount >= 2 {
			continue
		}
		multiplier := inferredDecayMultiplier
		if v, ok := syn.Metadata["decay_multiplier"].(float64); ok && v > 0 {
			multiplier = v
		}
		weight := syn.Weight * math.Exp(-d.cfg.DecayRate*multiplier*days)
		synapseUpdates = append(synapseUpdates, store.SynapseUpdate{
			SynapseID:       syn.ID,
			Weight:          weight,
			ReinforcedCount: syn.ReinforcedCount,
			LastActivated:   lastActivatedOf(syn),
		})
		report.SynapsesDecayed++
	}

	if dryRun {
		return report, nil
	}
	if err := d.store.UpsertStates(ctx, updated); err != nil {
		return nil, err
	}
	for _, u := range synapseUpdates {
		if err := d.store.UpdateSynapse(ctx, u); err != nil && err != store.ErrSynapseNotFound {
			return nil, err
		}
	}
	return report, nil
}

// neuronMultipliers folds maturation stage and emotional modulation into
// one decay multiplier per neuron. A neuron in several fibers takes the
// most protective stage.
func (d *DecayManager) neuronMultipliers(ctx context.Context) (map[string]float64, error) {
	fibers, err := d.store.AllFibers(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, f := range fibers {
		stage := neural.StageSTM
		if m, err := d.store.GetMaturation(ctx, f.ID); err == nil {
			stage = m.Stage
		} else if err != store.ErrMaturationNotFound {
			return nil, err
		}
		multiplier := stage.DecayMultiplier()
		multiplier *= d.emotionalModifier(ctx, f)

		for id := range f.NeuronIDs {
			if existing, ok := out[id]; !ok || multiplier < existing {
				out[id] = multiplier
			}
		}
	}
	return out, nil
}

// emotionalModifier inspects the fiber's FELT synapses: intense negative
// affect slows decay the most.
func (d *DecayManager) emotionalModifier(ctx context.Context, f *neural.Fiber) float64 {
	if len(f.SynapseIDs) == 0 {
		return 1.0
	}
	modifier := 1.0
	for id := range f.SynapseIDs {
		syn, err := d.store.GetSynapse(ctx, id)
		if err != nil {
			continue
		}
		if syn.Type != neural.SynapseFelt {
			continue
		}
		intensity, _ := syn.Metadata["intensity"].(float64)
		if intensity < emotionIntensityGate {
			continue
		}
		valence, _ := syn.Metadata["valence"].(string)
		switch valence {
		case "neg":
			if negativeDecayModifier < modifier {
				modifier = negativeDecayModifier
			}
		case "pos":
			if positiveDecayModifier < modifier {
				modifier = positiveDecayModifier
			}
		}
	}
	return modifier
}

func lastActivatedOf(syn *neural.Synapse) time.Time {
	if syn.LastActivated != nil {
		return *syn.LastActivated
	}
	return syn.CreatedAt
}
