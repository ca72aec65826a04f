package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

// HealthReport grades a brain's structural and statistical quality.
type HealthReport struct {
	Grade           string             `json:"grade"`
	PurityScore     float64            `json:"purity_score"`
	Components      map[string]float64 `json:"components"`
	Warnings        []string           `json:"warnings,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	CheckedAt       time.Time          `json:"checked_at"`
}

// Component weights in the purity score.
var healthWeights = map[string]float64{
	"integrity":    0.30,
	"connectivity": 0.15,
	"activation":   0.20,
	"conflicts":    0.15,
	"maturity":     0.10,
	"freshness":    0.10,
}

// Health inspects the brain and returns its grade. Severe structural
// violations mark the brain unhealthy, refusing writes until a recheck.
func (e *Engine) Health(ctx context.Context, brainID string) (*HealthReport, error) {
	h, err := e.handle(brainID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var (
		neurons  []*neural.Neuron
		synapses []*neural.Synapse
		fibers   []*neural.Fiber
		states   []*neural.NeuronState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		neurons, err = h.store.ListNeurons(gctx, store.NeuronFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		synapses, err = h.store.AllSynapses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		fibers, err = h.store.AllFibers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		states, err = h.store.AllStates(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, neuralerr.Internal("health", err)
	}

	report := &HealthReport{
		Components: make(map[string]float64),
		CheckedAt:  now,
	}

	neuronSet := make(map[string]struct{}, len(neurons))
	for _, n := range neurons {
		neuronSet[n.ID] = struct{}{}
	}

	integrity, violations := integrityScore(neuronSet, synapses, fibers, states)
	report.Components["integrity"] = integrity
	report.Warnings = append(report.Warnings, violations...)

	report.Components["connectivity"] = connectivityScore(len(neurons), len(synapses))
	report.Components["activation"] = activationScore(states, h.brain.Config.PruneThreshold)
	report.Components["conflicts"] = conflictScore(neurons)
	report.Components["maturity"] = e.maturityScore(ctx, h, fibers)
	report.Components["freshness"] = freshnessScore(states, now)

	var purity float64
	for name, weight := range healthWeights {
		purity += report.Components[name] * weight
	}
	report.PurityScore = purity * 100
	report.Grade = gradeOf(report.PurityScore)

	if integrity < 0.9 {
		report.Grade = "F"
		h.markUnhealthy()
		report.Warnings = append(report.Warnings, "structural integrity below 90%; writes refused until recheck")
	}
	report.Recommendations = recommendations(report)
	return report, nil
}

func integrityScore(neuronSet map[string]struct{}, synapses []*neural.Synapse,
	fibers []*neural.Fiber, states []*neural.NeuronState) (float64, []string) {

	var warnings []string
	checks, failures := 0, 0

	for _, syn := range synapses {
		checks++
		if _, ok := neuronSet[syn.SourceID]; !ok {
			failures++
			continue
		}
		if _, ok := neuronSet[syn.TargetID]; !ok {
			failures++
			continue
		}
		if syn.Weight < 0 || syn.Weight > neural.WeightMax {
			failures++
		}
	}
	if failures > 0 {
		warnings = append(warnings, fmt.Sprintf("%d synapse integrity violations", failures))
	}

	fiberFailures := 0
	for _, f := range fibers {
		checks++
		if err := f.Validate(); err != nil {
			fiberFailures++
			continue
		}
		for id := range f.NeuronIDs {
			if _, ok := neuronSet[id]; !ok {
				fiberFailures++
				break
			}
		}
	}
	if fiberFailures > 0 {
		failures += fiberFailures
		warnings = append(warnings, fmt.Sprintf("%d fiber integrity violations", fiberFailures))
	}

	stateFailures := 0
	for _, st := range states {
		checks++
		if st.ActivationLevel < 0 || st.ActivationLevel > 1 {
			stateFailures++
		}
	}
	if stateFailures > 0 {
		failures += stateFailures
		warnings = append(warnings, fmt.Sprintf("%d activation levels out of range", stateFailures))
	}

	if checks == 0 {
		return 1, nil
	}
	return 1 - float64(failures)/float64(checks), warnings
}

// connectivityScore rewards two or more synapses per neuron.
func connectivityScore(neurons, synapses int) float64 {
	if neurons == 0 {
		return 1
	}
	ratio := float64(synapses) / float64(neurons)
	score := ratio / 2
	if score > 1 {
		return 1
	}
	return score
}

// activationScore blends mean activation with the live share of the
// population.
func activationScore(states []*neural.NeuronState, pruneThreshold float64) float64 {
	if len(states) == 0 {
		return 1
	}
	levels := make([]float64, len(states))
	alive := 0
	for i, st := range states {
		levels[i] = st.ActivationLevel
		if st.ActivationLevel >= pruneThreshold {
			alive++
		}
	}
	mean := stat.Mean(levels, nil)
	aliveShare := float64(alive) / float64(len(states))
	return 0.5*mean + 0.5*aliveShare
}

func conflictScore(neurons []*neural.Neuron) float64 {
	if len(neurons) == 0 {
		return 1
	}
	disputed := 0
	for _, n := range neurons {
		if n.MetaBool(neural.MetaDisputed) || n.MetaBool(neural.MetaSuperseded) {
			disputed++
		}
	}
	return 1 - float64(disputed)/float64(len(neurons))
}

// maturityScore rewards brains whose fibers progress past short-term.
func (e *Engine) maturityScore(ctx context.Context, h *brainHandle, fibers []*neural.Fiber) float64 {
	if len(fibers) == 0 {
		return 1
	}
	matured := 0
	for _, f := range fibers {
		m, err := h.store.GetMaturation(ctx, f.ID)
		if err != nil {
			continue
		}
		if m.Stage != neural.StageSTM {
			matured++
		}
	}
	return float64(matured) / float64(len(fibers))
}

// freshnessScore maps the median staleness through a 30-day window.
func freshnessScore(states []*neural.NeuronState, now time.Time) float64 {
	if len(states) == 0 {
		return 1
	}
	var ages []float64
	for _, st := range states {
		ref := st.CreatedAt
		if st.LastActivated != nil {
			ref = *st.LastActivated
		}
		ages = append(ages, now.Sub(ref).Hours()/24)
	}
	sort.Float64s(ages)
	median := stat.Quantile(0.5, stat.Empirical, ages, nil)
	score := 1 - median/30
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func gradeOf(purity float64) string {
	switch {
	case purity >= 90:
		return "A"
	case purity >= 80:
		return "B"
	case purity >= 70:
		return "C"
	case purity >= 60:
		return "D"
	}
	return "F"
}

func recommendations(report *HealthReport) []string {
	var out []string
	if report.Components["activation"] < 0.5 {
		out = append(out, "run decay and prune consolidation to clear faded memories")
	}
	if report.Components["connectivity"] < 0.5 {
		out = append(out, "run infer and enrich consolidation to densify associations")
	}
	if report.Components["conflicts"] < 0.8 {
		out = append(out, "review disputed memories and resolve superseded entries")
	}
	if report.Components["maturity"] < 0.3 {
		out = append(out, "reinforce important memories across distinct days to mature them")
	}
	if report.Components["integrity"] < 1 {
		out = append(out, "export, repair, and re-import the brain to restore integrity")
	}
	return out
}
