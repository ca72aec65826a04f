package consolidation

import (
	"context"

	"github.com/adalundhe/neuralmem/core/neural"
)

// Prune protection thresholds: salient fibers and hub neurons survive low
// activation.
const (
	pruneSalienceGuard  = 0.8
	pruneHubInbound     = 8
	pruneSynapseWeight  = 0.05
	fiberGuardReinforce = 2
)

// prune removes neurons that decayed below the threshold, the synapses
// left dangling, and the weak never-reinforced edges. Fibers holding a
// reinforced non-inferred synapse are never removed.
func (c *Consolidator) prune(ctx context.Context, report *Report, dryRun bool) error {
	states, err := c.store.AllStates(ctx)
	if err != nil {
		return err
	}
	synapses, err := c.store.AllSynapses(ctx)
	if err != nil {
		return err
	}
	fibers, err := c.store.AllFibers(ctx)
	if err != nil {
		return err
	}

	inbound := make(map[string]int)
	for _, syn := range synapses {
		inbound[syn.TargetID]++
		if syn.Direction == neural.DirectionBi {
			inbound[syn.SourceID]++
		}
	}
	salient := make(map[string]bool)
	for _, f := range fibers {
		if f.Salience < pruneSalienceGuard {
			continue
		}
		for id := range f.NeuronIDs {
			salient[id] = true
		}
	}

	// Endpoints of reinforced non-inferred synapses carry consolidated
	// knowledge; removing them would strip fibers that must survive.
	reinforced := make(map[string]bool)
	for _, syn := range synapses {
		if syn.Inferred() || syn.ReinforcedCount < fiberGuardReinforce {
			continue
		}
		reinforced[syn.SourceID] = true
		reinforced[syn.TargetID] = true
	}

	doomed := make(map[string]bool)
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			return err
		}
		if st.ActivationLevel >= c.cfg.PruneThreshold {
			continue
		}
		if salient[st.NeuronID] || inbound[st.NeuronID] >= pruneHubInbound || reinforced[st.NeuronID] {
			report.Counts["neurons_protected"]++
			continue
		}
		doomed[st.NeuronID] = true
	}
	report.Counts["neurons_pruned"] = len(doomed)

	var doomedSynapses []string
	for _, syn := range synapses {
		if doomed[syn.SourceID] || doomed[syn.TargetID] {
			doomedSynapses = append(doomedSynapses, syn.ID)
			continue
		}
		if syn.Weight < pruneSynapseWeight && syn.ReinforcedCount == 0 {
			doomedSynapses = append(doomedSynapses, syn.ID)
		}
	}
	report.Counts["synapses_pruned"] = len(doomedSynapses)

	synByID := make(map[string]*neural.Synapse, len(synapses))
	for _, syn := range synapses {
		synByID[syn.ID] = syn
	}
	doomedSynSet := make(map[string]bool, len(doomedSynapses))
	for _, id := range doomedSynapses {
		doomedSynSet[id] = true
	}

	var doomedFibers []string
	var keptFibers []*neural.Fiber
	for _, f := range fibers {
		touched := false
		remaining := 0
		for id := range f.NeuronIDs {
			if doomed[id] {
				touched = true
			} else {
				remaining++
			}
		}
		if !touched {
			continue
		}
		if remaining > 0 {
			kept := pruneFiberMembers(f, doomed, doomedSynSet)
			keptFibers = append(keptFibers, kept)
			continue
		}
		// An empty fiber still survives while a reinforced non-inferred
		// synapse anchors it.
		guarded := false
		for id := range f.SynapseIDs {
			syn, ok := synByID[id]
			if !ok || doomedSynSet[id] {
				continue
			}
			if !syn.Inferred() && syn.ReinforcedCount >= fiberGuardReinforce {
				guarded = true
				break
			}
		}
		if guarded {
			report.Counts["fibers_protected"]++
			continue
		}
		doomedFibers = append(doomedFibers, f.ID)
	}
	report.Counts["fibers_pruned"] = len(doomedFibers)

	if dryRun {
		return nil
	}

	if len(doomedSynapses) > 0 {
		if err := c.store.DeleteSynapses(ctx, doomedSynapses); err != nil {
			return err
		}
	}
	if len(doomed) > 0 {
		ids := make([]string, 0, len(doomed))
		for id := range doomed {
			ids = append(ids, id)
		}
		if err := c.store.DeleteNeurons(ctx, ids); err != nil {
			return err
		}
	}
	for _, f := range keptFibers {
		if err := c.store.UpdateFiber(ctx, f); err != nil {
			return err
		}
	}
	if len(doomedFibers) > 0 {
		if err := c.store.DeleteFibers(ctx, doomedFibers); err != nil {
			return err
		}
	}
	return nil
}

// pruneFiberMembers strips doomed members from a surviving fiber while
// keeping the pathway and anchor consistent.
func pruneFiberMembers(f *neural.Fiber, doomedNeurons map[string]bool, doomedSynapses map[string]bool) *neural.Fiber {
	for id := range f.NeuronIDs {
		if doomedNeurons[id] {
			delete(f.NeuronIDs, id)
		}
	}
	for id := range f.SynapseIDs {
		if doomedSynapses[id] {
			delete(f.SynapseIDs, id)
		}
	}
	pathway := f.Pathway[:0]
	for _, id := range f.Pathway {
		if !doomedNeurons[id] {
			pathway = append(pathway, id)
		}
	}
	f.Pathway = pathway
	if doomedNeurons[f.AnchorNeuronID] {
		if len(f.Pathway) > 0 {
			f.AnchorNeuronID = f.Pathway[0]
		} else {
			for id := range f.NeuronIDs {
				f.AnchorNeuronID = id
				break
			}
		}
	}
	return f
}
