package consolidation

import (
	"context"
	"sort"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

const crossClusterWeight = 0.3

// enrich adds structure no single encode could see: the transitive
// closure of causal chains (A→B→C implies A→C at half the weaker link),
// and RELATED_TO bridges between fibers that share an entity.
func (c *Consolidator) enrich(ctx context.Context, report *Report, dryRun bool) error {
	if err := c.closeCausalChains(ctx, report, dryRun); err != nil {
		return err
	}
	return c.bridgeClusters(ctx, report, dryRun)
}

func (c *Consolidator) closeCausalChains(ctx context.Context, report *Report, dryRun bool) error {
	synapses, err := c.store.AllSynapses(ctx)
	if err != nil {
		return err
	}

	causal := make(map[string][]*neural.Synapse)
	for _, syn := range synapses {
		if syn.Type == neural.SynapseCausedBy {
			causal[syn.SourceID] = append(causal[syn.SourceID], syn)
		}
	}
	sources := make([]string, 0, len(causal))
	for id := range causal {
		sources = append(sources, id)
	}
	sort.Strings(sources)

	inferences := 0
	for _, a := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, ab := range causal[a] {
			for _, bc := range causal[ab.TargetID] {
				if bc.TargetID == a {
					continue
				}
				if inferences >= c.cfg.MaxInferencesPerRun {
					report.Counts["budget_exhausted"] = 1
					return nil
				}
				if _, err := c.store.GetSynapseBetween(ctx, a, bc.TargetID); err == nil {
					continue
				} else if err != store.ErrSynapseNotFound {
					return err
				}

				weight := 0.5 * minFloat(ab.Weight, bc.Weight)
				report.Counts["causal_links_inferred"]++
				inferences++
				if dryRun {
					continue
				}
				syn := neural.NewSynapse(a, bc.TargetID, neural.SynapseCausedBy, weight)
				syn.Metadata[neural.MetaInferred] = true
				syn.Metadata["via"] = ab.TargetID
				if err := c.store.AddSynapse(ctx, syn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// bridgeClusters links anchors of fibers that share an entity neuron but
// have no edge between them yet.
func (c *Consolidator) bridgeClusters(ctx context.Context, report *Report, dryRun bool) error {
	fibers, err := c.store.AllFibers(ctx)
	if err != nil {
		return err
	}

	byNeuron := make(map[string][]*neural.Fiber)
	for _, f := range fibers {
		for id := range f.NeuronIDs {
			byNeuron[id] = append(byNeuron[id], f)
		}
	}
	shared := make([]string, 0, len(byNeuron))
	for id, members := range byNeuron {
		if len(members) >= 2 {
			shared = append(shared, id)
		}
	}
	sort.Strings(shared)

	neurons, err := c.store.GetNeurons(ctx, shared)
	if err != nil {
		return err
	}

	linked := make(map[[2]string]bool)
	for _, id := range shared {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := neurons[id]
		if !ok || n.Type != neural.NeuronTypeEntity {
			continue
		}
		members := byNeuron[id]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i].AnchorNeuronID, members[j].AnchorNeuronID
				if a == b || a == "" || b == "" {
					continue
				}
				key := [2]string{a, b}
				if b < a {
					key = [2]string{b, a}
				}
				if linked[key] {
					continue
				}
				linked[key] = true

				if _, err := c.store.GetSynapseBetween(ctx, a, b); err == nil {
					continue
				} else if err != store.ErrSynapseNotFound {
					return err
				}
				report.Counts["cross_cluster_links"]++
				if dryRun {
					continue
				}
				syn := neural.NewSynapse(a, b, neural.SynapseRelatedTo, crossClusterWeight)
				syn.Bidirectional()
				syn.Metadata[neural.MetaInferred] = true
				syn.Metadata["shared_entity"] = id
				if err := c.store.AddSynapse(ctx, syn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
