package consolidation

import (
	"context"
	"sort"
	"time"

	"github.com/adalundhe/neuralmem/core/cluster"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Associative tag clusters need this many members before tagging fires.
const inferTagClusterSize = 3

// infer turns repeated co-activation into structure: pairs seen at least
// co_activation_threshold times inside the window gain a CO_OCCURS edge
// (weight count/10, capped) or reinforce the edge they already have.
// BFS clusters of co-activated neurons contribute associative tags to the
// fibers that hold them.
func (c *Consolidator) infer(ctx context.Context, report *Report, dryRun bool, now time.Time) error {
	since := now.Add(-time.Duration(c.cfg.CoActivationWindowDays) * 24 * time.Hour)
	counts, err := c.store.CoActivationCounts(ctx, since)
	if err != nil {
		return err
	}

	pairs := make([]store.Pair, 0, len(counts))
	for p, count := range counts {
		if count >= c.cfg.CoActivationThreshold {
			pairs = append(pairs, p)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if counts[pairs[i]] != counts[pairs[j]] {
			return counts[pairs[i]] > counts[pairs[j]]
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})

	inferences := 0
	uf := cluster.NewUnionFind()
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if inferences >= c.cfg.MaxInferencesPerRun {
			report.Counts["budget_exhausted"] = 1
			break
		}
		uf.Union(p.A, p.B)

		weight := float64(counts[p]) / 10
		if weight > 1 {
			weight = 1
		}

		existing, err := c.store.GetSynapseBetween(ctx, p.A, p.B)
		if err == store.ErrSynapseNotFound {
			// Pairs are canonically ordered; a one-way edge may run B->A.
			existing, err = c.store.GetSynapseBetween(ctx, p.B, p.A)
		}
		if err == store.ErrSynapseNotFound {
			report.Counts["synapses_inferred"]++
			inferences++
			if dryRun {
				continue
			}
			syn := neural.NewSynapse(p.A, p.B, neural.SynapseCoOccurs, weight)
			syn.Bidirectional()
			syn.Metadata[neural.MetaInferred] = true
			syn.Metadata["co_activation_count"] = counts[p]
			if err := c.store.AddSynapse(ctx, syn); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		report.Counts["synapses_reinforced"]++
		inferences++
		if dryRun {
			continue
		}
		reinforced := existing.Weight + weight*0.1
		if reinforced > neural.WeightMax {
			reinforced = neural.WeightMax
		}
		update := store.SynapseUpdate{
			SynapseID:       existing.ID,
			Weight:          reinforced,
			ReinforcedCount: existing.ReinforcedCount + 1,
			LastActivated:   now,
		}
		if err := c.store.UpdateSynapse(ctx, update); err != nil {
			return err
		}
	}

	return c.associativeTags(ctx, report, dryRun, uf)
}

// associativeTags names each co-activation cluster after its most
// connected member and tags the fibers holding at least two members.
func (c *Consolidator) associativeTags(ctx context.Context, report *Report, dryRun bool, uf *cluster.UnionFind) error {
	for _, members := range uf.Clusters() {
		if len(members) < inferTagClusterSize {
			continue
		}
		report.Counts["associative_clusters"]++

		neurons, err := c.store.GetNeurons(ctx, members)
		if err != nil {
			return err
		}
		name := ""
		for _, id := range members {
			if n, ok := neurons[id]; ok {
				name = neural.CanonicalContent(n.Content)
				break
			}
		}
		if name == "" {
			continue
		}
		tag := "assoc:" + name

		fibers, err := c.store.FindFibersByNeurons(ctx, members)
		if err != nil {
			return err
		}
		for _, f := range fibers {
			held := 0
			for _, id := range members {
				if f.ContainsNeuron(id) {
					held++
				}
			}
			if held < 2 || f.HasTag(tag) {
				continue
			}
			report.Counts["fibers_tagged"]++
			if dryRun {
				continue
			}
			f.AutoTags[tag] = struct{}{}
			if err := c.store.UpdateFiber(ctx, f); err != nil {
				return err
			}
		}
	}
	return nil
}
