package consolidation

import (
	"context"
	"sort"

	"github.com/adalundhe/neuralmem/core/cluster"
	"github.com/adalundhe/neuralmem/core/neural"
)

// mergeJaccardThreshold gates fiber merging: near-identical tag sets plus
// a shared anchor mean the same memory encoded twice.
const mergeJaccardThreshold = 0.8

// merge folds fibers with matching anchors and near-identical tags into
// the most salient member of each group, unioning membership and
// recomputing the pathway deterministically.
func (c *Consolidator) merge(ctx context.Context, report *Report, dryRun bool) error {
	fibers, err := c.store.AllFibers(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]*neural.Fiber, len(fibers))
	var ids []string
	for _, f := range fibers {
		byID[f.ID] = f
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)

	uf := cluster.NewUnionFind()
	for i := 0; i < len(ids); i++ {
		uf.Add(ids[i])
		for j := i + 1; j < len(ids); j++ {
			a, b := byID[ids[i]], byID[ids[j]]
			if a.AnchorNeuronID != b.AnchorNeuronID {
				continue
			}
			if neural.TagJaccard(a, b) >= mergeJaccardThreshold {
				uf.Union(ids[i], ids[j])
			}
		}
	}

	for _, members := range uf.Clusters() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(members) < 2 {
			continue
		}
		report.Counts["groups_merged"]++
		report.Counts["fibers_absorbed"] += len(members) - 1
		if dryRun {
			continue
		}

		// The most salient fiber survives; ties go to the oldest.
		survivor := byID[members[0]]
		for _, id := range members[1:] {
			f := byID[id]
			if f.Salience > survivor.Salience ||
				(f.Salience == survivor.Salience && f.CreatedAt.Before(survivor.CreatedAt)) {
				survivor = f
			}
		}

		var absorbed []string
		for _, id := range members {
			f := byID[id]
			if f.ID == survivor.ID {
				continue
			}
			absorbed = append(absorbed, f.ID)
			for nid := range f.NeuronIDs {
				survivor.NeuronIDs[nid] = struct{}{}
			}
			for sid := range f.SynapseIDs {
				survivor.SynapseIDs[sid] = struct{}{}
			}
			for tag := range f.AutoTags {
				survivor.AutoTags[tag] = struct{}{}
			}
			for tag := range f.AgentTags {
				survivor.AgentTags[tag] = struct{}{}
			}
			survivor.Frequency += f.Frequency
		}

		pathway, err := c.orderedPathway(ctx, survivor)
		if err != nil {
			return err
		}
		survivor.Pathway = pathway

		if err := c.store.UpdateFiber(ctx, survivor); err != nil {
			return err
		}
		if err := c.store.DeleteFibers(ctx, absorbed); err != nil {
			return err
		}
	}
	return nil
}

// pathwayTypeRank mirrors the encoder's conduction order: time leads,
// concepts trail.
var pathwayTypeRank = map[neural.NeuronType]int{
	neural.NeuronTypeTime:    0,
	neural.NeuronTypeSpatial: 1,
	neural.NeuronTypeEntity:  2,
	neural.NeuronTypeAction:  3,
	neural.NeuronTypeIntent:  4,
	neural.NeuronTypeConcept: 5,
	neural.NeuronTypeState:   6,
	neural.NeuronTypeSensory: 7,
}

// orderedPathway recomputes a fiber's pathway from its full membership:
// type order first, then id for determinism.
func (c *Consolidator) orderedPathway(ctx context.Context, f *neural.Fiber) ([]string, error) {
	memberIDs := neural.SetSlice(f.NeuronIDs)
	neurons, err := c.store.GetNeurons(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	sort.Slice(memberIDs, func(i, j int) bool {
		a, b := neurons[memberIDs[i]], neurons[memberIDs[j]]
		ra, rb := 9, 9
		if a != nil {
			ra = pathwayTypeRank[a.Type]
		}
		if b != nil {
			rb = pathwayTypeRank[b.Type]
		}
		if ra != rb {
			return ra < rb
		}
		return memberIDs[i] < memberIDs[j]
	})
	return memberIDs, nil
}
