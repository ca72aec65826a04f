package lifecycle

import (
	"context"
	"sort"
	"time"

	"github.com/adalundhe/neuralmem/core/cluster"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Pattern extraction thresholds: clusters form at 0.6 tag Jaccard and
// crystallize into a concept at three members.
const (
	patternJaccardThreshold = 0.6
	patternMinClusterSize   = 3
	isAWeight               = 0.6
)

// PatternReport summarizes one extraction pass.
type PatternReport struct {
	ClustersFound   int `json:"clusters_found"`
	ConceptsCreated int `json:"concepts_created"`
	SynapsesCreated int `json:"synapses_created"`
}

// ExtractPatterns clusters episodic fibers by tag similarity with
// Union-Find; each cluster of three or more yields a CONCEPT neuron named
// after the most frequent shared entity, with IS_A edges from every
// common entity.
func (d *DecayManager) ExtractPatterns(ctx context.Context, now time.Time, dryRun bool) (*PatternReport, error) {
	report := &PatternReport{}

	maturations, err := d.store.FindMaturationsByStage(ctx, neural.StageEpisodic)
	if err != nil {
		return nil, err
	}
	if len(maturations) < patternMinClusterSize {
		return report, nil
	}

	fibers := make(map[string]*neural.Fiber, len(maturations))
	var ids []string
	for _, m := range maturations {
		f, err := d.store.GetFiber(ctx, m.FiberID)
		if err == store.ErrFiberNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		fibers[f.ID] = f
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)

	uf := cluster.NewUnionFind()
	for i := 0; i < len(ids); i++ {
		uf.Add(ids[i])
		for j := i + 1; j < len(ids); j++ {
			if neural.TagJaccard(fibers[ids[i]], fibers[ids[j]]) >= patternJaccardThreshold {
				uf.Union(ids[i], ids[j])
			}
		}
	}

	for _, members := range uf.Clusters() {
		if len(members) < patternMinClusterSize {
			continue
		}
		report.ClustersFound++

		entityIDs, conceptName := d.commonEntities(ctx, members, fibers)
		if conceptName == "" {
			continue
		}
		report.ConceptsCreated++
		report.SynapsesCreated += len(entityIDs)
		if dryRun {
			continue
		}

		concept, err := d.store.FindNeuron(ctx, neural.NeuronTypeConcept, neural.CanonicalContent(conceptName))
		if err == store.ErrNeuronNotFound {
			concept = neural.NewNeuron(neural.NeuronTypeConcept, conceptName, map[string]any{
				"pattern_extracted": true,
			})
			if err := d.store.AddNeuron(ctx, concept); err != nil {
				return nil, err
			}
			st := neural.NewNeuronState(concept.ID, neural.MemoryFact.DecayRate())
			st.Activate(0.5, now)
			if err := d.store.UpsertStates(ctx, []*neural.NeuronState{st}); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}

		for _, entityID := range entityIDs {
			if existing, err := d.store.GetSynapseBetween(ctx, entityID, concept.ID); err == nil && existing.Type == neural.SynapseIsA {
				continue
			}
			syn := neural.NewSynapse(entityID, concept.ID, neural.SynapseIsA, isAWeight)
			syn.Metadata[neural.MetaInferred] = true
			if err := d.store.AddSynapse(ctx, syn); err != nil {
				return nil, err
			}
		}
	}
	return report, nil
}

// commonEntities returns the entity neurons shared by every cluster
// member and the most frequent entity's content as the concept name.
func (d *DecayManager) commonEntities(ctx context.Context, members []string, fibers map[string]*neural.Fiber) ([]string, string) {
	counts := make(map[string]int)
	contents := make(map[string]string)
	for _, fiberID := range members {
		f := fibers[fiberID]
		neurons, err := d.store.GetNeurons(ctx, neural.SetSlice(f.NeuronIDs))
		if err != nil {
			continue
		}
		seen := make(map[string]struct{})
		for id, n := range neurons {
			if n.Type != neural.NeuronTypeEntity {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			counts[id]++
			contents[id] = n.Content
		}
	}

	var common []string
	for id, count := range counts {
		if count == len(members) {
			common = append(common, id)
		}
	}
	sort.Strings(common)

	best := ""
	bestCount := 0
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if counts[id] > bestCount {
			bestCount = counts[id]
			best = contents[id]
		}
	}
	if len(common) == 0 {
		return nil, ""
	}
	return common, best
}
