package consolidation

import (
	"context"
	"math/rand"
	"time"

	"github.com/adalundhe/neuralmem/core/activation"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Dream parameters: a handful of random walks, a weak trace that decays
// ten times faster than normal and survives only if reinforced later.
const (
	dreamSampleSize      = 10
	dreamSpreadHops      = 2
	dreamLinkWeight      = 0.1
	dreamDecayMultiplier = 10.0
)

// dream samples random neurons, runs a short spread from each, and links
// surprising co-activations — pairs that fired together without an edge —
// with a fragile RELATED_TO trace.
func (c *Consolidator) dream(ctx context.Context, report *Report, dryRun bool, rng *rand.Rand, now time.Time) error {
	neurons, err := c.store.ListNeurons(ctx, store.NeuronFilter{})
	if err != nil {
		return err
	}
	if len(neurons) < 2 {
		return nil
	}

	sample := make([]*neural.Neuron, len(neurons))
	copy(sample, neurons)
	rng.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })
	if len(sample) > dreamSampleSize {
		sample = sample[:dreamSampleSize]
	}
	report.Counts["neurons_sampled"] = len(sample)

	engine := activation.NewEngine(c.store, c.cfg, c.logger)
	linksCreated := 0
	for _, seed := range sample {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := engine.Spread(ctx, []activation.Anchor{{NeuronID: seed.ID, Weight: 1.0}}, dreamSpreadHops, now)
		if err != nil {
			return err
		}

		ranked := activation.RankedIDs(result.Scores)
		for _, other := range ranked {
			if other == seed.ID {
				continue
			}
			if linksCreated >= c.cfg.MaxInferencesPerRun {
				report.Counts["budget_exhausted"] = 1
				return nil
			}
			if _, err := c.store.GetSynapseBetween(ctx, seed.ID, other); err == nil {
				continue
			} else if err != store.ErrSynapseNotFound {
				return err
			}
			// Reached in the walk but never linked: a dream association.
			report.Counts["dream_links"]++
			linksCreated++
			if dryRun {
				continue
			}
			syn := neural.NewSynapse(seed.ID, other, neural.SynapseRelatedTo, dreamLinkWeight)
			syn.Bidirectional()
			syn.Metadata[neural.MetaInferred] = true
			syn.Metadata["dream"] = true
			syn.Metadata["decay_multiplier"] = dreamDecayMultiplier
			if err := c.store.AddSynapse(ctx, syn); err != nil {
				return err
			}
		}
	}
	return nil
}
