package consolidation

import (
	"context"
	"time"
)

// mature applies pending stage transitions, then runs pattern extraction
// so freshly semantic clusters crystallize into concepts.
func (c *Consolidator) mature(ctx context.Context, report *Report, dryRun bool, now time.Time) error {
	maturation, err := c.decay.MatureAll(ctx, now, dryRun)
	if err != nil {
		return err
	}
	for transition, count := range maturation.Transitions {
		report.Counts["transition:"+transition] = count
	}
	report.Counts["reviews_due"] = maturation.ReviewsDue

	patterns, err := c.decay.ExtractPatterns(ctx, now, dryRun)
	if err != nil {
		return err
	}
	report.Counts["pattern_clusters"] = patterns.ClustersFound
	report.Counts["concepts_created"] = patterns.ConceptsCreated
	report.Counts["is_a_synapses"] = patterns.SynapsesCreated
	return nil
}
