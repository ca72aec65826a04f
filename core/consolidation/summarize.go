package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Summarization gates: episodic fibers untouched for a quarter with
// almost no recall compress into one summary neuron.
const (
	summarizeMinAge     = 90 * 24 * time.Hour
	summarizeMaxAccess  = 2
	summarizeBatchLimit = 20
	summaryNeuronMaxLen = 400
	metaSummarized      = "_summarized"
	metaSummarizedInto  = "_summarized_into"
)

// summarize compresses old, rarely accessed episodic fibers into a single
// summary concept neuron linked back to each fiber's anchor.
func (c *Consolidator) summarize(ctx context.Context, report *Report, dryRun bool, now time.Time) error {
	maturations, err := c.store.FindMaturationsByStage(ctx, neural.StageEpisodic)
	if err != nil {
		return err
	}

	var old []*neural.Fiber
	for _, m := range maturations {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := c.store.GetFiber(ctx, m.FiberID)
		if err == store.ErrFiberNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if f.MetadataBool(metaSummarized) {
			continue
		}
		if now.Sub(f.CreatedAt) < summarizeMinAge || f.Frequency > summarizeMaxAccess {
			continue
		}
		old = append(old, f)
		if len(old) >= summarizeBatchLimit {
			break
		}
	}
	if len(old) == 0 {
		return nil
	}
	sort.Slice(old, func(i, j int) bool { return old[i].CreatedAt.Before(old[j].CreatedAt) })
	report.Counts["fibers_summarized"] = len(old)
	if dryRun {
		return nil
	}

	var parts []string
	for _, f := range old {
		if f.Summary != "" {
			parts = append(parts, f.Summary)
		}
	}
	content := strings.Join(parts, "; ")
	if len(content) > summaryNeuronMaxLen {
		content = content[:summaryNeuronMaxLen]
	}
	content = fmt.Sprintf("summary of %d memories: %s", len(old), content)

	summary := neural.NewNeuron(neural.NeuronTypeConcept, content, map[string]any{
		"summary":      true,
		"source_count": len(old),
	})
	if err := c.store.AddNeuron(ctx, summary); err != nil {
		return err
	}
	st := neural.NewNeuronState(summary.ID, neural.MemoryFact.DecayRate())
	st.Activate(0.5, now)
	if err := c.store.UpsertStates(ctx, []*neural.NeuronState{st}); err != nil {
		return err
	}
	report.Counts["summary_neurons_created"] = 1

	for _, f := range old {
		syn := neural.NewSynapse(summary.ID, f.AnchorNeuronID, neural.SynapseRelatedTo, 0.4)
		syn.Metadata[neural.MetaInferred] = true
		if err := c.store.AddSynapse(ctx, syn); err != nil {
			return err
		}
		f.Metadata[metaSummarized] = true
		f.Metadata[metaSummarizedInto] = summary.ID
		f.Salience *= 0.5
		if err := c.store.UpdateFiber(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
