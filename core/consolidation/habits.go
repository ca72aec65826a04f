package consolidation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// Habit mining parameters. Sequences of two to five actions repeated
// across at least three sessions with consistent tags become workflow
// templates.
const (
	habitWindowDays     = 30
	habitMinSequence    = 2
	habitMaxSequence    = 5
	habitMinFrequency   = 3
	habitTagConsistency = 0.5
	workflowTag         = "workflow"
)

type habitCandidate struct {
	actions  []string
	count    int
	sessions map[string]struct{}
	tags     map[string]int
}

// learnHabits mines per-session action streams with sliding-window
// subsequence counting and promotes frequent, tag-consistent sequences to
// workflow template fibers.
func (c *Consolidator) learnHabits(ctx context.Context, report *Report, dryRun bool, now time.Time) error {
	since := now.Add(-habitWindowDays * 24 * time.Hour)
	sequences, err := c.store.ActionSequences(ctx, since)
	if err != nil {
		return err
	}
	report.Counts["sessions_scanned"] = len(sequences)

	candidates := make(map[string]*habitCandidate)
	for sessionID, events := range sequences {
		if err := ctx.Err(); err != nil {
			return err
		}
		for length := habitMinSequence; length <= habitMaxSequence; length++ {
			for start := 0; start+length <= len(events); start++ {
				window := events[start : start+length]
				actions := make([]string, length)
				for i, e := range window {
					actions[i] = strings.ToLower(strings.TrimSpace(e.Action))
				}
				key := strings.Join(actions, "\x1f")

				cand, ok := candidates[key]
				if !ok {
					cand = &habitCandidate{
						actions:  actions,
						sessions: make(map[string]struct{}),
						tags:     make(map[string]int),
					}
					candidates[key] = cand
				}
				cand.count++
				cand.sessions[sessionID] = struct{}{}
				// Each tag counts once per occurrence of the window.
				windowTags := make(map[string]struct{})
				for _, e := range window {
					for _, tag := range e.Tags {
						windowTags[tag] = struct{}{}
					}
				}
				for tag := range windowTags {
					cand.tags[tag]++
				}
			}
		}
	}

	keys := make([]string, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := candidates[keys[i]], candidates[keys[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		if len(a.actions) != len(b.actions) {
			return len(a.actions) > len(b.actions)
		}
		return keys[i] < keys[j]
	})

	promoted := make(map[string]bool)
	for _, key := range keys {
		cand := candidates[key]
		if cand.count < habitMinFrequency {
			continue
		}
		if subsumedByPromoted(cand.actions, promoted) {
			continue
		}
		tags := consistentTags(cand)
		if len(cand.tags) > 0 && len(tags) == 0 {
			continue
		}

		summary := strings.Join(cand.actions, " then ")
		exists, err := c.workflowExists(ctx, summary)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		report.Counts["workflows_promoted"]++
		promoted[key] = true
		if dryRun {
			continue
		}
		if err := c.createWorkflowFiber(ctx, cand, summary, tags, now); err != nil {
			return err
		}
	}
	return nil
}

// consistentTags returns tags seen in at least half of the sequence's
// occurrences.
func consistentTags(cand *habitCandidate) []string {
	var out []string
	for tag, count := range cand.tags {
		if float64(count) >= habitTagConsistency*float64(cand.count) {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

// subsumedByPromoted skips sub-sequences of an already promoted workflow.
func subsumedByPromoted(actions []string, promoted map[string]bool) bool {
	needle := strings.Join(actions, "\x1f")
	for key := range promoted {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func (c *Consolidator) workflowExists(ctx context.Context, summary string) (bool, error) {
	fibers, err := c.store.ListFibersByTag(ctx, workflowTag)
	if err != nil {
		return false, err
	}
	for _, f := range fibers {
		if f.Summary == summary {
			return true, nil
		}
	}
	return false, nil
}

// createWorkflowFiber encodes the promoted sequence as ACTION neurons
// chained with BEFORE edges under a workflow-tagged fiber.
func (c *Consolidator) createWorkflowFiber(ctx context.Context, cand *habitCandidate, summary string, tags []string, now time.Time) error {
	var neuronIDs, pathway []string
	var synapseIDs []string
	var prev string

	for _, action := range cand.actions {
		n, err := c.store.FindNeuron(ctx, neural.NeuronTypeAction, neural.CanonicalContent(action))
		if err == store.ErrNeuronNotFound {
			n = neural.NewNeuron(neural.NeuronTypeAction, action, map[string]any{"workflow_step": true})
			if err := c.store.AddNeuron(ctx, n); err != nil {
				return err
			}
			st := neural.NewNeuronState(n.ID, neural.MemoryInstruction.DecayRate())
			st.Activate(0.5, now)
			if err := c.store.UpsertStates(ctx, []*neural.NeuronState{st}); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		neuronIDs = append(neuronIDs, n.ID)
		pathway = append(pathway, n.ID)
		if prev != "" {
			syn := neural.NewSynapse(prev, n.ID, neural.SynapseBefore, 0.6)
			syn.Metadata[neural.MetaInferred] = true
			if err := c.store.AddSynapse(ctx, syn); err != nil {
				return err
			}
			synapseIDs = append(synapseIDs, syn.ID)
		}
		prev = n.ID
	}

	fiber, err := neural.NewFiber(neuronIDs, synapseIDs, pathway[0], pathway)
	if err != nil {
		return err
	}
	fiber.Summary = summary
	fiber.Salience = 0.6
	fiber.Frequency = cand.count
	fiber.AutoTags[workflowTag] = struct{}{}
	for _, tag := range tags {
		fiber.AutoTags[tag] = struct{}{}
	}
	fiber.Metadata["memory_type"] = string(neural.MemoryInstruction)
	fiber.Metadata["sessions"] = len(cand.sessions)
	fiber.CreatedAt = now
	if err := c.store.AddFiber(ctx, fiber); err != nil {
		return err
	}
	return c.store.SaveMaturation(ctx, neural.NewMaturation(fiber.ID, now))
}
