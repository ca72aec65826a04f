package lifecycle

import (
	"context"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

// MaturationReport summarizes one stage-transition pass.
type MaturationReport struct {
	Reinforced  int            `json:"reinforced"`
	Transitions map[string]int `json:"transitions"`
	ReviewsDue  int            `json:"reviews_due"`
}

// Reinforce records one reinforcement on a fiber: the maturation counter
// and calendar day advance, member activations rise by the configured
// delta, and any eligible stage transition fires.
func (d *DecayManager) Reinforce(ctx context.Context, fiberID string, now time.Time) error {
	fiber, err := d.store.GetFiber(ctx, fiberID)
	if err != nil {
		return err
	}
	m, err := d.store.GetMaturation(ctx, fiberID)
	if err == store.ErrMaturationNotFound {
		m = neural.NewMaturation(fiberID, now)
	} else if err != nil {
		return err
	}

	m.Reinforce(now)
	if next := m.NextStage(now, fiber.CreatedAt); next != m.Stage {
		m.Advance(next, now)
	}
	if err := d.store.SaveMaturation(ctx, m); err != nil {
		return err
	}

	memberIDs := neural.SetSlice(fiber.NeuronIDs)
	states, err := d.store.GetStates(ctx, memberIDs)
	if err != nil {
		return err
	}
	var updated []*neural.NeuronState
	for _, id := range memberIDs {
		st, ok := states[id]
		if !ok {
			st = neural.NewNeuronState(id, d.cfg.DecayRate)
		}
		level := st.ActivationLevel + d.cfg.ReinforcementDelta
		if level > 1 {
			level = 1
		}
		// Direct reinforcement sets the level explicitly, outside the
		// sigmoid gate.
		st.Activate(level, now)
		updated = append(updated, st)
	}
	return d.store.UpsertStates(ctx, updated)
}

// MatureAll applies every eligible stage transition across the brain and
// counts fibers due for spaced review.
func (d *DecayManager) MatureAll(ctx context.Context, now time.Time, dryRun bool) (*MaturationReport, error) {
	report := &MaturationReport{Transitions: make(map[string]int)}

	fibers, err := d.store.AllFibers(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range fibers {
		m, err := d.store.GetMaturation(ctx, f.ID)
		if err == store.ErrMaturationNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if m.ReviewDue(now) {
			report.ReviewsDue++
		}
		next := m.NextStage(now, f.CreatedAt)
		if next == m.Stage {
			continue
		}
		report.Transitions[string(m.Stage)+"->"+string(next)]++
		if dryRun {
			continue
		}
		m.Advance(next, now)
		if err := d.store.SaveMaturation(ctx, m); err != nil {
			return nil, err
		}
	}
	return report, nil
}
