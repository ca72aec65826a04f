package lifecycle

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

func newManager(t *testing.T) (*DecayManager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return NewDecayManager(s, neural.DefaultBrainConfig(), nil), s
}

func seedNeuron(t *testing.T, s *store.MemoryStore, content string, decayRate, activation float64) *neural.Neuron {
	t.Helper()
	ctx := context.Background()
	n := neural.NewNeuron(neural.NeuronTypeConcept, content, nil)
	require.NoError(t, s.AddNeuron(ctx, n))
	st := neural.NewNeuronState(n.ID, decayRate)
	st.ActivationLevel = activation
	require.NoError(t, s.UpsertStates(ctx, []*neural.NeuronState{st}))
	return n
}

func TestDecayFactNeuronOverThirtyDays(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	n := seedNeuron(t, s, "fact", 0.02, 1.0)

	report, err := d.Run(ctx, 30*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.StatesDecayed)

	states, err := s.GetStates(ctx, []string{n.ID})
	require.NoError(t, err)
	// a' = exp(-0.02 * 30) = exp(-0.6).
	assert.InDelta(t, math.Exp(-0.6), states[n.ID].ActivationLevel, 1e-3)
}

func TestDecayTodoNeuronBecomesPrunable(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	n := seedNeuron(t, s, "todo item", 0.15, 1.0)

	report, err := d.Run(ctx, 30*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PruneEligible)

	states, err := s.GetStates(ctx, []string{n.ID})
	require.NoError(t, err)
	// a' = exp(-0.15 * 30) = exp(-4.5) ≈ 0.011, under the 0.02 prune
	// threshold.
	assert.InDelta(t, math.Exp(-4.5), states[n.ID].ActivationLevel, 1e-3)
	assert.Less(t, states[n.ID].ActivationLevel, 0.02)
}

func TestDecayDryRunWritesNothing(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	n := seedNeuron(t, s, "fact", 0.02, 1.0)

	report, err := d.Run(ctx, 30*24*time.Hour, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)

	states, err := s.GetStates(ctx, []string{n.ID})
	require.NoError(t, err)
	assert.Equal(t, 1.0, states[n.ID].ActivationLevel)
}

func TestDecayStageMultiplier(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stm := seedNeuron(t, s, "short term", 0.02, 1.0)
	semantic := seedNeuron(t, s, "long term", 0.02, 1.0)

	for _, tc := range []struct {
		neuron *neural.Neuron
		stage  neural.Stage
	}{
		{stm, neural.StageSTM},
		{semantic, neural.StageSemantic},
	} {
		f, err := neural.NewFiber([]string{tc.neuron.ID}, nil, tc.neuron.ID, []string{tc.neuron.ID})
		require.NoError(t, err)
		require.NoError(t, s.AddFiber(ctx, f))
		m := neural.NewMaturation(f.ID, now)
		m.Advance(tc.stage, now)
		require.NoError(t, s.SaveMaturation(ctx, m))
	}

	_, err := d.Run(ctx, 10*24*time.Hour, false)
	require.NoError(t, err)

	states, err := s.GetStates(ctx, []string{stm.ID, semantic.ID})
	require.NoError(t, err)
	// STM decays at x5, semantic at x0.3.
	assert.InDelta(t, math.Exp(-0.02*5.0*10), states[stm.ID].ActivationLevel, 1e-6)
	assert.InDelta(t, math.Exp(-0.02*0.3*10), states[semantic.ID].ActivationLevel, 1e-6)
	assert.Greater(t, states[semantic.ID].ActivationLevel, states[stm.ID].ActivationLevel)
}

func TestInferredSynapseDoubleDecay(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	a := seedNeuron(t, s, "a", 0.02, 1.0)
	b := seedNeuron(t, s, "b", 0.02, 1.0)

	inferred := neural.NewSynapse(a.ID, b.ID, neural.SynapseRelatedTo, 0.5)
	inferred.Metadata[neural.MetaInferred] = true
	require.NoError(t, s.AddSynapse(ctx, inferred))

	stable := neural.NewSynapse(b.ID, a.ID, neural.SynapseCoOccurs, 0.5)
	require.NoError(t, s.AddSynapse(ctx, stable))

	report, err := d.Run(ctx, 7*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SynapsesDecayed)

	got, err := s.GetSynapse(ctx, inferred.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*math.Exp(-0.1*2.0*7), got.Weight, 1e-6)

	untouched, err := s.GetSynapse(ctx, stable.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, untouched.Weight)
}

func TestMaturationSpacingEffect(t *testing.T) {
	day0 := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	m := neural.NewMaturation("fiber", day0)
	fiberCreated := day0

	// Five reinforcements on day 0: one calendar day only.
	for i := 0; i < 5; i++ {
		m.Reinforce(day0.Add(time.Duration(i) * time.Minute))
	}
	assert.Equal(t, 5, m.ReinforcementCount)
	assert.Len(t, m.ReinforcementDays, 1)

	// Walk the stages forward: STM -> WORKING -> EPISODIC.
	at := day0.Add(time.Hour)
	m.Advance(m.NextStage(at, fiberCreated), at)
	assert.Equal(t, neural.StageWorking, m.Stage)

	at = day0.Add(6 * time.Hour)
	m.Advance(m.NextStage(at, fiberCreated), at)
	assert.Equal(t, neural.StageEpisodic, m.Stage)

	// Day 7 with a single reinforcement day: still episodic.
	day7 := day0.AddDate(0, 0, 7).Add(time.Hour)
	assert.Equal(t, neural.StageEpisodic, m.NextStage(day7, fiberCreated),
		"spacing effect requires three distinct days")

	// Reinforce on days 2 and 4; after day 7 the fiber turns semantic.
	m.Reinforce(day0.AddDate(0, 0, 2))
	m.Reinforce(day0.AddDate(0, 0, 4))
	assert.Len(t, m.ReinforcementDays, 3)
	assert.Equal(t, neural.StageSemantic, m.NextStage(day7, fiberCreated))
}

func TestReinforceAdvancesStage(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	n := seedNeuron(t, s, "note", 0.02, 0.5)

	f, err := neural.NewFiber([]string{n.ID}, nil, n.ID, []string{n.ID})
	require.NoError(t, err)
	f.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.AddFiber(ctx, f))

	m := neural.NewMaturation(f.ID, f.CreatedAt)
	require.NoError(t, s.SaveMaturation(ctx, m))

	require.NoError(t, d.Reinforce(ctx, f.ID, time.Now().UTC()))

	got, err := s.GetMaturation(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReinforcementCount)
	// Thirty minutes in stage plus one reinforcement unlocks WORKING.
	assert.Equal(t, neural.StageWorking, got.Stage)

	states, err := s.GetStates(ctx, []string{n.ID})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, states[n.ID].ActivationLevel, 1e-9)
}

func TestExtractPatternsCreatesConcept(t *testing.T) {
	d, s := newManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entity := neural.NewNeuron(neural.NeuronTypeEntity, "Redis", nil)
	require.NoError(t, s.AddNeuron(ctx, entity))

	// Three episodic fibers sharing the entity and near-identical tags.
	for i := 0; i < 3; i++ {
		other := neural.NewNeuron(neural.NeuronTypeConcept, "episode "+string(rune('a'+i)), nil)
		require.NoError(t, s.AddNeuron(ctx, other))

		f, err := neural.NewFiber([]string{entity.ID, other.ID}, nil, entity.ID, []string{entity.ID, other.ID})
		require.NoError(t, err)
		f.AutoTags["caching"] = struct{}{}
		f.AutoTags["redis"] = struct{}{}
		require.NoError(t, s.AddFiber(ctx, f))

		m := neural.NewMaturation(f.ID, now)
		m.Advance(neural.StageEpisodic, now)
		require.NoError(t, s.SaveMaturation(ctx, m))
	}

	report, err := d.ExtractPatterns(ctx, now, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ClustersFound)
	assert.Equal(t, 1, report.ConceptsCreated)

	concept, err := s.FindNeuron(ctx, neural.NeuronTypeConcept, "redis")
	require.NoError(t, err)

	syn, err := s.GetSynapseBetween(ctx, entity.ID, concept.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.SynapseIsA, syn.Type)
	assert.True(t, syn.Inferred())
}
