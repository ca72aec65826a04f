package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

func newConsolidator(t *testing.T) (*Consolidator, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return New(s, neural.DefaultBrainConfig(), nil), s
}

func addNeuronWithState(t *testing.T, s *store.MemoryStore, content string, activation float64) *neural.Neuron {
	t.Helper()
	ctx := context.Background()
	n := neural.NewNeuron(neural.NeuronTypeConcept, content, nil)
	require.NoError(t, s.AddNeuron(ctx, n))
	st := neural.NewNeuronState(n.ID, 0.02)
	st.ActivationLevel = activation
	require.NoError(t, s.UpsertStates(ctx, []*neural.NeuronState{st}))
	return n
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	c, _ := newConsolidator(t)
	_, err := c.Run(context.Background(), Strategy("bogus"), Options{}, time.Now().UTC())
	assert.Error(t, err)
}

func TestPruneRemovesFadedNeurons(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	faded := addNeuronWithState(t, s, "faded", 0.001)
	alive := addNeuronWithState(t, s, "alive", 0.8)

	report, err := c.Run(ctx, StrategyPrune, Options{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["neurons_pruned"])

	_, err = s.GetNeuron(ctx, faded.ID)
	assert.Equal(t, store.ErrNeuronNotFound, err)
	_, err = s.GetNeuron(ctx, alive.ID)
	assert.NoError(t, err)
}

func TestPruneProtectsHubsAndSalientFibers(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	hub := addNeuronWithState(t, s, "hub", 0.001)
	for i := 0; i < 8; i++ {
		spoke := addNeuronWithState(t, s, "spoke "+string(rune('a'+i)), 0.5)
		syn := neural.NewSynapse(spoke.ID, hub.ID, neural.SynapseCoOccurs, 0.5)
		require.NoError(t, s.AddSynapse(ctx, syn))
	}

	salient := addNeuronWithState(t, s, "salient", 0.001)
	f, err := neural.NewFiber([]string{salient.ID}, nil, salient.ID, []string{salient.ID})
	require.NoError(t, err)
	f.Salience = 0.9
	require.NoError(t, s.AddFiber(ctx, f))

	report, err := c.Run(ctx, StrategyPrune, Options{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, report.Counts["neurons_pruned"])
	assert.Equal(t, 2, report.Counts["neurons_protected"])
}

func TestPruneDryRunDeletesNothing(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()
	faded := addNeuronWithState(t, s, "faded", 0.001)

	report, err := c.Run(ctx, StrategyPrune, Options{DryRun: true}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["neurons_pruned"])

	_, err = s.GetNeuron(ctx, faded.ID)
	assert.NoError(t, err, "dry run leaves rows in place")
}

func TestPruneKeepsFiberWithReinforcedSynapse(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	a := addNeuronWithState(t, s, "a", 0.001)
	b := addNeuronWithState(t, s, "b", 0.001)
	syn := neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.6)
	syn.ReinforcedCount = 3
	require.NoError(t, s.AddSynapse(ctx, syn))

	f, err := neural.NewFiber([]string{a.ID, b.ID}, []string{syn.ID}, a.ID, []string{a.ID, b.ID})
	require.NoError(t, err)
	require.NoError(t, s.AddFiber(ctx, f))

	report, err := c.Run(ctx, StrategyPrune, Options{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, report.Counts["neurons_pruned"])
	assert.Zero(t, report.Counts["fibers_pruned"])

	_, err = s.GetFiber(ctx, f.ID)
	assert.NoError(t, err, "a reinforced non-inferred synapse anchors the fiber")
}

func TestMergeUnionsFibers(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	anchor := addNeuronWithState(t, s, "anchor", 0.8)
	extraA := addNeuronWithState(t, s, "extra a", 0.5)
	extraB := addNeuronWithState(t, s, "extra b", 0.5)

	f1, err := neural.NewFiber([]string{anchor.ID, extraA.ID}, nil, anchor.ID, []string{anchor.ID, extraA.ID})
	require.NoError(t, err)
	f1.Salience = 0.9
	f1.AutoTags["deploy"] = struct{}{}
	f1.AutoTags["ci"] = struct{}{}
	require.NoError(t, s.AddFiber(ctx, f1))

	f2, err := neural.NewFiber([]string{anchor.ID, extraB.ID}, nil, anchor.ID, []string{anchor.ID, extraB.ID})
	require.NoError(t, err)
	f2.Salience = 0.3
	f2.AutoTags["deploy"] = struct{}{}
	f2.AutoTags["ci"] = struct{}{}
	require.NoError(t, s.AddFiber(ctx, f2))

	report, err := c.Run(ctx, StrategyMerge, Options{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["groups_merged"])

	// The salient fiber absorbed the other.
	survivor, err := s.GetFiber(ctx, f1.ID)
	require.NoError(t, err)
	assert.True(t, survivor.ContainsNeuron(extraB.ID))
	assert.Len(t, survivor.Pathway, 3)

	_, err = s.GetFiber(ctx, f2.ID)
	assert.Equal(t, store.ErrFiberNotFound, err)
}

func TestInferCreatesCoOccursFromCoActivation(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	x := addNeuronWithState(t, s, "x", 0.8)
	y := addNeuronWithState(t, s, "y", 0.8)

	// The same pair co-activated three times inside the window.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordCoActivations(ctx, []store.CoActivationEvent{
			store.NewCoActivationEvent(x.ID, y.ID, now.Add(-time.Duration(i)*24*time.Hour)),
		}))
	}

	report, err := c.Run(ctx, StrategyInfer, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["synapses_inferred"])

	syn, err := s.GetSynapseBetween(ctx, x.ID, y.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.SynapseCoOccurs, syn.Type)
	assert.InDelta(t, 0.3, syn.Weight, 1e-9)
	assert.True(t, syn.Inferred())
}

func TestInferReinforcesExistingSynapse(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	x := addNeuronWithState(t, s, "x", 0.8)
	y := addNeuronWithState(t, s, "y", 0.8)
	syn := neural.NewSynapse(x.ID, y.ID, neural.SynapseCoOccurs, 0.4)
	require.NoError(t, s.AddSynapse(ctx, syn))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordCoActivations(ctx, []store.CoActivationEvent{
			store.NewCoActivationEvent(x.ID, y.ID, now.Add(-time.Hour)),
		}))
	}

	report, err := c.Run(ctx, StrategyInfer, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["synapses_reinforced"])

	got, err := s.GetSynapse(ctx, syn.ID)
	require.NoError(t, err)
	assert.Greater(t, got.Weight, 0.4)
	assert.Equal(t, 1, got.ReinforcedCount)
}

func TestEnrichTransitiveCausalClosure(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	a := addNeuronWithState(t, s, "outage", 0.8)
	b := addNeuronWithState(t, s, "disk full", 0.8)
	d := addNeuronWithState(t, s, "log growth", 0.8)

	ab := neural.NewSynapse(a.ID, b.ID, neural.SynapseCausedBy, 0.8)
	bd := neural.NewSynapse(b.ID, d.ID, neural.SynapseCausedBy, 0.6)
	require.NoError(t, s.AddSynapse(ctx, ab))
	require.NoError(t, s.AddSynapse(ctx, bd))

	report, err := c.Run(ctx, StrategyEnrich, Options{}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["causal_links_inferred"])

	syn, err := s.GetSynapseBetween(ctx, a.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.SynapseCausedBy, syn.Type)
	// weight = 0.5 * min(w_ab, w_bd).
	assert.InDelta(t, 0.5*0.6, syn.Weight, 1e-9)
	assert.True(t, syn.Inferred())
}

func TestDreamLinksUnconnectedNeighbors(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	// a -> b -> d: a and d co-activate in a dream walk without an edge.
	a := addNeuronWithState(t, s, "a", 0.8)
	b := addNeuronWithState(t, s, "b", 0.8)
	d := addNeuronWithState(t, s, "d", 0.8)
	require.NoError(t, s.AddSynapse(ctx, neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.9)))
	require.NoError(t, s.AddSynapse(ctx, neural.NewSynapse(b.ID, d.ID, neural.SynapseCoOccurs, 0.9)))

	report, err := c.Run(ctx, StrategyDream, Options{Seed: 42}, time.Now().UTC())
	require.NoError(t, err)
	assert.Greater(t, report.Counts["dream_links"], 0)

	syn, err := s.GetSynapseBetween(ctx, a.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.SynapseRelatedTo, syn.Type)
	assert.InDelta(t, dreamLinkWeight, syn.Weight, 1e-9)
	assert.Equal(t, dreamDecayMultiplier, syn.Metadata["decay_multiplier"])
}

func TestLearnHabitsPromotesRepeatedSequence(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// The same three-step routine across three sessions.
	for si, session := range []string{"s1", "s2", "s3"} {
		base := now.Add(-time.Duration(si) * 24 * time.Hour)
		for i, action := range []string{"pull", "test", "deploy"} {
			require.NoError(t, s.AppendActionEvent(ctx, store.ActionEvent{
				SessionID:  session,
				Action:     action,
				Tags:       []string{"release"},
				OccurredAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
	}

	report, err := c.Run(ctx, StrategyLearnHabits, Options{}, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.Counts["workflows_promoted"], 1)

	workflows, err := s.ListFibersByTag(ctx, workflowTag)
	require.NoError(t, err)
	require.NotEmpty(t, workflows)
	assert.Equal(t, "pull then test then deploy", workflows[0].Summary)
	assert.True(t, workflows[0].HasTag("release"))
}

func TestMatureTransitionsAndPatterns(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()
	now := time.Now().UTC()

	n := addNeuronWithState(t, s, "note", 0.6)
	f, err := neural.NewFiber([]string{n.ID}, nil, n.ID, []string{n.ID})
	require.NoError(t, err)
	f.CreatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, s.AddFiber(ctx, f))

	m := neural.NewMaturation(f.ID, f.CreatedAt)
	m.Reinforce(f.CreatedAt.Add(time.Minute))
	require.NoError(t, s.SaveMaturation(ctx, m))

	report, err := c.Run(ctx, StrategyMature, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Counts["transition:stm->working"])

	got, err := s.GetMaturation(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.StageWorking, got.Stage)
}

func TestMaxDurationAbortsGracefully(t *testing.T) {
	c, s := newConsolidator(t)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		addNeuronWithState(t, s, "n"+string(rune('a'+i%26))+string(rune('a'+i/26)), 0.001)
	}

	report, err := c.Run(ctx, StrategyPrune, Options{MaxDuration: time.Nanosecond}, time.Now().UTC())
	require.NoError(t, err, "budget expiry is a graceful abort")
	assert.True(t, report.Aborted)
}
