package activation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/store"
)

func testConfig() neural.BrainConfig {
	cfg := neural.DefaultBrainConfig()
	cfg.ActivationThreshold = 0.05
	return cfg
}

// chain builds a → b → c with the given weights and returns the store.
func chain(t *testing.T, weights ...float64) (*store.MemoryStore, []string) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	ids := make([]string, len(weights)+1)
	for i := range ids {
		n := neural.NewNeuron(neural.NeuronTypeConcept, string(rune('a'+i)), nil)
		require.NoError(t, s.AddNeuron(ctx, n))
		ids[i] = n.ID
	}
	for i, w := range weights {
		syn := neural.NewSynapse(ids[i], ids[i+1], neural.SynapseLeadsTo, w)
		require.NoError(t, s.AddSynapse(ctx, syn))
	}
	return s, ids
}

func TestSpreadAttenuatesPerHop(t *testing.T) {
	s, ids := chain(t, 0.8, 0.8)
	engine := NewEngine(s, testConfig(), nil)
	now := time.Now().UTC()

	result, err := engine.Spread(context.Background(), []Anchor{{NeuronID: ids[0], Weight: 1.0}}, 4, now)
	require.NoError(t, err)

	// Each hop multiplies by weight and (1 - decay_rate).
	assert.InDelta(t, 1.0, result.Scores[ids[0]], 1e-9)
	assert.InDelta(t, 1.0*0.8*0.9, result.Scores[ids[1]], 1e-9)
	assert.InDelta(t, 1.0*0.8*0.9*0.8*0.9, result.Scores[ids[2]], 1e-9)
	assert.False(t, result.Truncated)
}

func TestSpreadPrunesBelowThreshold(t *testing.T) {
	s, ids := chain(t, 0.1, 0.9)
	cfg := testConfig()
	cfg.ActivationThreshold = 0.2
	engine := NewEngine(s, cfg, nil)

	result, err := engine.Spread(context.Background(), []Anchor{{NeuronID: ids[0], Weight: 1.0}}, 4, time.Now().UTC())
	require.NoError(t, err)

	// The weak first edge puts b below threshold, so c is never reached.
	assert.NotContains(t, result.Scores, ids[2])
}

func TestSpreadSkipsRefractoryNeurons(t *testing.T) {
	s, ids := chain(t, 0.8)
	ctx := context.Background()
	now := time.Now().UTC()

	st := neural.NewNeuronState(ids[1], 0.02)
	until := now.Add(time.Second)
	st.RefractoryUntil = &until
	require.NoError(t, s.UpsertStates(ctx, []*neural.NeuronState{st}))

	engine := NewEngine(s, testConfig(), nil)
	result, err := engine.Spread(ctx, []Anchor{{NeuronID: ids[0], Weight: 1.0}}, 2, now)
	require.NoError(t, err)
	assert.NotContains(t, result.Scores, ids[1])

	// Once the window closes the neuron conducts again.
	result, err = engine.Spread(ctx, []Anchor{{NeuronID: ids[0], Weight: 1.0}}, 2, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Contains(t, result.Scores, ids[1])
}

func TestSpreadHonorsCancel(t *testing.T) {
	s, ids := chain(t, 0.8)
	engine := NewEngine(s, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Spread(ctx, []Anchor{{NeuronID: ids[0], Weight: 1.0}}, 4, time.Now().UTC())
	assert.ErrorIs(t, err, context.Canceled)
}

func reflexFixture(t *testing.T) (*store.MemoryStore, *neural.Fiber, []string) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()

	ids := make([]string, 3)
	for i := range ids {
		n := neural.NewNeuron(neural.NeuronTypeConcept, string(rune('a'+i)), nil)
		require.NoError(t, s.AddNeuron(ctx, n))
		ids[i] = n.ID
	}
	var synIDs []string
	for i := 0; i < 2; i++ {
		syn := neural.NewSynapse(ids[i], ids[i+1], neural.SynapseCoOccurs, 0.8)
		require.NoError(t, s.AddSynapse(ctx, syn))
		synIDs = append(synIDs, syn.ID)
	}
	f, err := neural.NewFiber(ids, synIDs, ids[0], ids)
	require.NoError(t, err)
	require.NoError(t, s.AddFiber(ctx, f))
	return s, f, ids
}

func TestReflexConductsAlongPathway(t *testing.T) {
	s, f, ids := reflexFixture(t)
	engine := NewEngine(s, testConfig(), nil)
	now := time.Now().UTC()

	result, err := engine.Reflex(context.Background(), []Anchor{{NeuronID: ids[0], Weight: 1.0}}, now)
	require.NoError(t, err)

	assert.Contains(t, result.Fibers, f.ID)
	assert.Greater(t, result.Scores[ids[1]], result.Scores[ids[2]],
		"signal attenuates along the pathway")
	assert.NotEmpty(t, result.Synapses)
}

func TestReflexTimeFactorFloor(t *testing.T) {
	old := time.Now().UTC().Add(-400 * time.Hour)
	assert.InDelta(t, TimeFactorFloor, timeFactor(&old, old, time.Now().UTC()), 1e-9)

	fresh := time.Now().UTC()
	assert.InDelta(t, 1.0, timeFactor(&fresh, fresh, fresh), 1e-9)
}

func TestHybridScalesDiscovery(t *testing.T) {
	s, _, ids := reflexFixture(t)
	cfg := testConfig()
	engine := NewEngine(s, cfg, nil)
	now := time.Now().UTC()
	anchors := []Anchor{{NeuronID: ids[0], Weight: 1.0}}
	ctx := context.Background()

	reflex, err := engine.Reflex(ctx, anchors, now)
	require.NoError(t, err)
	discovery, err := engine.Spread(ctx, anchors, cfg.MaxSpreadHops/2, now)
	require.NoError(t, err)
	hybrid, err := engine.Hybrid(ctx, anchors, cfg.MaxSpreadHops, now)
	require.NoError(t, err)

	want := reflex.Scores[ids[1]] + DiscoveryFactor*discovery.Scores[ids[1]]
	assert.InDelta(t, want, hybrid.Scores[ids[1]], 1e-9)
}

func TestBindingBoostRequiresTwoAnchors(t *testing.T) {
	r := newResult()
	r.addScore("x", 0.5, 0)
	r.addScore("x", 0.3, 1)
	r.addScore("y", 0.4, 0)

	boost := r.BindingBoost(2)
	assert.InDelta(t, 1.0, boost["x"], 1e-9)
	assert.NotContains(t, boost, "y")
}

func TestInhibitKeepsTopK(t *testing.T) {
	scores := map[string]float64{"a": 1.0, "b": 0.8, "c": 0.6, "d": 0.4}
	Inhibit(scores, 2, 0.7)

	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.8, scores["b"], 1e-9)
	assert.InDelta(t, 0.6*0.7, scores["c"], 1e-9)
	assert.InDelta(t, 0.4*0.7, scores["d"], 1e-9)
}

func TestStabilizeRespectsBudgetAndOrder(t *testing.T) {
	scores := map[string]float64{"a": 3.0, "b": 2.0, "c": 1.0, "d": 0.5}
	rounds := Stabilize(scores, 5.0)
	assert.LessOrEqual(t, rounds, maxStabilizeRounds)

	var sum float64
	for _, v := range scores {
		sum += v
	}
	assert.LessOrEqual(t, sum, 5.0+1e-9)
	assert.Equal(t, []string{"a", "b", "c", "d"}, RankedIDs(scores),
		"stabilization preserves ranking")
}

func TestStabilizeDeterministic(t *testing.T) {
	first := map[string]float64{"a": 1.4, "b": 0.9, "c": 0.2}
	second := map[string]float64{"a": 1.4, "b": 0.9, "c": 0.2}
	Stabilize(first, 5.0)
	Stabilize(second, 5.0)
	assert.Equal(t, RankedIDs(first), RankedIDs(second))
	for id := range first {
		assert.InDelta(t, first[id], second[id], 1e-12)
	}
}

func TestStabilizeProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		scores := make(map[string]float64, n)
		for i := 0; i < n; i++ {
			scores[string(rune('a'+i))] = rapid.Float64Range(0, 10).Draw(t, "score")
		}
		budget := rapid.Float64Range(0.5, 10).Draw(t, "budget")

		Stabilize(scores, budget)

		var sum float64
		for id, v := range scores {
			if v < 0 {
				t.Fatalf("negative score for %s: %v", id, v)
			}
			sum += v
		}
		if sum > budget+1e-6 {
			t.Fatalf("sum %v exceeds budget %v", sum, budget)
		}
	})
}
