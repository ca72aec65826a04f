package neural

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNeuronCanonicalContent(t *testing.T) {
	n := NewNeuron(NeuronTypeEntity, "  Alice ", nil)
	assert.Equal(t, "alice", n.CanonicalContent())
	assert.True(t, n.Type.IsValid())
	assert.NotZero(t, n.ContentHash)
}

func TestNeuronWithMetadataDoesNotMutate(t *testing.T) {
	n := NewNeuron(NeuronTypeConcept, "auth", nil)
	m := n.WithMetadata(map[string]any{MetaDisputed: true})
	assert.True(t, m.MetaBool(MetaDisputed))
	assert.False(t, n.MetaBool(MetaDisputed))
	assert.Equal(t, n.ID, m.ID)
}

func TestNeuronStateActivateClampsAndFires(t *testing.T) {
	now := time.Now().UTC()
	s := NewNeuronState("n1", 0.02)

	s.Activate(1.7, now)
	assert.Equal(t, 1.0, s.ActivationLevel)
	assert.Equal(t, 1, s.AccessFrequency)
	require.NotNil(t, s.RefractoryUntil)
	assert.True(t, s.InRefractory(now.Add(100*time.Millisecond)))
	assert.False(t, s.InRefractory(now.Add(time.Second)))
}

func TestNeuronStateSubthresholdDoesNotFire(t *testing.T) {
	now := time.Now().UTC()
	s := NewNeuronState("n1", 0.02)
	s.Activate(0.1, now)
	assert.Nil(t, s.RefractoryUntil)
}

func TestNeuronStateDecay(t *testing.T) {
	s := NewNeuronState("n1", 0.02)
	s.ActivationLevel = 1.0
	s.Decay(30 * 24 * time.Hour)
	assert.InDelta(t, math.Exp(-0.6), s.ActivationLevel, 1e-3)

	todo := NewNeuronState("n2", 0.15)
	todo.ActivationLevel = 1.0
	todo.Decay(30 * 24 * time.Hour)
	assert.InDelta(t, math.Exp(-4.5), todo.ActivationLevel, 1e-3)
	assert.Less(t, todo.ActivationLevel, 0.02)
}

func TestSynapseReinforceMonotonic(t *testing.T) {
	s := NewSynapse("a", "b", SynapseCoOccurs, 0.5)
	now := time.Now().UTC()

	s.Reinforce(0.6, now)
	require.NotNil(t, s.LastActivated)
	first := *s.LastActivated

	// An earlier timestamp must not move last_activated backward.
	s.Reinforce(0.7, now.Add(-time.Hour))
	assert.Equal(t, first, *s.LastActivated)
	assert.Equal(t, 2, s.ReinforcedCount)
}

func TestSynapseWeightNeverExceedsMax(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewSynapse("a", "b", SynapseRelatedTo, rapid.Float64Range(-2, 2).Draw(t, "w0"))
		steps := rapid.IntRange(0, 50).Draw(t, "steps")
		now := time.Now().UTC()
		for i := 0; i < steps; i++ {
			s.Reinforce(s.Weight+rapid.Float64Range(0, 1).Draw(t, "dw"), now)
			if s.Weight < 0 || s.Weight > WeightMax {
				t.Fatalf("weight out of range: %v", s.Weight)
			}
		}
		if s.ReinforcedCount != steps {
			t.Fatalf("reinforced count %d, want %d", s.ReinforcedCount, steps)
		}
	})
}

func TestFiberValidation(t *testing.T) {
	_, err := NewFiber([]string{"a", "b"}, nil, "c", nil)
	assert.ErrorIs(t, err, ErrAnchorOutsideFiber)

	f, err := NewFiber([]string{"a", "b", "c"}, []string{"s1"}, "a", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.PathwayPosition("b"))
	assert.True(t, f.InPathway("c"))
	assert.False(t, f.InPathway("z"))
}

func TestFiberConductCapsAtOne(t *testing.T) {
	f, err := NewFiber([]string{"a"}, nil, "a", []string{"a"})
	require.NoError(t, err)
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		f.Conduct(0.2, now)
	}
	assert.Equal(t, 1.0, f.Conductivity)
	assert.Equal(t, 10, f.Frequency)
	require.NotNil(t, f.LastConducted)
}

func TestFiberValidityWindow(t *testing.T) {
	f, err := NewFiber([]string{"a"}, nil, "a", []string{"a"})
	require.NoError(t, err)
	now := time.Now().UTC()

	assert.True(t, f.ValidAt(now))

	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	f.TimeStart, f.TimeEnd = &start, &end
	assert.True(t, f.ValidAt(now))
	assert.False(t, f.ValidAt(now.Add(2*time.Hour)))
	assert.False(t, f.ValidAt(now.Add(-2*time.Hour)))
}

func TestTagJaccard(t *testing.T) {
	a, _ := NewFiber([]string{"x"}, nil, "x", nil)
	b, _ := NewFiber([]string{"y"}, nil, "y", nil)
	a.AutoTags["db"] = struct{}{}
	a.AgentTags["auth"] = struct{}{}
	b.AutoTags["db"] = struct{}{}
	b.AutoTags["cache"] = struct{}{}

	assert.InDelta(t, 1.0/3.0, TagJaccard(a, b), 1e-9)
}

func TestMaturationSpacingEffect(t *testing.T) {
	created := time.Now().UTC()
	m := NewMaturation("f1", created)

	// Five reinforcements on day 0 collapse to one distinct day.
	for i := 0; i < 5; i++ {
		m.Reinforce(created.Add(time.Duration(i) * time.Minute))
	}
	assert.Len(t, m.ReinforcementDays, 1)

	m.Advance(StageWorking, created.Add(time.Hour))
	m.Advance(StageEpisodic, created.Add(6*time.Hour))

	// Seven days old but only one reinforcement day: stays episodic.
	day7 := created.Add(7*24*time.Hour + time.Minute)
	assert.Equal(t, StageEpisodic, m.NextStage(day7, created))

	// Spread reinforcement over days 2 and 4 unlocks semantic.
	m.Reinforce(created.Add(2 * 24 * time.Hour))
	m.Reinforce(created.Add(4 * 24 * time.Hour))
	assert.Equal(t, StageSemantic, m.NextStage(day7, created))
}

func TestMaturationStageGates(t *testing.T) {
	created := time.Now().UTC()
	m := NewMaturation("f1", created)

	// No reinforcement: STM holds even after the age gate.
	assert.Equal(t, StageSTM, m.NextStage(created.Add(time.Hour), created))

	m.Reinforce(created.Add(time.Minute))
	assert.Equal(t, StageSTM, m.NextStage(created.Add(10*time.Minute), created))
	assert.Equal(t, StageWorking, m.NextStage(created.Add(31*time.Minute), created))
}

func TestSimHashDedup(t *testing.T) {
	a := SimHash("Database host is db.example.com")
	b := SimHash("DB host is db.example.com")
	c := SimHash("We decided to adopt event sourcing for the billing pipeline")

	assert.LessOrEqual(t, HammingDistance(a, b), SimHashMaxDistance)
	assert.True(t, NearDuplicate(a, b))
	assert.False(t, NearDuplicate(a, c))
}

func TestSimHashDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringMatching(`[a-z ]{0,40}`).Draw(t, "s")
		if SimHash(s) != SimHash(s) {
			t.Fatal("simhash not deterministic")
		}
	})
}

func TestSigmoidGate(t *testing.T) {
	assert.InDelta(t, 0.5, Sigmoid(0.5, 6.0), 1e-9)
	assert.Greater(t, Sigmoid(1.0, 6.0), 0.9)
	assert.Less(t, Sigmoid(0.0, 6.0), 0.1)
}

func TestBrainConfigNormalize(t *testing.T) {
	var c BrainConfig
	c.Normalize()
	assert.Equal(t, DefaultBrainConfig(), c)

	c2 := BrainConfig{MaxSpreadHops: 8}
	c2.Normalize()
	assert.Equal(t, 8, c2.MaxSpreadHops)
	assert.Equal(t, 0.1, c2.DecayRate)
}

func TestMemoryTypeDefaults(t *testing.T) {
	assert.Equal(t, 0.02, MemoryFact.DecayRate())
	assert.Equal(t, 0.15, MemoryTodo.DecayRate())
	assert.Equal(t, 0.9, MemoryDecision.Salience())
	assert.Equal(t, 30*24*time.Hour, MemoryTodo.Expiration())
	assert.Zero(t, MemoryFact.Expiration())
}
