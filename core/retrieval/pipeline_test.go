package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/neuralmem/core/encoder"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

func newFixture(t *testing.T) (*Pipeline, *encoder.Encoder, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	cfg := neural.DefaultBrainConfig()
	enc, err := encoder.New(s, cfg, nil, nil, nil)
	require.NoError(t, err)
	return New(s, cfg, nil, nil), enc, s
}

func TestQueryEmptyInvalid(t *testing.T) {
	p, _, _ := newFixture(t)
	_, err := p.Query(context.Background(), QueryRequest{Query: "  "})
	assert.True(t, neuralerr.IsKind(err, neuralerr.KindInvalid))
}

func TestQueryNoAnchorsEmptyResult(t *testing.T) {
	p, _, _ := newFixture(t)
	result, err := p.Query(context.Background(), QueryRequest{Query: "anything about quasars?"})
	require.NoError(t, err)
	assert.Zero(t, result.Confidence)
	assert.Equal(t, SynthesisNone, result.SynthesisMethod)
}

func TestEncodeThenRecall(t *testing.T) {
	p, enc, _ := newFixture(t)
	ctx := context.Background()

	_, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content: "Met Alice at coffee shop. She suggested JWT for auth.",
	})
	require.NoError(t, err)

	depth := 1
	result, err := p.Query(ctx, QueryRequest{Query: "What did Alice suggest?", Depth: &depth})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.Confidence, 0.5)
	assert.Contains(t, strings.ToLower(result.Answer), "jwt")
	assert.Greater(t, result.NeuronsActivated, 0)
	assert.Equal(t, 1, result.FibersMatched)
}

func TestQueryAppliesDeferredWrites(t *testing.T) {
	p, enc, s := newFixture(t)
	ctx := context.Background()

	encResult, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content: "Met Alice at coffee shop. She suggested JWT for auth.",
	})
	require.NoError(t, err)

	before, err := s.GetFiber(ctx, encResult.FiberID)
	require.NoError(t, err)

	_, err = p.Query(ctx, QueryRequest{Query: "What did Alice suggest?"})
	require.NoError(t, err)

	// Conductivity bumped, last_conducted stamped, co-activations logged.
	after, err := s.GetFiber(ctx, encResult.FiberID)
	require.NoError(t, err)
	assert.Equal(t, before.Conductivity, 1.0)
	assert.NotNil(t, after.LastConducted)
	assert.Greater(t, after.Frequency, before.Frequency)

	counts, err := s.CoActivationCounts(ctx, time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, counts)
	for pair := range counts {
		assert.Less(t, pair.A, pair.B, "co-activation pairs stored in canonical order")
	}

	// Traversed synapses were Hebbian-reinforced.
	synapses, err := s.AllSynapses(ctx)
	require.NoError(t, err)
	reinforced := false
	for _, syn := range synapses {
		if syn.ReinforcedCount > 0 {
			reinforced = true
			assert.LessOrEqual(t, syn.Weight, neural.WeightMax)
		}
	}
	assert.True(t, reinforced)
}

func TestQueryActivationLevelsInRange(t *testing.T) {
	p, enc, s := newFixture(t)
	ctx := context.Background()

	_, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content: "Met Alice at coffee shop. She suggested JWT for auth.",
	})
	require.NoError(t, err)
	_, err = p.Query(ctx, QueryRequest{Query: "What did Alice suggest?"})
	require.NoError(t, err)

	states, err := s.AllStates(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, states)
	for _, st := range states {
		assert.GreaterOrEqual(t, st.ActivationLevel, 0.0)
		assert.LessOrEqual(t, st.ActivationLevel, 1.0)
	}
}

func TestQueryCanceledLeavesNoDeferredWrites(t *testing.T) {
	p, enc, s := newFixture(t)
	ctx := context.Background()

	encResult, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content: "Met Alice at coffee shop. She suggested JWT for auth.",
	})
	require.NoError(t, err)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Query(canceled, QueryRequest{Query: "What did Alice suggest?"})
	require.Error(t, err)

	after, err := s.GetFiber(ctx, encResult.FiberID)
	require.NoError(t, err)
	assert.Nil(t, after.LastConducted, "canceled retrieval left no conductivity bump")
}

func TestQueryValidAtFiltersFibers(t *testing.T) {
	p, enc, s := newFixture(t)
	ctx := context.Background()

	encResult, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content:    "Rotate the API keys for the payment service",
		MemoryType: neural.MemoryTodo,
	})
	require.NoError(t, err)
	fiber, err := s.GetFiber(ctx, encResult.FiberID)
	require.NoError(t, err)
	require.NotNil(t, fiber.TimeEnd)

	past := fiber.TimeEnd.Add(-time.Hour)
	result, err := p.Query(ctx, QueryRequest{Query: "payment service keys", ValidAt: &past})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FibersMatched)

	expired := fiber.TimeEnd.Add(24 * time.Hour)
	result, err = p.Query(ctx, QueryRequest{Query: "payment service keys", ValidAt: &expired})
	require.NoError(t, err)
	assert.Zero(t, result.FibersMatched)
}

func TestDepthClassification(t *testing.T) {
	p, _, _ := newFixture(t)

	cases := []struct {
		query string
		depth int
	}{
		{"what is the database host?", 0},
		{"what happened before the deploy?", 1},
		{"do I usually review PRs in the morning?", 2},
		{"why did we pick PostgreSQL?", 3},
	}
	for _, tc := range cases {
		stimulus := p.parser.Parse(tc.query, time.Now().UTC())
		assert.Equal(t, tc.depth, p.depthOf(QueryRequest{Query: tc.query}, stimulus), tc.query)
	}

	explicit := 2
	stimulus := p.parser.Parse("why?", time.Now().UTC())
	assert.Equal(t, 2, p.depthOf(QueryRequest{Depth: &explicit}, stimulus))
}

func TestConflictMarksOlderDecisionSuperseded(t *testing.T) {
	p, enc, s := newFixture(t)
	ctx := context.Background()

	_, err := enc.Encode(ctx, encoder.EncodeRequest{
		Content:    "We decided to use PostgreSQL",
		MemoryType: neural.MemoryDecision,
	})
	require.NoError(t, err)
	_, err = enc.Encode(ctx, encoder.EncodeRequest{
		Content:    "We decided to use MongoDB",
		MemoryType: neural.MemoryDecision,
	})
	require.NoError(t, err)

	result, err := p.Query(ctx, QueryRequest{Query: "database decision postgresql mongodb"})
	require.NoError(t, err)
	require.NotEqual(t, SynthesisNone, result.SynthesisMethod)

	pg, err := s.FindNeuron(ctx, neural.NeuronTypeConcept, "postgresql")
	require.NoError(t, err)
	mongo, err := s.FindNeuron(ctx, neural.NeuronTypeConcept, "mongodb")
	require.NoError(t, err)

	// The superseded loser carries the heavier penalty.
	assert.True(t, pg.MetaBool(neural.MetaSuperseded))
	assert.False(t, mongo.MetaBool(neural.MetaSuperseded))
}

func TestHopBudget(t *testing.T) {
	p, _, _ := newFixture(t)
	assert.Equal(t, 1, p.hopBudget(0))
	assert.Equal(t, 3, p.hopBudget(1))
	assert.Equal(t, 5, p.hopBudget(2))
	assert.Equal(t, p.cfg.MaxSpreadHops, p.hopBudget(3))
}
