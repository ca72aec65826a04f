package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

func newTestEncoder(t *testing.T) (*Encoder, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	enc, err := New(s, neural.DefaultBrainConfig(), nil, nil, nil)
	require.NoError(t, err)
	return enc, s
}

func TestEncodeCreatesGraph(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	result, err := enc.Encode(ctx, EncodeRequest{
		Content: "Met Alice at coffee shop. She suggested JWT for auth.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.FiberID)
	assert.False(t, result.Deduplicated)
	assert.Greater(t, result.NeuronsCreated, 2)
	assert.Greater(t, result.SynapsesCreated, 1)

	alice, err := s.FindNeuron(ctx, neural.NeuronTypeEntity, "alice")
	require.NoError(t, err, "Alice entity neuron exists")
	jwt, err := s.FindNeuron(ctx, neural.NeuronTypeEntity, "jwt")
	require.NoError(t, err, "JWT neuron exists")
	_, err = s.FindNeuron(ctx, neural.NeuronTypeConcept, "auth")
	require.NoError(t, err, "auth concept neuron exists")

	// The anchor entity links to JWT.
	syn, err := s.GetSynapseBetween(ctx, alice.ID, jwt.ID)
	require.NoError(t, err)
	assert.Equal(t, neural.SynapseCoOccurs, syn.Type)

	fiber, err := s.GetFiber(ctx, result.FiberID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, fiber.AnchorNeuronID)
	assert.True(t, fiber.ContainsNeuron(jwt.ID))
	assert.NotEmpty(t, fiber.Pathway)
	assert.Equal(t, 1.0, fiber.Conductivity)

	m, err := s.GetMaturation(ctx, result.FiberID)
	require.NoError(t, err)
	assert.Equal(t, neural.StageSTM, m.Stage)
}

func TestEncodeEmptyContentInvalid(t *testing.T) {
	enc, _ := newTestEncoder(t)
	_, err := enc.Encode(context.Background(), EncodeRequest{Content: "   "})
	assert.True(t, neuralerr.IsKind(err, neuralerr.KindInvalid))
}

func TestEncodeDedupIdempotent(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	first, err := enc.Encode(ctx, EncodeRequest{Content: "Database host is db.example.com"})
	require.NoError(t, err)

	second, err := enc.Encode(ctx, EncodeRequest{Content: "Database host is db.example.com"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.FiberID, second.FiberID)
	assert.Zero(t, second.NeuronsCreated)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Fibers, "encoding the same content twice creates exactly one fiber")
}

func TestEncodeDedupOnParaphrase(t *testing.T) {
	enc, _ := newTestEncoder(t)
	ctx := context.Background()

	first, err := enc.Encode(ctx, EncodeRequest{Content: "Database host is db.example.com and it is the primary endpoint"})
	require.NoError(t, err)

	// Near-identical phrasing lands within the SimHash threshold.
	second, err := enc.Encode(ctx, EncodeRequest{Content: "database HOST is db.example.com, and it is the primary endpoint"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.FiberID, second.FiberID)
}

func TestEncodeTypeDefaults(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	result, err := enc.Encode(ctx, EncodeRequest{
		Content:    "Ship the billing migration",
		MemoryType: neural.MemoryTodo,
	})
	require.NoError(t, err)

	fiber, err := s.GetFiber(ctx, result.FiberID)
	require.NoError(t, err)
	assert.Equal(t, neural.MemoryTodo.Salience(), fiber.Salience)
	require.NotNil(t, fiber.TimeEnd, "todos carry an expiration window")

	states, err := s.GetStates(ctx, neural.SetSlice(fiber.NeuronIDs))
	require.NoError(t, err)
	require.NotEmpty(t, states)
	for _, st := range states {
		assert.Equal(t, neural.MemoryTodo.DecayRate(), st.DecayRate)
	}
}

func TestEncodeRelationSynapse(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	_, err := enc.Encode(ctx, EncodeRequest{
		Content: "The deploy failed because the database crashed",
	})
	require.NoError(t, err)

	synapses, err := s.AllSynapses(ctx)
	require.NoError(t, err)
	found := false
	for _, syn := range synapses {
		if syn.Type == neural.SynapseCausedBy {
			found = true
			assert.GreaterOrEqual(t, syn.Weight, relationBaseWeight)
		}
	}
	assert.True(t, found, "causal relation produced a CAUSED_BY synapse")
}

func TestEncodeSentimentEmotionSingleton(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	_, err := enc.Encode(ctx, EncodeRequest{Content: "Alice was really happy the launch succeeded"})
	require.NoError(t, err)
	_, err = enc.Encode(ctx, EncodeRequest{Content: "Bob felt happy about the release party"})
	require.NoError(t, err)

	// Emotion neurons are singletons across the brain.
	joy, err := s.FindNeuron(ctx, neural.NeuronTypeState, "joy")
	require.NoError(t, err)

	matches, err := s.ListNeurons(ctx, store.NeuronFilter{Type: neural.NeuronTypeState, Contains: "joy"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, joy.ID, matches[0].ID)
}

func TestEncodeConflictMarksSuperseded(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	first, err := enc.Encode(ctx, EncodeRequest{
		Content:    "We decided to use PostgreSQL",
		MemoryType: neural.MemoryDecision,
	})
	require.NoError(t, err)

	second, err := enc.Encode(ctx, EncodeRequest{
		Content:    "We decided to use MongoDB",
		MemoryType: neural.MemoryDecision,
	})
	require.NoError(t, err)
	assert.Greater(t, second.ConflictsFound, 0)

	// A CONTRADICTS edge exists somewhere in the graph.
	synapses, err := s.AllSynapses(ctx)
	require.NoError(t, err)
	contradicts := false
	for _, syn := range synapses {
		if syn.Type == neural.SynapseContradicts {
			contradicts = true
		}
	}
	assert.True(t, contradicts)

	// The older fiber carries the superseded markers.
	oldFiber, err := s.GetFiber(ctx, first.FiberID)
	require.NoError(t, err)
	assert.True(t, oldFiber.MetadataBool(neural.MetaSuperseded))
	assert.True(t, oldFiber.MetadataBool(neural.MetaDisputed))

	newFiber, err := s.GetFiber(ctx, second.FiberID)
	require.NoError(t, err)
	assert.False(t, newFiber.MetadataBool(neural.MetaSuperseded))
}

func TestExtractPredicates(t *testing.T) {
	preds := ExtractPredicates("We decided to use PostgreSQL for the backend")
	require.NotEmpty(t, preds)
	assert.Equal(t, "we", preds[0].Subject)

	a := Predicate{Subject: "we", Verb: "decided", Object: "postgresql"}
	b := Predicate{Subject: "we", Verb: "chose", Object: "mongodb"}
	assert.True(t, a.Contradicts(b))

	same := Predicate{Subject: "we", Verb: "decided", Object: "postgresql"}
	assert.False(t, a.Contradicts(same))

	otherSubject := Predicate{Subject: "they", Verb: "decided", Object: "mongodb"}
	assert.False(t, a.Contradicts(otherSubject))
}

func TestTagTableCanonicalizes(t *testing.T) {
	tags, err := NewTagTable(0)
	require.NoError(t, err)

	assert.Equal(t, "database", tags.Canonical("db"))
	assert.Equal(t, "database", tags.Canonical("DB"))
	assert.Equal(t, "authentication", tags.Canonical("auth"))

	// First sighting registers the canonical form; later near-identical
	// spellings collapse onto it.
	assert.Equal(t, "kubernetes-cluster", tags.Canonical("Kubernetes Cluster"))
	assert.Equal(t, "kubernetes-cluster", tags.Canonical("kubernetes-cluster"))
}

func TestConfirmatoryBoost(t *testing.T) {
	enc, s := newTestEncoder(t)
	ctx := context.Background()

	// Agent tag matches an auto tag: the anchor's outgoing weights rise.
	result, err := enc.Encode(ctx, EncodeRequest{
		Content: "Alice migrated the billing service to Kubernetes",
		Tags:    []string{"kubernetes"},
	})
	require.NoError(t, err)

	fiber, err := s.GetFiber(ctx, result.FiberID)
	require.NoError(t, err)
	synapses, err := s.SynapsesForNeurons(ctx, []string{fiber.AnchorNeuronID})
	require.NoError(t, err)

	boosted := false
	for _, syn := range synapses {
		if syn.SourceID == fiber.AnchorNeuronID && syn.Type == neural.SynapseCoOccurs && syn.Weight > coOccursWeight {
			boosted = true
		}
	}
	assert.True(t, boosted, "confirmatory boost raised anchor co-occurrence weights")
}
