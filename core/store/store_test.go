package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite := openSQLite(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "brain.db")
	s, err := Open(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddNeuron(t *testing.T, s Store, typ neural.NeuronType, content string) *neural.Neuron {
	t.Helper()
	n := neural.NewNeuron(typ, content, nil)
	if err := s.AddNeuron(context.Background(), n); err != nil {
		t.Fatalf("add neuron: %v", err)
	}
	return n
}

func TestNeuronIdentityLookup(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			n := mustAddNeuron(t, s, neural.NeuronTypeEntity, "Alice")

			got, err := s.FindNeuron(ctx, neural.NeuronTypeEntity, "alice")
			if err != nil {
				t.Fatalf("find neuron: %v", err)
			}
			if got.ID != n.ID {
				t.Fatalf("identity lookup returned %s, want %s", got.ID, n.ID)
			}

			if _, err := s.FindNeuron(ctx, neural.NeuronTypeConcept, "alice"); err != ErrNeuronNotFound {
				t.Fatalf("wrong-type lookup: got %v, want ErrNeuronNotFound", err)
			}

			batch, err := s.GetNeurons(ctx, []string{n.ID, "missing"})
			if err != nil {
				t.Fatalf("get neurons: %v", err)
			}
			if len(batch) != 1 || batch[n.ID] == nil {
				t.Fatalf("batch get returned %d entries", len(batch))
			}
		})
	}
}

func TestFindNeuronsByHash(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeConcept, "database host is db.example.com")

			near, err := s.FindNeuronsByHash(ctx, a.ContentHash, neural.SimHashMaxDistance)
			if err != nil {
				t.Fatalf("find by hash: %v", err)
			}
			if len(near) != 1 || near[0].ID != a.ID {
				t.Fatalf("expected the stored neuron, got %d results", len(near))
			}

			if got, err := s.FindNeuronsByHash(ctx, ^a.ContentHash, neural.SimHashMaxDistance); err != nil || len(got) != 0 {
				t.Fatalf("inverted hash should miss, got %d (%v)", len(got), err)
			}
		})
	}
}

func TestFindNeuronsContaining(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mustAddNeuron(t, s, neural.NeuronTypeConcept, "authentication")
			mustAddNeuron(t, s, neural.NeuronTypeConcept, "authorization")
			mustAddNeuron(t, s, neural.NeuronTypeConcept, "billing")

			got, err := s.FindNeuronsContaining(ctx, "auth", 10)
			if err != nil {
				t.Fatalf("find containing: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 matches, got %d", len(got))
			}
		})
	}
}

func TestSynapseUpdateInvariants(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "a")
			b := mustAddNeuron(t, s, neural.NeuronTypeEntity, "b")
			syn := neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.5)
			if err := s.AddSynapse(ctx, syn); err != nil {
				t.Fatalf("add synapse: %v", err)
			}

			later := time.Now().UTC().Add(time.Hour)
			if err := s.UpdateSynapse(ctx, SynapseUpdate{
				SynapseID: syn.ID, Weight: 0.6, ReinforcedCount: 3, LastActivated: later,
			}); err != nil {
				t.Fatalf("update synapse: %v", err)
			}

			// A stale writer must not move reinforced_count or
			// last_activated backward.
			earlier := later.Add(-30 * time.Minute)
			if err := s.UpdateSynapse(ctx, SynapseUpdate{
				SynapseID: syn.ID, Weight: 0.7, ReinforcedCount: 1, LastActivated: earlier,
			}); err != nil {
				t.Fatalf("second update: %v", err)
			}

			got, err := s.GetSynapse(ctx, syn.ID)
			if err != nil {
				t.Fatalf("get synapse: %v", err)
			}
			if got.ReinforcedCount != 3 {
				t.Fatalf("reinforced_count moved backward: %d", got.ReinforcedCount)
			}
			if got.LastActivated == nil || got.LastActivated.Before(later.Add(-time.Second)) {
				t.Fatalf("last_activated moved backward: %v", got.LastActivated)
			}
			if got.Weight != 0.7 {
				t.Fatalf("weight not updated: %v", got.Weight)
			}
		})
	}
}

func TestSynapsesForNeuronsBatch(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "a")
			b := mustAddNeuron(t, s, neural.NeuronTypeEntity, "b")
			c := mustAddNeuron(t, s, neural.NeuronTypeEntity, "c")
			s1 := neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.5)
			s2 := neural.NewSynapse(b.ID, c.ID, neural.SynapseLeadsTo, 0.4)
			for _, syn := range []*neural.Synapse{s1, s2} {
				if err := s.AddSynapse(ctx, syn); err != nil {
					t.Fatalf("add synapse: %v", err)
				}
			}

			got, err := s.SynapsesForNeurons(ctx, []string{a.ID})
			if err != nil {
				t.Fatalf("synapses for neurons: %v", err)
			}
			if len(got) != 1 || got[0].ID != s1.ID {
				t.Fatalf("expected s1 only, got %d", len(got))
			}

			got, err = s.SynapsesForNeurons(ctx, []string{b.ID})
			if err != nil {
				t.Fatalf("synapses for neurons: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected both synapses for b, got %d", len(got))
			}
		})
	}
}

func buildFiber(t *testing.T, s Store, neurons ...*neural.Neuron) *neural.Fiber {
	t.Helper()
	ids := make([]string, len(neurons))
	for i, n := range neurons {
		ids[i] = n.ID
	}
	f, err := neural.NewFiber(ids, nil, ids[0], ids)
	if err != nil {
		t.Fatalf("new fiber: %v", err)
	}
	f.Summary = "test fiber"
	f.AutoTags["database"] = struct{}{}
	f.AgentTags["backend"] = struct{}{}
	if err := s.AddFiber(context.Background(), f); err != nil {
		t.Fatalf("add fiber: %v", err)
	}
	return f
}

func TestFiberRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "a")
			b := mustAddNeuron(t, s, neural.NeuronTypeConcept, "b")
			f := buildFiber(t, s, a, b)

			got, err := s.GetFiber(ctx, f.ID)
			if err != nil {
				t.Fatalf("get fiber: %v", err)
			}
			if !got.ContainsNeuron(a.ID) || !got.ContainsNeuron(b.ID) {
				t.Fatal("membership lost in round trip")
			}
			if got.AnchorNeuronID != a.ID {
				t.Fatalf("anchor lost: %s", got.AnchorNeuronID)
			}
			if len(got.Pathway) != 2 || got.Pathway[0] != a.ID {
				t.Fatalf("pathway lost: %v", got.Pathway)
			}
			if !got.HasTag("database") || !got.HasTag("backend") {
				t.Fatal("tags lost in round trip")
			}

			byNeuron, err := s.FindFibersByNeurons(ctx, []string{b.ID})
			if err != nil {
				t.Fatalf("find fibers by neurons: %v", err)
			}
			if len(byNeuron) != 1 || byNeuron[0].ID != f.ID {
				t.Fatalf("membership query returned %d fibers", len(byNeuron))
			}

			byTag, err := s.ListFibersByTag(ctx, "data*")
			if err != nil {
				t.Fatalf("list by tag glob: %v", err)
			}
			if len(byTag) != 1 {
				t.Fatalf("tag glob returned %d fibers", len(byTag))
			}
		})
	}
}

func TestMaturationRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "a")
			f := buildFiber(t, s, a)

			now := time.Now().UTC()
			m := neural.NewMaturation(f.ID, now)
			m.Reinforce(now)
			if err := s.SaveMaturation(ctx, m); err != nil {
				t.Fatalf("save maturation: %v", err)
			}

			got, err := s.GetMaturation(ctx, f.ID)
			if err != nil {
				t.Fatalf("get maturation: %v", err)
			}
			if got.Stage != neural.StageSTM || got.ReinforcementCount != 1 {
				t.Fatalf("round trip lost fields: %+v", got)
			}
			if len(got.ReinforcementDays) != 1 {
				t.Fatalf("reinforcement days lost: %v", got.ReinforcementDays)
			}

			byStage, err := s.FindMaturationsByStage(ctx, neural.StageSTM)
			if err != nil {
				t.Fatalf("find by stage: %v", err)
			}
			if len(byStage) != 1 {
				t.Fatalf("stage query returned %d", len(byStage))
			}
		})
	}
}

func TestCoActivationCanonicalOrder(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			// Recorded reversed; stored canonically with a < b.
			events := []CoActivationEvent{
				{NeuronA: "zeta", NeuronB: "alpha", OccurredAt: now},
				{NeuronA: "alpha", NeuronB: "zeta", OccurredAt: now},
			}
			if err := s.RecordCoActivations(ctx, events); err != nil {
				t.Fatalf("record co-activations: %v", err)
			}

			counts, err := s.CoActivationCounts(ctx, now.Add(-time.Minute))
			if err != nil {
				t.Fatalf("co-activation counts: %v", err)
			}
			if counts[Pair{A: "alpha", B: "zeta"}] != 2 {
				t.Fatalf("canonical pair count = %d, want 2", counts[Pair{A: "alpha", B: "zeta"}])
			}

			pruned, err := s.PruneCoActivations(ctx, now.Add(time.Minute))
			if err != nil {
				t.Fatalf("prune co-activations: %v", err)
			}
			if pruned != 2 {
				t.Fatalf("pruned %d, want 2", pruned)
			}
		})
	}
}

func TestActionEvents(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC()
			for i, action := range []string{"edit", "test", "commit"} {
				event := ActionEvent{
					SessionID:  "s1",
					Action:     action,
					Tags:       []string{"dev"},
					OccurredAt: base.Add(time.Duration(i) * time.Minute),
				}
				if err := s.AppendActionEvent(ctx, event); err != nil {
					t.Fatalf("append action: %v", err)
				}
			}

			sequences, err := s.ActionSequences(ctx, base.Add(-time.Minute))
			if err != nil {
				t.Fatalf("action sequences: %v", err)
			}
			seq := sequences["s1"]
			if len(seq) != 3 {
				t.Fatalf("sequence length %d, want 3", len(seq))
			}
			if seq[0].Action != "edit" || seq[2].Action != "commit" {
				t.Fatalf("sequence out of order: %v", seq)
			}
		})
	}
}

func TestApplyEncodeCanceledLeavesNoTrace(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			before, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}

			n := neural.NewNeuron(neural.NeuronTypeEntity, "ghost", nil)
			f, err := neural.NewFiber([]string{n.ID}, nil, n.ID, []string{n.ID})
			if err != nil {
				t.Fatalf("new fiber: %v", err)
			}
			mutation := &EncodeMutation{
				Neurons:    []*neural.Neuron{n},
				States:     []*neural.NeuronState{neural.NewNeuronState(n.ID, 0.02)},
				Fiber:      f,
				Maturation: neural.NewMaturation(f.ID, time.Now().UTC()),
			}

			canceled, cancel := context.WithCancel(ctx)
			cancel()
			if err := s.ApplyEncode(canceled, mutation); err == nil {
				t.Fatal("canceled encode should fail")
			}

			after, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if after.Neurons != before.Neurons || after.Fibers != before.Fibers {
				t.Fatalf("canceled encode left rows: %+v vs %+v", before, after)
			}
		})
	}
}

func TestApplyDeferredBatch(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "a")
			b := mustAddNeuron(t, s, neural.NeuronTypeEntity, "b")
			f := buildFiber(t, s, a, b)
			f.Conductivity = 0.99
			if err := s.UpdateFiber(ctx, f); err != nil {
				t.Fatalf("update fiber: %v", err)
			}
			syn := neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.5)
			if err := s.AddSynapse(ctx, syn); err != nil {
				t.Fatalf("add synapse: %v", err)
			}

			now := time.Now().UTC()
			st := neural.NewNeuronState(a.ID, 0.02)
			st.Activate(0.8, now)
			batch := &DeferredBatch{
				SynapseUpdates: []SynapseUpdate{{
					SynapseID: syn.ID, Weight: 0.55, ReinforcedCount: 1, LastActivated: now,
				}},
				ConductivityBumps: []ConductivityBump{{FiberID: f.ID, Delta: 0.02, ConductedAt: now}},
				CoActivations:     []CoActivationEvent{NewCoActivationEvent(b.ID, a.ID, now)},
				StateUpserts:      []*neural.NeuronState{st},
			}
			if err := s.ApplyDeferred(ctx, batch); err != nil {
				t.Fatalf("apply deferred: %v", err)
			}

			gotSyn, err := s.GetSynapse(ctx, syn.ID)
			if err != nil {
				t.Fatalf("get synapse: %v", err)
			}
			if gotSyn.Weight != 0.55 || gotSyn.ReinforcedCount != 1 {
				t.Fatalf("synapse update lost: %+v", gotSyn)
			}

			gotFiber, err := s.GetFiber(ctx, f.ID)
			if err != nil {
				t.Fatalf("get fiber: %v", err)
			}
			if gotFiber.Conductivity > 1.0 {
				t.Fatalf("conductivity exceeded cap: %v", gotFiber.Conductivity)
			}
			if gotFiber.LastConducted == nil {
				t.Fatal("last_conducted not stamped")
			}

			states, err := s.GetStates(ctx, []string{a.ID})
			if err != nil {
				t.Fatalf("get states: %v", err)
			}
			if states[a.ID] == nil || states[a.ID].ActivationLevel != 0.8 {
				t.Fatalf("state upsert lost: %+v", states[a.ID])
			}
		})
	}
}

func TestListNeuronsFilters(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "postgres")
			mustAddNeuron(t, s, neural.NeuronTypeConcept, "postgres tuning")
			mustAddNeuron(t, s, neural.NeuronTypeConcept, "redis")
			buildFiber(t, s, a)

			byType, err := s.ListNeurons(ctx, NeuronFilter{Type: neural.NeuronTypeConcept})
			if err != nil {
				t.Fatalf("list by type: %v", err)
			}
			if len(byType) != 2 {
				t.Fatalf("type filter returned %d", len(byType))
			}

			byContent, err := s.ListNeurons(ctx, NeuronFilter{Contains: "postgres"})
			if err != nil {
				t.Fatalf("list by content: %v", err)
			}
			if len(byContent) != 2 {
				t.Fatalf("content filter returned %d", len(byContent))
			}

			byTag, err := s.ListNeurons(ctx, NeuronFilter{TagGlob: "data*"})
			if err != nil {
				t.Fatalf("list by tag: %v", err)
			}
			if len(byTag) != 1 || byTag[0].ID != a.ID {
				t.Fatalf("tag filter returned %d", len(byTag))
			}
		})
	}
}

func TestSchemaVersionAtLatest(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			version, err := s.SchemaVersion(context.Background())
			if err != nil {
				t.Fatalf("schema version: %v", err)
			}
			if version != LatestSchemaVersion {
				t.Fatalf("schema version = %d, want %d", version, LatestSchemaVersion)
			}
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "brain.db")

	s, err := Open(ctx, path, Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	n := mustAddNeuron(t, s, neural.NeuronTypeEntity, "Alice")
	brain := neural.NewBrain("test", neural.DefaultBrainConfig())
	if err := s.SaveBrain(ctx, brain); err != nil {
		t.Fatalf("save brain: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetNeuron(ctx, n.ID)
	if err != nil {
		t.Fatalf("get neuron after reopen: %v", err)
	}
	if got.Content != "Alice" {
		t.Fatalf("content lost: %q", got.Content)
	}
	gotBrain, err := reopened.GetBrain(ctx)
	if err != nil {
		t.Fatalf("get brain after reopen: %v", err)
	}
	if gotBrain.ID != brain.ID {
		t.Fatalf("brain id lost: %s", gotBrain.ID)
	}
}
