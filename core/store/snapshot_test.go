package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

func populateBrain(t *testing.T, s Store) (*neural.Neuron, *neural.Neuron, *neural.Fiber) {
	t.Helper()
	ctx := context.Background()

	a := mustAddNeuron(t, s, neural.NeuronTypeEntity, "Alice")
	b := mustAddNeuron(t, s, neural.NeuronTypeConcept, "JWT")
	syn := neural.NewSynapse(a.ID, b.ID, neural.SynapseCoOccurs, 0.5)
	if err := s.AddSynapse(ctx, syn); err != nil {
		t.Fatalf("add synapse: %v", err)
	}

	f, err := neural.NewFiber([]string{a.ID, b.ID}, []string{syn.ID}, a.ID, []string{a.ID, b.ID})
	if err != nil {
		t.Fatalf("new fiber: %v", err)
	}
	f.Summary = "Alice suggested JWT"
	f.AutoTags["authentication"] = struct{}{}
	if err := s.AddFiber(ctx, f); err != nil {
		t.Fatalf("add fiber: %v", err)
	}
	if err := s.SaveMaturation(ctx, neural.NewMaturation(f.ID, time.Now().UTC())); err != nil {
		t.Fatalf("save maturation: %v", err)
	}
	st := neural.NewNeuronState(a.ID, 0.02)
	st.Activate(0.9, time.Now().UTC())
	if err := s.UpsertStates(ctx, []*neural.NeuronState{st}); err != nil {
		t.Fatalf("upsert states: %v", err)
	}
	brain := neural.NewBrain("snapshot-test", neural.DefaultBrainConfig())
	if err := s.SaveBrain(ctx, brain); err != nil {
		t.Fatalf("save brain: %v", err)
	}
	return a, b, f
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryStore()
	a, b, f := populateBrain(t, source)

	snap, err := Export(ctx, source, ExportOptions{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Metadata.NeuronCount != 2 || snap.Metadata.FiberCount != 1 {
		t.Fatalf("metadata counts wrong: %+v", snap.Metadata)
	}

	// The snapshot survives JSON serialization with unknown-key
	// tolerance on the way back in.
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	target := NewMemoryStore()
	report, err := Import(ctx, target, &decoded, MergeSkipExisting)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.NeuronsAdded != 2 || report.FibersAdded != 1 || report.SynapsesAdded != 1 {
		t.Fatalf("import report: %+v", report)
	}

	for _, id := range []string{a.ID, b.ID} {
		if _, err := target.GetNeuron(ctx, id); err != nil {
			t.Fatalf("neuron %s missing after import: %v", id, err)
		}
	}
	gotFiber, err := target.GetFiber(ctx, f.ID)
	if err != nil {
		t.Fatalf("fiber missing after import: %v", err)
	}
	if gotFiber.Summary != f.Summary || gotFiber.AnchorNeuronID != f.AnchorNeuronID {
		t.Fatalf("fiber fields lost: %+v", gotFiber)
	}
	if _, err := target.GetMaturation(ctx, f.ID); err != nil {
		t.Fatalf("maturation missing after import: %v", err)
	}
}

func TestImportMergeStrategies(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryStore()
	populateBrain(t, source)
	snap, err := Export(ctx, source, ExportOptions{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	t.Run("skip_existing", func(t *testing.T) {
		target := NewMemoryStore()
		if _, err := Import(ctx, target, snap, MergeSkipExisting); err != nil {
			t.Fatalf("first import: %v", err)
		}
		report, err := Import(ctx, target, snap, MergeSkipExisting)
		if err != nil {
			t.Fatalf("second import: %v", err)
		}
		if report.NeuronsAdded != 0 || report.NeuronsSkipped != 2 {
			t.Fatalf("skip report: %+v", report)
		}
	})

	t.Run("keep_both", func(t *testing.T) {
		target := NewMemoryStore()
		if _, err := Import(ctx, target, snap, MergeSkipExisting); err != nil {
			t.Fatalf("first import: %v", err)
		}
		report, err := Import(ctx, target, snap, MergeKeepBoth)
		if err != nil {
			t.Fatalf("keep-both import: %v", err)
		}
		if report.NeuronsRenamed != 2 {
			t.Fatalf("keep-both report: %+v", report)
		}
		stats, err := target.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Neurons != 4 {
			t.Fatalf("keep-both neuron count = %d, want 4", stats.Neurons)
		}
	})
}

func TestExportExcludesSensitive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	populateBrain(t, s)

	secret := mustAddNeuron(t, s, neural.NeuronTypeConcept, "api token value")
	sf, err := neural.NewFiber([]string{secret.ID}, nil, secret.ID, []string{secret.ID})
	if err != nil {
		t.Fatalf("new fiber: %v", err)
	}
	sf.Summary = "the api token"
	sf.AgentTags[SensitiveTag] = struct{}{}
	if err := s.AddFiber(ctx, sf); err != nil {
		t.Fatalf("add fiber: %v", err)
	}

	snap, err := Export(ctx, s, ExportOptions{ExcludeSensitive: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Metadata.FiberCount != 1 {
		t.Fatalf("sensitive fiber not excluded: %d fibers", snap.Metadata.FiberCount)
	}
	for _, n := range snap.Neurons {
		if n.ID == secret.ID {
			t.Fatal("sensitive neuron leaked into export")
		}
	}
}

func TestExportChunksCoverSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	populateBrain(t, s)

	next, err := ExportChunks(ctx, s, ExportOptions{ChunkSize: 1})
	if err != nil {
		t.Fatalf("export chunks: %v", err)
	}

	var neurons, fibers int
	sawFinal := false
	for {
		chunk, err := next()
		if err != nil {
			t.Fatalf("next chunk: %v", err)
		}
		if chunk == nil {
			break
		}
		if sawFinal {
			t.Fatal("chunk after final")
		}
		neurons += len(chunk.Neurons)
		fibers += len(chunk.Fibers)
		sawFinal = chunk.Final
	}
	if !sawFinal {
		t.Fatal("no final chunk")
	}
	if neurons != 2 || fibers != 1 {
		t.Fatalf("chunks covered %d neurons, %d fibers", neurons, fibers)
	}
}
