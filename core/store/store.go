// Package store persists a brain's graph in a single SQLite file and
// exposes the batched read and deferred write operations the engine is
// built on. An in-memory implementation backs tests and dry runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

var (
	ErrNeuronNotFound     = errors.New("neuron not found")
	ErrSynapseNotFound    = errors.New("synapse not found")
	ErrFiberNotFound      = errors.New("fiber not found")
	ErrMaturationNotFound = errors.New("maturation not found")
	ErrBrainNotFound      = errors.New("brain not found")
)

// CoActivationEvent records two neurons firing in the same retrieval.
// Pairs are stored in canonical order NeuronA < NeuronB.
type CoActivationEvent struct {
	NeuronA    string
	NeuronB    string
	OccurredAt time.Time
}

// NewCoActivationEvent builds an event with canonical pair ordering.
func NewCoActivationEvent(a, b string, at time.Time) CoActivationEvent {
	if b < a {
		a, b = b, a
	}
	return CoActivationEvent{NeuronA: a, NeuronB: b, OccurredAt: at}
}

// Pair identifies a canonical co-activation pair.
type Pair struct {
	A string
	B string
}

// ActionEvent is one agent action appended for workflow mining.
type ActionEvent struct {
	ID         int64
	SessionID  string
	Action     string
	Tags       []string
	OccurredAt time.Time
}

// SynapseUpdate atomically sets a synapse's learned fields.
type SynapseUpdate struct {
	SynapseID       string
	Weight          float64
	ReinforcedCount int
	LastActivated   time.Time
}

// ConductivityBump raises a fiber's conductivity after a traversal.
type ConductivityBump struct {
	FiberID     string
	Delta       float64
	ConductedAt time.Time
}

// DeferredBatch is the write set a retrieval collects and flushes in one
// transaction before it returns its result.
type DeferredBatch struct {
	SynapseUpdates    []SynapseUpdate
	NewSynapses       []*neural.Synapse
	ConductivityBumps []ConductivityBump
	CoActivations     []CoActivationEvent
	StateUpserts      []*neural.NeuronState
	FrequencyBumps    []string // fiber ids
}

// Empty reports whether the batch carries no writes.
func (b *DeferredBatch) Empty() bool {
	return b == nil ||
		len(b.SynapseUpdates) == 0 && len(b.NewSynapses) == 0 &&
			len(b.ConductivityBumps) == 0 && len(b.CoActivations) == 0 &&
			len(b.StateUpserts) == 0 && len(b.FrequencyBumps) == 0
}

// EncodeMutation is the atomic write set of one encode: a retrieval sees
// either all of it or none of it.
type EncodeMutation struct {
	Neurons    []*neural.Neuron
	States     []*neural.NeuronState
	Synapses   []*neural.Synapse
	Fiber      *neural.Fiber
	Maturation *neural.Maturation
}

// NeuronFilter narrows ListNeurons.
type NeuronFilter struct {
	Type     neural.NeuronType
	Contains string
	// TagGlob filters to neurons that belong to a fiber whose tags match
	// the glob pattern.
	TagGlob string
	Limit   int
	Offset  int
}

// Stats summarizes a brain's contents.
type Stats struct {
	Neurons       int            `json:"neurons"`
	Synapses      int            `json:"synapses"`
	Fibers        int            `json:"fibers"`
	NeuronsByType map[string]int `json:"neurons_by_type"`
	FibersByStage map[string]int `json:"fibers_by_stage"`
	CoActivations int            `json:"co_activations"`
	ReviewsDue    int            `json:"reviews_due"`
	SchemaVersion int            `json:"schema_version"`
	AvgWeight     float64        `json:"avg_weight"`
	AvgActivation float64        `json:"avg_activation"`
}

// Store is the persistence contract the engine programs against.
// Implementations must support one writer with parallel readers and apply
// each batch atomically.
type Store interface {
	// Neurons.
	AddNeuron(ctx context.Context, n *neural.Neuron) error
	GetNeuron(ctx context.Context, id string) (*neural.Neuron, error)
	GetNeurons(ctx context.Context, ids []string) (map[string]*neural.Neuron, error)
	FindNeuron(ctx context.Context, typ neural.NeuronType, canonicalContent string) (*neural.Neuron, error)
	FindNeuronsByHash(ctx context.Context, hash uint64, maxDistance int) ([]*neural.Neuron, error)
	FindNeuronsContaining(ctx context.Context, substr string, limit int) ([]*neural.Neuron, error)
	UpdateNeuronMetadata(ctx context.Context, id string, metadata map[string]any) error
	ListNeurons(ctx context.Context, filter NeuronFilter) ([]*neural.Neuron, error)
	DeleteNeurons(ctx context.Context, ids []string) error

	// Synapses.
	AddSynapse(ctx context.Context, s *neural.Synapse) error
	GetSynapse(ctx context.Context, id string) (*neural.Synapse, error)
	GetSynapseBetween(ctx context.Context, sourceID, targetID string) (*neural.Synapse, error)
	SynapsesForNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Synapse, error)
	AllSynapses(ctx context.Context) ([]*neural.Synapse, error)
	UpdateSynapse(ctx context.Context, update SynapseUpdate) error
	UpdateSynapseMetadata(ctx context.Context, id string, metadata map[string]any) error
	DeleteSynapses(ctx context.Context, ids []string) error

	// Fibers.
	AddFiber(ctx context.Context, f *neural.Fiber) error
	GetFiber(ctx context.Context, id string) (*neural.Fiber, error)
	FindFibersByNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Fiber, error)
	ListFibersByTag(ctx context.Context, tag string) ([]*neural.Fiber, error)
	AllFibers(ctx context.Context) ([]*neural.Fiber, error)
	UpdateFiber(ctx context.Context, f *neural.Fiber) error
	DeleteFibers(ctx context.Context, ids []string) error

	// Neuron states.
	GetStates(ctx context.Context, neuronIDs []string) (map[string]*neural.NeuronState, error)
	AllStates(ctx context.Context) ([]*neural.NeuronState, error)
	UpsertStates(ctx context.Context, states []*neural.NeuronState) error

	// Maturation.
	SaveMaturation(ctx context.Context, m *neural.Maturation) error
	GetMaturation(ctx context.Context, fiberID string) (*neural.Maturation, error)
	FindMaturationsByStage(ctx context.Context, stage neural.Stage) ([]*neural.Maturation, error)

	// Co-activation events.
	RecordCoActivations(ctx context.Context, events []CoActivationEvent) error
	CoActivationCounts(ctx context.Context, since time.Time) (map[Pair]int, error)
	PruneCoActivations(ctx context.Context, before time.Time) (int, error)

	// Action events.
	AppendActionEvent(ctx context.Context, event ActionEvent) error
	ActionSequences(ctx context.Context, since time.Time) (map[string][]ActionEvent, error)
	PruneActionEvents(ctx context.Context, before time.Time) (int, error)

	// Atomic batches.
	ApplyEncode(ctx context.Context, mutation *EncodeMutation) error
	ApplyDeferred(ctx context.Context, batch *DeferredBatch) error

	// Brain metadata.
	SaveBrain(ctx context.Context, b *neural.Brain) error
	GetBrain(ctx context.Context) (*neural.Brain, error)

	// Introspection.
	Stats(ctx context.Context) (*Stats, error)
	SchemaVersion(ctx context.Context) (int, error)

	Close() error
}
