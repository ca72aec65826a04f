// Package neural defines the graph data model for the memory engine:
// neurons, synapses, fibers, maturation records, and brain configuration.
// Identity is immutable; mutable activation state lives in NeuronState.
package neural

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NeuronType categorizes the information a neuron carries.
type NeuronType string

const (
	NeuronTypeTime    NeuronType = "time"    // temporal markers: "3pm", "yesterday"
	NeuronTypeSpatial NeuronType = "spatial" // locations: "coffee shop", "office"
	NeuronTypeEntity  NeuronType = "entity"  // named entities: "Alice", "FastAPI"
	NeuronTypeAction  NeuronType = "action"  // verbs: "discussed", "completed"
	NeuronTypeState   NeuronType = "state"   // emotional/mental states
	NeuronTypeConcept NeuronType = "concept" // abstract ideas: "auth", "API design"
	NeuronTypeSensory NeuronType = "sensory" // sensory experience: "loud", "bright"
	NeuronTypeIntent  NeuronType = "intent"  // goals: "learn", "build"
)

// IsValid reports whether the type is one of the known neuron types.
func (t NeuronType) IsValid() bool {
	switch t {
	case NeuronTypeTime, NeuronTypeSpatial, NeuronTypeEntity, NeuronTypeAction,
		NeuronTypeState, NeuronTypeConcept, NeuronTypeSensory, NeuronTypeIntent:
		return true
	}
	return false
}

// Neuron is a single immutable unit of memory. Two neurons with equal
// (type, canonical content) share an id within a brain; the store's
// FindNeuron enforces this on creation.
type Neuron struct {
	ID          string         `json:"id"`
	Type        NeuronType     `json:"type"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentHash uint64         `json:"content_hash,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewNeuron creates a neuron with a generated id and the content's SimHash.
func NewNeuron(typ NeuronType, content string, metadata map[string]any) *Neuron {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Neuron{
		ID:          uuid.NewString(),
		Type:        typ,
		Content:     content,
		Metadata:    metadata,
		ContentHash: SimHash(content),
		CreatedAt:   time.Now().UTC(),
	}
}

// CanonicalContent returns the lowercased, trimmed content used for
// identity lookups.
func (n *Neuron) CanonicalContent() string {
	return CanonicalContent(n.Content)
}

// CanonicalContent lowercases and trims content for (type, content) identity.
func CanonicalContent(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

// WithMetadata returns a copy of the neuron with the given keys merged in.
func (n *Neuron) WithMetadata(kv map[string]any) *Neuron {
	merged := make(map[string]any, len(n.Metadata)+len(kv))
	for k, v := range n.Metadata {
		merged[k] = v
	}
	for k, v := range kv {
		merged[k] = v
	}
	clone := *n
	clone.Metadata = merged
	return &clone
}

// MetaBool reads a boolean metadata flag, treating absence as false.
func (n *Neuron) MetaBool(key string) bool {
	v, ok := n.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Metadata flags written by conflict detection. During retrieval a disputed
// neuron's activation is scaled by half before stabilization; a superseded
// neuron's by a quarter.
const (
	MetaDisputed   = "_disputed"
	MetaSuperseded = "_superseded"
	MetaInferred   = "_inferred"
)

// NeuronState is the mutable activation and lifecycle state of one neuron.
// It is owned one-to-one by the neuron it references.
type NeuronState struct {
	NeuronID          string        `json:"neuron_id"`
	ActivationLevel   float64       `json:"activation_level"`
	AccessFrequency   int           `json:"access_frequency"`
	LastActivated     *time.Time    `json:"last_activated,omitempty"`
	DecayRate         float64       `json:"decay_rate"`
	FiringThreshold   float64       `json:"firing_threshold"`
	RefractoryUntil   *time.Time    `json:"refractory_until,omitempty"`
	RefractoryPeriod  time.Duration `json:"refractory_period_ms"`
	HomeostaticTarget float64       `json:"homeostatic_target"`
	CreatedAt         time.Time     `json:"created_at"`
}

// NewNeuronState creates state for a neuron with the given type-aware
// decay rate and engine defaults for thresholds.
func NewNeuronState(neuronID string, decayRate float64) *NeuronState {
	return &NeuronState{
		NeuronID:          neuronID,
		DecayRate:         decayRate,
		FiringThreshold:   DefaultFiringThreshold,
		RefractoryPeriod:  DefaultRefractoryPeriod,
		HomeostaticTarget: DefaultHomeostaticTarget,
		CreatedAt:         time.Now().UTC(),
	}
}

// Activate sets the activation level (clamped to [0,1]), bumps the access
// frequency, and stamps last_activated. If the level crosses the firing
// threshold the refractory window opens.
func (s *NeuronState) Activate(level float64, now time.Time) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.ActivationLevel = level
	s.AccessFrequency++
	t := now
	s.LastActivated = &t
	if level >= s.FiringThreshold {
		until := now.Add(s.RefractoryPeriod)
		s.RefractoryUntil = &until
	}
}

// InRefractory reports whether the neuron is inside its refractory window.
func (s *NeuronState) InRefractory(now time.Time) bool {
	return s.RefractoryUntil != nil && s.RefractoryUntil.After(now)
}

// Decay applies exponential decay over the elapsed duration:
// a' = a * exp(-decay_rate * days).
func (s *NeuronState) Decay(elapsed time.Duration) {
	days := elapsed.Hours() / 24
	if days <= 0 {
		return
	}
	s.ActivationLevel *= decayFactor(s.DecayRate, days)
}

// IsActive reports whether activation sits above the residual floor.
func (s *NeuronState) IsActive() bool {
	return s.ActivationLevel > 0.1
}
