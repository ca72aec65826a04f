package neural

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAnchorOutsideFiber is returned when a fiber's anchor neuron is not a
// member of its neuron set.
var ErrAnchorOutsideFiber = errors.New("anchor neuron not in fiber neuron set")

// Fiber is a coherent memory cluster: a set of neurons, the synapses that
// bind them, and an ordered conduction pathway. Fibers hold non-owning
// id references; the brain owns the neurons and synapses themselves.
type Fiber struct {
	ID             string              `json:"id"`
	NeuronIDs      map[string]struct{} `json:"neuron_ids"`
	SynapseIDs     map[string]struct{} `json:"synapse_ids"`
	AnchorNeuronID string              `json:"anchor_neuron_id"`
	Pathway        []string            `json:"pathway"`
	Conductivity   float64             `json:"conductivity"`
	LastConducted  *time.Time          `json:"last_conducted,omitempty"`
	Summary        string              `json:"summary"`
	Salience       float64             `json:"salience"`
	AutoTags       map[string]struct{} `json:"auto_tags"`
	AgentTags      map[string]struct{} `json:"agent_tags"`
	Frequency      int                 `json:"frequency"`
	TimeStart      *time.Time          `json:"time_start,omitempty"`
	TimeEnd        *time.Time          `json:"time_end,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NewFiber creates a fiber over the given members. Every pathway id must be
// a member and the anchor must be in the neuron set.
func NewFiber(neuronIDs, synapseIDs []string, anchorID string, pathway []string) (*Fiber, error) {
	f := &Fiber{
		ID:             uuid.NewString(),
		NeuronIDs:      toSet(neuronIDs),
		SynapseIDs:     toSet(synapseIDs),
		AnchorNeuronID: anchorID,
		Pathway:        pathway,
		Conductivity:   1.0,
		AutoTags:       make(map[string]struct{}),
		AgentTags:      make(map[string]struct{}),
		Metadata:       make(map[string]any),
		CreatedAt:      time.Now().UTC(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks the fiber's structural invariants: pathway ⊆ neuron_ids
// and anchor ∈ neuron_ids.
func (f *Fiber) Validate() error {
	if _, ok := f.NeuronIDs[f.AnchorNeuronID]; !ok {
		return ErrAnchorOutsideFiber
	}
	for _, id := range f.Pathway {
		if _, ok := f.NeuronIDs[id]; !ok {
			return errors.New("pathway neuron " + id + " not in fiber neuron set")
		}
	}
	return nil
}

// Tags returns the union of automatic and agent-supplied tags.
func (f *Fiber) Tags() map[string]struct{} {
	out := make(map[string]struct{}, len(f.AutoTags)+len(f.AgentTags))
	for t := range f.AutoTags {
		out[t] = struct{}{}
	}
	for t := range f.AgentTags {
		out[t] = struct{}{}
	}
	return out
}

// HasTag reports membership in either tag set.
func (f *Fiber) HasTag(tag string) bool {
	if _, ok := f.AutoTags[tag]; ok {
		return true
	}
	_, ok := f.AgentTags[tag]
	return ok
}

// MetadataBool reads a boolean metadata flag, treating absence as false.
func (f *Fiber) MetadataBool(key string) bool {
	v, ok := f.Metadata[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ContainsNeuron reports whether the neuron is a member of this fiber.
func (f *Fiber) ContainsNeuron(neuronID string) bool {
	_, ok := f.NeuronIDs[neuronID]
	return ok
}

// PathwayPosition returns the index of a neuron in the pathway, or -1.
func (f *Fiber) PathwayPosition(neuronID string) int {
	for i, id := range f.Pathway {
		if id == neuronID {
			return i
		}
	}
	return -1
}

// InPathway reports whether the neuron sits on the conduction pathway.
func (f *Fiber) InPathway(neuronID string) bool {
	return f.PathwayPosition(neuronID) >= 0
}

// Conduct bumps conductivity by the given delta (capped at 1.0) and
// stamps last_conducted.
func (f *Fiber) Conduct(delta float64, now time.Time) {
	f.Conductivity += delta
	if f.Conductivity > 1.0 {
		f.Conductivity = 1.0
	}
	t := now
	f.LastConducted = &t
	f.Frequency++
}

// ValidAt reports whether the fiber's validity window includes t. A fiber
// with no window is always valid.
func (f *Fiber) ValidAt(t time.Time) bool {
	if f.TimeStart != nil && t.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && t.After(*f.TimeEnd) {
		return false
	}
	return true
}

// TagJaccard computes the Jaccard similarity of two fibers' tag sets.
func TagJaccard(a, b *Fiber) float64 {
	at, bt := a.Tags(), b.Tags()
	if len(at) == 0 && len(bt) == 0 {
		return 0
	}
	inter := 0
	for t := range at {
		if _, ok := bt[t]; ok {
			inter++
		}
	}
	union := len(at) + len(bt) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// SetSlice returns the set's members as an unordered slice.
func SetSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
