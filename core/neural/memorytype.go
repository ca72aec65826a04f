package neural

import "time"

// MemoryType classifies an encoded memory. The type drives the fiber's
// default salience and expiration window and each member neuron's decay
// rate.
type MemoryType string

const (
	MemoryFact        MemoryType = "fact"
	MemoryDecision    MemoryType = "decision"
	MemoryTodo        MemoryType = "todo"
	MemoryContext     MemoryType = "context"
	MemoryInstruction MemoryType = "instruction"
	MemoryReference   MemoryType = "reference"
)

// DecayRate returns the per-day decay rate for neurons encoded under this
// memory type. Facts and decisions persist; todos and context fade.
func (m MemoryType) DecayRate() float64 {
	switch m {
	case MemoryFact, MemoryDecision, MemoryInstruction:
		return 0.02
	case MemoryTodo:
		return 0.15
	case MemoryContext:
		return 0.10
	case MemoryReference:
		return 0.05
	}
	return 0.05
}

// Salience returns the default fiber salience for this memory type.
func (m MemoryType) Salience() float64 {
	switch m {
	case MemoryDecision:
		return 0.9
	case MemoryTodo:
		return 0.5
	case MemoryContext:
		return 0.3
	}
	return 0.5
}

// Expiration returns the validity window length for fibers of this type,
// or zero for memories that never expire.
func (m MemoryType) Expiration() time.Duration {
	switch m {
	case MemoryTodo:
		return 30 * 24 * time.Hour
	case MemoryContext:
		return 7 * 24 * time.Hour
	}
	return 0
}

// IsValid reports whether the memory type is known.
func (m MemoryType) IsValid() bool {
	switch m {
	case MemoryFact, MemoryDecision, MemoryTodo, MemoryContext,
		MemoryInstruction, MemoryReference:
		return true
	}
	return false
}
