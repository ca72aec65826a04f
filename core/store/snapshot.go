package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/neuralmem/core/neural"
)

// SnapshotVersion is the wire version of exported snapshots.
const SnapshotVersion = 2

// SensitiveTag marks fibers excluded from exports when the caller asks
// for a sanitized snapshot.
const SensitiveTag = "sensitive"

// SnapshotNeuron is the export record for one neuron. Fields are ordered
// alphabetically for deterministic output.
type SnapshotNeuron struct {
	Content     string         `json:"content"`
	ContentHash uint64         `json:"content_hash,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ID          string         `json:"id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Type        string         `json:"type"`
}

// SnapshotSynapse is the export record for one synapse.
type SnapshotSynapse struct {
	CreatedAt       time.Time      `json:"created_at"`
	Direction       string         `json:"direction"`
	ID              string         `json:"id"`
	LastActivated   *time.Time     `json:"last_activated,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ReinforcedCount int            `json:"reinforced_count"`
	SourceID        string         `json:"source_id"`
	TargetID        string         `json:"target_id"`
	Type            string         `json:"type"`
	Weight          float64        `json:"weight"`
}

// SnapshotFiber is the export record for one fiber. Sets serialize as
// sorted slices so equal fibers export byte-identically.
type SnapshotFiber struct {
	AgentTags      []string       `json:"agent_tags,omitempty"`
	AnchorNeuronID string         `json:"anchor_neuron_id"`
	AutoTags       []string       `json:"auto_tags,omitempty"`
	Conductivity   float64        `json:"conductivity"`
	CreatedAt      time.Time      `json:"created_at"`
	Frequency      int            `json:"frequency"`
	ID             string         `json:"id"`
	LastConducted  *time.Time     `json:"last_conducted,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	NeuronIDs      []string       `json:"neuron_ids"`
	Pathway        []string       `json:"pathway"`
	Salience       float64        `json:"salience"`
	Summary        string         `json:"summary"`
	SynapseIDs     []string       `json:"synapse_ids,omitempty"`
	TimeEnd        *time.Time     `json:"time_end,omitempty"`
	TimeStart      *time.Time     `json:"time_start,omitempty"`
}

// SnapshotState is the export record for one neuron state.
type SnapshotState struct {
	AccessFrequency    int        `json:"access_frequency"`
	ActivationLevel    float64    `json:"activation_level"`
	CreatedAt          time.Time  `json:"created_at"`
	DecayRate          float64    `json:"decay_rate"`
	FiringThreshold    float64    `json:"firing_threshold"`
	HomeostaticTarget  float64    `json:"homeostatic_target"`
	LastActivated      *time.Time `json:"last_activated,omitempty"`
	NeuronID           string     `json:"neuron_id"`
	RefractoryPeriodMs int64      `json:"refractory_period_ms"`
	RefractoryUntil    *time.Time `json:"refractory_until,omitempty"`
}

// SnapshotMaturation is the export record for one maturation record.
type SnapshotMaturation struct {
	CreatedAt          time.Time `json:"created_at"`
	FiberID            string    `json:"fiber_id"`
	ReinforcementCount int       `json:"reinforcement_count"`
	ReinforcementDays  []string  `json:"reinforcement_days,omitempty"`
	Stage              string    `json:"stage"`
	StageEnteredAt     time.Time `json:"stage_entered_at"`
}

// TypedMemory is a fiber summarized under its memory type, kept in the
// snapshot for importers that only consume the flat memory list.
type TypedMemory struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	FiberID   string    `json:"fiber_id"`
	Type      string    `json:"type"`
}

// SnapshotMetadata carries entity counts for quick inspection.
type SnapshotMetadata struct {
	FiberCount      int `json:"fiber_count"`
	MaturationCount int `json:"maturation_count"`
	NeuronCount     int `json:"neuron_count"`
	StateCount      int `json:"state_count"`
	SynapseCount    int `json:"synapse_count"`
}

// Snapshot is the full portable form of one brain.
type Snapshot struct {
	BrainID       string               `json:"brain_id"`
	ExportedAt    time.Time            `json:"exported_at"`
	Fibers        []SnapshotFiber      `json:"fibers"`
	Maturations   []SnapshotMaturation `json:"maturations"`
	Metadata      SnapshotMetadata     `json:"metadata"`
	NeuronStates  []SnapshotState      `json:"neuron_states"`
	Neurons       []SnapshotNeuron     `json:"neurons"`
	Synapses      []SnapshotSynapse    `json:"synapses"`
	TypedMemories []TypedMemory        `json:"typed_memories"`
	Version       int                  `json:"version"`
}

// SnapshotChunk is one bounded piece of a streamed export. Exactly one of
// the entity slices is populated per chunk.
type SnapshotChunk struct {
	BrainID     string               `json:"brain_id"`
	Fibers      []SnapshotFiber      `json:"fibers,omitempty"`
	Final       bool                 `json:"final"`
	Maturations []SnapshotMaturation `json:"maturations,omitempty"`
	Neurons     []SnapshotNeuron     `json:"neurons,omitempty"`
	Sequence    int                  `json:"sequence"`
	States      []SnapshotState      `json:"states,omitempty"`
	Synapses    []SnapshotSynapse    `json:"synapses,omitempty"`
}

// ExportOptions control snapshot assembly.
type ExportOptions struct {
	// ExcludeSensitive drops fibers tagged sensitive, plus neurons and
	// synapses referenced only by them.
	ExcludeSensitive bool
	// ChunkSize bounds entities per streamed chunk. Zero means 500.
	ChunkSize int
}

// MergeStrategy resolves id collisions on import.
type MergeStrategy string

const (
	// MergeSkipExisting keeps the local record on collision.
	MergeSkipExisting MergeStrategy = "skip_existing"
	// MergeOverwrite replaces the local record with the imported one.
	MergeOverwrite MergeStrategy = "overwrite"
	// MergeKeepBoth reassigns colliding imports fresh ids.
	MergeKeepBoth MergeStrategy = "keep_both"
)

// ImportReport counts what an import did.
type ImportReport struct {
	NeuronsAdded     int `json:"neurons_added"`
	NeuronsSkipped   int `json:"neurons_skipped"`
	NeuronsReplaced  int `json:"neurons_replaced"`
	NeuronsRenamed   int `json:"neurons_renamed"`
	SynapsesAdded    int `json:"synapses_added"`
	SynapsesSkipped  int `json:"synapses_skipped"`
	FibersAdded      int `json:"fibers_added"`
	FibersSkipped    int `json:"fibers_skipped"`
	FibersReplaced   int `json:"fibers_replaced"`
	MaturationsAdded int `json:"maturations_added"`
	StatesAdded      int `json:"states_added"`
}

// Export assembles the full snapshot of the store's brain.
func Export(ctx context.Context, s Store, opts ExportOptions) (*Snapshot, error) {
	brain, err := s.GetBrain(ctx)
	if err != nil && err != ErrBrainNotFound {
		return nil, err
	}
	brainID := ""
	if brain != nil {
		brainID = brain.ID
	}

	fibers, err := s.AllFibers(ctx)
	if err != nil {
		return nil, err
	}

	keepNeuron := map[string]bool{}
	keepSynapse := map[string]bool{}
	dropNeuron := map[string]bool{}
	var keptFibers []*neural.Fiber
	for _, f := range fibers {
		sensitive := opts.ExcludeSensitive && f.HasTag(SensitiveTag)
		for id := range f.NeuronIDs {
			if sensitive {
				if !keepNeuron[id] {
					dropNeuron[id] = true
				}
			} else {
				keepNeuron[id] = true
				delete(dropNeuron, id)
			}
		}
		if sensitive {
			continue
		}
		for id := range f.SynapseIDs {
			keepSynapse[id] = true
		}
		keptFibers = append(keptFibers, f)
	}

	// Neurons outside every fiber belong to the brain too.
	allNeurons, err := s.ListNeurons(ctx, NeuronFilter{})
	if err != nil {
		return nil, err
	}
	for _, n := range allNeurons {
		if !dropNeuron[n.ID] {
			keepNeuron[n.ID] = true
		}
	}

	neuronIDs := make([]string, 0, len(keepNeuron))
	for id := range keepNeuron {
		neuronIDs = append(neuronIDs, id)
	}
	sort.Strings(neuronIDs)
	neurons, err := s.GetNeurons(ctx, neuronIDs)
	if err != nil {
		return nil, err
	}

	allSynapses, err := s.AllSynapses(ctx)
	if err != nil {
		return nil, err
	}
	states, err := s.GetStates(ctx, neuronIDs)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		BrainID:    brainID,
		ExportedAt: time.Now().UTC(),
		Version:    SnapshotVersion,
	}

	for _, id := range neuronIDs {
		n, ok := neurons[id]
		if !ok {
			continue
		}
		snap.Neurons = append(snap.Neurons, snapshotNeuron(n))
		if st, ok := states[id]; ok {
			snap.NeuronStates = append(snap.NeuronStates, snapshotState(st))
		}
	}

	for _, syn := range allSynapses {
		if opts.ExcludeSensitive {
			if dropNeuron[syn.SourceID] || dropNeuron[syn.TargetID] {
				continue
			}
			inFiber := keepSynapse[syn.ID]
			endpointsKept := keepNeuron[syn.SourceID] && keepNeuron[syn.TargetID]
			if !inFiber && !endpointsKept {
				continue
			}
		}
		snap.Synapses = append(snap.Synapses, snapshotSynapse(syn))
	}

	for _, f := range keptFibers {
		snap.Fibers = append(snap.Fibers, snapshotFiber(f))
		snap.TypedMemories = append(snap.TypedMemories, TypedMemory{
			Content:   f.Summary,
			CreatedAt: f.CreatedAt,
			FiberID:   f.ID,
			Type:      fiberMemoryType(f),
		})
		m, err := s.GetMaturation(ctx, f.ID)
		if err == ErrMaturationNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		snap.Maturations = append(snap.Maturations, snapshotMaturation(m))
	}

	snap.Metadata = SnapshotMetadata{
		FiberCount:      len(snap.Fibers),
		MaturationCount: len(snap.Maturations),
		NeuronCount:     len(snap.Neurons),
		StateCount:      len(snap.NeuronStates),
		SynapseCount:    len(snap.Synapses),
	}
	return snap, nil
}

// ExportChunks streams the snapshot as a lazy sequence of bounded chunks.
// The caller may materialize them all or forward each as produced.
func ExportChunks(ctx context.Context, s Store, opts ExportOptions) (func() (*SnapshotChunk, error), error) {
	snap, err := Export(ctx, s, opts)
	if err != nil {
		return nil, err
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = 500
	}

	var chunks []*SnapshotChunk
	for start := 0; start < len(snap.Neurons); start += size {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID, Neurons: snap.Neurons[start:min(start+size, len(snap.Neurons))]})
	}
	for start := 0; start < len(snap.Synapses); start += size {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID, Synapses: snap.Synapses[start:min(start+size, len(snap.Synapses))]})
	}
	for start := 0; start < len(snap.Fibers); start += size {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID, Fibers: snap.Fibers[start:min(start+size, len(snap.Fibers))]})
	}
	for start := 0; start < len(snap.NeuronStates); start += size {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID, States: snap.NeuronStates[start:min(start+size, len(snap.NeuronStates))]})
	}
	for start := 0; start < len(snap.Maturations); start += size {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID, Maturations: snap.Maturations[start:min(start+size, len(snap.Maturations))]})
	}
	if len(chunks) == 0 {
		chunks = append(chunks, &SnapshotChunk{BrainID: snap.BrainID})
	}

	i := 0
	return func() (*SnapshotChunk, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(chunks) {
			return nil, nil
		}
		chunk := chunks[i]
		chunk.Sequence = i
		chunk.Final = i == len(chunks)-1
		i++
		return chunk, nil
	}, nil
}

// Import merges a snapshot into the store under the given strategy.
func Import(ctx context.Context, s Store, snap *Snapshot, strategy MergeStrategy) (*ImportReport, error) {
	if strategy == "" {
		strategy = MergeSkipExisting
	}
	report := &ImportReport{}

	// Colliding ids renamed under keep_both; references follow.
	renamed := make(map[string]string)

	for _, sn := range snap.Neurons {
		n := sn.toNeuron()
		existing, err := s.GetNeuron(ctx, n.ID)
		if err != nil && err != ErrNeuronNotFound {
			return nil, err
		}
		switch {
		case existing == nil:
			if err := s.AddNeuron(ctx, n); err != nil {
				return nil, err
			}
			report.NeuronsAdded++
		case strategy == MergeSkipExisting:
			report.NeuronsSkipped++
		case strategy == MergeOverwrite:
			if err := s.UpdateNeuronMetadata(ctx, n.ID, n.Metadata); err != nil {
				return nil, err
			}
			report.NeuronsReplaced++
		case strategy == MergeKeepBoth:
			fresh := uuid.NewString()
			renamed[n.ID] = fresh
			n.ID = fresh
			if err := s.AddNeuron(ctx, n); err != nil {
				return nil, err
			}
			report.NeuronsRenamed++
		}
	}

	rename := func(id string) string {
		if fresh, ok := renamed[id]; ok {
			return fresh
		}
		return id
	}

	for _, ss := range snap.Synapses {
		syn := ss.toSynapse()
		syn.SourceID = rename(syn.SourceID)
		syn.TargetID = rename(syn.TargetID)
		existing, err := s.GetSynapse(ctx, syn.ID)
		if err != nil && err != ErrSynapseNotFound {
			return nil, err
		}
		switch {
		case existing == nil:
			if err := s.AddSynapse(ctx, syn); err != nil {
				return nil, err
			}
			report.SynapsesAdded++
		case strategy == MergeSkipExisting:
			report.SynapsesSkipped++
		case strategy == MergeOverwrite:
			if err := s.AddSynapse(ctx, syn); err != nil {
				return nil, err
			}
			report.SynapsesAdded++
		case strategy == MergeKeepBoth:
			syn.ID = uuid.NewString()
			if err := s.AddSynapse(ctx, syn); err != nil {
				return nil, err
			}
			report.SynapsesAdded++
		}
	}

	fiberRenamed := make(map[string]string)
	for _, sf := range snap.Fibers {
		f := sf.toFiber(rename)
		existing, err := s.GetFiber(ctx, f.ID)
		if err != nil && err != ErrFiberNotFound {
			return nil, err
		}
		switch {
		case existing == nil:
			if err := s.AddFiber(ctx, f); err != nil {
				return nil, err
			}
			report.FibersAdded++
		case strategy == MergeSkipExisting:
			report.FibersSkipped++
		case strategy == MergeOverwrite:
			if err := s.UpdateFiber(ctx, f); err != nil {
				return nil, err
			}
			report.FibersReplaced++
		case strategy == MergeKeepBoth:
			fresh := uuid.NewString()
			fiberRenamed[f.ID] = fresh
			f.ID = fresh
			if err := s.AddFiber(ctx, f); err != nil {
				return nil, err
			}
			report.FibersAdded++
		}
	}

	for _, sm := range snap.Maturations {
		m := sm.toMaturation()
		if fresh, ok := fiberRenamed[m.FiberID]; ok {
			m.FiberID = fresh
		}
		existing, err := s.GetMaturation(ctx, m.FiberID)
		if err != nil && err != ErrMaturationNotFound {
			return nil, err
		}
		if existing != nil && strategy == MergeSkipExisting {
			continue
		}
		if err := s.SaveMaturation(ctx, m); err != nil {
			return nil, err
		}
		report.MaturationsAdded++
	}

	var states []*neural.NeuronState
	for _, st := range snap.NeuronStates {
		state := st.toState()
		state.NeuronID = rename(state.NeuronID)
		states = append(states, state)
	}
	if len(states) > 0 {
		if err := s.UpsertStates(ctx, states); err != nil {
			return nil, err
		}
		report.StatesAdded = len(states)
	}

	return report, nil
}

func snapshotNeuron(n *neural.Neuron) SnapshotNeuron {
	return SnapshotNeuron{
		Content:     n.Content,
		ContentHash: n.ContentHash,
		CreatedAt:   n.CreatedAt,
		ID:          n.ID,
		Metadata:    n.Metadata,
		Type:        string(n.Type),
	}
}

func (sn SnapshotNeuron) toNeuron() *neural.Neuron {
	metadata := sn.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &neural.Neuron{
		ID:          sn.ID,
		Type:        neural.NeuronType(sn.Type),
		Content:     sn.Content,
		Metadata:    metadata,
		ContentHash: sn.ContentHash,
		CreatedAt:   sn.CreatedAt,
	}
}

func snapshotSynapse(s *neural.Synapse) SnapshotSynapse {
	return SnapshotSynapse{
		CreatedAt:       s.CreatedAt,
		Direction:       string(s.Direction),
		ID:              s.ID,
		LastActivated:   s.LastActivated,
		Metadata:        s.Metadata,
		ReinforcedCount: s.ReinforcedCount,
		SourceID:        s.SourceID,
		TargetID:        s.TargetID,
		Type:            string(s.Type),
		Weight:          s.Weight,
	}
}

func (ss SnapshotSynapse) toSynapse() *neural.Synapse {
	metadata := ss.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	direction := neural.Direction(ss.Direction)
	if direction == "" {
		direction = neural.DirectionUni
	}
	return &neural.Synapse{
		ID:              ss.ID,
		SourceID:        ss.SourceID,
		TargetID:        ss.TargetID,
		Type:            neural.SynapseType(ss.Type),
		Weight:          ss.Weight,
		Direction:       direction,
		Metadata:        metadata,
		ReinforcedCount: ss.ReinforcedCount,
		LastActivated:   ss.LastActivated,
		CreatedAt:       ss.CreatedAt,
	}
}

func snapshotFiber(f *neural.Fiber) SnapshotFiber {
	return SnapshotFiber{
		AgentTags:      sortedSet(f.AgentTags),
		AnchorNeuronID: f.AnchorNeuronID,
		AutoTags:       sortedSet(f.AutoTags),
		Conductivity:   f.Conductivity,
		CreatedAt:      f.CreatedAt,
		Frequency:      f.Frequency,
		ID:             f.ID,
		LastConducted:  f.LastConducted,
		Metadata:       f.Metadata,
		NeuronIDs:      sortedSet(f.NeuronIDs),
		Pathway:        f.Pathway,
		Salience:       f.Salience,
		Summary:        f.Summary,
		SynapseIDs:     sortedSet(f.SynapseIDs),
		TimeEnd:        f.TimeEnd,
		TimeStart:      f.TimeStart,
	}
}

func (sf SnapshotFiber) toFiber(rename func(string) string) *neural.Fiber {
	neuronIDs := make(map[string]struct{}, len(sf.NeuronIDs))
	for _, id := range sf.NeuronIDs {
		neuronIDs[rename(id)] = struct{}{}
	}
	pathway := make([]string, len(sf.Pathway))
	for i, id := range sf.Pathway {
		pathway[i] = rename(id)
	}
	metadata := sf.Metadata
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &neural.Fiber{
		ID:             sf.ID,
		NeuronIDs:      neuronIDs,
		SynapseIDs:     toStringSet(sf.SynapseIDs),
		AnchorNeuronID: rename(sf.AnchorNeuronID),
		Pathway:        pathway,
		Conductivity:   sf.Conductivity,
		LastConducted:  sf.LastConducted,
		Summary:        sf.Summary,
		Salience:       sf.Salience,
		AutoTags:       toStringSet(sf.AutoTags),
		AgentTags:      toStringSet(sf.AgentTags),
		Frequency:      sf.Frequency,
		TimeStart:      sf.TimeStart,
		TimeEnd:        sf.TimeEnd,
		Metadata:       metadata,
		CreatedAt:      sf.CreatedAt,
	}
}

func snapshotState(st *neural.NeuronState) SnapshotState {
	return SnapshotState{
		AccessFrequency:    st.AccessFrequency,
		ActivationLevel:    st.ActivationLevel,
		CreatedAt:          st.CreatedAt,
		DecayRate:          st.DecayRate,
		FiringThreshold:    st.FiringThreshold,
		HomeostaticTarget:  st.HomeostaticTarget,
		LastActivated:      st.LastActivated,
		NeuronID:           st.NeuronID,
		RefractoryPeriodMs: st.RefractoryPeriod.Milliseconds(),
		RefractoryUntil:    st.RefractoryUntil,
	}
}

func (st SnapshotState) toState() *neural.NeuronState {
	return &neural.NeuronState{
		NeuronID:          st.NeuronID,
		ActivationLevel:   st.ActivationLevel,
		AccessFrequency:   st.AccessFrequency,
		LastActivated:     st.LastActivated,
		DecayRate:         st.DecayRate,
		FiringThreshold:   st.FiringThreshold,
		RefractoryUntil:   st.RefractoryUntil,
		RefractoryPeriod:  time.Duration(st.RefractoryPeriodMs) * time.Millisecond,
		HomeostaticTarget: st.HomeostaticTarget,
		CreatedAt:         st.CreatedAt,
	}
}

func snapshotMaturation(m *neural.Maturation) SnapshotMaturation {
	return SnapshotMaturation{
		CreatedAt:          m.CreatedAt,
		FiberID:            m.FiberID,
		ReinforcementCount: m.ReinforcementCount,
		ReinforcementDays:  sortedSet(m.ReinforcementDays),
		Stage:              string(m.Stage),
		StageEnteredAt:     m.StageEnteredAt,
	}
}

func (sm SnapshotMaturation) toMaturation() *neural.Maturation {
	return &neural.Maturation{
		FiberID:            sm.FiberID,
		Stage:              neural.Stage(sm.Stage),
		ReinforcementCount: sm.ReinforcementCount,
		ReinforcementDays:  toStringSet(sm.ReinforcementDays),
		StageEnteredAt:     sm.StageEnteredAt,
		CreatedAt:          sm.CreatedAt,
	}
}

func fiberMemoryType(f *neural.Fiber) string {
	if v, ok := f.Metadata["memory_type"].(string); ok {
		return v
	}
	return string(neural.MemoryFact)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
