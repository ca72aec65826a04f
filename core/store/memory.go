package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/adalundhe/neuralmem/core/neural"
)

type identityKey struct {
	typ     neural.NeuronType
	content string
}

// MemoryStore is the in-memory Store used by tests and dry runs. All reads
// return copies so callers never alias internal state.
type MemoryStore struct {
	mu sync.RWMutex

	brain        *neural.Brain
	neurons      map[string]*neural.Neuron
	identity     map[identityKey]string
	states       map[string]*neural.NeuronState
	synapses     map[string]*neural.Synapse
	fibers       map[string]*neural.Fiber
	maturations  map[string]*neural.Maturation
	coacts       []CoActivationEvent
	actions      []ActionEvent
	nextActionID int64
}

// NewMemoryStore creates an empty in-memory store at the latest schema
// version.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		neurons:     make(map[string]*neural.Neuron),
		identity:    make(map[identityKey]string),
		states:      make(map[string]*neural.NeuronState),
		synapses:    make(map[string]*neural.Synapse),
		fibers:      make(map[string]*neural.Fiber),
		maturations: make(map[string]*neural.Maturation),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) AddNeuron(ctx context.Context, n *neural.Neuron) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addNeuronLocked(n)
	return nil
}

func (m *MemoryStore) addNeuronLocked(n *neural.Neuron) {
	if _, exists := m.neurons[n.ID]; exists {
		return
	}
	clone := cloneNeuron(n)
	m.neurons[clone.ID] = clone
	m.identity[identityKey{clone.Type, clone.CanonicalContent()}] = clone.ID
}

func (m *MemoryStore) GetNeuron(ctx context.Context, id string) (*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.neurons[id]
	if !ok {
		return nil, ErrNeuronNotFound
	}
	return cloneNeuron(n), nil
}

func (m *MemoryStore) GetNeurons(ctx context.Context, ids []string) (map[string]*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*neural.Neuron, len(ids))
	for _, id := range ids {
		if n, ok := m.neurons[id]; ok {
			out[id] = cloneNeuron(n)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindNeuron(ctx context.Context, typ neural.NeuronType, canonicalContent string) (*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identity[identityKey{typ, canonicalContent}]
	if !ok {
		return nil, ErrNeuronNotFound
	}
	return cloneNeuron(m.neurons[id]), nil
}

func (m *MemoryStore) FindNeuronsByHash(ctx context.Context, hash uint64, maxDistance int) ([]*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*neural.Neuron
	for _, n := range m.neurons {
		if n.ContentHash == 0 {
			continue
		}
		if neural.HammingDistance(n.ContentHash, hash) <= maxDistance {
			out = append(out, cloneNeuron(n))
		}
	}
	sortNeurons(out)
	return out, nil
}

func (m *MemoryStore) FindNeuronsContaining(ctx context.Context, substr string, limit int) ([]*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(substr)
	var out []*neural.Neuron
	for _, n := range m.neurons {
		if strings.Contains(n.CanonicalContent(), needle) {
			out = append(out, cloneNeuron(n))
		}
	}
	sortNeurons(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateNeuronMetadata(ctx context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.neurons[id]
	if !ok {
		return ErrNeuronNotFound
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		n.Metadata[k] = v
	}
	return nil
}

func (m *MemoryStore) ListNeurons(ctx context.Context, filter NeuronFilter) ([]*neural.Neuron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tagGlob glob.Glob
	if filter.TagGlob != "" {
		g, err := glob.Compile(filter.TagGlob)
		if err != nil {
			return nil, err
		}
		tagGlob = g
	}

	tagged := make(map[string]struct{})
	if tagGlob != nil {
		for _, f := range m.fibers {
			matched := false
			for tag := range f.Tags() {
				if tagGlob.Match(tag) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
			for id := range f.NeuronIDs {
				tagged[id] = struct{}{}
			}
		}
	}

	var out []*neural.Neuron
	needle := strings.ToLower(filter.Contains)
	for _, n := range m.neurons {
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		if needle != "" && !strings.Contains(n.CanonicalContent(), needle) {
			continue
		}
		if tagGlob != nil {
			if _, ok := tagged[n.ID]; !ok {
				continue
			}
		}
		out = append(out, cloneNeuron(n))
	}
	sortNeurons(out)

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) DeleteNeurons(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		n, ok := m.neurons[id]
		if !ok {
			continue
		}
		delete(m.identity, identityKey{n.Type, n.CanonicalContent()})
		delete(m.neurons, id)
		delete(m.states, id)
	}
	return nil
}

func (m *MemoryStore) AddSynapse(ctx context.Context, s *neural.Synapse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synapses[s.ID] = cloneSynapse(s)
	return nil
}

func (m *MemoryStore) GetSynapse(ctx context.Context, id string) (*neural.Synapse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.synapses[id]
	if !ok {
		return nil, ErrSynapseNotFound
	}
	return cloneSynapse(s), nil
}

func (m *MemoryStore) GetSynapseBetween(ctx context.Context, sourceID, targetID string) (*neural.Synapse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.synapses {
		if s.SourceID == sourceID && s.TargetID == targetID {
			return cloneSynapse(s), nil
		}
		if s.Direction == neural.DirectionBi && s.SourceID == targetID && s.TargetID == sourceID {
			return cloneSynapse(s), nil
		}
	}
	return nil, ErrSynapseNotFound
}

func (m *MemoryStore) SynapsesForNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Synapse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member := make(map[string]struct{}, len(neuronIDs))
	for _, id := range neuronIDs {
		member[id] = struct{}{}
	}
	var out []*neural.Synapse
	for _, s := range m.synapses {
		if _, ok := member[s.SourceID]; ok {
			out = append(out, cloneSynapse(s))
			continue
		}
		if _, ok := member[s.TargetID]; ok {
			out = append(out, cloneSynapse(s))
		}
	}
	sortSynapses(out)
	return out, nil
}

func (m *MemoryStore) AllSynapses(ctx context.Context) ([]*neural.Synapse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*neural.Synapse, 0, len(m.synapses))
	for _, s := range m.synapses {
		out = append(out, cloneSynapse(s))
	}
	sortSynapses(out)
	return out, nil
}

func (m *MemoryStore) UpdateSynapse(ctx context.Context, update SynapseUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSynapseLocked(update)
}

func (m *MemoryStore) updateSynapseLocked(update SynapseUpdate) error {
	s, ok := m.synapses[update.SynapseID]
	if !ok {
		return ErrSynapseNotFound
	}
	s.Weight = update.Weight
	if update.ReinforcedCount > s.ReinforcedCount {
		s.ReinforcedCount = update.ReinforcedCount
	}
	if s.LastActivated == nil || update.LastActivated.After(*s.LastActivated) {
		t := update.LastActivated
		s.LastActivated = &t
	}
	return nil
}

func (m *MemoryStore) UpdateSynapseMetadata(ctx context.Context, id string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.synapses[id]
	if !ok {
		return ErrSynapseNotFound
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
	return nil
}

func (m *MemoryStore) DeleteSynapses(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.synapses, id)
	}
	return nil
}

func (m *MemoryStore) AddFiber(ctx context.Context, f *neural.Fiber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fibers[f.ID] = cloneFiber(f)
	return nil
}

func (m *MemoryStore) GetFiber(ctx context.Context, id string) (*neural.Fiber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fibers[id]
	if !ok {
		return nil, ErrFiberNotFound
	}
	return cloneFiber(f), nil
}

func (m *MemoryStore) FindFibersByNeurons(ctx context.Context, neuronIDs []string) ([]*neural.Fiber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*neural.Fiber
	for _, f := range m.fibers {
		for _, id := range neuronIDs {
			if f.ContainsNeuron(id) {
				out = append(out, cloneFiber(f))
				break
			}
		}
	}
	sortFibers(out)
	return out, nil
}

func (m *MemoryStore) ListFibersByTag(ctx context.Context, tag string) ([]*neural.Fiber, error) {
	g, err := glob.Compile(tag)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*neural.Fiber
	for _, f := range m.fibers {
		for t := range f.Tags() {
			if g.Match(t) {
				out = append(out, cloneFiber(f))
				break
			}
		}
	}
	sortFibers(out)
	return out, nil
}

func (m *MemoryStore) AllFibers(ctx context.Context) ([]*neural.Fiber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*neural.Fiber, 0, len(m.fibers))
	for _, f := range m.fibers {
		out = append(out, cloneFiber(f))
	}
	sortFibers(out)
	return out, nil
}

func (m *MemoryStore) UpdateFiber(ctx context.Context, f *neural.Fiber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.fibers[f.ID]; !ok {
		return ErrFiberNotFound
	}
	m.fibers[f.ID] = cloneFiber(f)
	return nil
}

func (m *MemoryStore) DeleteFibers(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.fibers, id)
		delete(m.maturations, id)
	}
	return nil
}

func (m *MemoryStore) GetStates(ctx context.Context, neuronIDs []string) (map[string]*neural.NeuronState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*neural.NeuronState, len(neuronIDs))
	for _, id := range neuronIDs {
		if s, ok := m.states[id]; ok {
			out[id] = cloneState(s)
		}
	}
	return out, nil
}

func (m *MemoryStore) AllStates(ctx context.Context) ([]*neural.NeuronState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*neural.NeuronState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, cloneState(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NeuronID < out[j].NeuronID })
	return out, nil
}

func (m *MemoryStore) UpsertStates(ctx context.Context, states []*neural.NeuronState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertStatesLocked(states)
	return nil
}

func (m *MemoryStore) upsertStatesLocked(states []*neural.NeuronState) {
	for _, s := range states {
		m.states[s.NeuronID] = cloneState(s)
	}
}

func (m *MemoryStore) SaveMaturation(ctx context.Context, mt *neural.Maturation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maturations[mt.FiberID] = cloneMaturation(mt)
	return nil
}

func (m *MemoryStore) GetMaturation(ctx context.Context, fiberID string) (*neural.Maturation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.maturations[fiberID]
	if !ok {
		return nil, ErrMaturationNotFound
	}
	return cloneMaturation(mt), nil
}

func (m *MemoryStore) FindMaturationsByStage(ctx context.Context, stage neural.Stage) ([]*neural.Maturation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*neural.Maturation
	for _, mt := range m.maturations {
		if mt.Stage == stage {
			out = append(out, cloneMaturation(mt))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiberID < out[j].FiberID })
	return out, nil
}

func (m *MemoryStore) RecordCoActivations(ctx context.Context, events []CoActivationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCoActivationsLocked(events)
	return nil
}

func (m *MemoryStore) recordCoActivationsLocked(events []CoActivationEvent) {
	for _, e := range events {
		m.coacts = append(m.coacts, NewCoActivationEvent(e.NeuronA, e.NeuronB, e.OccurredAt))
	}
}

func (m *MemoryStore) CoActivationCounts(ctx context.Context, since time.Time) (map[Pair]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Pair]int)
	for _, e := range m.coacts {
		if e.OccurredAt.Before(since) {
			continue
		}
		out[Pair{A: e.NeuronA, B: e.NeuronB}]++
	}
	return out, nil
}

func (m *MemoryStore) PruneCoActivations(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.coacts[:0]
	pruned := 0
	for _, e := range m.coacts {
		if e.OccurredAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.coacts = kept
	return pruned, nil
}

func (m *MemoryStore) AppendActionEvent(ctx context.Context, event ActionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextActionID++
	event.ID = m.nextActionID
	m.actions = append(m.actions, event)
	return nil
}

func (m *MemoryStore) ActionSequences(ctx context.Context, since time.Time) (map[string][]ActionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]ActionEvent)
	for _, e := range m.actions {
		if e.OccurredAt.Before(since) {
			continue
		}
		out[e.SessionID] = append(out[e.SessionID], e)
	}
	for _, seq := range out {
		sort.Slice(seq, func(i, j int) bool { return seq[i].OccurredAt.Before(seq[j].OccurredAt) })
	}
	return out, nil
}

func (m *MemoryStore) PruneActionEvents(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.actions[:0]
	pruned := 0
	for _, e := range m.actions {
		if e.OccurredAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	m.actions = kept
	return pruned, nil
}

// ApplyEncode installs the full mutation under one lock so readers see all
// of the encode or none of it.
func (m *MemoryStore) ApplyEncode(ctx context.Context, mutation *EncodeMutation) error {
	if mutation == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range mutation.Neurons {
		m.addNeuronLocked(n)
	}
	m.upsertStatesLocked(mutation.States)
	for _, s := range mutation.Synapses {
		m.synapses[s.ID] = cloneSynapse(s)
	}
	if mutation.Fiber != nil {
		m.fibers[mutation.Fiber.ID] = cloneFiber(mutation.Fiber)
	}
	if mutation.Maturation != nil {
		m.maturations[mutation.Maturation.FiberID] = cloneMaturation(mutation.Maturation)
	}
	return nil
}

// ApplyDeferred flushes a retrieval's deferred write batch atomically.
func (m *MemoryStore) ApplyDeferred(ctx context.Context, batch *DeferredBatch) error {
	if batch.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range batch.NewSynapses {
		m.synapses[s.ID] = cloneSynapse(s)
	}
	for _, u := range batch.SynapseUpdates {
		if err := m.updateSynapseLocked(u); err != nil && err != ErrSynapseNotFound {
			return err
		}
	}
	for _, b := range batch.ConductivityBumps {
		f, ok := m.fibers[b.FiberID]
		if !ok {
			continue
		}
		f.Conduct(b.Delta, b.ConductedAt)
	}
	for _, id := range batch.FrequencyBumps {
		if f, ok := m.fibers[id]; ok {
			f.Frequency++
		}
	}
	m.recordCoActivationsLocked(batch.CoActivations)
	m.upsertStatesLocked(batch.StateUpserts)
	return nil
}

func (m *MemoryStore) SaveBrain(ctx context.Context, b *neural.Brain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *b
	m.brain = &clone
	return nil
}

func (m *MemoryStore) GetBrain(ctx context.Context) (*neural.Brain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.brain == nil {
		return nil, ErrBrainNotFound
	}
	clone := *m.brain
	return &clone, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		Neurons:       len(m.neurons),
		Synapses:      len(m.synapses),
		Fibers:        len(m.fibers),
		NeuronsByType: make(map[string]int),
		FibersByStage: make(map[string]int),
		CoActivations: len(m.coacts),
		SchemaVersion: LatestSchemaVersion,
	}
	for _, n := range m.neurons {
		stats.NeuronsByType[string(n.Type)]++
	}
	now := time.Now().UTC()
	for _, mt := range m.maturations {
		stats.FibersByStage[string(mt.Stage)]++
		if mt.ReviewDue(now) {
			stats.ReviewsDue++
		}
	}
	var weightSum float64
	for _, s := range m.synapses {
		weightSum += s.Weight
	}
	if len(m.synapses) > 0 {
		stats.AvgWeight = weightSum / float64(len(m.synapses))
	}
	var actSum float64
	for _, s := range m.states {
		actSum += s.ActivationLevel
	}
	if len(m.states) > 0 {
		stats.AvgActivation = actSum / float64(len(m.states))
	}
	return stats, nil
}

func (m *MemoryStore) SchemaVersion(ctx context.Context) (int, error) {
	return LatestSchemaVersion, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cloneNeuron(n *neural.Neuron) *neural.Neuron {
	clone := *n
	clone.Metadata = cloneMap(n.Metadata)
	return &clone
}

func cloneSynapse(s *neural.Synapse) *neural.Synapse {
	clone := *s
	clone.Metadata = cloneMap(s.Metadata)
	if s.LastActivated != nil {
		t := *s.LastActivated
		clone.LastActivated = &t
	}
	return &clone
}

func cloneState(s *neural.NeuronState) *neural.NeuronState {
	clone := *s
	if s.LastActivated != nil {
		t := *s.LastActivated
		clone.LastActivated = &t
	}
	if s.RefractoryUntil != nil {
		t := *s.RefractoryUntil
		clone.RefractoryUntil = &t
	}
	return &clone
}

func cloneFiber(f *neural.Fiber) *neural.Fiber {
	clone := *f
	clone.NeuronIDs = cloneSet(f.NeuronIDs)
	clone.SynapseIDs = cloneSet(f.SynapseIDs)
	clone.AutoTags = cloneSet(f.AutoTags)
	clone.AgentTags = cloneSet(f.AgentTags)
	clone.Pathway = append([]string(nil), f.Pathway...)
	clone.Metadata = cloneMap(f.Metadata)
	if f.LastConducted != nil {
		t := *f.LastConducted
		clone.LastConducted = &t
	}
	if f.TimeStart != nil {
		t := *f.TimeStart
		clone.TimeStart = &t
	}
	if f.TimeEnd != nil {
		t := *f.TimeEnd
		clone.TimeEnd = &t
	}
	return &clone
}

func cloneMaturation(m *neural.Maturation) *neural.Maturation {
	clone := *m
	clone.ReinforcementDays = cloneSet(m.ReinforcementDays)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSet(s map[string]struct{}) map[string]struct{} {
	if s == nil {
		return nil
	}
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func sortNeurons(ns []*neural.Neuron) {
	sort.Slice(ns, func(i, j int) bool { return ns[i].ID < ns[j].ID })
}

func sortSynapses(ss []*neural.Synapse) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })
}

func sortFibers(fs []*neural.Fiber) {
	sort.Slice(fs, func(i, j int) bool { return fs[i].ID < fs[j].ID })
}
