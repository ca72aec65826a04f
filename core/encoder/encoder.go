// Package encoder converts one text memory into graph mutations: neurons
// for every extracted span, synapses binding them to an anchor, a fiber
// with a deterministic conduction pathway, and the maturation record that
// starts the memory in short-term stage. Near-duplicate content is
// detected by SimHash and reuses the existing fiber.
package encoder

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/extraction"
	"github.com/adalundhe/neuralmem/core/neural"
	"github.com/adalundhe/neuralmem/core/neuralerr"
	"github.com/adalundhe/neuralmem/core/store"
)

// Synapse weights assigned at encode time.
const (
	coOccursWeight     = 0.5
	involvesWeight     = 0.6
	feltWeight         = 0.7
	contradictsWeight  = 0.8
	relationBaseWeight = 0.3
	relationConfWeight = 0.4
	confirmBoost       = 0.1
)

// EncodeRequest is one memory to store.
type EncodeRequest struct {
	Content    string
	Tags       []string
	MemoryType neural.MemoryType
	Metadata   map[string]any
	SessionID  string
}

// EncodeResult reports what an encode created.
type EncodeResult struct {
	FiberID         string `json:"fiber_id"`
	NeuronsCreated  int    `json:"neurons_created"`
	SynapsesCreated int    `json:"synapses_created"`
	Deduplicated    bool   `json:"deduplicated"`
	ConflictsFound  int    `json:"conflicts_found"`
}

// Encoder turns encode requests into atomic store mutations.
type Encoder struct {
	store  store.Store
	cfg    neural.BrainConfig
	tok    extraction.Tokenizer
	tags   *TagTable
	logger *slog.Logger
}

// New creates an encoder over the store. A nil tokenizer falls back to
// the regex tokenizer; the tag table is shared across encodes.
func New(s store.Store, cfg neural.BrainConfig, tok extraction.Tokenizer, tags *TagTable, logger *slog.Logger) (*Encoder, error) {
	cfg.Normalize()
	if tok == nil {
		tok = extraction.NewRegexTokenizer()
	}
	if tags == nil {
		var err error
		tags, err = NewTagTable(0)
		if err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Encoder{store: s, cfg: cfg, tok: tok, tags: tags, logger: logger}, nil
}

// span is one extracted unit on its way to becoming a neuron.
type span struct {
	text string
	typ  neural.NeuronType
}

// Encode runs the full pipeline and applies every write in one store
// transaction. A canceled context leaves no visible side effects.
func (e *Encoder) Encode(ctx context.Context, req EncodeRequest) (*EncodeResult, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, neuralerr.Invalid("encode", "content is empty")
	}
	memoryType := req.MemoryType
	if memoryType == "" {
		memoryType = neural.MemoryFact
	}
	if !memoryType.IsValid() {
		return nil, neuralerr.Invalid("encode", "unknown memory type %q", memoryType)
	}
	now := time.Now().UTC()

	// Near-duplicate content reuses its fiber instead of encoding again.
	contentHash := neural.SimHash(content)
	if result, ok, err := e.dedup(ctx, content, contentHash); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	spans := e.extractSpans(content, now)
	if len(spans) == 0 {
		return nil, neuralerr.Invalid("encode", "no encodable signal in content")
	}

	mutation := &store.EncodeMutation{}
	result := &EncodeResult{}

	neurons, order, err := e.resolveNeurons(ctx, spans, memoryType, contentHash, now, mutation, result)
	if err != nil {
		return nil, err
	}

	anchorID := pickAnchor(neurons, order)
	synapses := e.linkNeurons(content, neurons, order, anchorID)

	sentiment := extraction.ExtractSentiment(e.tok, content)
	if sentiment.Valence != extraction.ValenceNeutral {
		emoSyns, err := e.emotionSynapses(ctx, anchorID, sentiment, memoryType, now, mutation, result)
		if err != nil {
			return nil, err
		}
		synapses = append(synapses, emoSyns...)
	}

	// Tags: extraction-derived plus caller-supplied, both canonicalized.
	autoTags := e.autoTags(neurons, order, memoryType)
	agentTags := e.tags.CanonicalSet(req.Tags)
	if intersects(autoTags, agentTags) {
		// Confirmatory boost: the agent named what extraction found.
		for _, syn := range synapses {
			if syn.SourceID == anchorID {
				syn.Weight = clamp(syn.Weight + confirmBoost)
			}
		}
	}

	preds := ExtractPredicates(content)
	fiber, err := e.assembleFiber(neurons, order, synapses, anchorID, content, memoryType, autoTags, agentTags, preds, req.Metadata, now)
	if err != nil {
		return nil, err
	}

	// Conflicts resolve against already-persisted fibers; markers on
	// those rows are written outside the encode transaction.
	conflicts, err := e.findConflicts(ctx, preds, fiber.Tags(), memoryType)
	if err != nil {
		e.logger.Warn("conflict scan failed", "error", err)
	} else if len(conflicts) > 0 {
		conflictSyns, err := e.applyConflicts(ctx, conflicts, fiber, neurons, anchorID, content, now)
		if err != nil {
			return nil, err
		}
		synapses = append(synapses, conflictSyns...)
		for _, syn := range conflictSyns {
			fiber.SynapseIDs[syn.ID] = struct{}{}
		}
		result.ConflictsFound = len(conflicts)
	}

	mutation.Synapses = synapses
	mutation.Fiber = fiber
	mutation.Maturation = neural.NewMaturation(fiber.ID, now)
	result.SynapsesCreated = len(synapses)
	result.FiberID = fiber.ID

	if err := e.store.ApplyEncode(ctx, mutation); err != nil {
		return nil, neuralerr.Internal("encode", err)
	}
	return result, nil
}

// dedup returns the existing fiber when the content SimHash lands within
// the Hamming threshold of a stored neuron whose fiber carries
// substring-equivalent content.
func (e *Encoder) dedup(ctx context.Context, content string, hash uint64) (*EncodeResult, bool, error) {
	near, err := e.store.FindNeuronsByHash(ctx, hash, neural.SimHashMaxDistance)
	if err != nil {
		return nil, false, neuralerr.Internal("encode", err)
	}
	if len(near) == 0 {
		return nil, false, nil
	}
	ids := make([]string, len(near))
	for i, n := range near {
		ids[i] = n.ID
	}
	fibers, err := e.store.FindFibersByNeurons(ctx, ids)
	if err != nil {
		return nil, false, neuralerr.Internal("encode", err)
	}
	canonical := neural.CanonicalContent(content)
	for _, f := range fibers {
		summary := neural.CanonicalContent(f.Summary)
		if summary == "" {
			continue
		}
		if strings.Contains(summary, canonical) || strings.Contains(canonical, summary) ||
			neural.NearDuplicate(neural.SimHash(summary), hash) {
			return &EncodeResult{FiberID: f.ID, Deduplicated: true}, true, nil
		}
	}
	return nil, false, nil
}

// extractSpans produces the typed spans of the content in extraction
// order: temporal, entity, action, concept.
func (e *Encoder) extractSpans(content string, now time.Time) []span {
	var spans []span
	claimed := make(map[string]struct{})
	claim := func(text string) bool {
		key := neural.CanonicalContent(text)
		if key == "" {
			return false
		}
		if _, dup := claimed[key]; dup {
			return false
		}
		claimed[key] = struct{}{}
		return true
	}

	for _, hint := range extraction.ExtractTimeHints(content, now) {
		if claim(hint.Text) {
			spans = append(spans, span{text: hint.Text, typ: neural.NeuronTypeTime})
		}
	}
	for _, ent := range extraction.ExtractEntities(content) {
		if claim(ent.Text) {
			spans = append(spans, span{text: ent.Text, typ: entityType(content, ent)})
		}
	}
	for _, kw := range extraction.ExtractKeywords(e.tok, content, 2) {
		if claim(kw) {
			spans = append(spans, span{text: kw, typ: keywordType(kw)})
		}
	}
	return spans
}

var spatialCues = []string{"at ", "in ", "near ", "from ", "tại ", "ở "}

// entityType promotes entities preceded by a locative preposition to
// SPATIAL.
func entityType(content string, ent extraction.EntitySpan) neural.NeuronType {
	if ent.Start >= 3 {
		prefix := strings.ToLower(content[max(0, ent.Start-6):ent.Start])
		for _, cue := range spatialCues {
			if strings.HasSuffix(prefix, cue) {
				return neural.NeuronTypeSpatial
			}
		}
	}
	return neural.NeuronTypeEntity
}

var actionSuffixes = []string{"ed", "ing"}

func keywordType(kw string) neural.NeuronType {
	for _, suffix := range actionSuffixes {
		if strings.HasSuffix(kw, suffix) && len(kw) > len(suffix)+2 {
			return neural.NeuronTypeAction
		}
	}
	return neural.NeuronTypeConcept
}

// resolveNeurons looks up or creates one neuron per span, honoring the
// (type, canonical content) identity invariant, and queues states with
// the memory type's decay rate for fresh neurons.
func (e *Encoder) resolveNeurons(ctx context.Context, spans []span, memoryType neural.MemoryType,
	contentHash uint64, now time.Time, mutation *store.EncodeMutation, result *EncodeResult) (map[string]*neural.Neuron, []string, error) {

	neurons := make(map[string]*neural.Neuron)
	var order []string

	for i, sp := range spans {
		existing, err := e.store.FindNeuron(ctx, sp.typ, neural.CanonicalContent(sp.text))
		if err != nil && err != store.ErrNeuronNotFound {
			return nil, nil, neuralerr.Internal("encode", err)
		}
		var n *neural.Neuron
		if existing != nil {
			n = existing
		} else {
			n = neural.NewNeuron(sp.typ, sp.text, nil)
			if i == 0 {
				// The first span carries the whole content's fingerprint so
				// dedup can find this memory again.
				n.ContentHash = contentHash
			}
			mutation.Neurons = append(mutation.Neurons, n)
			st := neural.NewNeuronState(n.ID, memoryType.DecayRate())
			st.Activate(1.0, now)
			mutation.States = append(mutation.States, st)
			result.NeuronsCreated++
		}
		if _, dup := neurons[n.ID]; dup {
			continue
		}
		neurons[n.ID] = n
		order = append(order, n.ID)
	}
	return neurons, order, nil
}

// typeRank orders the pathway: time leads, concepts trail.
var typeRank = map[neural.NeuronType]int{
	neural.NeuronTypeTime:    0,
	neural.NeuronTypeSpatial: 1,
	neural.NeuronTypeEntity:  2,
	neural.NeuronTypeAction:  3,
	neural.NeuronTypeIntent:  4,
	neural.NeuronTypeConcept: 5,
	neural.NeuronTypeState:   6,
	neural.NeuronTypeSensory: 7,
}

// pickAnchor chooses the first entity neuron in span order, falling back
// to the first temporal neuron, then the first neuron.
func pickAnchor(neurons map[string]*neural.Neuron, order []string) string {
	for _, id := range order {
		if neurons[id].Type == neural.NeuronTypeEntity {
			return id
		}
	}
	for _, id := range order {
		if neurons[id].Type == neural.NeuronTypeTime {
			return id
		}
	}
	if len(order) > 0 {
		return order[0]
	}
	return ""
}

// linkNeurons connects the anchor to every other member, picks typed
// edges from the relation extractor, and returns all new synapses.
func (e *Encoder) linkNeurons(content string, neurons map[string]*neural.Neuron, order []string, anchorID string) []*neural.Synapse {
	var synapses []*neural.Synapse
	linked := make(map[string]struct{})
	link := func(source, target string, typ neural.SynapseType, weight float64) *neural.Synapse {
		if source == target || source == "" || target == "" {
			return nil
		}
		// A pair may carry both a co-occurrence edge and a typed
		// relation; only exact duplicates collapse.
		key := source + "\x1f" + target + "\x1f" + string(typ)
		if _, dup := linked[key]; dup {
			return nil
		}
		linked[key] = struct{}{}
		syn := neural.NewSynapse(source, target, typ, weight)
		synapses = append(synapses, syn)
		return syn
	}

	anchor := neurons[anchorID]
	for _, id := range order {
		if id == anchorID {
			continue
		}
		target := neurons[id]
		switch {
		case anchor != nil && anchor.Type == neural.NeuronTypeEntity && target.Type == neural.NeuronTypeAction:
			link(id, anchorID, neural.SynapseInvolves, involvesWeight)
		case target.Type == neural.NeuronTypeAction:
			link(anchorID, id, neural.SynapseInvolves, involvesWeight)
		default:
			if syn := link(anchorID, id, neural.SynapseCoOccurs, coOccursWeight); syn != nil {
				syn.Bidirectional()
			}
		}
	}

	// Typed relations between members named in the matched spans.
	for _, rel := range extraction.ExtractRelations(content) {
		sourceID := findMember(neurons, order, rel.SourceSpan)
		targetID := findMember(neurons, order, rel.TargetSpan)
		if sourceID == "" || targetID == "" {
			continue
		}
		link(sourceID, targetID, rel.Type, relationBaseWeight+relationConfWeight*rel.Confidence)
	}
	return synapses
}

// findMember resolves a relation span to the member neuron whose content
// appears inside it, longest content first.
func findMember(neurons map[string]*neural.Neuron, order []string, span string) string {
	canonical := neural.CanonicalContent(span)
	best := ""
	bestLen := 0
	for _, id := range order {
		content := neurons[id].CanonicalContent()
		if len(content) > bestLen && strings.Contains(canonical, content) {
			best = id
			bestLen = len(content)
		}
	}
	return best
}

// emotionSynapses links the anchor to the brain-wide emotion concept
// singletons named by the sentiment tags.
func (e *Encoder) emotionSynapses(ctx context.Context, anchorID string, sentiment extraction.Sentiment,
	memoryType neural.MemoryType, now time.Time, mutation *store.EncodeMutation, result *EncodeResult) ([]*neural.Synapse, error) {

	tags := sentiment.EmotionTags
	if len(tags) == 0 {
		if sentiment.Valence == extraction.ValencePositive {
			tags = []string{"positive"}
		} else {
			tags = []string{"negative"}
		}
	}
	sort.Strings(tags)

	var synapses []*neural.Synapse
	for _, tag := range tags {
		emotion, err := e.store.FindNeuron(ctx, neural.NeuronTypeState, tag)
		if err == store.ErrNeuronNotFound {
			emotion = neural.NewNeuron(neural.NeuronTypeState, tag, map[string]any{
				"valence":   string(sentiment.Valence),
				"singleton": true,
			})
			mutation.Neurons = append(mutation.Neurons, emotion)
			mutation.States = append(mutation.States, neural.NewNeuronState(emotion.ID, memoryType.DecayRate()))
			result.NeuronsCreated++
		} else if err != nil {
			return nil, neuralerr.Internal("encode", err)
		}
		syn := neural.NewSynapse(anchorID, emotion.ID, neural.SynapseFelt, feltWeight*maxFloat(sentiment.Intensity, 0.3))
		syn.Metadata["intensity"] = sentiment.Intensity
		syn.Metadata["valence"] = string(sentiment.Valence)
		synapses = append(synapses, syn)
	}
	return synapses, nil
}

// autoTags derives canonical tags from entity and concept members plus
// the memory type.
func (e *Encoder) autoTags(neurons map[string]*neural.Neuron, order []string, memoryType neural.MemoryType) map[string]struct{} {
	var raw []string
	for _, id := range order {
		n := neurons[id]
		switch n.Type {
		case neural.NeuronTypeEntity, neural.NeuronTypeConcept, neural.NeuronTypeSpatial:
			raw = append(raw, n.Content)
		}
	}
	raw = append(raw, string(memoryType))
	return e.tags.CanonicalSet(raw)
}

// assembleFiber orders members into the pathway (time → space → entity →
// action → concept), applies the type defaults, and records the first
// predicate for conflict detection.
func (e *Encoder) assembleFiber(neurons map[string]*neural.Neuron, order []string, synapses []*neural.Synapse,
	anchorID, content string, memoryType neural.MemoryType, autoTags, agentTags map[string]struct{},
	preds []Predicate, extra map[string]any, now time.Time) (*neural.Fiber, error) {

	pathway := append([]string(nil), order...)
	sort.SliceStable(pathway, func(i, j int) bool {
		return typeRank[neurons[pathway[i]].Type] < typeRank[neurons[pathway[j]].Type]
	})

	synapseIDs := make([]string, len(synapses))
	for i, syn := range synapses {
		synapseIDs[i] = syn.ID
	}

	fiber, err := neural.NewFiber(order, synapseIDs, anchorID, pathway)
	if err != nil {
		return nil, neuralerr.Internal("encode", err)
	}
	fiber.Summary = content
	fiber.Salience = memoryType.Salience()
	fiber.AutoTags = autoTags
	fiber.AgentTags = agentTags
	fiber.CreatedAt = now
	fiber.Metadata[metaMemoryType] = string(memoryType)
	for k, v := range extra {
		fiber.Metadata[k] = v
	}
	if len(preds) > 0 {
		fiber.Metadata[metaPredicateSubject] = preds[0].Subject
		fiber.Metadata[metaPredicateVerb] = preds[0].Verb
		fiber.Metadata[metaPredicateObject] = preds[0].Object
		// The subject tag is how later encodes find this fiber when they
		// make a competing claim.
		if subjectTag := e.tags.Canonical(preds[0].Subject); subjectTag != "" {
			fiber.AutoTags[subjectTag] = struct{}{}
		}
	}
	if window := memoryType.Expiration(); window > 0 {
		start := now
		end := now.Add(window)
		fiber.TimeStart = &start
		fiber.TimeEnd = &end
	}
	return fiber, nil
}

// applyConflicts emits a CONTRADICTS synapse per conflict, flags the
// disputed sides, and marks the loser superseded per the resolution
// rules. Markers on existing rows are written immediately; they refer to
// fibers already visible to readers.
func (e *Encoder) applyConflicts(ctx context.Context, conflicts []conflict, fiber *neural.Fiber,
	neurons map[string]*neural.Neuron, anchorID, content string, now time.Time) ([]*neural.Synapse, error) {

	var synapses []*neural.Synapse
	for _, c := range conflicts {
		resolution := resolveConflict(c, content, 0.8, now)

		newObject := findMember(neurons, fiber.Pathway, c.newPred.Object)
		if newObject == "" {
			newObject = anchorID
		}
		oldObject := e.resolveObjectNeuron(ctx, c.existing, c.existingPred.Object)

		syn := neural.NewSynapse(newObject, oldObject, neural.SynapseContradicts, contradictsWeight)
		syn.Metadata["resolution"] = resolution
		syn.Metadata["subject"] = c.newPred.Subject
		synapses = append(synapses, syn)

		supersededCount := 1
		if prev, ok := c.existing.Metadata[metaSupersededCount].(float64); ok {
			supersededCount = int(prev) + 1
		} else if prev, ok := c.existing.Metadata[metaSupersededCount].(int); ok {
			supersededCount = prev + 1
		}
		if err := e.markFiberConflict(ctx, c.existing, resolution, supersededCount, oldObject); err != nil {
			return nil, err
		}

		if resolution == resolutionDisputed {
			fiber.Metadata[neural.MetaDisputed] = true
			if err := e.store.UpdateNeuronMetadata(ctx, newObject, map[string]any{neural.MetaDisputed: true}); err != nil && err != store.ErrNeuronNotFound {
				return nil, neuralerr.Internal("encode", err)
			}
			// A fresh neuron is flagged before it is written.
			if n, ok := neurons[newObject]; ok {
				n.Metadata[neural.MetaDisputed] = true
			}
		}
	}
	return synapses, nil
}

// markFiberConflict flags the losing fiber and its object neuron.
func (e *Encoder) markFiberConflict(ctx context.Context, f *neural.Fiber, resolution string, supersededCount int, objectID string) error {
	f.Metadata[neural.MetaDisputed] = true
	f.Metadata[neural.MetaSuperseded] = true
	f.Metadata[metaSupersededCount] = supersededCount
	f.Metadata["conflict_resolution"] = resolution
	if err := e.store.UpdateFiber(ctx, f); err != nil {
		return neuralerr.Internal("encode", err)
	}
	neuronMeta := map[string]any{neural.MetaDisputed: true, neural.MetaSuperseded: true}
	if err := e.store.UpdateNeuronMetadata(ctx, objectID, neuronMeta); err != nil && err != store.ErrNeuronNotFound {
		return neuralerr.Internal("encode", err)
	}
	return nil
}

// resolveObjectNeuron finds the fiber member whose content matches the
// predicate object. The anchor stands in when no member matches.
func (e *Encoder) resolveObjectNeuron(ctx context.Context, f *neural.Fiber, object string) string {
	canonical := neural.CanonicalContent(object)
	members, err := e.store.GetNeurons(ctx, neural.SetSlice(f.NeuronIDs))
	if err != nil {
		return f.AnchorNeuronID
	}
	best := f.AnchorNeuronID
	bestLen := 0
	for id, n := range members {
		content := n.CanonicalContent()
		if len(content) > bestLen &&
			(strings.Contains(canonical, content) || strings.Contains(content, canonical)) {
			best = id
			bestLen = len(content)
		}
	}
	return best
}

func intersects(a, b map[string]struct{}) bool {
	for t := range a {
		if _, ok := b[t]; ok {
			return true
		}
	}
	return false
}

func clamp(w float64) float64 {
	if w > neural.WeightMax {
		return neural.WeightMax
	}
	if w < 0 {
		return 0
	}
	return w
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
