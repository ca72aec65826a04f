package extraction

import (
	"regexp"
	"strings"

	"github.com/adalundhe/neuralmem/core/neural"
)

// RelationFamily groups the pattern families the extractor runs.
type RelationFamily string

const (
	RelationCausal      RelationFamily = "causal"
	RelationComparative RelationFamily = "comparative"
	RelationSequential  RelationFamily = "sequential"
)

// RelationCandidate is a typed relation between two text spans.
type RelationCandidate struct {
	SourceSpan string
	TargetSpan string
	Family     RelationFamily
	Type       neural.SynapseType
	Confidence float64
}

type relationPattern struct {
	re         *regexp.Regexp
	synapse    neural.SynapseType
	family     RelationFamily
	confidence float64
	// reversed means the second capture group is the relation source.
	reversed bool
}

var relationPatterns = []relationPattern{
	// Causal, English.
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+because\s+(.{5,80}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseCausedBy, RelationCausal, 0.80, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:caused\s+by|due\s+to)\s+(.{5,80}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseCausedBy, RelationCausal, 0.85, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+as\s+a\s+result\s+of\s+(.{5,80}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseCausedBy, RelationCausal, 0.80, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:therefore|thus|hence|consequently)\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseLeadsTo, RelationCausal, 0.75, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+so\s+(?:that\s+)?(.{5,80}?)(?:\.|;|$)`), neural.SynapseLeadsTo, RelationCausal, 0.65, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:leads?\s+to|results?\s+in|causes?)\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseLeadsTo, RelationCausal, 0.85, false},
	// Causal, Vietnamese.
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:vì|do|bởi\s+vì)\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseCausedBy, RelationCausal, 0.80, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:nên|cho\s+nên|vì\s+vậy|do\s+đó)\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseLeadsTo, RelationCausal, 0.80, false},

	// Comparative, English.
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:better|worse|faster|slower|bigger|smaller|more\s+\w+|less\s+\w+)\s+than\s+(.{3,60}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseSimilarTo, RelationComparative, 0.70, false},
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:similar\s+to|comparable\s+to|resembles?)\s+(.{3,60}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseSimilarTo, RelationComparative, 0.75, false},
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:unlike|different\s+from|contrary\s+to|opposed\s+to)\s+(.{3,60}?)(?:\.|;|,\s+(?:and|but)|$)`), neural.SynapseContradicts, RelationComparative, 0.70, false},
	// Comparative, Vietnamese.
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:giống\s+như|tương\s+tự|giống)\s+(.{3,60}?)(?:\.|;|$)`), neural.SynapseSimilarTo, RelationComparative, 0.75, false},
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:\w+\s+hơn)\s+(.{3,60}?)(?:\.|;|$)`), neural.SynapseSimilarTo, RelationComparative, 0.65, false},
	{regexp.MustCompile(`(?i)(.{3,60}?)\s+(?:khác\s+với|trái\s+ngược\s+với|ngược\s+lại\s+với)\s+(.{3,60}?)(?:\.|;|$)`), neural.SynapseContradicts, RelationComparative, 0.70, false},

	// Sequential, English.
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:and\s+)?then\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.70, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+afterwards?\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.70, false},
	{regexp.MustCompile(`(?i)after\s+(.{5,80}?)\s*[,;]\s*(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.75, false},
	{regexp.MustCompile(`(?i)before\s+(.{5,80}?)\s*[,;]\s*(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.75, true},
	{regexp.MustCompile(`(?i)first\s+(.{5,80}?)\s*[,;]?\s*then\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.85, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+followed\s+by\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.80, false},
	// Sequential, Vietnamese.
	{regexp.MustCompile(`(?i)trước\s+khi\s+(.{5,80}?)\s*[,;]\s*(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.75, true},
	{regexp.MustCompile(`(?i)sau\s+khi\s+(.{5,80}?)\s*[,;]\s*(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.75, false},
	{regexp.MustCompile(`(?i)(.{5,80}?)\s+(?:rồi|sau\s+đó)\s+(.{5,80}?)(?:\.|;|$)`), neural.SynapseBefore, RelationSequential, 0.70, false},
}

// ExtractRelations runs the causal, comparative, and sequential pattern
// families over the text. Candidates are deduplicated by
// (source, target, type), keeping the highest confidence.
func ExtractRelations(text string) []RelationCandidate {
	if len(text) < 10 {
		return nil
	}

	best := make(map[string]RelationCandidate)
	var order []string

	for _, p := range relationPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			source := strings.TrimSpace(m[1])
			target := strings.TrimSpace(m[2])
			if p.reversed {
				source, target = target, source
			}
			if len(source) < 3 || len(target) < 3 {
				continue
			}

			cand := RelationCandidate{
				SourceSpan: source,
				TargetSpan: target,
				Family:     p.family,
				Type:       p.synapse,
				Confidence: p.confidence,
			}
			key := strings.ToLower(source) + ":" + strings.ToLower(target) + ":" + string(p.synapse)
			if existing, ok := best[key]; !ok {
				best[key] = cand
				order = append(order, key)
			} else if cand.Confidence > existing.Confidence {
				best[key] = cand
			}
		}
	}

	out := make([]RelationCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}
