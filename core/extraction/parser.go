package extraction

import (
	"regexp"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

// QueryIntent is the coarse intent of a retrieval query.
type QueryIntent string

const (
	IntentRecall  QueryIntent = "recall"
	IntentWhen    QueryIntent = "ask_when"
	IntentWhere   QueryIntent = "ask_where"
	IntentWho     QueryIntent = "ask_who"
	IntentWhy     QueryIntent = "ask_why"
	IntentHow     QueryIntent = "ask_how"
	IntentFeeling QueryIntent = "ask_feeling"
	IntentPattern QueryIntent = "ask_pattern"
	IntentCompare QueryIntent = "compare"
	IntentDecide  QueryIntent = "ask_decision"
)

// AnchorCandidate is a query signal that should seed activation, with the
// base weight of its signal class.
type AnchorCandidate struct {
	Text   string
	Type   neural.NeuronType
	Weight float64
}

// Base anchor weights by signal class. Time outranks everything: memory
// is organized temporally first.
const (
	anchorWeightTime    = 1.0
	anchorWeightEntity  = 0.8
	anchorWeightAction  = 0.6
	anchorWeightConcept = 0.4
)

// Stimulus is a parsed query: the activation signals extracted from it.
type Stimulus struct {
	RawQuery  string
	Entities  []EntitySpan
	Keywords  []string
	TimeHints []TimeHint
	Intent    QueryIntent
	Sentiment Sentiment
	Anchors   []AnchorCandidate
}

var intentPatterns = []struct {
	re     *regexp.Regexp
	intent QueryIntent
}{
	{regexp.MustCompile(`(?i)\b(?:why|vì sao|tại sao)\b`), IntentWhy},
	{regexp.MustCompile(`(?i)\b(?:how do i feel|feel about|feeling|cảm thấy)\b`), IntentFeeling},
	{regexp.MustCompile(`(?i)\b(?:usually|typically|habit|pattern|often|thường)\b`), IntentPattern},
	{regexp.MustCompile(`(?i)\b(?:decide|decided|decision|choice|chose|quyết định)\b`), IntentDecide},
	{regexp.MustCompile(`(?i)\b(?:compare|versus|vs\.?|better|worse|hơn)\b`), IntentCompare},
	{regexp.MustCompile(`(?i)\b(?:how|làm sao|thế nào)\b`), IntentHow},
	{regexp.MustCompile(`(?i)\b(?:when|what time|lúc nào|khi nào)\b`), IntentWhen},
	{regexp.MustCompile(`(?i)\b(?:where|ở đâu)\b`), IntentWhere},
	{regexp.MustCompile(`(?i)\b(?:who|whom|với ai)\b`), IntentWho},
}

var actionHintRe = regexp.MustCompile(`(?i)\b(\w+(?:ed|ing))\b`)

// QueryParser turns query text into a Stimulus. Parsing is deterministic
// and purely local.
type QueryParser struct {
	tok Tokenizer
}

// NewQueryParser creates a parser over the given tokenizer.
func NewQueryParser(tok Tokenizer) *QueryParser {
	if tok == nil {
		tok = NewRegexTokenizer()
	}
	return &QueryParser{tok: tok}
}

// Parse extracts all signals from the query relative to the reference time.
func (p *QueryParser) Parse(query string, ref time.Time) *Stimulus {
	s := &Stimulus{
		RawQuery:  query,
		Entities:  ExtractEntities(query),
		Keywords:  ExtractKeywords(p.tok, query, 2),
		TimeHints: ExtractTimeHints(query, ref),
		Intent:    detectIntent(query),
		Sentiment: ExtractSentiment(p.tok, query),
	}
	s.Anchors = p.anchorCandidates(s)
	return s
}

func detectIntent(query string) QueryIntent {
	for _, p := range intentPatterns {
		if p.re.MatchString(query) {
			return p.intent
		}
	}
	return IntentRecall
}

// anchorCandidates ranks signals into anchor candidates: time first, then
// entities, actions, and remaining keywords as concepts.
func (p *QueryParser) anchorCandidates(s *Stimulus) []AnchorCandidate {
	var anchors []AnchorCandidate
	claimed := make(map[string]struct{})

	for _, hint := range s.TimeHints {
		anchors = append(anchors, AnchorCandidate{
			Text:   hint.Text,
			Type:   neural.NeuronTypeTime,
			Weight: anchorWeightTime,
		})
		claimed[strings.ToLower(hint.Text)] = struct{}{}
	}

	for _, ent := range s.Entities {
		key := strings.ToLower(ent.Text)
		if _, dup := claimed[key]; dup {
			continue
		}
		claimed[key] = struct{}{}
		anchors = append(anchors, AnchorCandidate{
			Text:   ent.Text,
			Type:   neural.NeuronTypeEntity,
			Weight: anchorWeightEntity,
		})
	}

	for _, kw := range s.Keywords {
		if _, dup := claimed[kw]; dup {
			continue
		}
		claimed[kw] = struct{}{}
		typ := neural.NeuronTypeConcept
		weight := anchorWeightConcept
		if actionHintRe.MatchString(kw) {
			typ = neural.NeuronTypeAction
			weight = anchorWeightAction
		}
		anchors = append(anchors, AnchorCandidate{Text: kw, Type: typ, Weight: weight})
	}

	return anchors
}
