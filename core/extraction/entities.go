package extraction

import (
	"regexp"
	"strings"
)

// EntitySpan is a named entity or quoted span found in text.
type EntitySpan struct {
	Text  string
	Start int
	End   int
	// Quoted marks spans lifted verbatim from quotes.
	Quoted bool
}

var (
	quotedRe = regexp.MustCompile(`"([^"]{1,80})"|'([^']{1,80})'`)
	// Capitalized runs: one or more TitleCase words, optionally joined.
	capitalizedRe = regexp.MustCompile(`\b\p{Lu}[\p{Ll}\p{N}]+(?:\s+\p{Lu}[\p{Ll}\p{N}]+)*\b`)
	// All-caps tokens of 2..10 letters read as acronyms (JWT, API).
	acronymRe = regexp.MustCompile(`\b\p{Lu}{2,10}\b`)
	// Hostname-ish tokens (db.example.com) are entities too.
	hostRe = regexp.MustCompile(`\b[a-z0-9][a-z0-9\-]*(?:\.[a-z0-9][a-z0-9\-]*){1,}\b`)
)

// sentence starters that capitalization alone should not promote.
var sentenceNoise = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "i": {}, "we": {}, "he": {}, "she": {},
	"it": {}, "they": {}, "this": {}, "that": {}, "my": {}, "our": {},
	"met": {}, "after": {}, "before": {}, "during": {}, "yesterday": {},
	"today": {}, "tomorrow": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "why": {}, "how": {}, "did": {}, "does": {}, "do": {},
	"is": {}, "was": {}, "and": {}, "but": {}, "then": {}, "first": {},
	"database": {}, "db": {},
}

// ExtractEntities finds quoted spans, capitalized token runs, acronyms,
// and hostnames. Results are deduplicated by lowercased text, first
// occurrence wins.
func ExtractEntities(text string) []EntitySpan {
	var spans []EntitySpan

	for _, m := range quotedRe.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		if start < 0 {
			start, end = m[4], m[5]
		}
		if start < 0 {
			continue
		}
		spans = append(spans, EntitySpan{Text: text[start:end], Start: start, End: end, Quoted: true})
	}

	for _, m := range capitalizedRe.FindAllStringIndex(text, -1) {
		span, offset := trimNoiseWords(text[m[0]:m[1]])
		if span == "" {
			continue
		}
		spans = append(spans, EntitySpan{Text: span, Start: m[0] + offset, End: m[1]})
	}

	for _, m := range acronymRe.FindAllStringIndex(text, -1) {
		spans = append(spans, EntitySpan{Text: text[m[0]:m[1]], Start: m[0], End: m[1]})
	}

	for _, m := range hostRe.FindAllStringIndex(strings.ToLower(text), -1) {
		span := text[m[0]:m[1]]
		if !strings.Contains(span, ".") {
			continue
		}
		spans = append(spans, EntitySpan{Text: span, Start: m[0], End: m[1]})
	}

	return dedupeSpans(spans)
}

// trimNoiseWords strips leading sentence-starter words from a capitalized
// run ("Met Alice" → "Alice") and reports the byte offset trimmed.
func trimNoiseWords(span string) (string, int) {
	offset := 0
	for {
		word, rest, found := strings.Cut(span, " ")
		if _, noise := sentenceNoise[strings.ToLower(word)]; !noise {
			return span, offset
		}
		if !found {
			return "", offset
		}
		offset += len(word) + 1
		span = rest
	}
}

func dedupeSpans(spans []EntitySpan) []EntitySpan {
	seen := make(map[string]struct{}, len(spans))
	out := make([]EntitySpan, 0, len(spans))
	for _, s := range spans {
		key := strings.ToLower(strings.TrimSpace(s.Text))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
