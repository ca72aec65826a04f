package encoder

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/adalundhe/neuralmem/core/neural"
)

// Predicate is a (subject, verb, object) tuple lifted from encoded
// content by regex. Conflicting predicates over the same subject drive
// CONTRADICTS edges and the superseded markers.
type Predicate struct {
	Subject string
	Verb    string
	Object  string
}

// Fiber metadata keys written by conflict handling.
const (
	metaPredicateSubject = "predicate_subject"
	metaPredicateVerb    = "predicate_verb"
	metaPredicateObject  = "predicate_object"
	metaSupersededCount  = "_superseded_count"
	metaMemoryType       = "memory_type"
)

// Conflict resolution outcomes recorded in the CONTRADICTS synapse.
const (
	resolutionKeepNew  = "keep_new"
	resolutionDisputed = "disputed"
)

var predicatePatterns = []*regexp.Regexp{
	// "We decided to use PostgreSQL", "I chose MongoDB for storage".
	regexp.MustCompile(`(?i)\b(we|i|they|the team|team)\s+(decided|chose|agreed|opted|voted)\s+(?:on\s+|for\s+|to\s+(?:use|go with|adopt|pick)\s+)?([\w.\- ]{2,40})`),
	// "We will use X", "we use X", "we switched to X".
	regexp.MustCompile(`(?i)\b(we|i|they|the team|team)\s+(?:will\s+)?(use|uses|adopted|switched to|migrated to|picked|selected|prefer)\s+([\w.\- ]{2,40})`),
	// "Database host is db.example.com", "The API key is X".
	regexp.MustCompile(`(?i)\b((?:[\w\-]+\s){0,2}[\w\-]+)\s+(is|are|was|equals)\s+([\w.\-:/ ]{2,60})`),
}

// Verb classes: predicates only contradict within the same class.
var verbClasses = map[string]string{
	"decided": "decision", "chose": "decision", "agreed": "decision",
	"opted": "decision", "voted": "decision", "use": "decision",
	"uses": "decision", "adopted": "decision", "switched to": "decision",
	"migrated to": "decision", "picked": "decision", "selected": "decision",
	"prefer": "decision",
	"is":     "state", "are": "state", "was": "state", "equals": "state",
}

// ExtractPredicates pulls (subject, verb, object) tuples from content.
// The first match per subject wins.
func ExtractPredicates(content string) []Predicate {
	var out []Predicate
	seen := make(map[string]struct{})
	for _, re := range predicatePatterns {
		for _, m := range re.FindAllStringSubmatch(content, -1) {
			p := Predicate{
				Subject: strings.ToLower(strings.TrimSpace(m[1])),
				Verb:    strings.ToLower(strings.TrimSpace(m[2])),
				Object:  strings.ToLower(strings.TrimSpace(strings.Trim(m[3], ". "))),
			}
			if p.Subject == "" || p.Object == "" {
				continue
			}
			if _, dup := seen[p.Subject+":"+p.Verb]; dup {
				continue
			}
			seen[p.Subject+":"+p.Verb] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Contradicts reports whether two predicates make incompatible claims:
// same subject, same verb class, different object.
func (p Predicate) Contradicts(other Predicate) bool {
	if p.Subject != other.Subject {
		return false
	}
	if verbClasses[p.Verb] != verbClasses[other.Verb] {
		return false
	}
	a, b := strings.TrimSpace(p.Object), strings.TrimSpace(other.Object)
	return a != b && !strings.Contains(a, b) && !strings.Contains(b, a)
}

// fiberPredicate reconstructs the predicate stored in a fiber's metadata.
func fiberPredicate(f *neural.Fiber) (Predicate, bool) {
	subject, _ := f.Metadata[metaPredicateSubject].(string)
	verb, _ := f.Metadata[metaPredicateVerb].(string)
	object, _ := f.Metadata[metaPredicateObject].(string)
	if subject == "" || object == "" {
		return Predicate{}, false
	}
	return Predicate{Subject: subject, Verb: verb, Object: object}, true
}

// conflict pairs the new encode against one existing contradicting fiber.
type conflict struct {
	existing     *neural.Fiber
	existingPred Predicate
	newPred      Predicate
}

// findConflicts compares the new predicates against fibers that share a
// subject tag, plus the decision-overlap rule: a DECISION fiber whose tag
// set overlaps the new one at 70% or more with a different object.
func (e *Encoder) findConflicts(ctx context.Context, preds []Predicate, newTags map[string]struct{}, memoryType neural.MemoryType) ([]conflict, error) {
	var out []conflict
	seen := make(map[string]struct{})

	for _, pred := range preds {
		subjectTag := e.tags.Canonical(pred.Subject)
		if subjectTag == "" {
			continue
		}
		fibers, err := e.store.ListFibersByTag(ctx, subjectTag)
		if err != nil {
			return nil, err
		}
		for _, f := range fibers {
			existingPred, ok := fiberPredicate(f)
			if !ok || !pred.Contradicts(existingPred) {
				continue
			}
			if _, dup := seen[f.ID]; dup {
				continue
			}
			seen[f.ID] = struct{}{}
			out = append(out, conflict{existing: f, existingPred: existingPred, newPred: pred})
		}
	}

	if memoryType == neural.MemoryDecision && len(preds) > 0 {
		decisions, err := e.store.ListFibersByTag(ctx, "*")
		if err != nil {
			return nil, err
		}
		for _, f := range decisions {
			if v, _ := f.Metadata[metaMemoryType].(string); v != string(neural.MemoryDecision) {
				continue
			}
			if _, dup := seen[f.ID]; dup {
				continue
			}
			if tagOverlap(newTags, f.Tags()) < 0.7 {
				continue
			}
			existingPred, ok := fiberPredicate(f)
			if !ok {
				continue
			}
			for _, pred := range preds {
				if verbClasses[pred.Verb] != verbClasses[existingPred.Verb] {
					continue
				}
				if strings.EqualFold(pred.Object, existingPred.Object) {
					continue
				}
				seen[f.ID] = struct{}{}
				out = append(out, conflict{existing: f, existingPred: existingPred, newPred: pred})
				break
			}
		}
	}
	return out, nil
}

// tagOverlap is the fraction of the smaller tag set shared by both.
func tagOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(inter) / float64(smaller)
}

// resolveConflict applies the conservative auto-resolution rules and
// returns the recorded outcome. keep_new marks only the older side
// superseded; disputed leaves both flagged for manual review.
func resolveConflict(c conflict, newContent string, confidence float64, now time.Time) string {
	age := now.Sub(c.existing.CreatedAt)

	// Stale loser: a confident new claim beats a month-old one.
	if confidence >= 0.8 && age > 30*24*time.Hour {
		return resolutionKeepNew
	}
	// Same-session correction: minutes apart and the new content says more.
	if age < time.Hour && len(newContent) > len(c.existing.Summary) {
		return resolutionKeepNew
	}
	// Serial loser: a fiber already superseded twice loses again.
	if count, ok := c.existing.Metadata[metaSupersededCount].(float64); ok && count >= 2 {
		return resolutionKeepNew
	}
	if count, ok := c.existing.Metadata[metaSupersededCount].(int); ok && count >= 2 {
		return resolutionKeepNew
	}
	return resolutionDisputed
}
