package encoder

import (
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/neuralmem/core/neural"
)

// tagSynonyms maps common aliases to canonical tags before the SimHash
// near-match pass runs.
var tagSynonyms = map[string]string{
	"db":        "database",
	"dbs":       "database",
	"databases": "database",
	"auth":      "authentication",
	"authn":     "authentication",
	"authz":     "authorization",
	"config":    "configuration",
	"configs":   "configuration",
	"k8s":       "kubernetes",
	"js":        "javascript",
	"ts":        "typescript",
	"py":        "python",
	"golang":    "go",
	"repo":      "repository",
	"repos":     "repository",
	"docs":      "documentation",
	"doc":       "documentation",
	"todo":      "todo",
	"todos":     "todo",
	"perf":      "performance",
	"infra":     "infrastructure",
	"env":       "environment",
	"envs":      "environment",
	"deps":      "dependencies",
	"dep":       "dependencies",
}

// TagTable canonicalizes tags per brain: synonym lookup first, then a
// SimHash near-match against every canonical tag seen so far. Resolutions
// are memoized in an LRU so hot tags skip the scan.
type TagTable struct {
	mu    sync.Mutex
	known map[string]uint64 // canonical tag -> simhash
	memo  *lru.Cache[string, string]
}

// NewTagTable creates a table memoizing up to cacheSize resolutions.
func NewTagTable(cacheSize int) (*TagTable, error) {
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	memo, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &TagTable{known: make(map[string]uint64), memo: memo}, nil
}

// Canonical maps a raw tag to its canonical form, registering it as a new
// canonical tag when nothing near-matches.
func (t *TagTable) Canonical(raw string) string {
	tag := normalizeTag(raw)
	if tag == "" {
		return ""
	}
	if canonical, ok := tagSynonyms[tag]; ok {
		tag = canonical
	}
	if canonical, ok := t.memo.Get(tag); ok {
		return canonical
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exact := t.known[tag]; exact {
		t.memo.Add(tag, tag)
		return tag
	}

	hash := neural.SimHash(tag)
	best := ""
	bestDistance := neural.SimHashMaxDistance + 1
	keys := make([]string, 0, len(t.known))
	for k := range t.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, canonical := range keys {
		d := neural.HammingDistance(t.known[canonical], hash)
		if d < bestDistance {
			bestDistance = d
			best = canonical
		}
	}
	if best != "" && bestDistance <= neural.SimHashMaxDistance {
		t.memo.Add(tag, best)
		return best
	}

	t.known[tag] = hash
	t.memo.Add(tag, tag)
	return tag
}

// CanonicalSet canonicalizes a slice into a set.
func (t *TagTable) CanonicalSet(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		if canonical := t.Canonical(tag); canonical != "" {
			out[canonical] = struct{}{}
		}
	}
	return out
}

func normalizeTag(raw string) string {
	tag := strings.ToLower(strings.TrimSpace(raw))
	tag = strings.ReplaceAll(tag, " ", "-")
	return strings.Trim(tag, "-_.")
}
