package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// ContentIndex is the full-text index over neuron contents. It backs the
// token-level half of FindNeuronsContaining; exact substring matches come
// from the store itself. The index is regenerable cache, never the source
// of truth.
type ContentIndex struct {
	idx bleve.Index
}

type indexedNeuron struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

func contentMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	content := bleve.NewTextFieldMapping()
	content.Store = false
	doc.AddFieldMappingsAt("content", content)

	typ := bleve.NewKeywordFieldMapping()
	typ.Store = false
	doc.AddFieldMappingsAt("type", typ)

	indexMapping.DefaultMapping = doc
	return indexMapping
}

// NewMemContentIndex creates an in-memory index for tests and the
// MemoryStore-backed engine.
func NewMemContentIndex() (*ContentIndex, error) {
	idx, err := bleve.NewMemOnly(contentMapping())
	if err != nil {
		return nil, fmt.Errorf("create content index: %w", err)
	}
	return &ContentIndex{idx: idx}, nil
}

// OpenContentIndex opens or creates an on-disk index at the given path.
// A corrupt index is rebuilt empty; the caller reindexes from the store.
func OpenContentIndex(path string) (*ContentIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, contentMapping())
	} else if err != nil {
		// Regenerable cache: drop and recreate rather than fail the brain.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("open content index: %w", err)
		}
		idx, err = bleve.New(path, contentMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("create content index: %w", err)
	}
	return &ContentIndex{idx: idx}, nil
}

// Index adds or replaces one neuron's content.
func (ci *ContentIndex) Index(neuronID, content string, typ string) error {
	return ci.idx.Index(neuronID, indexedNeuron{Content: content, Type: typ})
}

// Delete removes a neuron from the index.
func (ci *ContentIndex) Delete(neuronID string) error {
	return ci.idx.Delete(neuronID)
}

// Search returns neuron ids whose content matches the text, best first.
func (ci *ContentIndex) Search(text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	match := bleve.NewMatchQuery(text)
	match.SetField("content")

	prefix := bleve.NewPrefixQuery(text)
	prefix.SetField("content")

	disjunction := bleve.NewDisjunctionQuery()
	disjunction.AddQuery(match)
	disjunction.AddQuery(prefix)

	req := bleve.NewSearchRequest(disjunction)
	req.Size = limit

	res, err := ci.idx.Search(req)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (ci *ContentIndex) Close() error {
	return ci.idx.Close()
}
