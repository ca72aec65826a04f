package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionFindClusters(t *testing.T) {
	uf := NewUnionFind()
	uf.Union("a", "b")
	uf.Union("b", "c")
	uf.Union("x", "y")
	uf.Add("lone")

	clusters := uf.Clusters()
	assert.Len(t, clusters, 3)
	assert.Equal(t, []string{"a", "b", "c"}, clusters[0])
	assert.Equal(t, []string{"x", "y"}, clusters[1])
	assert.Equal(t, []string{"lone"}, clusters[2])
}

func TestUnionFindIdempotent(t *testing.T) {
	uf := NewUnionFind()
	uf.Union("a", "b")
	uf.Union("a", "b")
	uf.Union("b", "a")
	assert.Equal(t, uf.Find("a"), uf.Find("b"))
	assert.Len(t, uf.Clusters(), 1)
}
