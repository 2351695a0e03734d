package store

import (
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex wraps a coder/hnsw graph keyed by memory ID. The graph mirrors
// the embedding column of memory_index and is rebuilt from rows at open, so
// it is never persisted separately and can never drift from the database.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[int64]
	dim   int
	count int
}

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ID    int64
	Score float64
}

// NewVectorIndex creates an empty index for dim-sized vectors.
func NewVectorIndex(dim int) *VectorIndex {
	g := hnsw.NewGraph[int64]()
	g.M = 16
	g.Ml = 0.25
	g.EfSearch = 64
	g.Distance = hnsw.CosineDistance
	return &VectorIndex{graph: g, dim: dim}
}

// Add inserts or replaces the vector for a memory. The vector is normalized
// in place so cosine distance reduces to dot product.
func (v *VectorIndex) Add(id int64, vec []float32) {
	normalizeInPlace(vec)
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.graph.Lookup(id); !ok {
		v.count++
	} else {
		// Drop the stale vector first: hnsw's in-place replacement mutates
		// the layer slice mid-insert and can panic.
		v.graph.Delete(id)
	}
	v.graph.Add(hnsw.MakeNode(id, vec))
}

// Remove deletes a memory's vector. Missing IDs are a no-op.
func (v *VectorIndex) Remove(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.graph.Delete(id) {
		v.count--
	}
}

// Len reports how many vectors are indexed.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// Search returns up to k nearest neighbors of query, scored in [0,1] where 1
// is identical direction.
func (v *VectorIndex) Search(query []float32, k int) []VectorHit {
	if len(query) != v.dim || k <= 0 {
		return nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	v.mu.RLock()
	neighbors := v.graph.Search(q, k)
	v.mu.RUnlock()

	hits := make([]VectorHit, 0, len(neighbors))
	for _, n := range neighbors {
		dist := hnsw.CosineDistance(q, n.Value)
		hits = append(hits, VectorHit{ID: n.Key, Score: distanceToScore(dist)})
	}
	return hits
}

// distanceToScore recovers cosine similarity from cosine distance and clamps
// it to [0,1]. Anti-aligned vectors score 0; similarity thresholds elsewhere
// are plain cosine values.
func distanceToScore(dist float32) float64 {
	s := 1 - float64(dist)
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= norm
	}
}
