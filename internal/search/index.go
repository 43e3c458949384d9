// Package search keeps a semantic index of tasks. The index and the embedding
// model are remote collaborators; every call here is best-effort.
package search

import (
	"context"
	"math"
	"sort"
	"sync"
)

type Vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata"`
}

type Match struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// QueryOptions limits a query to TopK matches whose metadata equals every
// entry of Filter.
type QueryOptions struct {
	TopK   int
	Filter map[string]string
}

type Index interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MemoryIndex is an in-process Index using cosine similarity.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string]Vector
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string]Vector)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, vectors []Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vectors {
		m.vectors[v.ID] = v
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]Match, 0, len(m.vectors))
	for _, v := range m.vectors {
		if !matchesFilter(v.Metadata, opts.Filter) {
			continue
		}
		matches = append(matches, Match{ID: v.ID, Score: cosine(vector, v.Values), Metadata: v.Metadata})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if opts.TopK > 0 && len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.vectors, id)
	}
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, want := range filter {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
