package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// keywordEmbedder maps text onto a fixed vocabulary so similarity is predictable.
type keywordEmbedder struct {
	vocab []string
	err   error
}

func (k keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if k.err != nil {
		return nil, k.err
	}
	lower := strings.ToLower(text)
	v := make([]float32, len(k.vocab))
	for i, word := range k.vocab {
		if strings.Contains(lower, word) {
			v[i] = 1
		}
	}
	return v, nil
}

func newTestService() (*Service, *MemoryIndex) {
	index := NewMemoryIndex()
	embedder := keywordEmbedder{vocab: []string{"budget", "hiring", "deck", "board"}}
	return NewService(embedder, index, time.Second), index
}

func TestSearchRanksByUserAndSimilarity(t *testing.T) {
	ctx := context.Background()
	svc, index := newTestService()

	tasks := []*models.Task{
		{ID: "t1", UserID: "u1", Title: "Board deck", Description: "for the board meeting", Priority: models.PriorityHigh},
		{ID: "t2", UserID: "u1", Title: "Budget review", Priority: models.PriorityMedium},
		{ID: "t3", UserID: "u2", Title: "Board deck", Priority: models.PriorityLow},
	}
	for _, task := range tasks {
		require.NoError(t, svc.IndexTask(ctx, task))
	}
	assert.Equal(t, 3, index.Len())

	matches, err := svc.Search(ctx, "u1", "board deck", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "t1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	assert.Equal(t, "high", matches[0].Metadata["priority"])
	assert.Equal(t, "task", matches[0].Metadata["type"])

	matches, err = svc.Search(ctx, "u1", "board deck", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRemoveTask(t *testing.T) {
	ctx := context.Background()
	svc, index := newTestService()

	require.NoError(t, svc.IndexTask(ctx, &models.Task{ID: "t1", UserID: "u1", Title: "Hiring plan"}))
	require.NoError(t, svc.RemoveTask(ctx, "t1"))
	assert.Zero(t, index.Len())

	matches, err := svc.Search(ctx, "u1", "hiring", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearchPropagatesEmbedderFailure(t *testing.T) {
	svc := NewService(keywordEmbedder{err: errors.New("quota exceeded")}, NewMemoryIndex(), time.Second)

	_, err := svc.Search(context.Background(), "u1", "anything", 5)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Error(t, svc.IndexTask(context.Background(), &models.Task{ID: "t1"}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
}
