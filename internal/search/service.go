package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/chief-of-staff/internal/models"
)

const DefaultTopK = 10

// Service couples an Embedder with an Index.
type Service struct {
	embedder Embedder
	index    Index
	timeout  time.Duration
}

func NewService(embedder Embedder, index Index, timeout time.Duration) *Service {
	return &Service{embedder: embedder, index: index, timeout: timeout}
}

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func taskText(t *models.Task) string {
	return strings.TrimSpace(t.Title + " " + t.Description)
}

// IndexTask embeds the task's title and description and upserts the vector.
func (s *Service) IndexTask(ctx context.Context, task *models.Task) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	values, err := s.embedder.Embed(ctx, taskText(task))
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, []Vector{{
		ID:     task.ID,
		Values: values,
		Metadata: map[string]string{
			"title":       task.Title,
			"description": task.Description,
			"priority":    string(task.Priority),
			"userId":      task.UserID,
			"type":        "task",
		},
	}})
}

func (s *Service) RemoveTask(ctx context.Context, id string) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.index.DeleteByIDs(ctx, []string{id})
}

// Search returns the user's entries closest to query.
func (s *Service) Search(ctx context.Context, userID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	values, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding search query: %w", err)
	}
	matches, err := s.index.Query(ctx, values, QueryOptions{
		TopK:   topK,
		Filter: map[string]string{"userId": userID},
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	return matches, nil
}
