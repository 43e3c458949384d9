package storage

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// Indexer mirrors tasks into a semantic index.
type Indexer interface {
	IndexTask(ctx context.Context, task *models.Task) error
	RemoveTask(ctx context.Context, id string) error
}

// IndexedStorage keeps an Indexer in sync with task writes. Index
// failures are logged and never change the result of the store call.
type IndexedStorage struct {
	Storage
	indexer   Indexer
	logger    *zap.Logger
	waitGroup *conc.WaitGroup
	timeout   time.Duration
}

func WithIndex(store Storage, indexer Indexer, logger *zap.Logger) *IndexedStorage {
	return &IndexedStorage{
		Storage:   store,
		indexer:   indexer,
		logger:    logger,
		waitGroup: conc.NewWaitGroup(),
		timeout:   30 * time.Second,
	}
}

func (s *IndexedStorage) CreateTask(ctx context.Context, in models.TaskInput) (*models.Task, error) {
	task, err := s.Storage.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	s.index(ctx, task)
	return task, nil
}

// UpdateTask re-indexes the task when its searchable text changed.
func (s *IndexedStorage) UpdateTask(ctx context.Context, userID, id string, patch models.TaskPatch) (*models.Task, error) {
	task, err := s.Storage.UpdateTask(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil || patch.Description != nil {
		s.index(ctx, task)
	}
	return task, nil
}

func (s *IndexedStorage) index(ctx context.Context, task *models.Task) {
	snapshot := cloneTask(task)
	s.waitGroup.Go(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		if err := s.indexer.IndexTask(ctx, snapshot); err != nil {
			s.logger.Warn("Failed to add task to semantic index",
				zap.Error(err),
				zap.String("task_id", snapshot.ID),
				zap.String("user_id", snapshot.UserID))
		}
	})
}

func (s *IndexedStorage) DeleteTask(ctx context.Context, userID, id string) error {
	if err := s.Storage.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	if err := s.indexer.RemoveTask(ctx, id); err != nil {
		s.logger.Warn("Failed to remove task from semantic index",
			zap.Error(err),
			zap.String("task_id", id),
			zap.String("user_id", userID))
	}
	return nil
}

// Wait blocks until every pending index write has finished.
func (s *IndexedStorage) Wait() {
	s.waitGroup.Wait()
}

func (s *IndexedStorage) Close() error {
	s.waitGroup.Wait()
	return s.Storage.Close()
}
