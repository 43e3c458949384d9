package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// Runs only when TEST_DATABASE_HOST points at a disposable PostgreSQL.
func newTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()
	host := os.Getenv("TEST_DATABASE_HOST")
	if host == "" {
		t.Skip("TEST_DATABASE_HOST not set")
	}
	store, err := NewPostgresStorage(context.Background(), DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "postgres",
		Password: os.Getenv("TEST_DATABASE_PASSWORD"),
		DBName:   "postgres",
		SSLMode:  "disable",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresTaskLifecycle(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	user := "pg-" + time.Now().Format("150405.000000")

	project, err := store.CreateProject(ctx, models.ProjectInput{UserID: user, Name: "Launch"})
	require.NoError(t, err)

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: user, Title: "Write copy", ProjectID: project.ID, Tags: []string{"work"}})
	require.NoError(t, err)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)

	updated, err := store.UpdateTask(ctx, user, task.ID, models.TaskPatch{Priority: ptr(models.PriorityUrgent)})
	require.NoError(t, err)
	assert.Equal(t, "Write copy", updated.Title)
	assert.Equal(t, []string{"work"}, updated.Tags)
	assert.True(t, updated.UpdatedAt.After(task.UpdatedAt))

	got, err := store.GetProject(ctx, user, project.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, got.Tasks)

	require.NoError(t, store.DeleteTask(ctx, user, task.ID))
	assert.ErrorIs(t, store.DeleteTask(ctx, user, task.ID), ErrNotFound)

	tasks, err := store.ListTasks(ctx, models.TaskFilter{UserID: user})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPostgresConversationAndProfile(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()
	user := "pg-" + time.Now().Format("150405.000000")

	for _, content := range []string{"one", "two", "three"} {
		require.NoError(t, store.AppendMessage(ctx, &models.ChatMessage{UserID: user, Content: content, Type: models.MessageUser}))
	}
	recent, err := store.RecentMessages(ctx, user, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)

	profile, err := store.GetProfile(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "UTC", profile.Preferences.Timezone)

	ghost := user + "-ghost"
	_, err = store.GetProfile(ctx, ghost)
	require.NoError(t, err)
	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, user)
	assert.NotContains(t, ids, ghost)
}
