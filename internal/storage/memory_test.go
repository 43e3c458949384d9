package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// fixedClock returns the same instant on every call, which exercises the
// strictly-increasing timestamp guarantees.
func fixedClock() func() time.Time {
	t := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func ptr[T any](v T) *T { return &v }

func TestCreateTaskDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "Review Q4 numbers"})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, models.StatusTodo, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	assert.Equal(t, task.CreatedAt, task.UpdatedAt)
	assert.Equal(t, []string{}, task.Tags)
}

func TestCreateTaskValidation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	tests := []struct {
		name string
		in   models.TaskInput
	}{
		{"missing user", models.TaskInput{Title: "x"}},
		{"missing title", models.TaskInput{UserID: "u1", Title: "  "}},
		{"bad priority", models.TaskInput{UserID: "u1", Title: "x", Priority: "critical"}},
		{"bad status", models.TaskInput{UserID: "u1", Title: "x", Status: "done"}},
		{"unknown project", models.TaskInput{UserID: "u1", Title: "x", ProjectID: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.CreateTask(ctx, tt.in)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestUpdateTaskIsPartialMerge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage().WithClock(fixedClock())

	due := time.Date(2026, 10, 20, 17, 0, 0, 0, time.UTC)
	created, err := store.CreateTask(ctx, models.TaskInput{
		UserID:            "u1",
		Title:             "Draft memo",
		Description:       "for the board",
		Priority:          models.PriorityHigh,
		DueDate:           &due,
		Tags:              []string{"work"},
		EstimatedDuration: ptr(90),
	})
	require.NoError(t, err)

	updated, err := store.UpdateTask(ctx, "u1", created.ID, models.TaskPatch{
		Status: ptr(models.StatusInProgress),
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusInProgress, updated.Status)
	assert.Equal(t, created.Title, updated.Title)
	assert.Equal(t, created.Description, updated.Description)
	assert.Equal(t, created.Priority, updated.Priority)
	assert.Equal(t, created.DueDate, updated.DueDate)
	assert.Equal(t, created.Tags, updated.Tags)
	assert.Equal(t, created.EstimatedDuration, updated.EstimatedDuration)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt), "updatedAt must strictly increase")

	again, err := store.UpdateTask(ctx, "u1", created.ID, models.TaskPatch{Title: ptr("Final memo")})
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.After(updated.UpdatedAt))
	assert.Equal(t, models.StatusInProgress, again.Status)
}

func TestUpdateTaskNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.UpdateTask(ctx, "u1", "missing", models.TaskPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "mine"})
	require.NoError(t, err)

	_, err = store.UpdateTask(ctx, "u2", task.ID, models.TaskPatch{Title: ptr("theirs")})
	assert.ErrorIs(t, err, ErrNotFound, "tasks are scoped to their owner")
	assert.ErrorIs(t, store.DeleteTask(ctx, "u2", task.ID), ErrNotFound)
}

func TestDeleteTaskRemovesFromListing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	keep, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "keep"})
	require.NoError(t, err)
	drop, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "drop"})
	require.NoError(t, err)

	require.NoError(t, store.DeleteTask(ctx, "u1", drop.ID))

	tasks, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, keep.ID, tasks[0].ID)

	assert.ErrorIs(t, store.DeleteTask(ctx, "u1", drop.ID), ErrNotFound)
}

func TestListTasksFilters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := now
	store := NewMemoryStorage().WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	project, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u1", Name: "Launch"})
	require.NoError(t, err)

	soon := now.Add(2 * time.Hour)
	later := now.Add(10 * 24 * time.Hour)
	a, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "a", DueDate: &soon})
	require.NoError(t, err)
	b, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "b", Status: models.StatusInProgress, ProjectID: project.ID})
	require.NoError(t, err)
	c, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "c", Status: models.StatusCompleted, DueDate: &later})
	require.NoError(t, err)
	_, err = store.CreateTask(ctx, models.TaskInput{UserID: "u2", Title: "other user"})
	require.NoError(t, err)

	ids := func(tasks []*models.Task) []string {
		out := make([]string, len(tasks))
		for i, t := range tasks {
			out[i] = t.ID
		}
		return out
	}

	all, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids(all), "newest first")

	open, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1", Statuses: models.OpenStatuses})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(open))

	inProject, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(inProject))

	boundary := now.Add(24 * time.Hour)
	due, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1", DueBefore: &boundary})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids(due))

	_, err = store.ListTasks(ctx, models.TaskFilter{})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestProjectMembership(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	p1, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u1", Name: "One"})
	require.NoError(t, err)
	p2, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u1", Name: "Two"})
	require.NoError(t, err)
	foreign, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u2", Name: "Not yours"})
	require.NoError(t, err)

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "t", ProjectID: p1.ID})
	require.NoError(t, err)

	got, err := store.GetProject(ctx, "u1", p1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, got.Tasks)

	_, err = store.UpdateTask(ctx, "u1", task.ID, models.TaskPatch{ProjectID: ptr(foreign.ID)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = store.UpdateTask(ctx, "u1", task.ID, models.TaskPatch{ProjectID: ptr(p2.ID)})
	require.NoError(t, err)

	got1, err := store.GetProject(ctx, "u1", p1.ID)
	require.NoError(t, err)
	got2, err := store.GetProject(ctx, "u1", p2.ID)
	require.NoError(t, err)
	assert.Empty(t, got1.Tasks)
	assert.Equal(t, []string{task.ID}, got2.Tasks)

	require.NoError(t, store.DeleteTask(ctx, "u1", task.ID))
	got2, err = store.GetProject(ctx, "u1", p2.ID)
	require.NoError(t, err)
	assert.Empty(t, got2.Tasks)
}

func TestArchiveProject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	p, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u1", Name: "Old"})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectActive, p.Status)

	archived, err := store.ArchiveProject(ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProjectArchived, archived.Status)

	active, err := store.ListProjects(ctx, models.ProjectFilter{UserID: "u1", Statuses: []models.ProjectStatus{models.ProjectActive}})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListProjects(ctx, models.ProjectFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 1, "archived projects are kept")

	_, err = store.ArchiveProject(ctx, "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage().WithClock(fixedClock())

	for i := 0; i < 7; i++ {
		require.NoError(t, store.AppendMessage(ctx, &models.ChatMessage{
			UserID:  "u1",
			Content: fmt.Sprintf("m%d", i),
			Type:    models.MessageUser,
		}))
	}

	recent, err := store.RecentMessages(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	for i, m := range recent {
		assert.Equal(t, fmt.Sprintf("m%d", i+2), m.Content)
		if i > 0 {
			assert.True(t, m.Timestamp.After(recent[i-1].Timestamp), "timestamps strictly increase")
		}
	}

	all, err := store.RecentMessages(ctx, "u1", 100)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	none, err := store.RecentMessages(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestProfileLazyDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	profile, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences(), profile.Preferences)

	profile.Preferences.Timezone = "Europe/Berlin"
	profile.Preferences.WorkingHours = models.WorkingHours{Start: "08:00", End: "16:00"}
	require.NoError(t, store.SaveProfile(ctx, profile))

	require.NoError(t, store.SaveScheduleSuggestion(ctx, "u1", &models.ScheduleSuggestion{
		Blocks: []models.TimeBlock{{TaskID: "t1", Title: "focus"}},
	}))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", got.Preferences.Timezone)
	require.NotNil(t, got.LatestSchedule)
	assert.Len(t, got.LatestSchedule.Blocks, 1)

	bad := *got
	bad.Preferences.Timezone = "Mars/Olympus"
	assert.ErrorIs(t, store.SaveProfile(ctx, &bad), ErrInvalid)
}

func TestConcurrentWritesForOneUser(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	project, err := store.CreateProject(ctx, models.ProjectInput{UserID: "u1", Name: "busy"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: fmt.Sprintf("t%d", i), ProjectID: project.ID})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	tasks, err := store.ListTasks(ctx, models.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, tasks, 50)

	got, err := store.GetProject(ctx, "u1", project.ID)
	require.NoError(t, err)
	assert.Len(t, got.Tasks, 50)
}

func TestUserIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.CreateTask(ctx, models.TaskInput{UserID: "b", Title: "x"})
	require.NoError(t, err)
	require.NoError(t, store.SaveProfile(ctx, models.NewUserProfile("a", time.Now())))

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestReadsDoNotRegisterUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	_, err := store.GetTask(ctx, "ghost", "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteTask(ctx, "ghost", "t1"), ErrNotFound)
	_, err = store.UpdateTask(ctx, "ghost", "t1", models.TaskPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetProject(ctx, "ghost", "p1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ArchiveProject(ctx, "ghost", "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	tasks, err := store.ListTasks(ctx, models.TaskFilter{UserID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, tasks)
	projects, err := store.ListProjects(ctx, models.ProjectFilter{UserID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, projects)
	messages, err := store.RecentMessages(ctx, "ghost", 5)
	require.NoError(t, err)
	assert.Empty(t, messages)

	profile, err := store.GetProfile(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", profile.UserID)
	assert.Equal(t, models.DefaultPreferences(), profile.Preferences)

	ids, err := store.UserIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

type recordingIndexer struct {
	mu       sync.Mutex
	indexed  []string
	removed  []string
	indexErr error
	dropErr  error
}

func (r *recordingIndexer) IndexTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, task.ID)
	return r.indexErr
}

func (r *recordingIndexer) RemoveTask(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return r.dropErr
}

func TestIndexedStorageIsBestEffort(t *testing.T) {
	ctx := context.Background()
	indexer := &recordingIndexer{
		indexErr: errors.New("index unavailable"),
		dropErr:  errors.New("index unavailable"),
	}
	store := WithIndex(NewMemoryStorage(), indexer, zap.NewNop())

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "indexed"})
	require.NoError(t, err, "index failures never fail the create")
	store.Wait()

	require.NoError(t, store.DeleteTask(ctx, "u1", task.ID), "index failures never fail the delete")

	indexer.mu.Lock()
	defer indexer.mu.Unlock()
	assert.Equal(t, []string{task.ID}, indexer.indexed)
	assert.Equal(t, []string{task.ID}, indexer.removed)
}

func TestIndexedStorageReindexesOnTextChange(t *testing.T) {
	ctx := context.Background()
	indexer := &recordingIndexer{}
	store := WithIndex(NewMemoryStorage(), indexer, zap.NewNop())

	task, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1", Title: "Draft"})
	require.NoError(t, err)
	store.Wait()

	completed := models.StatusCompleted
	_, err = store.UpdateTask(ctx, "u1", task.ID, models.TaskPatch{Status: &completed})
	require.NoError(t, err)
	store.Wait()
	_, err = store.UpdateTask(ctx, "u1", task.ID, models.TaskPatch{Description: ptr("Board deck for Q4")})
	require.NoError(t, err)
	_, err = store.UpdateTask(ctx, "u1", "missing", models.TaskPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Close())

	indexer.mu.Lock()
	defer indexer.mu.Unlock()
	assert.Equal(t, []string{task.ID, task.ID}, indexer.indexed)
}

func TestIndexedStorageSkipsIndexOnFailedCreate(t *testing.T) {
	ctx := context.Background()
	indexer := &recordingIndexer{}
	store := WithIndex(NewMemoryStorage(), indexer, zap.NewNop())

	_, err := store.CreateTask(ctx, models.TaskInput{UserID: "u1"})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, store.DeleteTask(ctx, "u1", "missing"), ErrNotFound)
	require.NoError(t, store.Close())

	assert.Empty(t, indexer.indexed)
	assert.Empty(t, indexer.removed)
}
