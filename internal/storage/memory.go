package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xaenox/chief-of-staff/internal/models"
)

// userShard owns all state of one user. Operations for different users never
// share a lock.
type userShard struct {
	mu           sync.RWMutex
	tasks        map[string]*models.Task
	taskOrder    []string
	projects     map[string]*models.Project
	projectOrder []string
	messages     []*models.ChatMessage
	profile      *models.UserProfile
}

type MemoryStorage struct {
	mu     sync.RWMutex
	shards map[string]*userShard
	now    func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		shards: make(map[string]*userShard),
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStorage) WithClock(now func() time.Time) *MemoryStorage {
	s.now = now
	return s
}

// lookup returns nil for a user that has never written anything.
func (s *MemoryStorage) lookup(userID string) *userShard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shards[userID]
}

// shard returns the user's shard, creating it. Only writes call it, so
// UserIDs never reports a user that was merely read.
func (s *MemoryStorage) shard(userID string) *userShard {
	if sh := s.lookup(userID); sh != nil {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.shards[userID]; ok {
		return sh
	}
	sh := &userShard{
		tasks:    make(map[string]*models.Task),
		projects: make(map[string]*models.Project),
	}
	s.shards[userID] = sh
	return sh
}

func (s *MemoryStorage) UserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Task methods
func (s *MemoryStorage) CreateTask(ctx context.Context, in models.TaskInput) (*models.Task, error) {
	if err := normalizeTaskInput(&in); err != nil {
		return nil, err
	}
	sh := s.shard(in.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var project *models.Project
	if in.ProjectID != "" {
		p, ok := sh.projects[in.ProjectID]
		if !ok {
			return nil, fmt.Errorf("%w: project %s does not belong to user", ErrInvalid, in.ProjectID)
		}
		project = p
	}

	now := stamp(s.now())
	task := &models.Task{
		ID:                uuid.New().String(),
		UserID:            in.UserID,
		ProjectID:         in.ProjectID,
		Title:             in.Title,
		Description:       in.Description,
		Priority:          in.Priority,
		Status:            in.Status,
		DueDate:           in.DueDate,
		Tags:              append([]string{}, in.Tags...),
		EstimatedDuration: in.EstimatedDuration,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	sh.tasks[task.ID] = task
	sh.taskOrder = append(sh.taskOrder, task.ID)
	if project != nil {
		project.Tasks = append(project.Tasks, task.ID)
		project.UpdatedAt = after(project.UpdatedAt, now)
	}
	return cloneTask(task), nil
}

func (s *MemoryStorage) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	sh := s.lookup(userID)
	if sh == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	task, ok := sh.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(task), nil
}

func (s *MemoryStorage) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	sh := s.lookup(filter.UserID)
	if sh == nil {
		return []*models.Task{}, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(sh.tasks))
	for i := len(sh.taskOrder) - 1; i >= 0; i-- {
		task, ok := sh.tasks[sh.taskOrder[i]]
		if ok && filter.Match(task) {
			tasks = append(tasks, cloneTask(task))
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *MemoryStorage) UpdateTask(ctx context.Context, userID, id string, patch models.TaskPatch) (*models.Task, error) {
	if err := validateTaskPatch(patch); err != nil {
		return nil, err
	}
	sh := s.lookup(userID)
	if sh == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	task, ok := sh.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if patch.ProjectID != nil && *patch.ProjectID != "" {
		if _, ok := sh.projects[*patch.ProjectID]; !ok {
			return nil, fmt.Errorf("%w: project %s does not belong to user", ErrInvalid, *patch.ProjectID)
		}
	}

	now := after(task.UpdatedAt, stamp(s.now()))
	updated := cloneTask(task)
	applyTaskPatch(updated, patch)
	updated.UpdatedAt = now

	if updated.ProjectID != task.ProjectID {
		if old, ok := sh.projects[task.ProjectID]; ok {
			old.Tasks = removeID(old.Tasks, id)
			old.UpdatedAt = after(old.UpdatedAt, now)
		}
		if next, ok := sh.projects[updated.ProjectID]; ok {
			next.Tasks = append(next.Tasks, id)
			next.UpdatedAt = after(next.UpdatedAt, now)
		}
	}
	sh.tasks[id] = updated
	return cloneTask(updated), nil
}

func (s *MemoryStorage) DeleteTask(ctx context.Context, userID, id string) error {
	sh := s.lookup(userID)
	if sh == nil {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	task, ok := sh.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if p, ok := sh.projects[task.ProjectID]; ok {
		p.Tasks = removeID(p.Tasks, id)
		p.UpdatedAt = after(p.UpdatedAt, stamp(s.now()))
	}
	delete(sh.tasks, id)
	sh.taskOrder = removeID(sh.taskOrder, id)
	return nil
}

// Project methods
func (s *MemoryStorage) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	if err := normalizeProjectInput(&in); err != nil {
		return nil, err
	}
	sh := s.shard(in.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := stamp(s.now())
	project := &models.Project{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		Tasks:       []string{},
		Deadline:    in.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sh.projects[project.ID] = project
	sh.projectOrder = append(sh.projectOrder, project.ID)
	return cloneProject(project), nil
}

func (s *MemoryStorage) GetProject(ctx context.Context, userID, id string) (*models.Project, error) {
	sh := s.lookup(userID)
	if sh == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	project, ok := sh.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return cloneProject(project), nil
}

func (s *MemoryStorage) ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*models.Project, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	sh := s.lookup(filter.UserID)
	if sh == nil {
		return []*models.Project{}, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	projects := make([]*models.Project, 0, len(sh.projects))
	for i := len(sh.projectOrder) - 1; i >= 0; i-- {
		if p, ok := sh.projects[sh.projectOrder[i]]; ok && filter.Match(p) {
			projects = append(projects, cloneProject(p))
		}
	}
	sort.SliceStable(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (s *MemoryStorage) UpdateProject(ctx context.Context, userID, id string, patch models.ProjectPatch) (*models.Project, error) {
	if err := validateProjectPatch(patch); err != nil {
		return nil, err
	}
	sh := s.lookup(userID)
	if sh == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	project, ok := sh.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	updated := cloneProject(project)
	applyProjectPatch(updated, patch)
	updated.UpdatedAt = after(project.UpdatedAt, stamp(s.now()))
	sh.projects[id] = updated
	return cloneProject(updated), nil
}

func (s *MemoryStorage) ArchiveProject(ctx context.Context, userID, id string) (*models.Project, error) {
	archived := models.ProjectArchived
	return s.UpdateProject(ctx, userID, id, models.ProjectPatch{Status: &archived})
}

// Conversation methods
func (s *MemoryStorage) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	sh := s.shard(msg.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var last time.Time
	if n := len(sh.messages); n > 0 {
		last = sh.messages[n-1].Timestamp
	}
	prepareMessage(msg, last, s.now())
	stored := *msg
	sh.messages = append(sh.messages, &stored)
	return nil
}

func (s *MemoryStorage) RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error) {
	sh := s.lookup(userID)
	if sh == nil || limit <= 0 {
		return []*models.ChatMessage{}, nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	start := len(sh.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*models.ChatMessage, 0, len(sh.messages)-start)
	for _, m := range sh.messages[start:] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

// Profile methods
func (s *MemoryStorage) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	sh := s.lookup(userID)
	if sh == nil {
		return models.NewUserProfile(userID, stamp(s.now())), nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.profile == nil {
		sh.profile = models.NewUserProfile(userID, stamp(s.now()))
	}
	return cloneProfile(sh.profile), nil
}

func (s *MemoryStorage) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	sh := s.shard(profile.UserID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := stamp(s.now())
	stored := cloneProfile(profile)
	if sh.profile != nil {
		stored.CreatedAt = sh.profile.CreatedAt
		stored.UpdatedAt = after(sh.profile.UpdatedAt, now)
		if stored.LatestSchedule == nil {
			stored.LatestSchedule = sh.profile.LatestSchedule
		}
	} else {
		stored.CreatedAt, stored.UpdatedAt = now, now
	}
	sh.profile = stored
	*profile = *cloneProfile(stored)
	return nil
}

func (s *MemoryStorage) SaveScheduleSuggestion(ctx context.Context, userID string, suggestion *models.ScheduleSuggestion) error {
	sh := s.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := stamp(s.now())
	if sh.profile == nil {
		sh.profile = models.NewUserProfile(userID, now)
	}
	c := *suggestion
	c.Blocks = append([]models.TimeBlock{}, suggestion.Blocks...)
	sh.profile.LatestSchedule = &c
	sh.profile.UpdatedAt = after(sh.profile.UpdatedAt, now)
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func applyTaskPatch(t *models.Task, p models.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Tags != nil {
		t.Tags = append([]string{}, p.Tags...)
	}
	if p.EstimatedDuration != nil {
		d := *p.EstimatedDuration
		t.EstimatedDuration = &d
	}
}

func applyProjectPatch(pr *models.Project, p models.ProjectPatch) {
	if p.Name != nil {
		pr.Name = *p.Name
	}
	if p.Description != nil {
		pr.Description = *p.Description
	}
	if p.Status != nil {
		pr.Status = *p.Status
	}
	if p.Deadline != nil {
		d := *p.Deadline
		pr.Deadline = &d
	}
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.Tags = append([]string{}, t.Tags...)
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	if t.EstimatedDuration != nil {
		d := *t.EstimatedDuration
		c.EstimatedDuration = &d
	}
	return &c
}

func cloneProject(p *models.Project) *models.Project {
	c := *p
	c.Tasks = append([]string{}, p.Tasks...)
	if p.Deadline != nil {
		d := *p.Deadline
		c.Deadline = &d
	}
	return &c
}

func cloneProfile(p *models.UserProfile) *models.UserProfile {
	c := *p
	if p.LatestSchedule != nil {
		s := *p.LatestSchedule
		s.Blocks = append([]models.TimeBlock{}, p.LatestSchedule.Blocks...)
		c.LatestSchedule = &s
	}
	return &c
}
