package storage

import (
	"context"
	"errors"

	"github.com/xaenox/chief-of-staff/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
)

type Storage interface {
	TaskStorage
	ProjectStorage
	ConversationStorage
	ProfileStorage

	// UserIDs lists every user that has stored state.
	UserIDs(ctx context.Context) ([]string, error)
	Close() error
}

type TaskStorage interface {
	CreateTask(ctx context.Context, in models.TaskInput) (*models.Task, error)
	GetTask(ctx context.Context, userID, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
}

type ProjectStorage interface {
	CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, userID, id string) (*models.Project, error)
	ListProjects(ctx context.Context, filter models.ProjectFilter) ([]*models.Project, error)
	UpdateProject(ctx context.Context, userID, id string, patch models.ProjectPatch) (*models.Project, error)
	// ArchiveProject is the project "delete": history is kept.
	ArchiveProject(ctx context.Context, userID, id string) (*models.Project, error)
}

// ConversationStorage is append-only.
type ConversationStorage interface {
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, userID string, limit int) ([]*models.ChatMessage, error)
}

type ProfileStorage interface {
	// GetProfile creates and stores the default profile on first access.
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	SaveScheduleSuggestion(ctx context.Context, userID string, s *models.ScheduleSuggestion) error
}
