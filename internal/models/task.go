package models

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Weight is the priority's contribution to cognitive load.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// OpenStatuses are the statuses of work that is still pending.
var OpenStatuses = []TaskStatus{StatusTodo, StatusInProgress}

// Task is a unit of work owned by a single user
type Task struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	ProjectID         string     `json:"projectId,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          Priority   `json:"priority"`
	Status            TaskStatus `json:"status"`
	DueDate           *time.Time `json:"dueDate,omitempty"`
	Tags              []string   `json:"tags"`
	EstimatedDuration *int       `json:"estimatedDuration,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func (t *Task) IsOpen() bool {
	return t.Status == StatusTodo || t.Status == StatusInProgress
}

// TaskInput carries the fields accepted when creating a task.
type TaskInput struct {
	UserID            string     `json:"userId"`
	ProjectID         string     `json:"projectId,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Priority          Priority   `json:"priority,omitempty"`
	Status            TaskStatus `json:"status,omitempty"`
	DueDate           *time.Time `json:"dueDate,omitempty"`
	Tags              []string   `json:"tags,omitempty"`
	EstimatedDuration *int       `json:"estimatedDuration,omitempty"`
}

// TaskPatch is a partial update. Nil fields are left untouched.
// An empty ProjectID detaches the task from its project.
type TaskPatch struct {
	Title             *string     `json:"title,omitempty"`
	Description       *string     `json:"description,omitempty"`
	Priority          *Priority   `json:"priority,omitempty"`
	Status            *TaskStatus `json:"status,omitempty"`
	DueDate           *time.Time  `json:"dueDate,omitempty"`
	ProjectID         *string     `json:"projectId,omitempty"`
	Tags              []string    `json:"tags,omitempty"`
	EstimatedDuration *int        `json:"estimatedDuration,omitempty"`
}

// TaskFilter is a conjunction of predicates. UserID is required.
type TaskFilter struct {
	UserID    string
	Statuses  []TaskStatus
	ProjectID string
	DueBefore *time.Time
}

// Match reports whether t satisfies every predicate of the filter.
func (f TaskFilter) Match(t *Task) bool {
	if t.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if t.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.DueBefore != nil && (t.DueDate == nil || t.DueDate.After(*f.DueBefore)) {
		return false
	}
	return true
}
