package storage

import (
	"fmt"
	"strings"

	"github.com/xaenox/chief-of-staff/internal/models"
)

func normalizeTaskInput(in *models.TaskInput) error {
	in.Title = strings.TrimSpace(in.Title)
	if in.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if in.Status == "" {
		in.Status = models.StatusTodo
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	return validateEnums(&in.Priority, &in.Status, in.EstimatedDuration)
}

func validateTaskPatch(p models.TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	return validateEnums(p.Priority, p.Status, p.EstimatedDuration)
}

func validateEnums(priority *models.Priority, status *models.TaskStatus, duration *int) error {
	if priority != nil && !priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalid, *priority)
	}
	if status != nil && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalid, *status)
	}
	if duration != nil && *duration < 0 {
		return fmt.Errorf("%w: estimated duration must not be negative", ErrInvalid)
	}
	return nil
}

func normalizeProjectInput(in *models.ProjectInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if in.Status == "" {
		in.Status = models.ProjectActive
	}
	if !in.Status.Valid() {
		return fmt.Errorf("%w: unknown project status %q", ErrInvalid, in.Status)
	}
	return nil
}

func validateProjectPatch(p models.ProjectPatch) error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalid)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown project status %q", ErrInvalid, *p.Status)
	}
	return nil
}

func validateProfile(p *models.UserProfile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalid)
	}
	if err := p.Preferences.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
