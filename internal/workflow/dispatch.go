package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/agent"
	"github.com/xaenox/chief-of-staff/internal/models"
)

// Chat actions that start a workflow in the background.
var actionWorkflows = map[string]string{
	"schedule_optimization": ScheduleOptimization,
	"priority_update":       PriorityOptimization,
	"priority_optimization": PriorityOptimization,
	"deadline_check":        DeadlineCheck,
}

// Dispatch implements agent.Dispatcher. create_task runs inline so the ids of
// the new records can be returned; workflow actions are started and forgotten.
func (o *Orchestrator) Dispatch(ctx context.Context, userID, action string, intent models.Intent) (agent.DispatchResult, error) {
	if action == string(models.ActionCreateTask) {
		return o.createFromIntent(ctx, userID, intent)
	}
	name, ok := actionWorkflows[action]
	if !ok {
		return agent.DispatchResult{}, fmt.Errorf("%w: %s", agent.ErrUnknownAction, action)
	}
	o.Start(ctx, userID, name)
	return agent.DispatchResult{}, nil
}

// createFromIntent stores the extracted projects first so extracted tasks can
// name them. Failures skip the entry and are reported together.
func (o *Orchestrator) createFromIntent(ctx context.Context, userID string, intent models.Intent) (agent.DispatchResult, error) {
	var (
		result agent.DispatchResult
		errs   []error
	)

	projects := make(map[string]string)
	if existing, err := o.store.ListProjects(ctx, models.ProjectFilter{
		UserID:   userID,
		Statuses: []models.ProjectStatus{models.ProjectActive},
	}); err != nil {
		errs = append(errs, fmt.Errorf("listing projects: %w", err))
	} else {
		for _, p := range existing {
			projects[projectKey(p.Name)] = p.ID
		}
	}

	for _, ep := range intent.ExtractedProjects {
		name := strings.TrimSpace(ep.Name)
		if name == "" {
			continue
		}
		if _, ok := projects[projectKey(name)]; ok {
			continue
		}
		p, err := o.store.CreateProject(ctx, models.ProjectInput{UserID: userID, Name: name, Description: ep.Description})
		if err != nil {
			errs = append(errs, fmt.Errorf("creating project %q: %w", name, err))
			continue
		}
		projects[projectKey(name)] = p.ID
		result.ProjectIDs = append(result.ProjectIDs, p.ID)
	}

	for _, et := range intent.ExtractedTasks {
		title := strings.TrimSpace(et.Title)
		if title == "" {
			continue
		}
		in := models.TaskInput{
			UserID:      userID,
			Title:       title,
			Description: et.Description,
			DueDate:     parseDueDate(et.DueDate),
			Tags:        o.tagger.Tags(title + " " + et.Description),
		}
		if p := models.Priority(strings.ToLower(et.Priority)); p.Valid() {
			in.Priority = p
		}
		if et.EstimatedDuration > 0 {
			d := et.EstimatedDuration
			in.EstimatedDuration = &d
		}
		if et.Project != "" {
			in.ProjectID = projects[projectKey(et.Project)]
		}

		task, err := o.store.CreateTask(ctx, in)
		if err != nil {
			errs = append(errs, fmt.Errorf("creating task %q: %w", title, err))
			continue
		}
		result.TaskIDs = append(result.TaskIDs, task.ID)
	}

	o.logger.Info("Created records from chat",
		zap.String("user_id", userID),
		zap.Int("tasks", len(result.TaskIDs)),
		zap.Int("projects", len(result.ProjectIDs)))
	return result, errors.Join(errs...)
}

func projectKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// parseDueDate accepts absolute dates only. Relative phrases such as "by
// Friday" leave the task undated.
func parseDueDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
