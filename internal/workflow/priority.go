package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/models"
)

// Quadrant is an Eisenhower matrix bucket.
type Quadrant string

const (
	DoFirst   Quadrant = "do-first"
	Schedule  Quadrant = "schedule"
	Delegate  Quadrant = "delegate"
	Eliminate Quadrant = "eliminate"
)

var quadrantKeys = []struct {
	key      string
	quadrant Quadrant
}{
	{"doFirst", DoFirst},
	{"schedule", Schedule},
	{"delegate", Delegate},
	{"eliminate", Eliminate},
}

// Priority returns the task priority a quadrant implies.
func (q Quadrant) Priority() models.Priority {
	switch q {
	case DoFirst:
		return models.PriorityUrgent
	case Schedule:
		return models.PriorityHigh
	case Delegate:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

const matrixPrompt = `You are a strategic consultant applying the Eisenhower Decision Matrix.

For each task, classify it into exactly one bucket:
- doFirst: urgent and important, deadline-driven critical work
- schedule: important but not urgent, planning and prevention
- delegate: urgent but not important, interruptions someone else can handle
- eliminate: neither urgent nor important

Consider business impact, strategic value and opportunity cost.

Respond with JSON only, listing task ids:
{"doFirst": [], "schedule": [], "delegate": [], "eliminate": []}`

// ExecutiveContext is the snapshot a priority review works from.
type ExecutiveContext struct {
	OpenTasks      int
	ActiveProjects int
	// CompletionRate is completed over all non-cancelled tasks.
	CompletionRate float64
}

type matrixTask struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Priority models.Priority `json:"priority"`
	DueDate  *time.Time      `json:"dueDate,omitempty"`
	Project  bool            `json:"inProject"`
}

// OptimizePriorities classifies the user's open tasks, writes back the
// priority each bucket implies and sends the resulting plan.
func (o *Orchestrator) OptimizePriorities(ctx context.Context, userID string) error {
	logger := o.logger.With(zap.String("workflow", PriorityOptimization), zap.String("user_id", userID))

	tasks, err := o.openTasks(ctx, userID)
	if err != nil {
		return o.escalate(ctx, userID, PriorityOptimization, err)
	}
	ec := o.executiveContext(ctx, userID, tasks)

	matrix := o.eisenhower(ctx, tasks)
	changed := 0
	for i, t := range tasks {
		want := matrix[t.ID].Priority()
		if t.Priority == want {
			continue
		}
		updated, err := o.store.UpdateTask(ctx, userID, t.ID, models.TaskPatch{Priority: &want})
		if err != nil {
			logger.Warn("Failed to update task priority", zap.Error(err), zap.String("task_id", t.ID))
			continue
		}
		tasks[i] = updated
		changed++
	}

	load := CognitiveLoad(tasks)
	logger.Info("Priorities optimized",
		zap.Int("tasks", len(tasks)),
		zap.Int("changed", changed),
		zap.Float64("load", load.Total),
		zap.String("level", string(load.Level)))

	o.notify(ctx, userID, PriorityOptimization, strategicPlan(ec, tasks, matrix, load, changed))
	return nil
}

func (o *Orchestrator) executiveContext(ctx context.Context, userID string, open []*models.Task) ExecutiveContext {
	ec := ExecutiveContext{OpenTasks: len(open)}

	projects, err := o.store.ListProjects(ctx, models.ProjectFilter{
		UserID:   userID,
		Statuses: []models.ProjectStatus{models.ProjectActive},
	})
	if err != nil {
		o.logger.Warn("Failed to count active projects", zap.Error(err), zap.String("user_id", userID))
	} else {
		ec.ActiveProjects = len(projects)
	}

	all, err := o.store.ListTasks(ctx, models.TaskFilter{UserID: userID})
	if err != nil {
		o.logger.Warn("Failed to load performance stats", zap.Error(err), zap.String("user_id", userID))
		return ec
	}
	var completed, counted int
	for _, t := range all {
		switch t.Status {
		case models.StatusCancelled:
			continue
		case models.StatusCompleted:
			completed++
		}
		counted++
	}
	if counted > 0 {
		ec.CompletionRate = float64(completed) / float64(counted)
	}
	return ec
}

// eisenhower asks the delegate for a matrix and fills every task it did not
// classify with the heuristic quadrant.
func (o *Orchestrator) eisenhower(ctx context.Context, tasks []*models.Task) map[string]Quadrant {
	matrix := make(map[string]Quadrant, len(tasks))
	if len(tasks) == 0 {
		return matrix
	}

	known := make(map[string]bool, len(tasks))
	payload := make([]matrixTask, 0, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
		payload = append(payload, matrixTask{ID: t.ID, Title: t.Title, Priority: t.Priority, DueDate: t.DueDate, Project: t.ProjectID != ""})
	}

	body, err := json.Marshal(payload)
	if err == nil {
		var resp classifier.Response
		resp, err = o.delegate.Run(ctx, o.model, classifier.Request{
			Messages: []classifier.Message{
				{Role: classifier.RoleSystem, Content: matrixPrompt},
				{Role: classifier.RoleUser, Content: "Tasks: " + string(body)},
			},
			MaxTokens:   2000,
			Temperature: 0.1,
		})
		if err == nil {
			parseMatrix(resp.Response, known, matrix)
		}
	}
	if err != nil {
		o.logger.Warn("Eisenhower classification failed, using heuristic", zap.Error(err))
	}

	now := o.now()
	for _, t := range tasks {
		if _, ok := matrix[t.ID]; !ok {
			matrix[t.ID] = heuristicQuadrant(t, now)
		}
	}
	return matrix
}

// parseMatrix reads ids (or objects carrying an id) from each bucket. Unknown
// ids are ignored and the first bucket to claim a task wins.
func parseMatrix(raw string, known map[string]bool, matrix map[string]Quadrant) {
	body := classifier.ExtractJSON(raw)
	if !gjson.Valid(body) {
		return
	}
	parsed := gjson.Parse(body)
	for _, qk := range quadrantKeys {
		parsed.Get(qk.key).ForEach(func(_, v gjson.Result) bool {
			id := v.String()
			if v.IsObject() {
				id = v.Get("id").String()
			}
			if _, taken := matrix[id]; known[id] && !taken {
				matrix[id] = qk.quadrant
			}
			return true
		})
	}
}

// heuristicQuadrant keeps a task in the bucket its priority already implies,
// promoting anything due within a day that is at least medium priority.
func heuristicQuadrant(t *models.Task, now time.Time) Quadrant {
	if t.DueDate != nil && !t.DueDate.After(now.Add(24*time.Hour)) && t.Priority.Weight() >= 2 {
		return DoFirst
	}
	switch t.Priority {
	case models.PriorityUrgent:
		return DoFirst
	case models.PriorityHigh:
		return Schedule
	case models.PriorityLow:
		return Eliminate
	default:
		return Delegate
	}
}

func strategicPlan(ec ExecutiveContext, tasks []*models.Task, matrix map[string]Quadrant, load Load, changed int) string {
	if len(tasks) == 0 {
		return "Priority review: you have no open tasks. A good moment to plan ahead."
	}

	counts := make(map[Quadrant]int, 4)
	var focus []*models.Task
	for _, t := range tasks {
		q := matrix[t.ID]
		counts[q]++
		if q == DoFirst {
			focus = append(focus, t)
		}
	}
	sort.SliceStable(focus, func(i, j int) bool {
		return dueBefore(focus[i], focus[j])
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Priority review of %d open task(s) across %d active project(s): %d do first, %d schedule, %d delegate, %d eliminate.",
		ec.OpenTasks, ec.ActiveProjects, counts[DoFirst], counts[Schedule], counts[Delegate], counts[Eliminate])
	if changed > 0 {
		fmt.Fprintf(&b, " Updated the priority of %d task(s).", changed)
	}
	fmt.Fprintf(&b, " Cognitive load %.1f (%s).", load.Total, load.Level)
	if len(focus) > 0 {
		b.WriteString(" Focus first on: " + joinTitles(focus, 3) + ".")
	}
	if len(load.Recommendations) > 0 {
		b.WriteString(" " + strings.Join(load.Recommendations, ", ") + ".")
	}
	fmt.Fprintf(&b, " Completion rate %.0f%%.", ec.CompletionRate*100)
	return b.String()
}

// dueBefore orders by due date with undated tasks last.
func dueBefore(a, b *models.Task) bool {
	switch {
	case a.DueDate == nil:
		return false
	case b.DueDate == nil:
		return true
	default:
		return a.DueDate.Before(*b.DueDate)
	}
}

func joinTitles(tasks []*models.Task, limit int) string {
	titles := make([]string, 0, len(tasks))
	for i, t := range tasks {
		if limit > 0 && i == limit {
			break
		}
		titles = append(titles, t.Title)
	}
	return strings.Join(titles, ", ")
}
