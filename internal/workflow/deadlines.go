package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xaenox/chief-of-staff/internal/models"
)

const (
	urgentWindow   = 24 * time.Hour
	upcomingWindow = 7 * 24 * time.Hour
)

// DeadlineReport splits open tasks with due dates into the two reminder sets.
// Overdue tasks count as urgent; Upcoming never repeats an urgent task.
type DeadlineReport struct {
	Urgent   []*models.Task
	Upcoming []*models.Task
}

// CheckDeadlines sends at most one urgent and one upcoming reminder. Nothing
// is remembered between runs, so a repeated scan re-notifies.
func (o *Orchestrator) CheckDeadlines(ctx context.Context, userID string) (*DeadlineReport, error) {
	now := o.now()
	tomorrow := now.Add(urgentWindow)
	nextWeek := now.Add(upcomingWindow)

	urgent, err := o.store.ListTasks(ctx, models.TaskFilter{UserID: userID, Statuses: models.OpenStatuses, DueBefore: &tomorrow})
	if err != nil {
		return nil, o.escalate(ctx, userID, DeadlineCheck, err)
	}
	soon, err := o.store.ListTasks(ctx, models.TaskFilter{UserID: userID, Statuses: models.OpenStatuses, DueBefore: &nextWeek})
	if err != nil {
		return nil, o.escalate(ctx, userID, DeadlineCheck, err)
	}

	seen := make(map[string]bool, len(urgent))
	for _, t := range urgent {
		seen[t.ID] = true
	}
	report := &DeadlineReport{Urgent: urgent}
	for _, t := range soon {
		if !seen[t.ID] {
			report.Upcoming = append(report.Upcoming, t)
		}
	}
	sortByDue(report.Urgent)
	sortByDue(report.Upcoming)

	if n := len(report.Urgent); n > 0 {
		o.notify(ctx, userID, DeadlineCheck,
			fmt.Sprintf("🚨 You have %d task(s) due within 24 hours: %s", n, joinTitles(report.Urgent, 0)))
	}
	if n := len(report.Upcoming); n > 0 {
		o.notify(ctx, userID, DeadlineCheck,
			fmt.Sprintf("📅 You have %d task(s) due this week. Consider prioritizing: %s", n, joinTitles(report.Upcoming, 3)))
	}
	return report, nil
}

func sortByDue(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return dueBefore(tasks[i], tasks[j])
	})
}
