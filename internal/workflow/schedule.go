package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/models"
)

const (
	defaultBlock    = 30 * time.Minute
	blockAlignment  = 15 * time.Minute
	scheduleHorizon = 7
)

const schedulePrompt = `You are an executive assistant planning focused work blocks.

Place each task in a single block inside the user's working hours, starting no
earlier than the current time. Put urgent and soon-due work first and respect
estimated durations in minutes (assume 30 when missing). Blocks must not overlap.

Respond with JSON only, times in RFC3339:
{"blocks": [{"taskId": "", "start": "", "end": ""}]}`

type scheduleTask struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Priority          models.Priority `json:"priority"`
	DueDate           *time.Time      `json:"dueDate,omitempty"`
	EstimatedDuration *int            `json:"estimatedDuration,omitempty"`
}

// OptimizeSchedule proposes time blocks for the user's open tasks and stores
// them as the profile's latest suggestion.
func (o *Orchestrator) OptimizeSchedule(ctx context.Context, userID string) (*models.ScheduleSuggestion, error) {
	logger := o.logger.With(zap.String("workflow", ScheduleOptimization), zap.String("user_id", userID))

	tasks, err := o.openTasks(ctx, userID)
	if err != nil {
		return nil, o.escalate(ctx, userID, ScheduleOptimization, err)
	}

	now := o.now()
	prefs := models.DefaultPreferences()
	if profile, err := o.store.GetProfile(ctx, userID); err != nil {
		logger.Warn("Failed to load profile, using default working hours", zap.Error(err))
	} else {
		prefs = profile.Preferences
	}

	blocks := o.proposeBlocks(ctx, tasks, prefs, now)
	if len(blocks) == 0 && len(tasks) > 0 {
		blocks = packSchedule(tasks, prefs, now)
	}

	suggestion := &models.ScheduleSuggestion{Blocks: blocks, CreatedAt: now.UTC()}
	if err := o.store.SaveScheduleSuggestion(ctx, userID, suggestion); err != nil {
		return nil, o.escalate(ctx, userID, ScheduleOptimization, err)
	}

	o.notify(ctx, userID, ScheduleOptimization,
		fmt.Sprintf("I've optimized your schedule for %d tasks", len(blocks)))
	return suggestion, nil
}

// proposeBlocks asks the delegate for a plan and keeps only well-formed blocks
// for known tasks. Any failure yields no blocks.
func (o *Orchestrator) proposeBlocks(ctx context.Context, tasks []*models.Task, prefs models.Preferences, now time.Time) []models.TimeBlock {
	if len(tasks) == 0 {
		return nil
	}

	known := make(map[string]*models.Task, len(tasks))
	payload := make([]scheduleTask, 0, len(tasks))
	for _, t := range tasks {
		known[t.ID] = t
		payload = append(payload, scheduleTask{ID: t.ID, Title: t.Title, Priority: t.Priority, DueDate: t.DueDate, EstimatedDuration: t.EstimatedDuration})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		o.logger.Warn("Failed to encode tasks for scheduling", zap.Error(err))
		return nil
	}

	resp, err := o.delegate.Run(ctx, o.model, classifier.Request{
		Messages: []classifier.Message{
			{Role: classifier.RoleSystem, Content: schedulePrompt},
			{Role: classifier.RoleUser, Content: fmt.Sprintf(
				"Current time: %s\nWorking hours: %s-%s\nTimezone: %s\nTasks: %s",
				now.In(prefs.Location()).Format(time.RFC3339),
				prefs.WorkingHours.Start, prefs.WorkingHours.End, prefs.Timezone, body)},
		},
		MaxTokens:   2000,
		Temperature: 0.2,
	})
	if err != nil {
		o.logger.Warn("Schedule proposal failed, using greedy packing", zap.Error(err))
		return nil
	}
	return parseBlocks(resp.Response, known)
}

func parseBlocks(raw string, known map[string]*models.Task) []models.TimeBlock {
	body := classifier.ExtractJSON(raw)
	if !gjson.Valid(body) {
		return nil
	}

	var blocks []models.TimeBlock
	placed := make(map[string]bool)
	gjson.Get(body, "blocks").ForEach(func(_, v gjson.Result) bool {
		task, ok := known[v.Get("taskId").String()]
		if !ok || placed[task.ID] {
			return true
		}
		start, err := time.Parse(time.RFC3339, v.Get("start").String())
		if err != nil {
			return true
		}
		end, err := time.Parse(time.RFC3339, v.Get("end").String())
		if err != nil || !end.After(start) {
			return true
		}
		placed[task.ID] = true
		blocks = append(blocks, models.TimeBlock{TaskID: task.ID, Title: task.Title, Start: start.UTC(), End: end.UTC()})
		return true
	})
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start.Before(blocks[j].Start) })
	return blocks
}

// packSchedule lays tasks end to end inside working hours, most important
// first, spilling into following days. Tasks that do not fit within the
// horizon are left out.
func packSchedule(tasks []*models.Task, prefs models.Preferences, now time.Time) []models.TimeBlock {
	loc := prefs.Location()
	startMin, err1 := clockMinutes(prefs.WorkingHours.Start)
	endMin, err2 := clockMinutes(prefs.WorkingHours.End)
	if err1 != nil || err2 != nil || endMin <= startMin {
		def := models.DefaultPreferences().WorkingHours
		startMin, _ = clockMinutes(def.Start)
		endMin, _ = clockMinutes(def.End)
	}
	dayLength := time.Duration(endMin-startMin) * time.Minute

	ordered := make([]*models.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if wa, wb := a.Priority.Weight(), b.Priority.Weight(); wa != wb {
			return wa > wb
		}
		if (a.DueDate == nil) != (b.DueDate == nil) || (a.DueDate != nil && !a.DueDate.Equal(*b.DueDate)) {
			return dueBefore(a, b)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	local := now.In(loc)
	day := 0
	dayStart := func(offset int) time.Time {
		return time.Date(local.Year(), local.Month(), local.Day()+offset, 0, startMin, 0, 0, loc)
	}
	dayEnd := func(offset int) time.Time {
		return time.Date(local.Year(), local.Month(), local.Day()+offset, 0, endMin, 0, 0, loc)
	}

	cursor := dayStart(0)
	if local.After(cursor) {
		cursor = alignUp(local)
	}
	if !cursor.Before(dayEnd(0)) {
		day = 1
		cursor = dayStart(1)
	}

	blocks := make([]models.TimeBlock, 0, len(ordered))
	for _, t := range ordered {
		d := defaultBlock
		if t.EstimatedDuration != nil && *t.EstimatedDuration > 0 {
			d = time.Duration(*t.EstimatedDuration) * time.Minute
		}
		if d > dayLength {
			d = dayLength
		}
		if cursor.Add(d).After(dayEnd(day)) {
			day++
			cursor = dayStart(day)
		}
		if day >= scheduleHorizon {
			break
		}
		blocks = append(blocks, models.TimeBlock{
			TaskID: t.ID,
			Title:  t.Title,
			Start:  cursor.UTC(),
			End:    cursor.Add(d).UTC(),
		})
		cursor = cursor.Add(d)
	}
	return blocks
}

func clockMinutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func alignUp(t time.Time) time.Time {
	aligned := t.Truncate(blockAlignment)
	if aligned.Before(t) {
		aligned = aligned.Add(blockAlignment)
	}
	return aligned
}
