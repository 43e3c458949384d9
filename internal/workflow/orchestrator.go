// Package workflow runs the background jobs that act on a user's tasks
// outside of a chat turn: priority review, deadline reminders and schedule
// proposals.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/notify"
	"github.com/xaenox/chief-of-staff/internal/storage"
)

const (
	PriorityOptimization = "priority_optimization"
	DeadlineCheck        = "deadline_check"
	ScheduleOptimization = "schedule_optimization"

	// KindDegraded marks the notification sent when a workflow gives up.
	KindDegraded = "workflow_degraded"
)

var ErrUnknownWorkflow = errors.New("unknown workflow")

// Names lists every workflow Run accepts.
var Names = []string{PriorityOptimization, DeadlineCheck, ScheduleOptimization}

type Orchestrator struct {
	store      storage.Storage
	delegate   classifier.Delegate
	model      string
	notifier   notify.Notifier
	tagger     classifier.Tagger
	logger     *zap.Logger
	now        func() time.Time
	background *conc.WaitGroup
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithTagger(tagger classifier.Tagger) Option {
	return func(o *Orchestrator) { o.tagger = tagger }
}

func New(store storage.Storage, delegate classifier.Delegate, model string, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		delegate:   delegate,
		model:      model,
		notifier:   notifier,
		tagger:     classifier.NewKeywordTagger(5),
		logger:     logger,
		now:        time.Now,
		background: conc.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the named workflow for one user. A panic inside the workflow is
// reported to the user like any other failure and returned as an error.
func (o *Orchestrator) Run(ctx context.Context, userID, name string) error {
	var fn func(context.Context, string) error
	switch name {
	case PriorityOptimization:
		fn = o.OptimizePriorities
	case DeadlineCheck:
		fn = func(ctx context.Context, userID string) error {
			_, err := o.CheckDeadlines(ctx, userID)
			return err
		}
	case ScheduleOptimization:
		fn = func(ctx context.Context, userID string) error {
			_, err := o.OptimizeSchedule(ctx, userID)
			return err
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}

	start := o.now()
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = fn(ctx, userID)
	})
	if r := catcher.Recovered(); r != nil {
		err = o.escalate(ctx, userID, name, r.AsError())
	}

	logger := o.logger.With(zap.String("workflow", name), zap.String("user_id", userID))
	if err != nil {
		logger.Error("Workflow failed", zap.Error(err))
		return err
	}
	logger.Info("Workflow completed", zap.Duration("duration", o.now().Sub(start)))
	return nil
}

// Start runs a workflow in the background, detached from ctx's cancellation.
func (o *Orchestrator) Start(ctx context.Context, userID, name string) {
	ctx = context.WithoutCancel(ctx)
	o.background.Go(func() {
		_ = o.Run(ctx, userID, name)
	})
}

// Wait blocks until every background run has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) notify(ctx context.Context, userID, kind, message string) {
	err := o.notifier.Notify(ctx, models.Notification{
		UserID:    userID,
		Kind:      kind,
		Message:   message,
		CreatedAt: o.now().UTC(),
	})
	if err != nil {
		o.logger.Error("Failed to notify user",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("kind", kind))
	}
}

// escalate tells the user a workflow could not finish and returns cause.
func (o *Orchestrator) escalate(ctx context.Context, userID, name string, cause error) error {
	o.notify(ctx, userID, KindDegraded, degradedMessage(name))
	return fmt.Errorf("%s: %w", name, cause)
}

func degradedMessage(name string) string {
	switch name {
	case PriorityOptimization:
		return "I couldn't finish reviewing your priorities right now. Your tasks are unchanged and I'll try again on the next run."
	case DeadlineCheck:
		return "I couldn't check your upcoming deadlines right now. I'll try again on the next run."
	default:
		return "I couldn't prepare a schedule suggestion right now. I'll try again on the next run."
	}
}

func (o *Orchestrator) openTasks(ctx context.Context, userID string) ([]*models.Task, error) {
	return o.store.ListTasks(ctx, models.TaskFilter{UserID: userID, Statuses: models.OpenStatuses})
}
