package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var (
	ErrJobExists      = errors.New("scheduler: job already exists")
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Runner runs one workflow for one user.
type Runner interface {
	Run(ctx context.Context, userID, name string) error
}

// UserLister enumerates every user a job fans out to.
type UserLister interface {
	UserIDs(ctx context.Context) ([]string, error)
}

// JobSpec runs a workflow for every user on a fixed interval.
type JobSpec struct {
	Workflow   string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
}

type JobStatus struct {
	Workflow     string
	Runs         int64
	LastStartAt  time.Time
	LastDuration time.Duration
	LastUsers    int
	LastFailures int
}

type Scheduler struct {
	runner      Runner
	users       UserLister
	parallelism int
	logger      *zap.Logger

	mu      sync.Mutex
	jobs    []JobSpec
	status  map[string]JobStatus
	started bool
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
}

func NewScheduler(runner Runner, users UserLister, parallelism int, logger *zap.Logger) *Scheduler {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Scheduler{
		runner:      runner,
		users:       users,
		parallelism: parallelism,
		logger:      logger,
		status:      make(map[string]JobStatus),
		wg:          conc.NewWaitGroup(),
	}
}

func (s *Scheduler) Register(job JobSpec) error {
	if err := validateJob(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, exists := s.status[job.Workflow]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Workflow)
	}
	s.jobs = append(s.jobs, job)
	s.status[job.Workflow] = JobStatus{Workflow: job.Workflow}
	return nil
}

func (s *Scheduler) Start(parent context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = true
	for _, job := range s.jobs {
		job := job
		s.wg.Go(func() { s.runLoop(ctx, job) })
	}
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop cancels every job and waits for in-flight runs, up to timeout when it
// is positive.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.started = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	if timeout <= 0 {
		s.wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: stop timeout after %s", timeout)
	}
}

func (s *Scheduler) Snapshot() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]JobStatus, 0, len(s.status))
	for _, st := range s.status {
		items = append(items, st)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Workflow < items[j].Workflow
	})
	return items
}

func (s *Scheduler) runLoop(ctx context.Context, job JobSpec) {
	if job.RunOnStart {
		s.RunOnce(ctx, job)
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs job for every known user with bounded parallelism. Failures
// and panics are logged and counted, never propagated.
func (s *Scheduler) RunOnce(ctx context.Context, job JobSpec) {
	logger := s.logger.With(zap.String("workflow", job.Workflow))
	start := time.Now()

	runCtx := ctx
	cancel := func() {}
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	users, err := s.users.UserIDs(runCtx)
	if err != nil {
		logger.Error("Failed to list users", zap.Error(err))
		return
	}

	var failures atomic.Int64
	var catcher panics.Catcher
	catcher.Try(func() {
		p := pool.New().WithMaxGoroutines(s.parallelism)
		for _, userID := range users {
			userID := userID
			p.Go(func() {
				var inner panics.Catcher
				inner.Try(func() {
					if err := s.runner.Run(runCtx, userID, job.Workflow); err != nil {
						failures.Add(1)
					}
				})
				if r := inner.Recovered(); r != nil {
					failures.Add(1)
					logger.Error("Workflow panicked", zap.String("user_id", userID), zap.Error(r.AsError()))
				}
			})
		}
		p.Wait()
	})
	if r := catcher.Recovered(); r != nil {
		logger.Error("Scheduled run panicked", zap.Error(r.AsError()))
	}

	s.mu.Lock()
	st := s.status[job.Workflow]
	st.Workflow = job.Workflow
	st.Runs++
	st.LastStartAt = start
	st.LastDuration = time.Since(start)
	st.LastUsers = len(users)
	st.LastFailures = int(failures.Load())
	s.status[job.Workflow] = st
	s.mu.Unlock()

	logger.Info("Scheduled run finished",
		zap.Int("users", len(users)),
		zap.Int64("failures", failures.Load()),
		zap.Duration("duration", st.LastDuration))
}

func validateJob(job JobSpec) error {
	known := false
	for _, name := range Names {
		if job.Workflow == name {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownWorkflow, job.Workflow)
	}
	if job.Interval <= 0 {
		return errors.New("scheduler: job interval must be greater than zero")
	}
	return nil
}
