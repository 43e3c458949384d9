package main

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/api"
	"github.com/xaenox/chief-of-staff/internal/bot"
	"github.com/xaenox/chief-of-staff/internal/workflow"
	"github.com/xaenox/chief-of-staff/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket channel, scheduler and Telegram bot",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("Failed to close storage", zap.Error(err))
		}
	}()

	// notifiers must be registered before anything can send
	var telegram *bot.Bot
	if cfg.Telegram.Enabled {
		telegram, err = bot.New(cfg.Telegram.Token, a.agent, a.store, logger)
		if err != nil {
			return err
		}
		a.agent.AddNotifier(telegram)
	}

	var scheduler *workflow.Scheduler
	if cfg.Workflow.Enabled {
		scheduler, err = newScheduler(cfg, a, logger)
		if err != nil {
			return err
		}
	}

	server := api.NewServer(a.agent, a.store, a.searcher, a.orchestrator, a.broadcaster, logger)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	if telegram != nil {
		p.Go(telegram.Start)
	}
	p.Go(func(ctx context.Context) error {
		return server.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port)
	})

	if scheduler != nil {
		p.Go(func(ctx context.Context) error {
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return scheduler.Stop(cfg.Workflow.Timeout)
		})
	}

	if err := p.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shut down cleanly")
	return nil
}

func newScheduler(cfg *config.Config, a *app, logger *zap.Logger) (*workflow.Scheduler, error) {
	scheduler := workflow.NewScheduler(a.orchestrator, a.store, cfg.Workflow.Parallelism, logger)
	jobs := []workflow.JobSpec{
		{Workflow: workflow.DeadlineCheck, Interval: cfg.Workflow.DeadlineInterval, Timeout: cfg.Workflow.Timeout, RunOnStart: true},
		{Workflow: workflow.PriorityOptimization, Interval: cfg.Workflow.PriorityInterval, Timeout: cfg.Workflow.Timeout},
		{Workflow: workflow.ScheduleOptimization, Interval: cfg.Workflow.ScheduleInterval, Timeout: cfg.Workflow.Timeout},
	}
	for _, job := range jobs {
		if err := scheduler.Register(job); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}
