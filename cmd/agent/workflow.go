package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/models"
	"github.com/xaenox/chief-of-staff/internal/workflow"
)

var workflowUser string

var workflowCmd = &cobra.Command{
	Use:       "workflow <name>",
	Short:     "Run one workflow for a user and print its notifications",
	Long:      `Runs priority_optimization, deadline_check or schedule_optimization once, outside the scheduler.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: workflow.Names,
	RunE:      runWorkflow,
}

func init() {
	workflowCmd.Flags().StringVarP(&workflowUser, "user", "u", "", "user id to run the workflow for")
	_ = workflowCmd.MarkFlagRequired("user")
}

type stdoutNotifier struct{}

func (stdoutNotifier) Notify(ctx context.Context, n models.Notification) error {
	_, err := fmt.Fprintf(os.Stdout, "[%s] %s\n", n.Kind, n.Message)
	return err
}

func runWorkflow(cmd *cobra.Command, args []string) error {
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
	a.agent.AddNotifier(stdoutNotifier{})

	return a.orchestrator.Run(ctx, workflowUser, args[0])
}
