package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/chief-of-staff/internal/agent"
	"github.com/xaenox/chief-of-staff/internal/classifier"
	"github.com/xaenox/chief-of-staff/internal/notify"
	"github.com/xaenox/chief-of-staff/internal/search"
	"github.com/xaenox/chief-of-staff/internal/storage"
	"github.com/xaenox/chief-of-staff/internal/workflow"
	"github.com/xaenox/chief-of-staff/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "agent",
	Short:         "Personal chief-of-staff agent",
	Long:          `Turns chat messages into tasks and projects, and runs background reviews of priorities, deadlines and schedules.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	rootCmd.AddCommand(serveCmd, workflowCmd, chatCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if cfg.Log.Development {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

// app holds the wired core shared by the serve and workflow commands.
type app struct {
	store        storage.Storage
	indexed      *storage.IndexedStorage
	searcher     *search.Service
	broadcaster  *notify.Broadcaster
	agent        *agent.Agent
	orchestrator *workflow.Orchestrator
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	var base storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		base = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host))
		pg, err := storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		base = pg
	}

	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY is not set, replies and extraction will use fallbacks")
	}
	clientConfig := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAI.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)
	delegate := classifier.NewOpenAIDelegate(client, cfg.OpenAI.Timeout, logger)

	searcher := search.NewService(
		search.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel),
		search.NewMemoryIndex(),
		cfg.OpenAI.Timeout,
	)
	indexed := storage.WithIndex(base, searcher, logger)

	broadcaster := notify.NewBroadcaster()
	a := agent.New(
		indexed,
		classifier.NewIntentExtractor(delegate, cfg.OpenAI.IntentModel, logger),
		classifier.NewResponseGenerator(delegate, cfg.OpenAI.ChatModel, logger),
		logger,
		agent.WithHistorySize(cfg.Agent.HistorySize),
		agent.WithNotifiers(broadcaster),
	)
	orchestrator := workflow.New(indexed, delegate, cfg.OpenAI.ChatModel, a, logger,
		workflow.WithTagger(classifier.NewKeywordTagger(cfg.Agent.MaxTags)))
	a.SetDispatcher(orchestrator)

	return &app{
		store:        indexed,
		indexed:      indexed,
		searcher:     searcher,
		broadcaster:  broadcaster,
		agent:        a,
		orchestrator: orchestrator,
	}, nil
}

// Close waits for background work before closing the store.
func (a *app) Close() error {
	a.orchestrator.Wait()
	return a.indexed.Close()
}
