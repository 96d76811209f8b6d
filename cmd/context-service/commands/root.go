package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/context-retrieval/app"
	"github.com/upb/context-retrieval/config"
	"github.com/upb/context-retrieval/internal/observability"
	"go.uber.org/zap"
)

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "context-service",
		Short: "Conversation context retrieval service",
		Long: `Stores conversation messages with their embeddings and returns the
prior messages most relevant to a new one.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		NewServeCmd(),
		NewMigrateCmd(),
		NewBackfillCmd(),
		NewSearchCmd(),
		NewVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// bootstrap loads configuration and builds the process logger
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return cfg, logger, nil
}

// withDependencies wires the application, runs fn and closes everything
func withDependencies(ctx context.Context, fn func(deps *app.Dependencies) error) error {
	cfg, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}
	defer deps.Close(context.WithoutCancel(ctx))
	return fn(deps)
}

func validatePositiveInt(value int, name string) error {
	if value <= 0 {
		return fmt.Errorf("--%s must be positive, got %d", name, value)
	}
	return nil
}
