package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/context-retrieval/config"
	"github.com/upb/context-retrieval/repositories/postgres"
	"go.uber.org/zap"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the pgvector schema",
		Long: `Create the vector extension, the messages and message_embeddings
tables, their indexes and the match_messages search function for the
configured EMBEDDING_DIMENSIONS. Safe to run more than once.

Examples:
  context-service migrate
  context-service migrate --print > schema.sql`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if printOnly {
				fmt.Fprintln(cmd.OutOrStdout(), postgres.SchemaSQL(cfg.Embedding.Dimensions))
				return nil
			}
			if cfg.Store.Driver != config.StoreDriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
			}

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return err
			}
			defer factory.Close()

			if err := factory.InitSchema(ctx); err != nil {
				return fmt.Errorf("initializing schema: %w", err)
			}
			logger.Info("schema ready", zap.Int("dimensions", cfg.Embedding.Dimensions))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the schema SQL instead of applying it")
	return cmd
}
