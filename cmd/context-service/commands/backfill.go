package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/context-retrieval/app"
)

// NewBackfillCmd creates the backfill command
func NewBackfillCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed stored messages that have no vector",
		Long: `Find messages stored without an embedding, embed them in batches and
save the vectors. Messages whose embedding fails are reported and skipped
for the rest of the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validatePositiveInt(batchSize, "batch-size"); err != nil {
				return err
			}
			return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
				report, err := deps.ContextService.BackfillEmbeddings(cmd.Context(), batchSize)
				fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d embedded=%d failed=%d\n",
					report.Scanned, report.Embedded, report.Failed)
				return err
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Messages embedded per round")
	return cmd
}
