package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/upb/context-retrieval/app"
	"github.com/upb/context-retrieval/models"
	"github.com/upb/context-retrieval/services/retrieval"
)

type searchOptions struct {
	userID         string
	conversationID string
	limit          int
	rerank         bool
	format         string
}

// NewSearchCmd creates the search command
func NewSearchCmd() *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve relevant context for a query",
		Long: `Run the retrieval pipeline for one conversation and print the ranked
messages.

Examples:
  context-service search --user u1 --conversation c1 "what is my cat's name"
  context-service search --user u1 --conversation c1 --rerank --limit 10 "pets"
  context-service search --user u1 --conversation c1 --format json "pets"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return withDependencies(cmd.Context(), func(deps *app.Dependencies) error {
				results, err := deps.ContextService.GetRelevantContext(cmd.Context(), retrieval.ContextQuery{
					Text:        args[0],
					Scope:       models.Scope{UserID: opts.userID, ConversationID: opts.conversationID},
					Limit:       opts.limit,
					UseReranker: opts.rerank,
				})
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), results, opts.format)
			})
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "User ID owning the conversation")
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "Conversation ID")
	cmd.Flags().IntVar(&opts.limit, "limit", 5, "Maximum results to return")
	cmd.Flags().BoolVar(&opts.rerank, "rerank", false, "Rerank candidates with the cross-encoder")
	cmd.Flags().StringVar(&opts.format, "format", "table", "Output format: table or json")
	return cmd
}

func (o *searchOptions) validate() error {
	if strings.TrimSpace(o.userID) == "" || strings.TrimSpace(o.conversationID) == "" {
		return fmt.Errorf("--user and --conversation are required")
	}
	if err := validatePositiveInt(o.limit, "limit"); err != nil {
		return err
	}
	if o.format != "table" && o.format != "json" {
		return fmt.Errorf("--format must be table or json, got %q", o.format)
	}
	return nil
}

func printResults(w io.Writer, results []models.RankedResult, format string) error {
	if format == "json" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "No relevant messages found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSIMILARITY\tRERANK\tROLE\tCONTENT")
	for _, r := range results {
		rerank := "-"
		if r.RerankedScore != nil {
			rerank = fmt.Sprintf("%.3f", *r.RerankedScore)
		}
		fmt.Fprintf(tw, "%.3f\t%.3f\t%s\t%s\t%s\n",
			r.FinalScore, r.Similarity, rerank, r.Role, truncate(r.Content, 80))
	}
	return tw.Flush()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
