package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/bidkeeper/internal/core/db"
	"github.com/solatis/bidkeeper/internal/types"
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List stored matches",
	Long: `List matches recorded by serve or match in the database given by --db-url,
oldest first. --rule restricts the listing to one rule, e.g. --rule Rule0.`,
	Args: cobra.NoArgs,
	RunE: runMatches,
}

func init() {
	rootCmd.AddCommand(matchesCmd)
	matchesCmd.Flags().String("rule", "", "only list matches for this rule ID")
	matchesCmd.Flags().Int("limit", 100, "maximum number of matches to list")
}

func runMatches(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ruleID, _ := cmd.Flags().GetString("rule")
	limit, _ := cmd.Flags().GetInt("limit")
	if ruleID != "" {
		if _, err := types.ParseRuleID(ruleID); err != nil {
			return fmt.Errorf("--rule: %w", err)
		}
	}
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	database, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.RequireMigrated(ctx, database); err != nil {
		return err
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}
	store := db.NewMatchStore(queries)

	records, err := store.ListMatches(ctx, types.RuleID(ruleID), limit)
	if err != nil {
		return err
	}
	total, err := store.CountMatches(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MATCHED AT\tEVENT\tRULE\tWORKER\tMATCH ID")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n",
			r.Time().Format(time.RFC3339Nano), r.EventID, r.RuleID, r.WorkerID, r.MatchID)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listed %d of %d stored matches\n", len(records), total)
	return nil
}
