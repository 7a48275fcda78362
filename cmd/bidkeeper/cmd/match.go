package cmd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/solatis/bidkeeper/internal/bidrequest"
	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/db"
	"github.com/solatis/bidkeeper/internal/rules"
)

var matchCmd = &cobra.Command{
	Use:   "match --rules RULES_FILE REQUEST_FILE...",
	Short: "Match bid request files against a rules file once",
	Long: `Load the rules, start the engine, submit every bid request file in order,
then stop after the queue drains. Matches are logged, and also stored when
--db-url is set. Files that fail to parse are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

var matchFlagKeys = map[string]string{
	"rules":        "rules.file",
	"workers":      "engine.workers",
	"hour-zone":    "engine.hour_zone",
	"stop-timeout": "engine.stop_timeout",
}

// matchFS is swapped for an in-memory filesystem in tests.
var matchFS = afero.NewOsFs()

func init() {
	rootCmd.AddCommand(matchCmd)
	f := matchCmd.Flags()
	f.String("rules", "", "targeting rules YAML file (required)")
	f.Int("workers", 5, "number of matching workers")
	f.String("hour-zone", "UTC", "time zone for the hour-of-day predicate")
	f.Duration("stop-timeout", 30*time.Second, "how long to wait for submitted bid requests to finish")
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := newLogger(cmd)

	cfg, err := loadConfig(cmd, matchFlagKeys)
	if err != nil {
		return err
	}
	if cfg.RulesFile == "" {
		return fmt.Errorf("--rules required")
	}
	ruleSet, err := config.LoadRules(matchFS, cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	var matched atomic.Int64
	counter := rules.SinkFunc(func(context.Context, rules.Match) error {
		matched.Add(1)
		return nil
	})
	sink := rules.MultiSink{rules.NewLogSink(logger), counter}

	if dbURL != "" {
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
		sink = append(sink, db.NewMatchStore(queries))
	}

	// Blocking policy: a one-shot run must not drop files on a full queue
	cfg.Engine.QueuePolicy = rules.QueuePolicyBlock.String()
	engine, err := newEngine(cfg.Engine, ruleSet, sink, logger, nil)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if err := engine.Start(); err != nil {
		return err
	}

	parser := bidrequest.NewParser()
	var submitted int
	var parseErrs error
	for _, path := range args {
		ev, err := parser.ParseFile(matchFS, path)
		if err != nil {
			logger.Warn("skipping bid request file", "path", path, "error", err)
			parseErrs = multierr.Append(parseErrs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := engine.Submit(ctx, ev); err != nil {
			_ = engine.Stop(context.Background())
			return fmt.Errorf("submit %s: %w", path, err)
		}
		logger.Debug("submitted bid request", "path", path, "event_id", ev.ID.String())
		submitted++
	}

	stopCtx, cancel := context.WithTimeout(ctx, cfg.Engine.StopTimeout)
	defer cancel()
	if err := engine.Stop(stopCtx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "rules=%d submitted=%d matched=%d skipped=%d\n",
		len(ruleSet), submitted, matched.Load(), len(multierr.Errors(parseErrs)))
	return parseErrs
}
