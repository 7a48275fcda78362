package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/db"
	"github.com/solatis/bidkeeper/internal/core/logging"
	"github.com/solatis/bidkeeper/internal/rules"
	"github.com/solatis/bidkeeper/internal/types"
)

const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "bidkeeper",
	Short: "Bidkeeper bid request targeting engine",
	Long: `Bidkeeper matches incoming bid requests against targeting rules
on a pool of concurrent workers and records the first matching rule per request.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the process logger from the persistent flags.
func newLogger(cmd *cobra.Command) *slog.Logger {
	return logging.New(logging.Config{
		Level:  logging.ParseLevel(logLevel),
		Format: logging.ParseFormat(logFormat),
		Output: cmd.ErrOrStderr(),
	}).With("version", Version)
}

// loadConfig loads the config file and environment, then applies the
// command flags named in flagKeys on top.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	v := config.NewViper()
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens --db-url, failing when it is unset.
func openDatabase(ctx context.Context) (*sqlx.DB, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("--db-url required")
	}
	database, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// newEngine builds an engine from cfg and registers ruleSet in order.
// reg may be nil to skip metrics.
func newEngine(cfg config.EngineConfig, ruleSet []types.Rule, sink rules.MatchSink, logger *slog.Logger, reg prometheus.Registerer) (*rules.Engine, error) {
	policy, err := rules.ParseQueuePolicy(cfg.QueuePolicy)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.HourLocation()
	if err != nil {
		return nil, err
	}

	opts := []rules.Option{rules.WithLogger(logger)}
	if reg != nil {
		opts = append(opts, rules.WithMetrics(rules.NewMetrics(reg)))
	}

	engine := rules.NewEngine(rules.Config{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		QueuePolicy:  policy,
		HourLocation: loc,
	}, sink, opts...)

	for i, r := range ruleSet {
		if _, err := engine.AddRule(r); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return engine, nil
}
