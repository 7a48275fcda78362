package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/solatis/bidkeeper/internal/bidrequest"
	"github.com/solatis/bidkeeper/internal/core/api"
	"github.com/solatis/bidkeeper/internal/core/auth"
	"github.com/solatis/bidkeeper/internal/core/config"
	"github.com/solatis/bidkeeper/internal/core/db"
	"github.com/solatis/bidkeeper/internal/core/server"
	"github.com/solatis/bidkeeper/internal/rules"
	"github.com/solatis/bidkeeper/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matching engine with the gRPC ingest API",
	Long: `Start the matching engine, the gRPC ingest API and the metrics endpoint.

Rules are loaded once from --rules. With --db-url, matches are stored in the
database and API keys are required when BK_HMAC_SECRET is set.`,
	RunE: runServe,
}

var serveFlagKeys = map[string]string{
	"host":         "ingest.host",
	"port":         "ingest.port",
	"rules":        "rules.file",
	"workers":      "engine.workers",
	"queue-size":   "engine.queue_size",
	"queue-policy": "engine.queue_policy",
	"hour-zone":    "engine.hour_zone",
	"stop-timeout": "engine.stop_timeout",
	"batch-size":   "ingest.max_batch_size",
	"req-timeout":  "ingest.request_timeout",
	"data-dir":     "ingest.data_dir",
	"archive":      "ingest.archive",
	"metrics-addr": "metrics.addr",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.String("host", "0.0.0.0", "gRPC server host")
	f.Int("port", 50051, "gRPC server port")
	f.String("rules", "", "targeting rules YAML file")
	f.Int("workers", 5, "number of matching workers")
	f.Int("queue-size", 1000, "dispatch queue capacity")
	f.String("queue-policy", "block", "behaviour when the queue is full (block, reject)")
	f.String("metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	f.String("data-dir", "./data", "directory for the bid request archive")
	f.Bool("archive", true, "archive accepted bid requests as daily JSONL files")
	f.String("hour-zone", "UTC", "time zone for the hour-of-day predicate")
	f.Duration("stop-timeout", 30*time.Second, "how long shutdown waits for queued bid requests to drain")
	f.Int("batch-size", 1000, "maximum bid requests per ReportBidRequests call")
	f.Duration("req-timeout", 30*time.Second, "per-call ingest timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cmd)

	cfg, err := loadConfig(cmd, serveFlagKeys)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	var ruleSet []types.Rule
	if cfg.RulesFile != "" {
		ruleSet, err = config.LoadRules(fs, cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
	} else {
		logger.Warn("no rules file configured, every bid request will go unmatched")
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}

	sink := rules.MultiSink{rules.NewLogSink(logger)}
	var authenticator *auth.Authenticator
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

		if len(secrets) > 0 {
			authenticator = auth.NewAuthenticator(secrets, queries, logger)
		}
	} else if len(secrets) > 0 {
		return fmt.Errorf("HMAC secrets are set but no --db-url to look up API keys")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := newEngine(cfg.Engine, ruleSet, sink, logger, reg)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	var archive *api.Archive
	if cfg.Ingest.Archive {
		archive, err = api.NewArchive(fs, cfg.Ingest.DataDir)
		if err != nil {
			return err
		}
	}

	service, err := api.NewIngestService(engine, bidrequest.NewParser(), archive, cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	grpcServer, err := server.NewGRPCServer(cfg.Ingest, service, authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	errChan := make(chan error, 2)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Addr != "" {
		metricsServer = server.NewMetricsServer(cfg.Metrics.Addr, reg, logger)
		go func() {
			errChan <- metricsServer.Start()
		}()
	}

	logger.Info("bidkeeper serving",
		"ingest_addr", grpcServer.Addr(),
		"metrics_addr", cfg.Metrics.Addr,
		"rules", len(ruleSet),
		"auth", authenticator != nil)

	var runErr error
	select {
	case runErr = <-errChan:
		logger.Error("server failed", "error", runErr)
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	}

	// Fresh context: the signal context is already done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.StopTimeout)
	defer cancel()

	// Ingest first so nothing new reaches the engine while it drains
	err = multierr.Combine(runErr, grpcServer.Shutdown(shutdownCtx))
	err = multierr.Append(err, engine.Stop(shutdownCtx))
	if metricsServer != nil {
		err = multierr.Append(err, metricsServer.Shutdown(shutdownCtx))
	}
	return err
}
