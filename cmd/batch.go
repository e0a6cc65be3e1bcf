package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/api"
	"github.com/fcdockets/imm-crawler/internal/audit"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
	"github.com/fcdockets/imm-crawler/internal/events/sinks"
	"github.com/fcdockets/imm-crawler/internal/prober"
	"github.com/fcdockets/imm-crawler/internal/ratelimit"
	"github.com/fcdockets/imm-crawler/internal/scheduler"
)

// newBatchCmd creates the 'batch' subcommand, the main entry point for a
// full resumable traversal of one year partition.
func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Crawl every case in a year partition, resuming previous runs",
		Long: `Discovers the current upper bound of the year partition, then walks
case numbers from the configured start, fetching every case not already
resolved by an earlier run. Exits non-zero on configuration errors and
when the consecutive-failure circuit breaker trips.`,

		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCrawlFlags(cmd, map[string]string{
				"crawl.start":                "start",
				"crawl.max_cases":            "max-cases",
				"crawl.force":                "force",
				"crawl.delay_min":            "rate-interval",
				"crawl.backoff_factor":       "backoff-factor",
				"crawl.max_exponent":         "max-exponent",
				"crawl.safe_stop_no_records": "safe-stop-no-records",
			})
		},
		RunE: runBatchCommand,
	}

	cmd.Flags().Int("start", 0, "first case number to crawl")
	cmd.Flags().Int("max-cases", 0, "cap on cases this run (0 = unbounded)")
	cmd.Flags().Bool("force", false, "refetch cases already resolved")
	cmd.Flags().Duration("rate-interval", 0, "minimum delay between requests")
	cmd.Flags().Float64("backoff-factor", 0, "delay multiplier applied after each failure")
	cmd.Flags().Int("max-exponent", 0, "largest probe stride exponent")
	cmd.Flags().Int("safe-stop-no-records", 0, "consecutive empty lookups before the prober stops")

	return cmd
}

func runBatchCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	cfg, err := crawl.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawl config: %w", err)
	}

	runID, err := appInstance.IDGen().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("year", cfg.Year))

	reporter, err := audit.NewReporter(
		runID,
		viper.GetString("audit.output_dir"),
		viper.GetBool("audit.ndjson"),
		appInstance.Clock(),
	)
	if err != nil {
		return fmt.Errorf("init audit reporter: %w", err)
	}

	hub, err := buildHub(appInstance, logger, reporter)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		DelayMin:      cfg.DelayMin,
		DelayMax:      cfg.DelayMax,
		BackoffFactor: cfg.BackoffFactor,
		MaxBackoff:    cfg.MaxBackoff,
	})

	executor := scheduler.NewExecutor(
		appInstance.Fetcher(),
		appInstance.Tracker(),
		appInstance.Payloads(),
		limiter,
		hub,
		appInstance.Clock(),
		runID,
		cfg.RetryLimit,
		cfg.FatalFailureThreshold,
		logger,
	)
	boundary := prober.New(appInstance.Tracker(), executor, appInstance.Clock(), logger)
	run := scheduler.New(cfg, appInstance.Tracker(), executor, boundary, hub, appInstance.Clock(), runID, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var statusServer *api.Server
	if addr := viper.GetString("api.listen_addr"); addr != "" {
		statusServer = api.NewServer(addr, run, appInstance.Registry(), logger)
		statusServer.Start()
	}

	stats, runErr := run.Run(ctx)

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown status server", zap.Error(err))
		}
		cancel()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("close event hub", zap.Error(err))
	}
	cancel()

	logger.Info("batch run finished",
		zap.Int("start_id", stats.StartID),
		zap.Int("end_id", stats.EndID),
		zap.Int("attempted", stats.TotalAttempted),
		zap.Int("success", stats.SuccessCount),
		zap.Int("no_record", stats.NoRecordCount),
		zap.Int("failed", stats.FailedCount),
	)

	switch {
	case runErr == nil:
		return nil
	case errors.Is(runErr, context.Canceled):
		logger.Warn("run canceled; state saved for resume")
		return nil
	case errors.Is(runErr, scheduler.ErrEmergencyStop):
		return fmt.Errorf("run aborted: %w", runErr)
	default:
		return fmt.Errorf("run batch: %w", runErr)
	}
}

func buildHub(appInstance App, logger *zap.Logger, reporter *audit.Reporter) (*events.Hub, error) {
	eventSinks := []events.Sink{
		sinks.NewLogSink(logger),
		reporter,
	}
	prom, err := sinks.NewPrometheusSink(appInstance.Registry())
	if err != nil {
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	eventSinks = append(eventSinks, prom)
	if pub := appInstance.Publisher(); pub != nil {
		ps, err := sinks.NewPublisherSink(pub, appInstance.PublisherTopic())
		if err != nil {
			return nil, fmt.Errorf("init publisher sink: %w", err)
		}
		eventSinks = append(eventSinks, ps)
	}
	return events.NewHub(events.Config{Logger: logger}, eventSinks...), nil
}

func bindCrawlFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, flag := range keys {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}
