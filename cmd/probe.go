package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
	"github.com/fcdockets/imm-crawler/internal/events/sinks"
	"github.com/fcdockets/imm-crawler/internal/prober"
	"github.com/fcdockets/imm-crawler/internal/ratelimit"
	"github.com/fcdockets/imm-crawler/internal/scheduler"
)

// newProbeCmd creates the 'probe' subcommand. By default it is a dry
// run that reports what boundary discovery would do; --live issues real
// requests and updates the boundary cache.
func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Discover the upper bound of a year partition",
		Long: `Inspects the cached boundary for the year partition and reports the
discovery plan. With --live, runs the exponential search against the
registry and stores the discovered upper bound.`,

		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCrawlFlags(cmd, map[string]string{
				"crawl.start":        "start",
				"crawl.max_cases":    "max-cases",
				"crawl.probe_budget": "probe-budget",
			})
		},
		RunE: runProbeCommand,
	}

	cmd.Flags().Int("start", 0, "lowest case number the search may assume")
	cmd.Flags().Int("max-cases", 0, "ceiling on the search range (0 = unbounded)")
	cmd.Flags().Int("probe-budget", 0, "request budget for a live probe")
	cmd.Flags().Bool("live", false, "issue real requests instead of a dry run")

	return cmd
}

func runProbeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	cfg, err := crawl.LoadConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load crawl config: %w", err)
	}

	live, err := cmd.Flags().GetBool("live")
	if err != nil {
		return fmt.Errorf("read live flag: %w", err)
	}
	if !live {
		return probePlan(cmd, cfg, appInstance)
	}

	runID, err := appInstance.IDGen().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("year", cfg.Year))

	hub := events.NewHub(events.Config{Logger: logger}, sinks.NewLogSink(logger))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("close event hub", zap.Error(cerr))
		}
	}()

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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := boundary.FindUpperBound(ctx, cfg)
	if err != nil {
		return fmt.Errorf("find upper bound: %w", err)
	}
	cmd.Printf("year %s upper bound: %d (probes used: %d, from cache: %t)\n",
		cfg.Year, result.UpperBound, result.ProbesUsed, result.FromCache)
	return nil
}

// probePlan reports what a live probe would do without touching the
// registry.
func probePlan(cmd *cobra.Command, cfg crawl.Config, appInstance App) error {
	cached, ok, err := appInstance.Tracker().Boundary(cmd.Context(), cfg.Year)
	if err != nil {
		return fmt.Errorf("load boundary cache: %w", err)
	}
	now := appInstance.Clock().Now()

	cmd.Printf("year %s probe plan (dry run):\n", cfg.Year)
	switch {
	case !ok:
		cmd.Printf("  no cached boundary; a live probe runs a full exponential search from %d\n", cfg.Start)
	case cached.Expired(now, cfg.BoundaryTTL):
		cmd.Printf("  cached boundary %d discovered %s is expired\n", cached.UpperBound, cached.DiscoveredAt.Format("2006-01-02"))
		seed := cfg.Start
		if cached.UpperBound > seed {
			seed = cached.UpperBound
		}
		cmd.Printf("  a live probe re-runs the exponential search seeded at %d\n", seed)
	default:
		cmd.Printf("  cached boundary %d discovered %s is fresh\n", cached.UpperBound, cached.DiscoveredAt.Format("2006-01-02"))
		cmd.Printf("  a live probe re-validates a short window past %d\n", cached.UpperBound)
	}
	cmd.Printf("  probe budget: %d requests, safe stop after %d consecutive empty lookups\n",
		cfg.ProbeBudget, cfg.SafeStopNoRecords)
	if ceiling := cfg.Ceiling(); ceiling > 0 {
		cmd.Printf("  search ceiling: %d (start %d + max cases %d)\n", ceiling, cfg.Start, cfg.MaxCases)
	}
	cmd.Println("  pass --live to run the search")
	return nil
}
