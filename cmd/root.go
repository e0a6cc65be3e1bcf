// Package cmd defines and implements the CLI commands for the
// imm-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/app"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/logging"
	"github.com/fcdockets/imm-crawler/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application services the commands use. It is an
// interface so tests can inject a fake service container.
type App interface {
	Logger() *zap.Logger
	Tracker() crawl.Tracker
	Fetcher() crawl.Fetcher
	Payloads() crawl.PayloadStore
	Publisher() crawl.Publisher
	PublisherTopic() string
	Registry() *prometheus.Registry
	Clock() crawl.Clock
	IDGen() crawl.IDGenerator
	Close(ctx context.Context)
}

// newApp is the application factory. It is a variable so tests can
// replace it with a mock factory.
var newApp = func(ctx context.Context) (App, error) {
	return app.NewApp(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imm-crawler",
		Short: "Batch crawler for IMM court docket records.",
		Long: `imm-crawler walks the IMM-<number>-<year> docket number space of the
court registry, discovers where each year's filings currently end, and
fetches every case page exactly once, resuming where previous runs
stopped.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.InitLogger(viper.GetBool("log.development"))
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(cmd.Context())
			}
		},
	}

	cobra.OnInitialize(func() { config.InitConfig(cfgFile) })

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.imm-crawler/config.yaml)")
	cmd.PersistentFlags().String("year", "", "2-digit filing year partition to crawl")
	mustBindFlag(cmd, "crawl.year", "year")

	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newProbeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func mustBindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger(false)

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("command execution failed", zap.Error(err))
	}
}
