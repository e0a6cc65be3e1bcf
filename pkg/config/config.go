// Package config is responsible for initializing the application's configuration.
// It uses the Viper library to read settings from a config file, environment
// variables, and command-line flags, providing a unified configuration system.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/logging"
)

// InitConfig initializes the application's configuration using Viper.
// It sets up default values, defines configuration search paths, and enables
// reading from environment variables. This function is designed to be called
// once at application startup. cfgFile, when non-empty, pins the exact
// config file to read instead of the search paths.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")                  // Current working directory
		viper.AddConfigPath("/etc/imm-crawler/")  // System-wide configuration
		viper.AddConfigPath("$HOME/.imm-crawler") // User-specific configuration
	}

	// Crawl run defaults. All thresholds are operator-tunable via config
	// file, env vars, or the batch/probe command flags.
	viper.SetDefault("crawl.year", "25")
	viper.SetDefault("crawl.start", 1)
	viper.SetDefault("crawl.max_cases", 0)
	viper.SetDefault("crawl.safe_stop_no_records", 500)
	viper.SetDefault("crawl.probe_budget", 200)
	viper.SetDefault("crawl.max_exponent", 16)
	viper.SetDefault("crawl.retry_limit", 3)
	viper.SetDefault("crawl.delay_min", "1s")
	viper.SetDefault("crawl.delay_max", "3s")
	viper.SetDefault("crawl.backoff_factor", 1.5)
	viper.SetDefault("crawl.max_backoff", "60s")
	viper.SetDefault("crawl.fatal_failure_threshold", 10)
	viper.SetDefault("crawl.boundary_ttl", 7*24*time.Hour)
	viper.SetDefault("crawl.force", false)

	viper.SetDefault("tracker.driver", "sqlite")
	viper.SetDefault("tracker.sqlite.path", "data/tracker.db")
	viper.SetDefault("tracker.postgres.dsn", "")
	viper.SetDefault("tracker.postgres.records_table", "case_records")
	viper.SetDefault("tracker.postgres.boundaries_table", "year_boundaries")

	const defaultUA = "imm-crawler/1.0 (+https://github.com/fcdockets/imm-crawler)"
	viper.SetDefault("fetcher.driver", "colly")
	viper.SetDefault("fetcher.base_url", "")
	viper.SetDefault("fetcher.user_agent", defaultUA)
	viper.SetDefault("fetcher.timeout", "15s")
	viper.SetDefault("fetcher.no_record_marker", "no information on file")
	viper.SetDefault("fetcher.headless_nav_timeout", "45s")

	viper.SetDefault("payload.driver", "local")
	viper.SetDefault("payload.local.base_dir", "data/cases")
	viper.SetDefault("payload.gcs.bucket", "")

	viper.SetDefault("audit.output_dir", "data/audit")
	viper.SetDefault("audit.ndjson", false)

	viper.SetDefault("publisher.topic", "")
	viper.SetDefault("publisher.project_id", "")

	viper.SetDefault("api.listen_addr", "")

	viper.SetDefault("log.development", false)

	// Enable Viper to read environment variables, e.g.
	// IMMCRAWL_CRAWL_RETRY_LIMIT=5.
	viper.SetEnvPrefix("IMMCRAWL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logging.L.Warn("Config file not found; using defaults and environment variables.")
		} else {
			logging.L.Error("Error reading config file", zap.Error(err))
		}
	} else {
		logging.L.Info("Using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
