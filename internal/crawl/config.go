package crawl

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config captures every configuration knob that influences a crawl run.
// All values originate from Viper so the crawler can be configured via
// files, env vars, or CLI flags. The struct is immutable per run.
type Config struct {
	Year                  string
	Start                 int
	MaxCases              int
	SafeStopNoRecords     int
	ProbeBudget           int
	MaxExponent           int
	RetryLimit            int
	DelayMin              time.Duration
	DelayMax              time.Duration
	BackoffFactor         float64
	MaxBackoff            time.Duration
	FatalFailureThreshold int
	BoundaryTTL           time.Duration
	Force                 bool
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Year:                  v.GetString("crawl.year"),
		Start:                 v.GetInt("crawl.start"),
		MaxCases:              v.GetInt("crawl.max_cases"),
		SafeStopNoRecords:     v.GetInt("crawl.safe_stop_no_records"),
		ProbeBudget:           v.GetInt("crawl.probe_budget"),
		MaxExponent:           v.GetInt("crawl.max_exponent"),
		RetryLimit:            v.GetInt("crawl.retry_limit"),
		DelayMin:              v.GetDuration("crawl.delay_min"),
		DelayMax:              v.GetDuration("crawl.delay_max"),
		BackoffFactor:         v.GetFloat64("crawl.backoff_factor"),
		MaxBackoff:            v.GetDuration("crawl.max_backoff"),
		FatalFailureThreshold: v.GetInt("crawl.fatal_failure_threshold"),
		BoundaryTTL:           v.GetDuration("crawl.boundary_ttl"),
		Force:                 v.GetBool("crawl.force"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations. Invalid
// configuration is rejected before any state is written.
func (c Config) Validate() error {
	if len(c.Year) != 2 {
		return fmt.Errorf("crawl.year must be a 2-digit string")
	}
	if c.Start < 0 {
		return fmt.Errorf("crawl.start must be >= 0")
	}
	if c.MaxCases < 0 {
		return fmt.Errorf("crawl.max_cases must be >= 0")
	}
	if c.SafeStopNoRecords <= 0 {
		return fmt.Errorf("crawl.safe_stop_no_records must be > 0")
	}
	if c.ProbeBudget <= 0 {
		return fmt.Errorf("crawl.probe_budget must be > 0")
	}
	if c.MaxExponent <= 0 {
		return fmt.Errorf("crawl.max_exponent must be > 0")
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("crawl.retry_limit must be >= 0")
	}
	if c.DelayMin <= 0 {
		return fmt.Errorf("crawl.delay_min must be > 0")
	}
	if c.DelayMax < c.DelayMin {
		return fmt.Errorf("crawl.delay_max must be >= crawl.delay_min")
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("crawl.backoff_factor must be >= 1")
	}
	if c.MaxBackoff < c.DelayMax {
		return fmt.Errorf("crawl.max_backoff must be >= crawl.delay_max")
	}
	if c.FatalFailureThreshold <= 0 {
		return fmt.Errorf("crawl.fatal_failure_threshold must be > 0")
	}
	if c.BoundaryTTL < 0 {
		return fmt.Errorf("crawl.boundary_ttl must be >= 0")
	}
	return nil
}

// Ceiling returns the hard upper probe limit for the run, or 0 when the
// run is unbounded.
func (c Config) Ceiling() int {
	if c.MaxCases <= 0 {
		return 0
	}
	return c.Start + c.MaxCases
}
