// Package prober discovers the approximate high-water mark of a sparse
// docket number space with a bounded number of probes.
package prober

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// revalidationWindow is the linear scan width used when a fresh boundary
// cache lets us skip the exponential search.
const revalidationWindow = 16

// Attempter runs the limiter-gated attempt pipeline for a single case. The
// scheduler's Executor satisfies it.
type Attempter interface {
	// Resolve returns the cached outcome for id without a network request.
	Resolve(ctx context.Context, id caseid.ID) (crawl.Outcome, bool, error)
	// Process issues a fetch (with retries) and returns the outcome plus
	// the number of requests used.
	Process(ctx context.Context, id caseid.ID, probe bool) (crawl.Outcome, int, error)
}

// Result is the outcome of a boundary discovery pass.
type Result struct {
	UpperBound int
	ProbesUsed int
	FromCache  bool
}

// Prober owns boundary discovery for one year partition.
type Prober struct {
	tracker   crawl.Tracker
	attempter Attempter
	clock     crawl.Clock
	logger    *zap.Logger
}

// New constructs a Prober.
func New(tracker crawl.Tracker, attempter Attempter, clock crawl.Clock, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		tracker:   tracker,
		attempter: attempter,
		clock:     clock,
		logger:    logger,
	}
}

// FindUpperBound discovers the current upper bound of the year partition.
//
// A fresh cached boundary short-circuits the search: only a small linear
// window past the cached value is re-validated. An expired cache is not
// trusted but still seeds the search, so discovery never restarts from the
// beginning of the space. Without any cache the search grows exponentially
// from start, resetting the exponent after every confirmed hit so sparse
// regions are never overshot by large margins.
func (p *Prober) FindUpperBound(ctx context.Context, cfg crawl.Config) (Result, error) {
	seed := cfg.Start
	fresh := false
	if cached, ok, err := p.tracker.Boundary(ctx, cfg.Year); err != nil {
		return Result{}, fmt.Errorf("load boundary cache: %w", err)
	} else if ok {
		if cached.UpperBound > seed {
			seed = cached.UpperBound
		}
		fresh = !cached.Expired(p.clock.Now(), cfg.BoundaryTTL)
		p.logger.Info("boundary cache found",
			zap.String("year", cfg.Year),
			zap.Int("upper_bound", cached.UpperBound),
			zap.Bool("fresh", fresh),
		)
	}

	var (
		bound  int
		probes int
		err    error
	)
	if fresh {
		bound, probes, err = p.revalidate(ctx, cfg, seed)
	} else {
		bound, probes, err = p.search(ctx, cfg, seed)
	}
	if err != nil {
		return Result{}, err
	}

	if err := p.tracker.SetBoundary(ctx, cfg.Year, bound); err != nil {
		return Result{}, fmt.Errorf("cache boundary: %w", err)
	}
	p.logger.Info("upper bound discovered",
		zap.String("year", cfg.Year),
		zap.Int("upper_bound", bound),
		zap.Int("probes_used", probes),
	)
	return Result{UpperBound: bound, ProbesUsed: probes, FromCache: fresh}, nil
}

// search performs the exponential-growth probe. All stop conditions are
// measured since the last confirmed hit: the exponent, the consecutive
// no-record counter, and the window against the hard ceiling.
func (p *Prober) search(ctx context.Context, cfg crawl.Config, seed int) (int, int, error) {
	a := seed
	probes := 0
	ceiling := cfg.Ceiling()

	exponent := 0
	noRecordRun := 0
	for exponent <= cfg.MaxExponent {
		// One probe may consume up to RetryLimit fetches, so the budget
		// check is conservative: the prober never exceeds ProbeBudget
		// requests in total.
		if probes+cfg.RetryLimit > cfg.ProbeBudget {
			p.logger.Warn("probe budget exhausted", zap.Int("budget", cfg.ProbeBudget))
			break
		}
		candidate := a + (1 << exponent)
		atCeiling := false
		if ceiling > 0 && candidate >= ceiling {
			candidate = ceiling
			atCeiling = true
		}

		outcome, _, err := p.probe(ctx, cfg, candidate, &probes)
		if err != nil {
			return 0, probes, err
		}

		switch outcome {
		case crawl.OutcomeSuccess:
			a = candidate
			exponent = 0
			noRecordRun = 0
			if atCeiling {
				return a, probes, nil
			}
			continue
		case crawl.OutcomeNoRecord:
			noRecordRun++
			if noRecordRun >= cfg.SafeStopNoRecords {
				p.logger.Info("safe-stop threshold reached",
					zap.Int("consecutive_no_records", noRecordRun))
				return a, probes, nil
			}
		default:
			// Transient failure that survived its retries. It neither
			// confirms existence nor absence, so it advances the exponent
			// without touching the no-record counter.
		}
		if atCeiling {
			return a, probes, nil
		}
		exponent++
	}
	return a, probes, nil
}

// revalidate linearly scans a small window past the cached bound, extending
// it over any newly filed cases.
func (p *Prober) revalidate(ctx context.Context, cfg crawl.Config, seed int) (int, int, error) {
	a := seed
	probes := 0
	ceiling := cfg.Ceiling()

	misses := 0
	next := a + 1
	for misses < revalidationWindow && probes+cfg.RetryLimit <= cfg.ProbeBudget {
		if ceiling > 0 && next > ceiling {
			break
		}
		outcome, _, err := p.probe(ctx, cfg, next, &probes)
		if err != nil {
			return 0, probes, err
		}
		if outcome == crawl.OutcomeSuccess {
			a = next
			misses = 0
		} else {
			misses++
		}
		next++
	}
	return a, probes, nil
}

func (p *Prober) probe(ctx context.Context, cfg crawl.Config, number int, probes *int) (crawl.Outcome, int, error) {
	id := caseid.ID{Year: cfg.Year, Number: number}

	// The tracker answers first so resolved IDs never cost a request.
	if outcome, ok, err := p.attempter.Resolve(ctx, id); err != nil {
		return "", 0, fmt.Errorf("resolve %s: %w", id, err)
	} else if ok {
		return outcome, 0, nil
	}

	outcome, used, err := p.attempter.Process(ctx, id, true)
	*probes += used
	if err != nil {
		return "", used, fmt.Errorf("probe %s: %w", id, err)
	}
	return outcome, used, nil
}
