package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
	"github.com/fcdockets/imm-crawler/internal/prober"
)

// ErrEmergencyStop is returned when the consecutive-failure circuit breaker
// trips. The operator must investigate before resuming; the tracker already
// reflects every completed attempt, so the next run picks up where this one
// halted.
var ErrEmergencyStop = errors.New("emergency stop: consecutive failure threshold reached")

// Scheduler performs the bounded linear sweep from start to the discovered
// upper bound, skipping already-resolved IDs and retrying eligible
// failures. One logical crawl worker per run, strictly sequential: the
// fetcher owns a stateful site session that cannot be shared.
type Scheduler struct {
	cfg      crawl.Config
	tracker  crawl.Tracker
	executor *Executor
	prober   *prober.Prober
	emitter  events.Emitter
	clock    crawl.Clock
	logger   *zap.Logger
	runID    string

	mu       sync.Mutex
	snapshot crawl.Stats
}

// New constructs a Scheduler.
func New(
	cfg crawl.Config,
	tracker crawl.Tracker,
	executor *Executor,
	boundary *prober.Prober,
	emitter events.Emitter,
	clock crawl.Clock,
	runID string,
	logger *zap.Logger,
) *Scheduler {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		tracker:  tracker,
		executor: executor,
		prober:   boundary,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		runID:    runID,
	}
}

// Stats returns a snapshot of the run so far. Safe to call from other
// goroutines (the progress endpoint).
func (s *Scheduler) Stats() crawl.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Run executes the full traversal and returns the run statistics. Per-ID
// failures never abort the run; only the circuit breaker, context
// cancellation, and infrastructure errors surface here.
func (s *Scheduler) Run(ctx context.Context) (crawl.Stats, error) {
	s.emitter.Emit(events.Event{
		RunID:   s.runID,
		TS:      s.clock.Now(),
		Kind:    events.KindRunStart,
		Year:    s.cfg.Year,
		StartID: s.cfg.Start,
	})

	if hr, ok, err := s.tracker.HighestResolved(ctx, s.cfg.Year); err != nil {
		return s.finish(crawl.Stats{StartID: s.cfg.Start}, events.RunAborted, err)
	} else if ok {
		s.logger.Info("resuming partition",
			zap.String("year", s.cfg.Year),
			zap.String("highest_resolved", hr.String()),
		)
	}

	end, err := s.determineEnd(ctx)
	if err != nil {
		result := events.RunAborted
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result = events.RunCanceled
		}
		return s.finish(crawl.Stats{StartID: s.cfg.Start}, result, err)
	}

	stats := crawl.Stats{StartID: s.cfg.Start, EndID: end}
	s.store(stats)
	s.logger.Info("traversal starting",
		zap.String("year", s.cfg.Year),
		zap.Int("start", s.cfg.Start),
		zap.Int("end", end),
		zap.Bool("force", s.cfg.Force),
	)

	for n := s.cfg.Start; n <= end; n++ {
		id := caseid.ID{Year: s.cfg.Year, Number: n}

		resolved, err := s.tracker.IsResolved(ctx, id, s.cfg.Force)
		if err != nil {
			return s.finish(stats, events.RunAborted, fmt.Errorf("check %s: %w", id, err))
		}
		if resolved {
			continue
		}

		outcome, _, perr := s.executor.Process(ctx, id, false)
		if perr == nil || errors.Is(perr, ErrEmergencyStop) {
			// The attempt was recorded even when the breaker tripped on it.
			stats.TotalAttempted++
			switch outcome {
			case crawl.OutcomeSuccess:
				stats.SuccessCount++
			case crawl.OutcomeNoRecord:
				stats.NoRecordCount++
			default:
				stats.FailedCount++
			}
			s.store(stats)
		}
		if perr != nil {
			switch {
			case errors.Is(perr, ErrEmergencyStop):
				s.logger.Error("emergency stop", zap.String("case_id", id.String()))
				return s.finish(stats, events.RunAborted, perr)
			case errors.Is(perr, context.Canceled), errors.Is(perr, context.DeadlineExceeded):
				return s.finish(stats, events.RunCanceled, perr)
			default:
				return s.finish(stats, events.RunAborted, fmt.Errorf("process %s: %w", id, perr))
			}
		}
	}

	return s.finish(stats, events.RunCompleted, nil)
}

// determineEnd establishes the sweep bound: the discovered upper bound, or
// start+max_cases-1 when max_cases caps the run lower.
func (s *Scheduler) determineEnd(ctx context.Context) (int, error) {
	capEnd := 0
	if s.cfg.MaxCases > 0 {
		capEnd = s.cfg.Start + s.cfg.MaxCases - 1
	}

	res, err := s.prober.FindUpperBound(ctx, s.cfg)
	if err != nil {
		return 0, fmt.Errorf("find upper bound: %w", err)
	}
	end := res.UpperBound
	if capEnd > 0 && capEnd < end {
		end = capEnd
	}
	return end, nil
}

func (s *Scheduler) finish(stats crawl.Stats, result events.RunResult, err error) (crawl.Stats, error) {
	s.store(stats)
	statsCopy := stats
	evt := events.Event{
		RunID:  s.runID,
		TS:     s.clock.Now(),
		Kind:   events.KindRunDone,
		Year:   s.cfg.Year,
		Stats:  &statsCopy,
		Result: result,
	}
	if err != nil {
		evt.Note = err.Error()
	}
	s.emitter.Emit(evt)
	return stats, err
}

func (s *Scheduler) store(stats crawl.Stats) {
	s.mu.Lock()
	s.snapshot = stats
	s.mu.Unlock()
}
