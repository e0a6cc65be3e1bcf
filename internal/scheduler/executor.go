// Package scheduler implements the resumable traversal loop and the shared
// attempt pipeline that both the sweep and boundary probing run through.
package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
	"github.com/fcdockets/imm-crawler/internal/ratelimit"
)

// Executor performs one limiter-gated attempt pipeline per case: wait,
// fetch, classify, persist, record, emit. Every network request in the
// system flows through here so the rate limiter can never be bypassed.
type Executor struct {
	fetcher  crawl.Fetcher
	tracker  crawl.Tracker
	payloads crawl.PayloadStore
	limiter  *ratelimit.Limiter
	emitter  events.Emitter
	clock    crawl.Clock
	logger   *zap.Logger

	runID          string
	retryLimit     int
	fatalThreshold int
	failureStreak  int
}

// NewExecutor wires the attempt pipeline. payloads may be nil when persisted
// content is not wanted (probe dry runs). fatalThreshold is the run-wide
// consecutive-failure circuit breaker; zero disables it.
func NewExecutor(
	fetcher crawl.Fetcher,
	tracker crawl.Tracker,
	payloads crawl.PayloadStore,
	limiter *ratelimit.Limiter,
	emitter events.Emitter,
	clock crawl.Clock,
	runID string,
	retryLimit int,
	fatalThreshold int,
	logger *zap.Logger,
) *Executor {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retryLimit < 1 {
		retryLimit = 1
	}
	return &Executor{
		fetcher:        fetcher,
		tracker:        tracker,
		payloads:       payloads,
		limiter:        limiter,
		emitter:        emitter,
		clock:          clock,
		logger:         logger,
		runID:          runID,
		retryLimit:     retryLimit,
		fatalThreshold: fatalThreshold,
	}
}

// Resolve returns the cached outcome when the tracker already holds a
// terminal status for id, avoiding a network request entirely.
func (e *Executor) Resolve(ctx context.Context, id caseid.ID) (crawl.Outcome, bool, error) {
	rec, ok, err := e.tracker.Get(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	switch rec.Status {
	case crawl.StatusSuccess:
		return crawl.OutcomeSuccess, true, nil
	case crawl.StatusNoData:
		return crawl.OutcomeNoRecord, true, nil
	default:
		return "", false, nil
	}
}

// Process runs one immediate pass for id: up to retryLimit attempts, each
// gated by the rate limiter, recording every attempt in the tracker and
// emitting one event per try. The returned fetch count is the number of
// network requests actually issued.
func (e *Executor) Process(ctx context.Context, id caseid.ID, probe bool) (crawl.Outcome, int, error) {
	fetches := 0
	outcome := crawl.OutcomeFailed
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		wait, err := e.limiter.Wait(ctx)
		if err != nil {
			return outcome, fetches, fmt.Errorf("wait before fetch %s: %w", id, err)
		}

		res, ferr := e.fetcher.Fetch(ctx, id)
		fetches++
		if ferr != nil {
			if ctx.Err() != nil {
				return outcome, fetches, fmt.Errorf("fetch %s: %w", id, ctx.Err())
			}
			res = crawl.FetchResult{Status: crawl.FetchStatusError, Err: ferr.Error()}
		}
		outcome = crawl.Classify(res)

		payloadRef := ""
		if outcome == crawl.OutcomeSuccess && e.payloads != nil {
			ref, perr := e.payloads.Persist(ctx, id, res.Payload)
			if perr != nil {
				// A record we cannot store is not a resolved record; keep
				// the case on the retry path.
				e.logger.Error("persist payload failed",
					zap.String("case_id", id.String()), zap.Error(perr))
				outcome = crawl.OutcomeFailed
				res.Err = perr.Error()
			} else {
				payloadRef = ref
			}
		}

		rec, rerr := e.tracker.Record(ctx, id, outcome, res.Err, payloadRef)
		if rerr != nil {
			return outcome, fetches, fmt.Errorf("record attempt %s: %w", id, rerr)
		}

		e.emitter.Emit(events.Event{
			RunID: e.runID,
			TS:    e.clock.Now(),
			Kind:  events.KindAttempt,
			Year:  id.Year,
			Attempt: &crawl.Attempt{
				CaseID:     id,
				Case:       id.String(),
				Number:     attempt,
				Outcome:    outcome,
				StatusCode: res.StatusCode,
				Err:        res.Err,
				Wait:       wait,
				Probe:      probe,
				At:         e.clock.Now(),
			},
		})

		if outcome != crawl.OutcomeFailed {
			e.limiter.Reset()
			e.failureStreak = 0
			return outcome, fetches, nil
		}
		e.limiter.RecordFailure()
		e.failureStreak++
		e.logger.Warn("fetch attempt failed",
			zap.String("case_id", id.String()),
			zap.Int("attempt", attempt),
			zap.Int("retry_count", rec.RetryCount),
			zap.Int("failure_streak", e.failureStreak),
			zap.String("error", res.Err),
		)
		if e.fatalThreshold > 0 && e.failureStreak >= e.fatalThreshold {
			return outcome, fetches, fmt.Errorf("after %d consecutive failures: %w",
				e.failureStreak, ErrEmergencyStop)
		}
	}
	return outcome, fetches, nil
}
