package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/fetcher/script"
	payloadmem "github.com/fcdockets/imm-crawler/internal/payload/memory"
	"github.com/fcdockets/imm-crawler/internal/ratelimit"
	trackermem "github.com/fcdockets/imm-crawler/internal/tracker/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testClock() fixedClock {
	return fixedClock{t: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		DelayMin:      time.Millisecond,
		DelayMax:      2 * time.Millisecond,
		BackoffFactor: 1.5,
		MaxBackoff:    5 * time.Millisecond,
	})
}

type failingStore struct{}

func (failingStore) Persist(context.Context, caseid.ID, []byte) (string, error) {
	return "", fmt.Errorf("disk full")
}

func TestProcessSuccessFirstAttempt(t *testing.T) {
	fetcher := script.New()
	fetcher.Populate(7)
	tracker := trackermem.New()
	payloads := payloadmem.New()
	exec := NewExecutor(fetcher, tracker, payloads, testLimiter(), nil, testClock(), "run-1", 3, 0, nil)
	id := caseid.ID{Year: "25", Number: 7}

	outcome, fetches, err := exec.Process(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeSuccess, outcome)
	require.Equal(t, 1, fetches)

	rec, ok, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawl.StatusSuccess, rec.Status)
	require.NotEmpty(t, rec.PayloadRef)
	require.Equal(t, 1, payloads.Len())
}

func TestProcessRetriesWithinPass(t *testing.T) {
	fetcher := script.New()
	fetcher.Populate(7)
	fetcher.FailTimes(7, 1)
	tracker := trackermem.New()
	exec := NewExecutor(fetcher, tracker, payloadmem.New(), testLimiter(), nil, testClock(), "run-1", 3, 0, nil)
	id := caseid.ID{Year: "25", Number: 7}

	outcome, fetches, err := exec.Process(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeSuccess, outcome)
	require.Equal(t, 2, fetches)

	rec, _, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 0, rec.RetryCount, "success resets the retry count")
}

func TestProcessExhaustsRetryLimit(t *testing.T) {
	fetcher := script.New()
	fetcher.AlwaysFail(7)
	tracker := trackermem.New()
	exec := NewExecutor(fetcher, tracker, payloadmem.New(), testLimiter(), nil, testClock(), "run-1", 3, 0, nil)
	id := caseid.ID{Year: "25", Number: 7}

	outcome, fetches, err := exec.Process(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeFailed, outcome)
	require.Equal(t, 3, fetches)

	rec, _, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, rec.Status)
	require.Equal(t, 3, rec.RetryCount, "each failed attempt is recorded")

	resolved, err := tracker.IsResolved(context.Background(), id, false)
	require.NoError(t, err)
	require.False(t, resolved, "failed records remain eligible for later runs")
}

func TestProcessNoRecordIsTerminal(t *testing.T) {
	fetcher := script.New()
	tracker := trackermem.New()
	exec := NewExecutor(fetcher, tracker, payloadmem.New(), testLimiter(), nil, testClock(), "run-1", 3, 0, nil)
	id := caseid.ID{Year: "25", Number: 9}

	outcome, fetches, err := exec.Process(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeNoRecord, outcome)
	require.Equal(t, 1, fetches, "no-record is accepted without retries")

	rec, _, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusNoData, rec.Status)
}

func TestProcessEmergencyStopMidPass(t *testing.T) {
	fetcher := script.New()
	fetcher.AlwaysFail(7)
	tracker := trackermem.New()
	exec := NewExecutor(fetcher, tracker, payloadmem.New(), testLimiter(), nil, testClock(), "run-1", 5, 3, nil)
	id := caseid.ID{Year: "25", Number: 7}

	_, fetches, err := exec.Process(context.Background(), id, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmergencyStop)
	require.Equal(t, 3, fetches, "the breaker trips before the retry limit is reached")
}

func TestProcessPersistFailureStaysRetryable(t *testing.T) {
	fetcher := script.New()
	fetcher.Populate(7)
	tracker := trackermem.New()
	exec := NewExecutor(fetcher, tracker, failingStore{}, testLimiter(), nil, testClock(), "run-1", 2, 0, nil)
	id := caseid.ID{Year: "25", Number: 7}

	outcome, _, err := exec.Process(context.Background(), id, false)
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeFailed, outcome, "an unstorable record is not resolved")

	rec, _, err := tracker.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, rec.Status)
	require.Empty(t, rec.PayloadRef)
}

func TestResolveReturnsTerminalOutcomes(t *testing.T) {
	tracker := trackermem.New()
	exec := NewExecutor(script.New(), tracker, nil, testLimiter(), nil, testClock(), "run-1", 3, 0, nil)
	ctx := context.Background()

	done := caseid.ID{Year: "25", Number: 1}
	gone := caseid.ID{Year: "25", Number: 2}
	flaky := caseid.ID{Year: "25", Number: 3}
	_, err := tracker.Record(ctx, done, crawl.OutcomeSuccess, "", "ref")
	require.NoError(t, err)
	_, err = tracker.Record(ctx, gone, crawl.OutcomeNoRecord, "", "")
	require.NoError(t, err)
	_, err = tracker.Record(ctx, flaky, crawl.OutcomeFailed, "boom", "")
	require.NoError(t, err)

	outcome, ok, err := exec.Resolve(ctx, done)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawl.OutcomeSuccess, outcome)

	outcome, ok, err = exec.Resolve(ctx, gone)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawl.OutcomeNoRecord, outcome)

	_, ok, err = exec.Resolve(ctx, flaky)
	require.NoError(t, err)
	require.False(t, ok, "failed records are not terminal")

	_, ok, err = exec.Resolve(ctx, caseid.ID{Year: "25", Number: 99})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProcessCancellation(t *testing.T) {
	fetcher := script.New()
	fetcher.Populate(7)
	exec := NewExecutor(fetcher, trackermem.New(), nil, testLimiter(), nil, testClock(), "run-1", 3, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := exec.Process(ctx, caseid.ID{Year: "25", Number: 7}, false)
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
