package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

func TestRecordUpsertSemantics(t *testing.T) {
	tr := New()
	ctx := context.Background()
	id := caseid.ID{Year: "25", Number: 7}

	rec, err := tr.Record(ctx, id, crawl.OutcomeFailed, "timeout", "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.RetryCount)
	require.Equal(t, "timeout", rec.LastError)

	rec, err = tr.Record(ctx, id, crawl.OutcomeFailed, "timeout again", "")
	require.NoError(t, err)
	require.Equal(t, 2, rec.RetryCount)

	rec, err = tr.Record(ctx, id, crawl.OutcomeSuccess, "", "file:///data/cases/25/IMM-7-25.html")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusSuccess, rec.Status)
	require.Equal(t, 0, rec.RetryCount, "terminal outcome resets the retry count")
	require.Equal(t, "file:///data/cases/25/IMM-7-25.html", rec.PayloadRef)

	got, ok, err := tr.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.Status, got.Status)
}

func TestIsResolved(t *testing.T) {
	tr := New()
	ctx := context.Background()
	done := caseid.ID{Year: "25", Number: 1}
	gone := caseid.ID{Year: "25", Number: 2}
	flaky := caseid.ID{Year: "25", Number: 3}

	_, err := tr.Record(ctx, done, crawl.OutcomeSuccess, "", "ref")
	require.NoError(t, err)
	_, err = tr.Record(ctx, gone, crawl.OutcomeNoRecord, "", "")
	require.NoError(t, err)
	_, err = tr.Record(ctx, flaky, crawl.OutcomeFailed, "boom", "")
	require.NoError(t, err)

	for _, id := range []caseid.ID{done, gone} {
		resolved, err := tr.IsResolved(ctx, id, false)
		require.NoError(t, err)
		require.True(t, resolved, "%s should be terminal", id)

		resolved, err = tr.IsResolved(ctx, id, true)
		require.NoError(t, err)
		require.False(t, resolved, "force overrides terminal statuses")
	}

	resolved, err := tr.IsResolved(ctx, flaky, false)
	require.NoError(t, err)
	require.False(t, resolved, "failed cases stay retryable")

	resolved, err = tr.IsResolved(ctx, caseid.ID{Year: "25", Number: 99}, false)
	require.NoError(t, err)
	require.False(t, resolved)
}

func TestHighestResolvedScopedToYear(t *testing.T) {
	tr := New()
	ctx := context.Background()

	_, ok, err := tr.HighestResolved(ctx, "25")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = tr.Record(ctx, caseid.ID{Year: "25", Number: 4}, crawl.OutcomeSuccess, "", "")
	require.NoError(t, err)
	_, err = tr.Record(ctx, caseid.ID{Year: "25", Number: 9}, crawl.OutcomeNoRecord, "", "")
	require.NoError(t, err)
	_, err = tr.Record(ctx, caseid.ID{Year: "25", Number: 12}, crawl.OutcomeFailed, "boom", "")
	require.NoError(t, err)
	_, err = tr.Record(ctx, caseid.ID{Year: "24", Number: 500}, crawl.OutcomeSuccess, "", "")
	require.NoError(t, err)

	hr, ok, err := tr.HighestResolved(ctx, "25")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 9, hr.Number, "failed records do not count as resolved")
}

func TestBoundaryRoundTrip(t *testing.T) {
	tr := New()
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })

	_, ok, err := tr.Boundary(ctx, "25")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tr.SetBoundary(ctx, "25", 12100))

	b, ok, err := tr.Boundary(ctx, "25")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12100, b.UpperBound)
	require.Equal(t, now, b.DiscoveredAt)
	require.False(t, b.Expired(now.Add(24*time.Hour), 7*24*time.Hour))
	require.True(t, b.Expired(now.Add(8*24*time.Hour), 7*24*time.Hour))
}
