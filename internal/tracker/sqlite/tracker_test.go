package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tr.Close()) })
	return tr
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestRecordUpsertIncrementsAndResetsRetryCount(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	id := caseid.ID{Year: "25", Number: 42}

	_, ok, err := tr.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	rec, err := tr.Record(ctx, id, crawl.OutcomeFailed, "status 503", "")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusFailed, rec.Status)
	require.Equal(t, 1, rec.RetryCount)

	rec, err = tr.Record(ctx, id, crawl.OutcomeFailed, "status 503", "")
	require.NoError(t, err)
	require.Equal(t, 2, rec.RetryCount)
	require.False(t, rec.LastAttemptAt.IsZero())

	rec, err = tr.Record(ctx, id, crawl.OutcomeSuccess, "", "file:///data/cases/25/IMM-42-25.html")
	require.NoError(t, err)
	require.Equal(t, crawl.StatusSuccess, rec.Status)
	require.Equal(t, 0, rec.RetryCount)
	require.Equal(t, "file:///data/cases/25/IMM-42-25.html", rec.PayloadRef)
}

func TestRecordKeepsPayloadRefOnLaterAttempts(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	id := caseid.ID{Year: "25", Number: 8}

	_, err := tr.Record(ctx, id, crawl.OutcomeSuccess, "", "file:///ref")
	require.NoError(t, err)

	// A forced refetch that fails must not wipe the stored reference.
	rec, err := tr.Record(ctx, id, crawl.OutcomeFailed, "boom", "")
	require.NoError(t, err)
	require.Equal(t, "file:///ref", rec.PayloadRef)
}

func TestHighestResolvedIgnoresFailedAndOtherYears(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, ok, err := tr.HighestResolved(ctx, "25")
	require.NoError(t, err)
	require.False(t, ok)

	seed := []struct {
		id      caseid.ID
		outcome crawl.Outcome
	}{
		{caseid.ID{Year: "25", Number: 3}, crawl.OutcomeSuccess},
		{caseid.ID{Year: "25", Number: 7}, crawl.OutcomeNoRecord},
		{caseid.ID{Year: "25", Number: 11}, crawl.OutcomeFailed},
		{caseid.ID{Year: "24", Number: 900}, crawl.OutcomeSuccess},
	}
	for _, s := range seed {
		_, err := tr.Record(ctx, s.id, s.outcome, "", "")
		require.NoError(t, err)
	}

	hr, ok, err := tr.HighestResolved(ctx, "25")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 7, hr.Number)
}

func TestBoundaryUpsert(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, ok, err := tr.Boundary(ctx, "25")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tr.SetBoundary(ctx, "25", 9000))
	require.NoError(t, tr.SetBoundary(ctx, "25", 12100))

	b, ok, err := tr.Boundary(ctx, "25")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12100, b.UpperBound)
	require.False(t, b.DiscoveredAt.IsZero())
}

func TestIsResolvedHonorsForce(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	id := caseid.ID{Year: "25", Number: 1}

	_, err := tr.Record(ctx, id, crawl.OutcomeNoRecord, "", "")
	require.NoError(t, err)

	resolved, err := tr.IsResolved(ctx, id, false)
	require.NoError(t, err)
	require.True(t, resolved)

	resolved, err = tr.IsResolved(ctx, id, true)
	require.NoError(t, err)
	require.False(t, resolved)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.db")
	ctx := context.Background()

	tr, err := New(ctx, path)
	require.NoError(t, err)
	_, err = tr.Record(ctx, caseid.ID{Year: "25", Number: 5}, crawl.OutcomeSuccess, "", "ref")
	require.NoError(t, err)
	require.NoError(t, tr.SetBoundary(ctx, "25", 500))
	require.NoError(t, tr.Close())

	tr, err = New(ctx, path)
	require.NoError(t, err)
	defer func() { require.NoError(t, tr.Close()) }()

	rec, ok, err := tr.Get(ctx, caseid.ID{Year: "25", Number: 5})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, crawl.StatusSuccess, rec.Status)

	b, ok, err := tr.Boundary(ctx, "25")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 500, b.UpperBound)
}
