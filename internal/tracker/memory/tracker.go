// Package memory contains an in-memory tracker used by tests and dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Tracker keeps records and boundaries in maps guarded by a mutex. It
// implements the same upsert semantics as the durable trackers.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]crawl.Record
	boundaries map[string]crawl.Boundary
	now        func() time.Time
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		records:    make(map[string]crawl.Record),
		boundaries: make(map[string]crawl.Boundary),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source (for tests).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Get returns the record for id if one exists.
func (t *Tracker) Get(_ context.Context, id caseid.ID) (crawl.Record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id.String()]
	return rec, ok, nil
}

// Record upserts the outcome of one attempt.
func (t *Tracker) Record(
	_ context.Context,
	id caseid.ID,
	outcome crawl.Outcome,
	errText string,
	payloadRef string,
) (crawl.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id.String()]
	if !ok {
		rec = crawl.Record{CaseID: id, Status: crawl.StatusPending}
	}
	rec.LastAttemptAt = t.now()
	rec.LastError = errText
	switch outcome {
	case crawl.OutcomeSuccess:
		rec.Status = crawl.StatusSuccess
		rec.RetryCount = 0
		rec.PayloadRef = payloadRef
	case crawl.OutcomeNoRecord:
		rec.Status = crawl.StatusNoData
		rec.RetryCount = 0
	default:
		rec.Status = crawl.StatusFailed
		rec.RetryCount++
	}
	t.records[id.String()] = rec
	return rec, nil
}

// HighestResolved returns the largest terminal case number in year.
func (t *Tracker) HighestResolved(_ context.Context, year string) (caseid.ID, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	best := caseid.ID{}
	found := false
	for _, rec := range t.records {
		if rec.CaseID.Year != year || !rec.Status.Terminal() {
			continue
		}
		if !found || rec.CaseID.Number > best.Number {
			best = rec.CaseID
			found = true
		}
	}
	return best, found, nil
}

// Boundary returns the cached boundary for year.
func (t *Tracker) Boundary(_ context.Context, year string) (crawl.Boundary, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.boundaries[year]
	return b, ok, nil
}

// SetBoundary upserts the boundary for year with a fresh timestamp.
func (t *Tracker) SetBoundary(_ context.Context, year string, upperBound int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.boundaries[year] = crawl.Boundary{
		Year:         year,
		UpperBound:   upperBound,
		DiscoveredAt: t.now(),
	}
	return nil
}

// IsResolved reports whether id holds a terminal status.
func (t *Tracker) IsResolved(_ context.Context, id caseid.ID, force bool) (bool, error) {
	if force {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[id.String()]
	return ok && rec.Status.Terminal(), nil
}

// Close implements crawl.Tracker; it performs no action.
func (t *Tracker) Close() error { return nil }
