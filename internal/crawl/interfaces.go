package crawl

import (
	"context"
	"time"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

// Fetcher answers "does this case exist, and what does it contain". The
// underlying site session is stateful, so implementations are used by one
// caller at a time.
type Fetcher interface {
	Fetch(ctx context.Context, id caseid.ID) (FetchResult, error)
	Close(ctx context.Context) error
}

// Tracker is the durable per-case status store and the source of truth for
// "already done". It is the only state shared across runs.
type Tracker interface {
	// Get returns the record for id, or ok=false when the case has never
	// been attempted.
	Get(ctx context.Context, id caseid.ID) (Record, bool, error)

	// Record upserts the outcome of one attempt. Failed outcomes increment
	// the retry count; terminal outcomes reset it.
	Record(ctx context.Context, id caseid.ID, outcome Outcome, errText string, payloadRef string) (Record, error)

	// HighestResolved returns the largest case number in year with a
	// terminal status, used to seed resume. ok=false when none exists.
	HighestResolved(ctx context.Context, year string) (caseid.ID, bool, error)

	// Boundary returns the cached upper bound for year, ok=false when the
	// year has never been probed.
	Boundary(ctx context.Context, year string) (Boundary, bool, error)

	// SetBoundary upserts the discovered upper bound for year.
	SetBoundary(ctx context.Context, year string, upperBound int) error

	// IsResolved reports whether id holds a terminal status. It always
	// returns false when force is set.
	IsResolved(ctx context.Context, id caseid.ID, force bool) (bool, error)

	Close() error
}

// PayloadStore persists the fetched record content and returns a reference.
// Called only on success outcomes.
type PayloadStore interface {
	Persist(ctx context.Context, id caseid.ID, payload []byte) (string, error)
}

// Publisher pushes attempt events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
