// Package crawl defines core types shared across subsystems.
package crawl

import (
	"time"

	"github.com/fcdockets/imm-crawler/internal/caseid"
)

// Outcome is the classified result of one fetch attempt.
type Outcome string

// Outcome values recorded per attempt.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeNoRecord Outcome = "no-record"
	OutcomeFailed   Outcome = "failed"
)

// Status represents the lifecycle state of a tracked case record.
type Status string

// Status values persisted in the tracker.
const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusNoData  Status = "no_data"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status means the case must never be
// re-fetched (absent an operator force-override).
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusNoData
}

// FetchStatus is the raw signal returned by a Fetcher implementation.
type FetchStatus string

// Fetch status values. NoRecord is a deterministic site marker resolved by
// the fetcher; the core never inspects page content itself.
const (
	FetchStatusOK       FetchStatus = "ok"
	FetchStatusNoRecord FetchStatus = "no_record"
	FetchStatusError    FetchStatus = "error"
)

// FetchResult is what a Fetcher hands back for a single case ID.
type FetchResult struct {
	Status     FetchStatus
	Payload    []byte
	StatusCode int
	Err        string
}

// Attempt captures one fetch try. Attempts are append-only; many may exist
// per case ID.
type Attempt struct {
	CaseID     caseid.ID     `json:"-"`
	Case       string        `json:"case_id"`
	Number     int           `json:"attempt"`
	Outcome    Outcome       `json:"outcome"`
	StatusCode int           `json:"status_code,omitempty"`
	Err        string        `json:"error,omitempty"`
	Wait       time.Duration `json:"-"`
	Probe      bool          `json:"probe,omitempty"`
	At         time.Time     `json:"timestamp"`
}

// Record is the durable per-case row owned by the tracker. One record per
// case ID, created lazily on the first attempt.
type Record struct {
	CaseID        caseid.ID
	Status        Status
	RetryCount    int
	LastError     string
	LastAttemptAt time.Time
	PayloadRef    string
}

// Boundary caches the discovered upper bound for a year partition.
type Boundary struct {
	Year         string
	UpperBound   int
	DiscoveredAt time.Time
}

// Expired reports whether the cached boundary is older than ttl at now.
func (b Boundary) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(b.DiscoveredAt) > ttl
}

// Stats aggregates one run. TotalAttempted always equals the sum of the
// three outcome counters for a completed run.
type Stats struct {
	StartID        int `json:"start_id"`
	EndID          int `json:"end_id"`
	TotalAttempted int `json:"total_attempted"`
	SuccessCount   int `json:"success_count"`
	NoRecordCount  int `json:"no_record_count"`
	FailedCount    int `json:"failed_count"`
}
