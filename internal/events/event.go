// Package events defines the run-event stream emitted by the crawl
// pipeline and the hub that fans it out to sinks.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindRunStart Kind = "RUN_START"
	KindAttempt  Kind = "ATTEMPT"
	KindRunDone  Kind = "RUN_DONE"
)

// RunResult is the coarse outcome of a whole run.
type RunResult string

// Run results reported on RUN_DONE events.
const (
	RunCompleted RunResult = "completed"
	RunAborted   RunResult = "aborted"
	RunCanceled  RunResult = "canceled"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the run emitting the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Year scopes the event to an ID partition.
	Year string
	// StartID is set on RUN_START.
	StartID int
	// Attempt carries the fetch attempt for ATTEMPT events.
	Attempt *crawl.Attempt
	// Stats carries the scheduler's view of the run on RUN_DONE.
	Stats *crawl.Stats
	// Result is the run outcome on RUN_DONE.
	Result RunResult
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart:
	case KindAttempt:
		if e.Attempt == nil {
			return errors.New("attempt event requires attempt payload")
		}
	case KindRunDone:
		if e.Result == "" {
			return errors.New("run done requires a result")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
