// Package audit aggregates per-attempt events into run statistics and
// writes the audit artifact for each run.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
)

// Summary is the JSON object written once per run.
type Summary struct {
	RunID          string    `json:"run_id"`
	Year           string    `json:"year"`
	StartID        int       `json:"start_id"`
	EndID          int       `json:"end_id"`
	TotalAttempted int       `json:"total_attempted"`
	SuccessCount   int       `json:"success_count"`
	NoRecordCount  int       `json:"no_record_count"`
	FailedCount    int       `json:"failed_count"`
	ProbesUsed     int       `json:"probes_used"`
	Result         string    `json:"result"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Reporter consumes run events, derives the run statistics from them, and
// writes the summary (and optional NDJSON attempt stream) on close. It
// implements events.Sink so it plugs into the hub alongside the other
// sinks; nothing is silently dropped because every attempt flows through
// the same stream.
type Reporter struct {
	mu sync.Mutex

	runID  string
	dir    string
	clock  crawl.Clock
	stream *bufio.Writer
	file   *os.File

	year       string
	startID    int
	endID      int
	probesUsed int
	outcomes   map[string]crawl.Outcome
	result     events.RunResult
	startedAt  time.Time
	finishedAt time.Time
	closed     bool
}

// NewReporter creates a Reporter writing artifacts under dir. When ndjson
// is set, every attempt is also streamed to <run_id>.ndjson as it arrives.
func NewReporter(runID, dir string, ndjson bool, clock crawl.Clock) (*Reporter, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("audit output dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	r := &Reporter{
		runID:    runID,
		dir:      dir,
		clock:    clock,
		outcomes: make(map[string]crawl.Outcome),
		result:   events.RunCanceled,
	}
	if ndjson {
		f, err := os.OpenFile(
			filepath.Join(dir, runID+".ndjson"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0o600,
		)
		if err != nil {
			return nil, fmt.Errorf("open ndjson stream: %w", err)
		}
		r.file = f
		r.stream = bufio.NewWriter(f)
	}
	return r, nil
}

// Consume folds a batch of events into the running aggregate.
func (r *Reporter) Consume(_ context.Context, batch []events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindRunStart:
			r.year = evt.Year
			r.startID = evt.StartID
			r.endID = evt.StartID
			r.startedAt = evt.TS
		case events.KindRunDone:
			r.result = evt.Result
			r.finishedAt = evt.TS
			if evt.Stats != nil && evt.Stats.EndID > r.endID {
				r.endID = evt.Stats.EndID
			}
		case events.KindAttempt:
			if err := r.consumeAttempt(evt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reporter) consumeAttempt(evt events.Event) error {
	att := evt.Attempt
	if att.Probe {
		r.probesUsed++
	} else {
		// The latest outcome per case wins so that an ID retried within
		// the run counts once, in its final bucket.
		r.outcomes[att.Case] = att.Outcome
		if att.CaseID.Number > r.endID {
			r.endID = att.CaseID.Number
		}
	}
	if r.stream == nil {
		return nil
	}
	line, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("marshal attempt line: %w", err)
	}
	if _, err := r.stream.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write attempt line: %w", err)
	}
	return nil
}

// Close flushes the NDJSON stream and writes the summary artifact
// atomically (temp file plus rename).
func (r *Reporter) Close(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if r.stream != nil {
		if err := r.stream.Flush(); err != nil {
			return fmt.Errorf("flush ndjson stream: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close ndjson stream: %w", err)
		}
	}

	summary := r.buildSummary()
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	final := filepath.Join(r.dir, r.runID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}

// Summary returns the current aggregate. Mainly for tests and the progress
// endpoint.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildSummary()
}

func (r *Reporter) buildSummary() Summary {
	s := Summary{
		RunID:      r.runID,
		Year:       r.year,
		StartID:    r.startID,
		EndID:      r.endID,
		ProbesUsed: r.probesUsed,
		Result:     string(r.result),
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
	}
	if s.FinishedAt.IsZero() && r.clock != nil {
		s.FinishedAt = r.clock.Now()
	}
	for _, outcome := range r.outcomes {
		s.TotalAttempted++
		switch outcome {
		case crawl.OutcomeSuccess:
			s.SuccessCount++
		case crawl.OutcomeNoRecord:
			s.NoRecordCount++
		default:
			s.FailedCount++
		}
	}
	return s
}
