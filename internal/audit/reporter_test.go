package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func attemptEvent(num int, attempt int, outcome crawl.Outcome, probe bool) events.Event {
	id := caseid.ID{Year: "25", Number: num}
	return events.Event{
		RunID: "run-1",
		TS:    testNow,
		Kind:  events.KindAttempt,
		Year:  "25",
		Attempt: &crawl.Attempt{
			CaseID:  id,
			Case:    id.String(),
			Number:  attempt,
			Outcome: outcome,
			Probe:   probe,
			At:      testNow,
		},
	}
}

func TestReporterAggregatesRun(t *testing.T) {
	dir := t.TempDir()
	r, err := NewReporter("run-1", dir, false, fixedClock{t: testNow})
	require.NoError(t, err)
	ctx := context.Background()

	batch := []events.Event{
		{RunID: "run-1", TS: testNow, Kind: events.KindRunStart, Year: "25", StartID: 30},
		attemptEvent(45, 1, crawl.OutcomeNoRecord, true), // probe, not a traversal case
		attemptEvent(30, 1, crawl.OutcomeSuccess, false),
		attemptEvent(31, 1, crawl.OutcomeFailed, false),
		attemptEvent(31, 2, crawl.OutcomeSuccess, false), // retried within the run
		attemptEvent(32, 1, crawl.OutcomeNoRecord, false),
		attemptEvent(33, 1, crawl.OutcomeFailed, false),
		{
			RunID: "run-1", TS: testNow.Add(time.Minute), Kind: events.KindRunDone, Year: "25",
			Stats:  &crawl.Stats{StartID: 30, EndID: 33},
			Result: events.RunCompleted,
		},
	}
	require.NoError(t, r.Consume(ctx, batch))

	s := r.Summary()
	require.Equal(t, "run-1", s.RunID)
	require.Equal(t, "25", s.Year)
	require.Equal(t, 30, s.StartID)
	require.Equal(t, 33, s.EndID)
	require.Equal(t, 4, s.TotalAttempted, "a case retried within the run counts once")
	require.Equal(t, 2, s.SuccessCount)
	require.Equal(t, 1, s.NoRecordCount)
	require.Equal(t, 1, s.FailedCount)
	require.Equal(t, s.TotalAttempted, s.SuccessCount+s.NoRecordCount+s.FailedCount)
	require.Equal(t, 1, s.ProbesUsed)
	require.Equal(t, string(events.RunCompleted), s.Result)
	require.Equal(t, testNow, s.StartedAt)
	require.Equal(t, testNow.Add(time.Minute), s.FinishedAt)
}

func TestCloseWritesSummaryArtifact(t *testing.T) {
	dir := t.TempDir()
	r, err := NewReporter("run-9", dir, false, fixedClock{t: testNow})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Consume(ctx, []events.Event{
		{RunID: "run-9", TS: testNow, Kind: events.KindRunStart, Year: "25", StartID: 1},
		attemptEvent(1, 1, crawl.OutcomeSuccess, false),
		{
			RunID: "run-9", TS: testNow, Kind: events.KindRunDone, Year: "25",
			Stats: &crawl.Stats{StartID: 1, EndID: 1}, Result: events.RunCompleted,
		},
	}))
	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx), "close is idempotent")

	data, err := os.ReadFile(filepath.Join(dir, "run-9.json"))
	require.NoError(t, err)

	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	require.Equal(t, "run-9", s.RunID)
	require.Equal(t, 1, s.SuccessCount)
	require.Equal(t, string(events.RunCompleted), s.Result)

	_, err = os.Stat(filepath.Join(dir, "run-9.json.tmp"))
	require.True(t, os.IsNotExist(err), "the temp file is renamed away")
}

func TestNDJSONStream(t *testing.T) {
	dir := t.TempDir()
	r, err := NewReporter("run-2", dir, true, fixedClock{t: testNow})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Consume(ctx, []events.Event{
		attemptEvent(30, 1, crawl.OutcomeNoRecord, false),
		attemptEvent(31, 1, crawl.OutcomeSuccess, false),
	}))
	require.NoError(t, r.Close(ctx))

	f, err := os.Open(filepath.Join(dir, "run-2.ndjson"))
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	require.Equal(t, "IMM-30-25", lines[0]["case_id"])
	require.Equal(t, "no-record", lines[0]["outcome"])
	require.Equal(t, float64(1), lines[0]["attempt"])
}

func TestNewReporterValidatesInputs(t *testing.T) {
	_, err := NewReporter("", t.TempDir(), false, fixedClock{t: testNow})
	require.Error(t, err)
	_, err = NewReporter("run-1", "", false, fixedClock{t: testNow})
	require.Error(t, err)
}
