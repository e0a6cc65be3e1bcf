// Package script provides a deterministic in-memory Fetcher for tests.
// Tests declare which case numbers have dockets on file and which ones
// should fail, then assert on the calls the crawler made.
package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Fetcher serves scripted results keyed by case number.
type Fetcher struct {
	mu        sync.Mutex
	populated map[int]bool
	failing   map[int]int
	calls     []caseid.ID
	closed    bool
}

// New returns an empty scripted fetcher. Every lookup resolves to
// no_record until ranges are populated.
func New() *Fetcher {
	return &Fetcher{
		populated: make(map[int]bool),
		failing:   make(map[int]int),
	}
}

// PopulateRange marks case numbers from..to inclusive as having dockets.
func (f *Fetcher) PopulateRange(from, to int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for n := from; n <= to; n++ {
		f.populated[n] = true
	}
}

// Populate marks individual case numbers as having dockets.
func (f *Fetcher) Populate(nums ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range nums {
		f.populated[n] = true
	}
}

// FailTimes makes the next n lookups of num return a transport error
// before falling through to the scripted outcome.
func (f *Fetcher) FailTimes(num, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[num] = n
}

// AlwaysFail makes every lookup of num return a transport error.
func (f *Fetcher) AlwaysFail(num int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[num] = -1
}

// Fetch returns the scripted result for the case ID and records the call.
func (f *Fetcher) Fetch(ctx context.Context, id caseid.ID) (crawl.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return crawl.FetchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)

	if left, ok := f.failing[id.Number]; ok && left != 0 {
		if left > 0 {
			f.failing[id.Number] = left - 1
		}
		return crawl.FetchResult{
			Status:     crawl.FetchStatusError,
			StatusCode: 503,
			Err:        fmt.Sprintf("scripted failure for %s", id),
		}, nil
	}
	if f.populated[id.Number] {
		return crawl.FetchResult{
			Status:     crawl.FetchStatusOK,
			StatusCode: 200,
			Payload:    []byte(fmt.Sprintf("<html><body>docket %s</body></html>", id)),
		}, nil
	}
	return crawl.FetchResult{Status: crawl.FetchStatusNoRecord, StatusCode: 200}, nil
}

// Close marks the fetcher closed.
func (f *Fetcher) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns a copy of every case ID fetched so far, in order.
func (f *Fetcher) Calls() []caseid.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]caseid.ID, len(f.calls))
	copy(out, f.calls)
	return out
}

// FetchCount returns the total number of Fetch calls made.
func (f *Fetcher) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Closed reports whether Close was called.
func (f *Fetcher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
