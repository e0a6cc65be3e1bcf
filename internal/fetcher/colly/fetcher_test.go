package colly

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

const marker = "No record found for this case number"

type registryStub struct {
	mu       sync.Mutex
	requests []string
	handler  func(w http.ResponseWriter, caseNumber string)
}

func (s *registryStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	caseNumber := r.URL.Query().Get("caseNumber")
	s.mu.Lock()
	s.requests = append(s.requests, caseNumber)
	s.mu.Unlock()
	s.handler(w, caseNumber)
}

func (s *registryStub) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func newFetcher(t *testing.T, baseURL string) *Fetcher {
	t.Helper()
	f, err := New(Config{
		BaseURL:        baseURL,
		UserAgent:      "imm-crawler-test/1.0",
		NoRecordMarker: marker,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestFetchClassifiesOK(t *testing.T) {
	stub := &registryStub{handler: func(w http.ResponseWriter, caseNumber string) {
		fmt.Fprintf(w, "<html><body>Docket for %s</body></html>", caseNumber)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	f := newFetcher(t, srv.URL)
	res, err := f.Fetch(context.Background(), caseid.ID{Year: "25", Number: 42})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchStatusOK, res.Status)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(res.Payload), "Docket for IMM-42-25")
	require.Equal(t, []string{"IMM-42-25"}, stub.seen())
}

func TestFetchClassifiesNoRecord(t *testing.T) {
	stub := &registryStub{handler: func(w http.ResponseWriter, _ string) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", marker)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	f := newFetcher(t, srv.URL)
	res, err := f.Fetch(context.Background(), caseid.ID{Year: "25", Number: 9000})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchStatusNoRecord, res.Status)
	require.Empty(t, res.Payload)
}

func TestFetchMarkerMatchIsCaseInsensitive(t *testing.T) {
	stub := &registryStub{handler: func(w http.ResponseWriter, _ string) {
		fmt.Fprint(w, "<html><body>NO RECORD FOUND FOR THIS CASE NUMBER</body></html>")
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	f := newFetcher(t, srv.URL)
	res, err := f.Fetch(context.Background(), caseid.ID{Year: "25", Number: 1})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchStatusNoRecord, res.Status)
}

func TestFetchClassifiesServerError(t *testing.T) {
	stub := &registryStub{handler: func(w http.ResponseWriter, _ string) {
		http.Error(w, "registry offline", http.StatusServiceUnavailable)
	}}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	f := newFetcher(t, srv.URL)
	res, err := f.Fetch(context.Background(), caseid.ID{Year: "25", Number: 7})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchStatusError, res.Status)
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	require.NotEmpty(t, res.Err)
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close() // connection refused from here on

	f := newFetcher(t, target)
	res, err := f.Fetch(context.Background(), caseid.ID{Year: "25", Number: 7})
	require.NoError(t, err)
	require.Equal(t, crawl.FetchStatusError, res.Status)
	require.NotEmpty(t, res.Err)
}

func TestLookupURLForms(t *testing.T) {
	f := newFetcher(t, "https://registry.example/dockets/%s")
	require.Equal(t,
		"https://registry.example/dockets/IMM-42-25",
		f.lookupURL(caseid.ID{Year: "25", Number: 42}))

	f = newFetcher(t, "https://registry.example/search?lang=en")
	require.Equal(t,
		"https://registry.example/search?lang=en&caseNumber=IMM-42-25",
		f.lookupURL(caseid.ID{Year: "25", Number: 42}))

	f = newFetcher(t, "https://registry.example/search")
	require.Equal(t,
		"https://registry.example/search?caseNumber=IMM-42-25",
		f.lookupURL(caseid.ID{Year: "25", Number: 42}))
}
