// Package colly implements the Fetcher capability with a plain HTTP
// collector. One request per case lookup, no revisit caching.
package colly

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Config holds the knobs for the HTTP fetcher.
type Config struct {
	// BaseURL is the docket lookup endpoint. A %s placeholder is replaced
	// with the case ID; otherwise the ID is appended as ?caseNumber=.
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	// NoRecordMarker is the phrase the registry renders when a case
	// number has no docket on file.
	NoRecordMarker string
}

// Fetcher retrieves docket pages via a Colly collector.
type Fetcher struct {
	base   *colly.Collector
	cfg    Config
	logger *zap.Logger
}

// New constructs a configured Colly-based Fetcher.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fetcher base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base_url: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          4,
		MaxConnsPerHost:       2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Fetcher{base: base, cfg: cfg, logger: logger}, nil
}

// Fetch performs a single lookup for the case ID and maps the response
// onto a FetchResult. The result statuses are:
//   - ok: 2xx with body content and no no-record marker
//   - no_record: 2xx whose body contains the no-record marker
//   - error: non-2xx responses and transport failures
func (f *Fetcher) Fetch(ctx context.Context, id caseid.ID) (crawl.FetchResult, error) {
	target := f.lookupURL(id)

	collector := f.base.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() { resultCh <- res })
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{
			statusCode: r.StatusCode,
			body:       append([]byte{}, r.Body...),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		res := fetchResult{err: err}
		if r != nil {
			res.statusCode = r.StatusCode
		}
		send(res)
	})

	// A non-2xx status or transport failure surfaces both through OnError
	// and as the Visit return value; the callback result carries the
	// status code, so prefer it when present.
	visitErr := collector.Visit(target)
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return crawl.FetchResult{}, err
	}

	select {
	case res := <-resultCh:
		return f.classifyResponse(id, res), nil
	default:
	}
	if visitErr != nil {
		return crawl.FetchResult{Status: crawl.FetchStatusError, Err: visitErr.Error()}, nil
	}
	return crawl.FetchResult{
		Status: crawl.FetchStatusError,
		Err:    "fetch produced no response",
	}, nil
}

// Close releases nothing; the collector holds no long-lived resources.
func (f *Fetcher) Close(context.Context) error { return nil }

func (f *Fetcher) classifyResponse(id caseid.ID, res fetchResult) crawl.FetchResult {
	if res.err != nil {
		f.logger.Debug("fetch transport error",
			zap.String("case_id", id.String()),
			zap.Int("status_code", res.statusCode),
			zap.Error(res.err))
		return crawl.FetchResult{
			Status:     crawl.FetchStatusError,
			StatusCode: res.statusCode,
			Err:        res.err.Error(),
		}
	}
	if res.statusCode < 200 || res.statusCode > 299 {
		return crawl.FetchResult{
			Status:     crawl.FetchStatusError,
			StatusCode: res.statusCode,
			Err:        fmt.Sprintf("unexpected status %d", res.statusCode),
		}
	}
	if f.cfg.NoRecordMarker != "" &&
		bytes.Contains(bytes.ToLower(res.body), []byte(strings.ToLower(f.cfg.NoRecordMarker))) {
		return crawl.FetchResult{
			Status:     crawl.FetchStatusNoRecord,
			StatusCode: res.statusCode,
		}
	}
	return crawl.FetchResult{
		Status:     crawl.FetchStatusOK,
		StatusCode: res.statusCode,
		Payload:    res.body,
	}
}

func (f *Fetcher) lookupURL(id caseid.ID) string {
	if strings.Contains(f.cfg.BaseURL, "%s") {
		return fmt.Sprintf(f.cfg.BaseURL, url.QueryEscape(id.String()))
	}
	sep := "?"
	if strings.Contains(f.cfg.BaseURL, "?") {
		sep = "&"
	}
	return f.cfg.BaseURL + sep + "caseNumber=" + url.QueryEscape(id.String())
}

type fetchResult struct {
	statusCode int
	body       []byte
	err        error
}
