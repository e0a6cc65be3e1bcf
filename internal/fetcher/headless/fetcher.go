// Package headless implements the Fetcher capability on top of chromedp
// for when the docket site only renders results with JavaScript enabled.
package headless

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/fcdockets/imm-crawler/internal/caseid"
	"github.com/fcdockets/imm-crawler/internal/crawl"
)

// Config holds the knobs for the headless fetcher.
type Config struct {
	BaseURL        string
	UserAgent      string
	NavTimeout     time.Duration
	NoRecordMarker string
}

// Fetcher renders docket pages in a single headless Chrome instance.
// Lookups are serialized; the registry is rate limited upstream anyway.
type Fetcher struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	cfg             Config
	logger          *zap.Logger
	mu              sync.Mutex
}

// New starts a headless browser and warms it up. The returned Fetcher
// owns the browser and must be closed.
func New(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fetcher base_url is required")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Fetcher{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// Fetch navigates to the lookup URL for the case ID, waits for the page
// body, and classifies the rendered document.
func (f *Fetcher) Fetch(ctx context.Context, id caseid.ID) (crawl.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.lookupURL(id)

	tabCtx, cancelTab := chromedp.NewContext(f.browserCtx)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, f.cfg.NavTimeout)
	defer cancelTask()

	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
		})
	})

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawl.FetchResult{}, ctxErr
		}
		f.logger.Debug("headless navigation failed",
			zap.String("case_id", id.String()), zap.Error(err))
		return crawl.FetchResult{
			Status:     crawl.FetchStatusError,
			StatusCode: meta.statusCode,
			Err:        fmt.Sprintf("chromedp run: %v", err),
		}, nil
	}

	status := meta.statusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		return crawl.FetchResult{
			Status:     crawl.FetchStatusError,
			StatusCode: status,
			Err:        fmt.Sprintf("unexpected status %d", status),
		}, nil
	}
	body := []byte(html)
	if f.cfg.NoRecordMarker != "" &&
		bytes.Contains(bytes.ToLower(body), []byte(strings.ToLower(f.cfg.NoRecordMarker))) {
		return crawl.FetchResult{Status: crawl.FetchStatusNoRecord, StatusCode: status}, nil
	}
	return crawl.FetchResult{
		Status:     crawl.FetchStatusOK,
		StatusCode: status,
		Payload:    body,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (f *Fetcher) Close(context.Context) error {
	if f == nil {
		return nil
	}
	f.browserCancel()
	f.allocatorCancel()
	return nil
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

type responseMeta struct {
	once       sync.Once
	statusCode int
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
