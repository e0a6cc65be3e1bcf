// Package ratelimit enforces polite inter-request spacing with jitter and
// exponential backoff on failure.
package ratelimit

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	DelayMin      time.Duration
	DelayMax      time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
}

// Limiter spaces out requests issued by a single run. It is owned by the
// run and passed explicitly into every component that issues requests; there
// is no ambient global state. Waiting is the only intentional blocking
// operation in the crawl pipeline.
type Limiter struct {
	cfg   Config
	floor *rate.Limiter

	mu       sync.Mutex
	backoff  time.Duration
	lastWait time.Duration
}

// New creates a Limiter. Zero or inverted delays are normalized so the
// limiter never issues back-to-back requests.
func New(cfg Config) *Limiter {
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = time.Second
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1.5
	}
	if cfg.MaxBackoff < cfg.DelayMax {
		cfg.MaxBackoff = cfg.DelayMax
	}
	return &Limiter{
		cfg:   cfg,
		floor: rate.NewLimiter(rate.Every(cfg.DelayMin), 1),
	}
}

// Wait blocks until the next request may be issued and returns the actual
// elapsed wait for observability. The wait is never shorter than DelayMin,
// is randomized up to DelayMax, and stretches to the current backoff delay
// after recorded failures.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	// Absolute floor between any two requests issued by this run.
	if err := l.floor.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}

	target := l.nextDelay()
	if remaining := target - time.Since(start); remaining > 0 {
		if err := sleep(ctx, remaining); err != nil {
			return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
		}
	}

	elapsed := time.Since(start)
	l.mu.Lock()
	l.lastWait = elapsed
	l.mu.Unlock()
	return elapsed, nil
}

// RecordFailure multiplies the backoff delay, capped at MaxBackoff. The
// base is the largest of the current backoff, the last observed wait, and
// DelayMin, so consecutive failures always stretch the next wait.
func (l *Limiter) RecordFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()
	base := l.backoff
	if l.lastWait > base {
		base = l.lastWait
	}
	if base < l.cfg.DelayMin {
		base = l.cfg.DelayMin
	}
	next := time.Duration(float64(base) * l.cfg.BackoffFactor)
	if next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	l.backoff = next
}

// Reset restores the base delay after a success.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.backoff = 0
	l.mu.Unlock()
}

// Backoff returns the current backoff delay (zero when at the base rate).
func (l *Limiter) Backoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

func (l *Limiter) nextDelay() time.Duration {
	l.mu.Lock()
	backoff := l.backoff
	l.mu.Unlock()

	d := l.cfg.DelayMin + randomJitter(l.cfg.DelayMax-l.cfg.DelayMin)
	if backoff > d {
		d = backoff
	}
	if d > l.cfg.MaxBackoff {
		d = l.cfg.MaxBackoff
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
