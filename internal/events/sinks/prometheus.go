package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fcdockets/imm-crawler/internal/events"
)

// PrometheusSink exports crawl metrics. It owns all collectors for run
// lifecycle and per-attempt counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	probes        prometheus.Counter
	waitSeconds   prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immcrawl_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "immcrawl_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "immcrawl_attempts_total",
			Help: "Fetch attempts partitioned by outcome and phase.",
		}, []string{"outcome", "phase"}),
		probes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immcrawl_boundary_probes_total",
			Help: "Existence probes issued during boundary discovery.",
		}),
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "immcrawl_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the rate limiter before each fetch.",
			Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.attempts,
		s.probes,
		s.waitSeconds,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case events.KindRunStart:
			s.runsStarted.Inc()
		case events.KindRunDone:
			s.runsCompleted.WithLabelValues(string(evt.Result)).Inc()
		case events.KindAttempt:
			phase := "traversal"
			if evt.Attempt.Probe {
				phase = "probe"
				s.probes.Inc()
			}
			s.attempts.WithLabelValues(string(evt.Attempt.Outcome), phase).Inc()
			if evt.Attempt.Wait > 0 {
				s.waitSeconds.Observe(evt.Attempt.Wait.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
