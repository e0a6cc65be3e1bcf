package sinks

import (
	"context"
	"fmt"

	"github.com/fcdockets/imm-crawler/internal/crawl"
	"github.com/fcdockets/imm-crawler/internal/events"
)

// PublisherSink forwards attempt events to a message topic so downstream
// consumers (e.g. the text classification pipeline) can react to newly
// persisted cases without polling the tracker.
type PublisherSink struct {
	publisher crawl.Publisher
	topic     string
}

// NewPublisherSink builds a sink around the given publisher and topic.
func NewPublisherSink(publisher crawl.Publisher, topic string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &PublisherSink{publisher: publisher, topic: topic}, nil
}

// Consume publishes one message per attempt event. Failed publishes abort
// the batch; the hub logs and moves on, attempts are never re-published.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	for _, evt := range batch {
		if evt.Kind != events.KindAttempt {
			continue
		}
		payload := map[string]any{
			"run_id":      evt.RunID,
			"case_id":     evt.Attempt.Case,
			"attempt":     evt.Attempt.Number,
			"outcome":     string(evt.Attempt.Outcome),
			"status_code": evt.Attempt.StatusCode,
			"probe":       evt.Attempt.Probe,
			"timestamp":   evt.Attempt.At,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
			return fmt.Errorf("publish attempt event: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
