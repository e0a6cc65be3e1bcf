// Package memory provides an in-process publisher for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is a published payload with the topic it was sent to.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records published messages instead of sending them anywhere.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	next     int
}

// New creates an empty recording publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish stores the message and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.next), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }
