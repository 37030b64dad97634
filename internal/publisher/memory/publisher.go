// Package memory provides a Publisher that keeps image-completion events
// in process instead of sending them to a broker. It backs the "memory"
// publisher provider and lets tests assert what a drain announced.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one recorded announcement: the topic and the completion
// payload emitted after a captured image lands in the blob store.
type Event struct {
	Topic   string
	Payload any
}

// Publisher accumulates events in publish order. Safe for concurrent use.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty in-process Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a synthetic message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Routes extracts the route field from each completion payload, in
// publish order. Payloads without a route are skipped.
func (p *Publisher) Routes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var routes []string
	for _, evt := range p.events {
		fields, ok := evt.Payload.(map[string]any)
		if !ok {
			continue
		}
		if route, ok := fields["route"].(string); ok {
			routes = append(routes, route)
		}
	}
	return routes
}
