// Package events publishes delivery run lifecycle notifications.
//
// Events are published to "<subject>.<phase>", for example
// "eventforge.runs.started" and "eventforge.runs.completed". Publishing is
// fire and forget: a failed publish never affects the run.
package events

import (
	"context"
	"sync"
	"time"
)

// Phase is a point in a run's lifecycle.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// RunEvent describes one lifecycle transition of a delivery run. It never
// carries destination secrets.
type RunEvent struct {
	RunID         string    `json:"run_id"`
	Phase         Phase     `json:"phase"`
	DestinationID string    `json:"destination_id"`
	Transport     string    `json:"transport"`
	Generator     string    `json:"generator"`
	Delivered     int       `json:"delivered,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, ev RunEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, RunEvent) error { return nil }
func (Nop) Close() error                            { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []RunEvent
}

func (r *Recorder) Publish(_ context.Context, ev RunEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RunEvent(nil), r.events...)
}
