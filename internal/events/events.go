// Package events fans workflow transitions out to audit and integration
// sinks once the owning transaction has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

const (
	DocumentSaved       = "document.saved"
	DocumentSubmitted   = "document.submitted"
	DocumentReEdited    = "document.reedited"
	DocumentApproved    = "document.approved"
	DocumentRejected    = "document.rejected"
	ConflictResolved    = "document.conflict_resolved"
	ReviewDecided       = "review.decided"
	ReviewTransferred   = "review.transferred"
	TaskAssigned        = "task.assigned"
	TaskStatusChanged   = "task.status_changed"
	TaskProgressUpdated = "task.progress_updated"
)

type Event struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"documentId,omitempty"`
	ReviewID   string         `json:"reviewId,omitempty"`
	TaskID     string         `json:"taskId,omitempty"`
	ActorID    string         `json:"actorId"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}

type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Multi publishes to every sink and joins their errors.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one JSON line per event to the standard logger.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, event Event) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	log.Printf("event %s", encoded)
	return nil
}

// Recorder keeps published events in memory, used by tests and for
// inspecting a running process.
type Recorder struct {
	ch chan Event
}

func NewRecorder(buffer int) *Recorder {
	return &Recorder{ch: make(chan Event, buffer)}
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	select {
	case r.ch <- event:
		return nil
	default:
		return errors.New("event recorder full")
	}
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case event := <-r.ch:
			out = append(out, event)
		default:
			return out
		}
	}
}
