// Package status carries request lifecycle events to best-effort observers.
// Emitting never blocks and never fails the caller.
package status

import (
	"time"

	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/xpost"
)

// Status is a lifecycle state of a request.
type Status string

const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// Terminal reports whether s ends a request.
func (s Status) Terminal() bool { return s == Completed || s == Failed }

// Event is one lifecycle transition.
type Event struct {
	Destination   string             `json:"destination"`
	Platform      string             `json:"platform"`
	Status        Status             `json:"status"`
	CorrelationID string             `json:"correlationId"`
	Kind          string             `json:"kind"`
	Priority      string             `json:"priority,omitempty"`
	DryRun        bool               `json:"dryRun,omitempty"`
	Task          string             `json:"task,omitempty"`
	PostID        string             `json:"postId,omitempty"`
	Error         *xpost.ResultError `json:"error,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

type multi []Sink

// Multi fans an event out to every sink, isolating each from the others.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(ev Event) {
	for _, s := range m {
		Safe(s).Emit(ev)
	}
}

type safe struct{ s Sink }

// Safe wraps s so that a panicking sink is logged and swallowed.
func Safe(s Sink) Sink {
	if s == nil {
		return Discard
	}
	if _, ok := s.(safe); ok {
		return s
	}
	return safe{s: s}
}

func (s safe) Emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logutil.Logger().Warn("status sink failed", "status", ev.Status, "destination", ev.Destination, "panic", r)
		}
	}()
	s.s.Emit(ev)
}

// LogSink writes events to the process logger at debug level.
type LogSink struct{}

func (LogSink) Emit(ev Event) {
	logutil.Logger().Debug("status", "destination", ev.Destination, "status", ev.Status, "correlation_id", ev.CorrelationID, "kind", ev.Kind, "post_id", ev.PostID)
}
