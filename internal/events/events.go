// Package events defines the outbound notifications of the analysis pipeline.
package events

import (
	"sync"

	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// BatchStatusChanged is emitted at every batch state transition.
type BatchStatusChanged struct {
	BatchID int64                `json:"batch_id"`
	Status  timeline.BatchStatus `json:"status"`
	Reason  *string              `json:"reason,omitempty"`
}

// TimelineChanged is emitted once per affected day after a range reconciliation.
type TimelineChanged struct {
	DayKey string `json:"day_key"`
}

// Sink receives pipeline events. Implementations must not block the pipeline.
type Sink interface {
	BatchStatusChanged(e BatchStatusChanged)
	TimelineChanged(e TimelineChanged)
}

// Nop discards all events.
type Nop struct{}

func (Nop) BatchStatusChanged(BatchStatusChanged) {}
func (Nop) TimelineChanged(TimelineChanged)       {}

// Event is the envelope delivered by ChannelSink; exactly one field is set.
type Event struct {
	BatchStatus *BatchStatusChanged `json:"batch_status,omitempty"`
	Timeline    *TimelineChanged    `json:"timeline,omitempty"`
}

// ChannelSink forwards events to a buffered channel. When the buffer is
// full the event is dropped and counted.
type ChannelSink struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was full.
func (s *ChannelSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ChannelSink) BatchStatusChanged(e BatchStatusChanged) {
	s.send(Event{BatchStatus: &e})
}

func (s *ChannelSink) TimelineChanged(e TimelineChanged) {
	s.send(Event{Timeline: &e})
}

func (s *ChannelSink) send(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// LogSink writes events to a logger.
type LogSink struct {
	Log *logging.Logger
}

func (s LogSink) BatchStatusChanged(e BatchStatusChanged) {
	reason := ""
	if e.Reason != nil {
		reason = *e.Reason
	}
	s.Log.Info("batch status changed", "batch_id", e.BatchID, "status", string(e.Status), "reason", reason)
}

func (s LogSink) TimelineChanged(e TimelineChanged) {
	s.Log.Info("timeline changed", "day_key", e.DayKey)
}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) BatchStatusChanged(e BatchStatusChanged) {
	for _, s := range m {
		s.BatchStatusChanged(e)
	}
}

func (m Multi) TimelineChanged(e TimelineChanged) {
	for _, s := range m {
		s.TimelineChanged(e)
	}
}
