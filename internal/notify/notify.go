// Package notify emits one publication event per matched subscriber.
//
// Emission is fire-and-forget: sink failures are logged and never change the
// outcome of the publish that produced them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"

	"HubRelay/internal/core/network"
)

var log = logging.Logger("notify")

// InboxPrefix is the transport topic prefix of per-subscriber inboxes.
const InboxPrefix = "/hubrelay/inbox/"

// InboxTopic is the transport topic notifications for subscriber are published on.
func InboxTopic(subscriber peer.ID) string {
	return InboxPrefix + subscriber.String()
}

// Event is one publication delivered to one subscriber.
type Event struct {
	ID         string    `json:"id"`
	Hub        string    `json:"hub"`
	Publisher  peer.ID   `json:"publisher"`
	Subscriber peer.ID   `json:"subscriber"`
	Topic      string    `json:"topic"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// NewEvent stamps an event with a fresh ID.
func NewEvent(hub string, publisher, subscriber peer.ID, topic, message string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Hub:        hub,
		Publisher:  publisher,
		Subscriber: subscriber,
		Topic:      topic,
		Message:    message,
		At:         at,
	}
}

// Sink consumes events.
type Sink interface {
	Emit(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Emit(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Emitter fans events out to its sinks.
type Emitter struct {
	sinks []Sink
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Emit hands every event to every sink, in order. It never fails.
func (e *Emitter) Emit(ctx context.Context, events []Event) {
	for _, evt := range events {
		for _, s := range e.sinks {
			if err := s.Emit(ctx, evt); err != nil {
				log.Warnw("notification sink failed", "event", evt.ID, "subscriber", evt.Subscriber, "error", err)
			}
		}
	}
}

// TransportSink publishes each event as JSON on the subscriber's inbox topic.
type TransportSink struct {
	ps network.PubSub
}

func NewTransportSink(ps network.PubSub) *TransportSink {
	return &TransportSink{ps: ps}
}

func (s *TransportSink) Emit(_ context.Context, evt Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.ps.Publish(InboxTopic(evt.Subscriber), b)
}

// LogSink writes each event to the notify logger at debug level.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, evt Event) error {
	log.Debugw("publication", "hub", evt.Hub, "publisher", evt.Publisher, "subscriber", evt.Subscriber, "topic", evt.Topic)
	return nil
}

// Recorder keeps emitted events in memory for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Decode parses an event received from a transport.
func Decode(payload []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}
