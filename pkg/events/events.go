// Package events carries order lifecycle notifications from the order book to
// subscribers (websocket hub, Kafka, gossip).
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	OrderPlaced    Kind = "order_placed"
	OrderFilled    Kind = "order_filled"
	OrderCancelled Kind = "order_cancelled"
)

// Event is emitted once per committed book mutation.
type Event struct {
	Kind      Kind      `json:"kind"`
	OrderID   uint64    `json:"order_id"`
	OrderType string    `json:"order_type"`
	Account   string    `json:"account"`
	Record    []string  `json:"record"`
	Pending   bool      `json:"pending"`
	Timestamp time.Time `json:"timestamp"`
}

type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Fanout delivers each event to every registered sink in order. A failing sink
// does not stop delivery to the rest.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *zap.SugaredLogger
}

func NewFanout(log *zap.SugaredLogger, sinks ...Sink) *Fanout {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Fanout{sinks: sinks, log: log}
}

func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	f.mu.RLock()
	sinks := append([]Sink(nil), f.sinks...)
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.log.Warnw("event_sink_failed", "kind", ev.Kind, "order_id", ev.OrderID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
