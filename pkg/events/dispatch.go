package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrDispatcherClosed = errors.New("events: dispatcher closed")

// Dispatcher queues events and delivers them to a sink from one goroutine,
// in publish order. Publish never waits on the sink, so a caller holding a
// lock is not held up by a slow broker.
type Dispatcher struct {
	sink Sink
	log  *zap.SugaredLogger

	mu     sync.Mutex
	queue  []queued
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

type queued struct {
	ctx context.Context
	ev  Event
}

func NewDispatcher(sink Sink, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	d := &Dispatcher{
		sink: sink,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues ev. Delivery keeps ctx values but not its cancellation,
// since the caller's request usually ends before the event is sent.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.queue = append(d.queue, queued{ctx: context.WithoutCancel(ctx), ev: ev})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending is the number of queued, undelivered events
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting events and waits until the queue is drained
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			batch := d.queue
			d.queue = nil
			closed := d.closed
			d.mu.Unlock()

			for _, q := range batch {
				if err := d.sink.Publish(q.ctx, q.ev); err != nil {
					d.log.Debugw("event_dispatch_failed", "kind", q.ev.Kind, "order_id", q.ev.OrderID, "err", err)
				}
			}
			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}
