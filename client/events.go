package client

import (
	"context"
	"sync"

	"github.com/MrEthical07/linkauth"
)

// Event names an auth state transition.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Valid reports whether e is a known event.
func (e Event) Valid() bool {
	switch e {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed, EventUserUpdated:
		return true
	}
	return false
}

// Listener receives an event and the session after the transition. The
// session is nil for EventSignedOut.
type Listener func(event Event, session *linkauth.Session)

// Subscription is the handle returned by OnAuthStateChange.
type Subscription struct {
	c    *Client
	id   uint64
	once sync.Once
}

// Unsubscribe removes the listener. Only the first call has an effect.
// Events already queued for the listener are skipped.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.c == nil {
		return
	}
	s.once.Do(func() {
		s.c.removeListener(s.id)
	})
}

type delivery struct {
	event     Event
	session   *linkauth.Session
	listeners []uint64
	done      chan struct{}
}

// dispatcher is an unbounded FIFO drained by one goroutine. Enqueue never
// blocks, so listeners may call back into the client.
type dispatcher struct {
	mu      sync.Mutex
	queue   []delivery
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
	deliver func(delivery)
}

func newDispatcher(deliver func(delivery)) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		deliver: deliver,
	}
	go d.run()
	return d
}

// enqueue reports false once close has begun; the item is dropped.
func (d *dispatcher) enqueue(item delivery) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, item)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.mu.Unlock()
			select {
			case <-d.wake:
				continue
			case <-d.stop:
				// Drain anything enqueued before stop.
				d.mu.Lock()
				empty := len(d.queue) == 0
				d.mu.Unlock()
				if empty {
					return
				}
				continue
			}
		}
		item := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(item)
		if item.done != nil {
			close(item.done)
		}
	}
}

// flush waits until every delivery enqueued before the call has run.
func (d *dispatcher) flush(ctx context.Context) error {
	done := make(chan struct{})
	if !d.enqueue(delivery{done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	close(d.stop)
	<-d.stopped
}
