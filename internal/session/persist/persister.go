// Package persist drains accepted events to durable storage out-of-band.
//
// Projection updates are visible to participants before durability is
// confirmed; this package guarantees at-least-once delivery to the event
// store with exponential backoff, and never blocks the session loop.
package persist

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/storage"
)

// Option configures a Persister.
type Option func(*Persister)

// WithRetryInterval overrides the initial and maximum retry intervals.
// Used by tests to keep retries fast.
func WithRetryInterval(initial, maxInterval time.Duration) Option {
	return func(p *Persister) {
		p.initialInterval = initial
		p.maxInterval = maxInterval
	}
}

// Persister delivers accepted events to an EventStore with retries.
type Persister struct {
	store storage.EventStore

	initialInterval time.Duration
	maxInterval     time.Duration

	mu    sync.Mutex
	queue []event.Event
	wake  chan struct{}
}

// New creates a Persister writing to the provided store.
func New(store storage.EventStore, opts ...Option) *Persister {
	p := &Persister{
		store:           store,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue stages an event for durable persistence. It never blocks.
func (p *Persister) Enqueue(evt event.Event) {
	p.mu.Lock()
	p.queue = append(p.queue, evt)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet confirmed durable.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run drains the queue until the context is cancelled. Events are persisted
// in enqueue order; a failing store stalls the queue rather than dropping or
// reordering entries.
func (p *Persister) Run(ctx context.Context) {
	for {
		evt, ok := p.peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}

		if err := p.persistOne(ctx, evt); err != nil {
			// Only context cancellation surfaces here; everything else is
			// retried inside persistOne.
			return
		}
		p.pop()
	}
}

func (p *Persister) peek() (event.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return event.Event{}, false
	}
	return p.queue[0], true
}

func (p *Persister) pop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		p.queue = p.queue[1:]
	}
}

func (p *Persister) persistOne(ctx context.Context, evt event.Event) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialInterval
	policy.MaxInterval = p.maxInterval

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := p.store.AppendEvent(ctx, evt); err != nil {
			if attempts == 1 || attempts%10 == 0 {
				log.Printf("persist event failed session_id=%s seq=%d attempts=%d err=%v", evt.SessionID, evt.Seq, attempts, err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(0))
	return err
}
