package coordinator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/projection"
)

// Handle is one connection's attachment to a live session.
//
// A handle is created on attach and destroyed on detach; it never outlives
// the underlying transport connection. Deliveries carry accepted deltas in
// commit order; the channel is closed when the handle is detached.
type Handle struct {
	sessionID string
	identity  domain.Identity

	deliveries     chan projection.Delta
	done           chan struct{}
	doneOnce       sync.Once
	deliveriesOnce sync.Once

	// lastActive is unix nanos of the most recent client activity.
	lastActive atomic.Int64
}

func newHandle(sessionID string, identity domain.Identity, buffer int, now time.Time) *Handle {
	h := &Handle{
		sessionID:  sessionID,
		identity:   identity,
		deliveries: make(chan projection.Delta, buffer),
		done:       make(chan struct{}),
	}
	h.lastActive.Store(now.UnixNano())
	return h
}

// SessionID returns the session this handle is attached to.
func (h *Handle) SessionID() string {
	return h.sessionID
}

// Identity returns the authenticated identity behind the handle.
func (h *Handle) Identity() domain.Identity {
	return h.identity
}

// Deliveries returns the ordered stream of accepted deltas. The channel is
// closed once the handle is detached.
func (h *Handle) Deliveries() <-chan projection.Delta {
	return h.deliveries
}

// Done is closed when the handle has been detached, including forced
// detachment by idle eviction or replacement on reconnect.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Touch records client activity for idle-eviction bookkeeping.
func (h *Handle) Touch(now time.Time) {
	h.lastActive.Store(now.UnixNano())
}

func (h *Handle) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, h.lastActive.Load()))
}

// markDone signals detachment without touching the deliveries channel, so it
// is safe from any goroutine. offer checks done before sending, which keeps a
// concurrent broadcast from writing into a closed channel.
func (h *Handle) markDone() {
	h.doneOnce.Do(func() {
		close(h.done)
	})
}

// close marks the handle detached and closes the deliveries channel. Only the
// owning session goroutine may call it; everyone else uses markDone.
func (h *Handle) close() {
	h.markDone()
	h.deliveriesOnce.Do(func() {
		close(h.deliveries)
	})
}

// offer enqueues a delta without blocking. It reports false when the
// subscriber's buffer is full, signalling a slow consumer.
func (h *Handle) offer(delta projection.Delta) bool {
	select {
	case <-h.done:
		return true
	default:
	}
	select {
	case h.deliveries <- delta:
		return true
	default:
		return false
	}
}
