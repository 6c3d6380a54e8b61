// Package coordinator owns live session state and connection fan-out.
//
// Each live session is served by a single goroutine that forms the session's
// serialization point: access checks, sequence assignment, projection folds,
// and broadcast all happen inside it, so every participant observes the same
// total event order. Sessions outlive connections; the registry hydrates a
// session from storage on first attach and keeps it resident until shutdown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/session/persist"
	"github.com/louisbranch/gametable/internal/session/policy"
	"github.com/louisbranch/gametable/internal/session/projection"
	"github.com/louisbranch/gametable/internal/storage"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	defaultSendBuffer  = 64
)

// Stores bundles the persistence dependencies of the registry.
type Stores struct {
	Sessions storage.SessionStore
	Events   storage.EventStore
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIdleTimeout sets how long a connection may stay silent before the
// registry detaches it. Zero disables idle eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithSendBuffer sets the per-connection delivery buffer. A connection that
// falls this many deltas behind is evicted rather than allowed to stall the
// session.
func WithSendBuffer(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.sendBuffer = n
		}
	}
}

// Command describes one state-changing action submitted through a handle.
type Command struct {
	Action policy.Action
	Type   event.Type
	// TargetCharacterID scopes character mutations for the access check.
	TargetCharacterID string
	// Payload is the typed event payload; it is journaled as JSON.
	Payload any
}

// Snapshot is the attach response: the session record, the full projection at
// the moment of attach, and the currently connected participants. Deltas
// delivered on the handle strictly follow the snapshot's sequence number.
type Snapshot struct {
	Session domain.Session
	State   projection.GameState
	Players []domain.Identity
}

// Registry tracks live sessions and routes connections to them.
type Registry struct {
	stores    Stores
	persister *persist.Persister

	now         func() time.Time
	idleTimeout time.Duration
	sendBuffer  int
	tracer      trace.Tracer

	mu     sync.Mutex
	live   map[string]*liveSession
	closed bool
}

// NewRegistry creates a Registry backed by the given stores. Accepted events
// are handed to the persister for durable storage out-of-band.
func NewRegistry(stores Stores, persister *persist.Persister, opts ...Option) *Registry {
	r := &Registry{
		stores:      stores,
		persister:   persister,
		now:         time.Now,
		idleTimeout: defaultIdleTimeout,
		sendBuffer:  defaultSendBuffer,
		tracer:      otel.Tracer("gametable/coordinator"),
		live:        make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSession registers a new planned session for a campaign.
func (r *Registry) CreateSession(ctx context.Context, input domain.CreateSessionInput) (domain.Session, error) {
	session, err := domain.CreateSession(input, r.now, nil)
	if err != nil {
		return domain.Session{}, err
	}
	if err := r.stores.Sessions.PutSession(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("store session: %w", err)
	}
	return session, nil
}

// ListSessions lists the sessions of a campaign, oldest first.
func (r *Registry) ListSessions(ctx context.Context, campaignID string) ([]domain.Session, error) {
	return r.stores.Sessions.ListSessions(ctx, campaignID)
}

// Attach connects an identity to a session, hydrating the session from
// storage if it is not yet live. A second attach for the same principal
// replaces the first; the replaced handle is closed.
func (r *Registry) Attach(ctx context.Context, sessionID string, identity domain.Identity) (*Handle, Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "coordinator.attach", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("principal.id", identity.PrincipalID),
	))
	defer span.End()

	s, err := r.session(ctx, sessionID)
	if err != nil {
		return nil, Snapshot{}, err
	}

	type result struct {
		handle   *Handle
		snapshot Snapshot
		err      error
	}
	reply := make(chan result, 1)
	if err := s.submit(ctx, func() {
		h, snap, err := s.doAttach(identity)
		reply <- result{handle: h, snapshot: snap, err: err}
	}); err != nil {
		return nil, Snapshot{}, err
	}

	select {
	case res := <-reply:
		return res.handle, res.snapshot, res.err
	case <-ctx.Done():
		return nil, Snapshot{}, ctx.Err()
	}
}

// Detach disconnects a handle. The reason is recorded in the journal when the
// session is still open. Detaching an already detached handle is a no-op.
func (r *Registry) Detach(ctx context.Context, h *Handle, reason string) {
	if h == nil {
		return
	}
	s := r.lookup(h.sessionID)
	if s == nil {
		// The session was torn down by shutdown; its run loop closes the
		// deliveries channel, so only signal done here.
		h.markDone()
		return
	}
	done := make(chan struct{})
	if err := s.submit(ctx, func() {
		s.doDetach(h, h.identity.PrincipalID, reason)
		close(done)
	}); err != nil {
		h.markDone()
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Do runs one command through the handle's session. The command is checked,
// journaled, folded, and broadcast under the session's serialization point;
// the resulting delta reaches every attached handle including the caller's.
func (r *Registry) Do(ctx context.Context, h *Handle, cmd Command) error {
	if h == nil {
		return gterrors.New(gterrors.CodeNotAttached, "connection is not attached to a session")
	}
	ctx, span := r.tracer.Start(ctx, "coordinator.command", trace.WithAttributes(
		attribute.String("session.id", h.sessionID),
		attribute.String("event.type", string(cmd.Type)),
	))
	defer span.End()

	s := r.lookup(h.sessionID)
	if s == nil {
		return gterrors.New(gterrors.CodeNotAttached, "session is no longer live")
	}

	reply := make(chan error, 1)
	if err := s.submit(ctx, func() {
		reply <- s.doCommand(h, cmd)
	}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run sweeps idle connections until the context is cancelled, then shuts down
// every live session and closes the remaining handles.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTimeout / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-ticker.C:
			if r.idleTimeout > 0 {
				r.sweepIdle()
			}
		}
	}
}

func (r *Registry) lookup(sessionID string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live[sessionID]
}

// session returns the live session, hydrating it from storage on first use.
func (r *Registry) session(ctx context.Context, sessionID string) (*liveSession, error) {
	if s := r.lookup(sessionID); s != nil {
		return s, nil
	}

	record, err := r.stores.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, gterrors.New(gterrors.CodeSessionNotFound, fmt.Sprintf("session %s does not exist", sessionID))
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	// The journal is authoritative for lifecycle: the sessions record is a
	// mirror written out-of-band, so a crash can leave it one lifecycle
	// event behind. The replay filter sees every event in sequence order and
	// doubles as the lifecycle scan. The record only ever moves forward
	// (planned to active to ended); a record already marked ended stays
	// ended even if the ended event itself was lost.
	journalStatus := domain.StatusUnspecified
	var journalEndedAt time.Time
	state, err := projection.ReplaySessionWith(ctx, r.stores.Events, sessionID, projection.ReplayOptions{
		Filter: func(evt event.Event) bool {
			switch evt.Type {
			case event.TypeSessionStarted:
				journalStatus = domain.StatusActive
			case event.TypeSessionEnded:
				journalStatus = domain.StatusEnded
				journalEndedAt = evt.Timestamp
			}
			return true
		},
	})
	if err != nil {
		return nil, fmt.Errorf("replay session %s: %w", sessionID, err)
	}
	if repaired := reconcileLifecycle(&record, journalStatus, journalEndedAt); repaired {
		if err := r.stores.Sessions.PutSession(ctx, record); err != nil {
			log.Printf("repair session record failed session_id=%s status=%s err=%v", record.ID, record.Status, err)
		}
	}
	latest, err := r.stores.Events.LatestSeq(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("latest seq for session %s: %w", sessionID, err)
	}
	seq := state.Seq
	if latest > seq {
		seq = latest
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, gterrors.New(gterrors.CodeUnknown, "registry is shutting down")
	}
	// Another attach may have hydrated the session while we were loading.
	if s := r.live[sessionID]; s != nil {
		return s, nil
	}
	s := newLiveSession(r, record, state, seq)
	r.live[sessionID] = s
	go s.run()
	return s, nil
}

// reconcileLifecycle advances the record to the lifecycle status derived
// from the journal. It never moves a record backwards: an ended record stays
// ended regardless of what the journal holds.
func reconcileLifecycle(record *domain.Session, journalStatus domain.Status, endedAt time.Time) bool {
	if record.Status == domain.StatusEnded {
		return false
	}
	switch journalStatus {
	case domain.StatusEnded:
		record.Status = domain.StatusEnded
		at := endedAt
		record.EndedAt = &at
		record.UpdatedAt = endedAt
		return true
	case domain.StatusActive:
		if record.Status == domain.StatusPlanned {
			record.Status = domain.StatusActive
			return true
		}
	}
	return false
}

func (r *Registry) sweepIdle() {
	r.mu.Lock()
	sessions := make([]*liveSession, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	now := r.now()
	for _, s := range sessions {
		// Best effort: a busy session checks idleness on its next free slot.
		select {
		case s.commands <- func() { s.evictIdle(now, r.idleTimeout) }:
		default:
		}
	}
}

func (r *Registry) shutdown() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*liveSession, 0, len(r.live))
	for _, s := range r.live {
		sessions = append(sessions, s)
	}
	r.live = make(map[string]*liveSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.stop()
	}
}
