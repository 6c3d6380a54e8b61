package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	gterrors "github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/session/policy"
	"github.com/louisbranch/gametable/internal/session/projection"
)

// liveSession is one resident session. All fields below commands are owned by
// the run goroutine and must only be touched from submitted closures.
type liveSession struct {
	registry *Registry

	commands chan func()
	quit     chan struct{}

	record  domain.Session
	state   projection.GameState
	seq     uint64
	handles map[string]*Handle
}

func newLiveSession(r *Registry, record domain.Session, state projection.GameState, seq uint64) *liveSession {
	s := &liveSession{
		registry: r,
		commands: make(chan func(), 64),
		quit:     make(chan struct{}),
		record:   record,
		state:    state,
		seq:      seq,
		handles:  make(map[string]*Handle),
	}
	return s
}

func (s *liveSession) run() {
	for {
		select {
		case <-s.quit:
			for _, h := range s.handles {
				h.close()
			}
			s.handles = make(map[string]*Handle)
			return
		case fn := <-s.commands:
			fn()
		}
	}
}

func (s *liveSession) stop() {
	// stop is only called by registry shutdown, which runs once.
	close(s.quit)
}

// submit enqueues work for the session goroutine. Once enqueued, the closure
// always runs; callers pass a buffered reply channel so an abandoned wait
// cannot block the loop.
func (s *liveSession) submit(ctx context.Context, fn func()) error {
	select {
	case s.commands <- fn:
		return nil
	case <-s.quit:
		return gterrors.New(gterrors.CodeUnknown, "session is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *liveSession) doAttach(identity domain.Identity) (*Handle, Snapshot, error) {
	if identity.CampaignID != s.record.CampaignID {
		return nil, Snapshot{}, gterrors.New(gterrors.CodeAccessDenied,
			fmt.Sprintf("session %s belongs to another campaign", s.record.ID))
	}

	// A reconnect replaces the previous handle for the same principal without
	// a leave/join churn in the journal.
	rejoin := false
	if prev, ok := s.handles[identity.PrincipalID]; ok {
		delete(s.handles, identity.PrincipalID)
		prev.close()
		rejoin = true
	}

	if !rejoin && s.record.Status != domain.StatusEnded {
		s.appendSystem(event.TypePlayerJoined, identity.PrincipalID, event.PlayerJoinedPayload{
			PrincipalID: identity.PrincipalID,
			DisplayName: identity.DisplayName,
			Role:        string(identity.Role),
		})
	}

	h := newHandle(s.record.ID, identity, s.registry.sendBuffer, s.registry.now())
	s.handles[identity.PrincipalID] = h

	players := make([]domain.Identity, 0, len(s.handles))
	for _, other := range s.handles {
		players = append(players, other.identity)
	}
	snapshot := Snapshot{
		Session: s.record,
		State:   s.state.Clone(),
		Players: players,
	}
	return h, snapshot, nil
}

func (s *liveSession) doDetach(h *Handle, authorID, reason string) {
	current, ok := s.handles[h.identity.PrincipalID]
	if !ok || current != h {
		// Already replaced or evicted.
		h.close()
		return
	}
	delete(s.handles, h.identity.PrincipalID)
	h.close()

	if s.record.Status != domain.StatusEnded {
		s.appendSystem(event.TypePlayerLeft, authorID, event.PlayerLeftPayload{
			PrincipalID: h.identity.PrincipalID,
			Reason:      reason,
		})
	}
}

// doCommand is the accept path: gate, assign the next sequence number, fold,
// hand off for durability, broadcast. A rejection at any step leaves the
// sequence counter and projection untouched.
func (s *liveSession) doCommand(h *Handle, cmd Command) error {
	current, ok := s.handles[h.identity.PrincipalID]
	if !ok || current != h {
		return gterrors.New(gterrors.CodeNotAttached, "connection is not attached to this session")
	}

	if s.record.Status == domain.StatusEnded {
		return gterrors.New(gterrors.CodeSessionEnded, "session has ended")
	}
	if err := policy.Check(h.identity, s.record, policy.Request{
		Action:            cmd.Action,
		TargetCharacterID: cmd.TargetCharacterID,
	}); err != nil {
		return err
	}
	switch cmd.Action {
	case policy.ActionStartSession:
		if s.record.Status == domain.StatusActive {
			return gterrors.New(gterrors.CodeInvalidTransition, "session is already active")
		}
	}

	payload, err := event.MarshalPayload(cmd.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", cmd.Type, err)
	}
	evt := event.Event{
		SessionID:   s.record.ID,
		Seq:         s.seq + 1,
		Timestamp:   s.registry.now().UTC(),
		Type:        cmd.Type,
		AuthorID:    h.identity.PrincipalID,
		PayloadJSON: payload,
	}
	next, delta, err := projection.Apply(s.state, evt)
	if err != nil {
		return err
	}

	s.seq = evt.Seq
	s.state = next
	s.applyLifecycle(evt)
	s.registry.persister.Enqueue(evt)
	s.broadcast(delta)
	return nil
}

// appendSystem journals an engine-generated event. The author is the acting
// principal for voluntary joins and leaves, empty for evictions.
func (s *liveSession) appendSystem(t event.Type, authorID string, payload any) {
	data, err := event.MarshalPayload(payload)
	if err != nil {
		log.Printf("encode system event failed session_id=%s type=%s err=%v", s.record.ID, t, err)
		return
	}
	evt := event.Event{
		SessionID:   s.record.ID,
		Seq:         s.seq + 1,
		Timestamp:   s.registry.now().UTC(),
		Type:        t,
		AuthorID:    authorID,
		PayloadJSON: data,
	}
	next, delta, err := projection.Apply(s.state, evt)
	if err != nil {
		log.Printf("apply system event failed session_id=%s type=%s err=%v", s.record.ID, t, err)
		return
	}
	s.seq = evt.Seq
	s.state = next
	s.registry.persister.Enqueue(evt)
	s.broadcast(delta)
}

// applyLifecycle mirrors lifecycle events onto the session record. The record
// update is written to storage off the session goroutine.
func (s *liveSession) applyLifecycle(evt event.Event) {
	switch evt.Type {
	case event.TypeSessionStarted:
		s.record.Status = domain.StatusActive
	case event.TypeSessionEnded:
		s.record.Status = domain.StatusEnded
		endedAt := evt.Timestamp
		s.record.EndedAt = &endedAt
	default:
		return
	}
	s.record.UpdatedAt = evt.Timestamp
	record := s.record
	store := s.registry.stores.Sessions
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.PutSession(ctx, record); err != nil {
			log.Printf("update session record failed session_id=%s status=%s err=%v", record.ID, record.Status, err)
		}
	}()
}

// broadcast delivers a delta to every attached handle in commit order. A
// handle whose buffer is full is evicted so one slow reader cannot hold back
// the table.
func (s *liveSession) broadcast(delta projection.Delta) {
	var evicted []*Handle
	for _, h := range s.handles {
		if !h.offer(delta) {
			evicted = append(evicted, h)
		}
	}
	for _, h := range evicted {
		log.Printf("evicting slow consumer session_id=%s principal_id=%s seq=%d", s.record.ID, h.identity.PrincipalID, delta.Event.Seq)
		s.doDetach(h, "", "slow_consumer")
	}
}

func (s *liveSession) evictIdle(now time.Time, timeout time.Duration) {
	var idle []*Handle
	for _, h := range s.handles {
		if h.idleSince(now) >= timeout {
			idle = append(idle, h)
		}
	}
	for _, h := range idle {
		log.Printf("evicting idle connection session_id=%s principal_id=%s idle=%s", s.record.ID, h.identity.PrincipalID, h.idleSince(now))
		s.doDetach(h, "", "idle_timeout")
	}
}
