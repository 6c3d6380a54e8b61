package projection

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/gametable/internal/session/event"
)

// replayEventStore is an in-memory event source for replay tests.
type replayEventStore struct {
	events []event.Event
}

func (s *replayEventStore) AppendEvent(_ context.Context, evt event.Event) error {
	s.events = append(s.events, evt)
	return nil
}

func (s *replayEventStore) ListEvents(_ context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	var page []event.Event
	for _, evt := range s.events {
		if evt.SessionID != sessionID || evt.Seq <= afterSeq {
			continue
		}
		page = append(page, evt)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *replayEventStore) LatestSeq(_ context.Context, sessionID string) (uint64, error) {
	var latest uint64
	for _, evt := range s.events {
		if evt.SessionID == sessionID && evt.Seq > latest {
			latest = evt.Seq
		}
	}
	return latest, nil
}

func storedEvent(t *testing.T, seq uint64, typ event.Type, payload any) event.Event {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		SessionID:   "sess-1",
		Seq:         seq,
		Timestamp:   time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC),
		Type:        typ,
		PayloadJSON: encoded,
	}
}

func TestReplaySessionReproducesFold(t *testing.T) {
	ctx := context.Background()
	journal := []event.Event{
		storedEvent(t, 1, event.TypeSessionStarted, event.SessionStartedPayload{SessionName: "Night One"}),
		storedEvent(t, 2, event.TypeCombatStarted, event.CombatStartedPayload{Order: defaultOrder()}),
		storedEvent(t, 3, event.TypeConditionApplied, event.ConditionAppliedPayload{TargetID: "C", Kind: "poisoned", DurationRounds: 3}),
		storedEvent(t, 4, event.TypeTurnAdvanced, event.TurnAdvancedPayload{}),
		storedEvent(t, 5, event.TypeHPUpdated, event.HPUpdatedPayload{CharacterID: "char-b", HPCurrent: 21}),
	}

	// Fold directly.
	var direct GameState
	for _, evt := range journal {
		next, _, err := Apply(direct, evt)
		if err != nil {
			t.Fatalf("apply seq %d: %v", evt.Seq, err)
		}
		direct = next
	}

	replayed, err := ReplaySession(ctx, &replayEventStore{events: journal}, "sess-1")
	if err != nil {
		t.Fatalf("ReplaySession returned error: %v", err)
	}

	if !reflect.DeepEqual(replayed, direct) {
		t.Fatalf("replayed state = %+v, want %+v", replayed, direct)
	}
	if replayed.Seq != 5 {
		t.Fatalf("replayed seq = %d, want 5", replayed.Seq)
	}
}

func TestReplaySessionPaginates(t *testing.T) {
	ctx := context.Background()
	store := &replayEventStore{}
	store.events = append(store.events, storedEvent(t, 1, event.TypeCombatStarted, event.CombatStartedPayload{Order: defaultOrder()}))
	for seq := uint64(2); seq <= replayPageSize*2+10; seq++ {
		store.events = append(store.events, storedEvent(t, seq, event.TypeChatMessage, event.ChatMessagePayload{Text: "tick"}))
	}

	state, err := ReplaySession(ctx, store, "sess-1")
	if err != nil {
		t.Fatalf("ReplaySession returned error: %v", err)
	}
	if state.Seq != replayPageSize*2+10 {
		t.Fatalf("seq = %d, want %d", state.Seq, replayPageSize*2+10)
	}
	if !state.CombatActive {
		t.Fatal("combat should be active after replay")
	}
}

func TestReplaySessionRequiresSessionID(t *testing.T) {
	_, err := ReplaySession(context.Background(), &replayEventStore{}, "")
	if err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestReplaySessionWithUntilSeq(t *testing.T) {
	ctx := context.Background()
	store := &replayEventStore{events: []event.Event{
		storedEvent(t, 1, event.TypeCombatStarted, event.CombatStartedPayload{Order: defaultOrder()}),
		storedEvent(t, 2, event.TypeTurnAdvanced, event.TurnAdvancedPayload{}),
		storedEvent(t, 3, event.TypeTurnAdvanced, event.TurnAdvancedPayload{}),
	}}

	state, err := ReplaySessionWith(ctx, store, "sess-1", ReplayOptions{UntilSeq: 2})
	if err != nil {
		t.Fatalf("ReplaySessionWith returned error: %v", err)
	}
	if state.CurrentTurn != "B" {
		t.Fatalf("current turn = %q, want B", state.CurrentTurn)
	}
}
