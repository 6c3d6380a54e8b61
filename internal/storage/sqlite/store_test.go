package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/session/projection"
	"github.com/louisbranch/gametable/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "gametable.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testSession(id string) domain.Session {
	created := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	return domain.Session{
		ID:         id,
		CampaignID: "camp-1",
		Name:       "Night One",
		Status:     domain.StatusActive,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutGetSession(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	session := testSession("sess-1")

	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !reflect.DeepEqual(got, session) {
		t.Fatalf("session = %+v, want %+v", got, session)
	}
}

func TestPutSessionUpdatesStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	session := testSession("sess-1")
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	ended := session.UpdatedAt.Add(3 * time.Hour)
	session.Status = domain.StatusEnded
	session.UpdatedAt = ended
	session.EndedAt = &ended
	if err := store.PutSession(ctx, session); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != domain.StatusEnded {
		t.Fatalf("status = %v, want ended", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Fatalf("ended at = %v, want %v", got.EndedAt, ended)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsByCampaign(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first := testSession("sess-1")
	second := testSession("sess-2")
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	other := testSession("sess-3")
	other.CampaignID = "camp-2"

	for _, session := range []domain.Session{second, first, other} {
		if err := store.PutSession(ctx, session); err != nil {
			t.Fatalf("put session %s: %v", session.ID, err)
		}
	}

	sessions, err := store.ListSessions(ctx, "camp-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	if sessions[0].ID != "sess-1" || sessions[1].ID != "sess-2" {
		t.Fatalf("order = %s, %s; want sess-1, sess-2", sessions[0].ID, sessions[1].ID)
	}
}

func journalEvent(t *testing.T, seq uint64, typ event.Type, payload any) event.Event {
	t.Helper()
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return event.Event{
		SessionID:   "sess-1",
		Seq:         seq,
		Timestamp:   time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Minute),
		Type:        typ,
		AuthorID:    "user-dm",
		PayloadJSON: encoded,
	}
}

func TestAppendEventIdempotent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	evt := journalEvent(t, 1, event.TypeChatMessage, event.ChatMessagePayload{Text: "hello"})
	if err := store.AppendEvent(ctx, evt); err != nil {
		t.Fatalf("append event: %v", err)
	}
	// A retried delivery of the same (session, seq) is a no-op.
	dup := evt
	dup.PayloadJSON = []byte(`{"text":"tampered"}`)
	if err := store.AppendEvent(ctx, dup); err != nil {
		t.Fatalf("append duplicate: %v", err)
	}

	events, err := store.ListEvents(ctx, "sess-1", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	var payload event.ChatMessagePayload
	if err := json.Unmarshal(events[0].PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Text != "hello" {
		t.Fatalf("payload text = %q, want %q", payload.Text, "hello")
	}
}

func TestAppendEventValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.AppendEvent(ctx, event.Event{Seq: 1, Type: event.TypeChatMessage}); err == nil {
		t.Fatal("expected error for missing session id")
	}
	if err := store.AppendEvent(ctx, event.Event{SessionID: "sess-1", Type: event.TypeChatMessage}); err == nil {
		t.Fatal("expected error for zero seq")
	}
}

func TestListEventsPagesInOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	// Out-of-order appends still read back in sequence order.
	for _, seq := range []uint64{3, 1, 5, 2, 4} {
		evt := journalEvent(t, seq, event.TypeChatMessage, event.ChatMessagePayload{Text: "m"})
		if err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append seq %d: %v", seq, err)
		}
	}

	page, err := store.ListEvents(ctx, "sess-1", 1, 2)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
		t.Fatalf("page = %+v, want seqs 2, 3", page)
	}

	latest, err := store.LatestSeq(ctx, "sess-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 5 {
		t.Fatalf("latest = %d, want 5", latest)
	}
}

func TestLatestSeqEmptyJournal(t *testing.T) {
	store := openTestStore(t)
	latest, err := store.LatestSeq(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if latest != 0 {
		t.Fatalf("latest = %d, want 0", latest)
	}
}

func TestReplayFromStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "gametable.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	order := []event.InitiativeEntry{
		{ID: "A", Initiative: 18, HPCurrent: 20, HPMax: 20},
		{ID: "B", Initiative: 11, HPCurrent: 15, HPMax: 15},
	}
	journal := []event.Event{
		journalEvent(t, 1, event.TypeCombatStarted, event.CombatStartedPayload{Order: order}),
		journalEvent(t, 2, event.TypeTurnAdvanced, event.TurnAdvancedPayload{}),
	}
	for _, evt := range journal {
		if err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append seq %d: %v", evt.Seq, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	state, err := projection.ReplaySession(ctx, reopened, "sess-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !state.CombatActive || state.CurrentTurn != "B" || state.Round != 1 {
		t.Fatalf("state = %+v, want combat active, turn B, round 1", state)
	}
}
