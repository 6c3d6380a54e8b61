package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCreateSession(t *testing.T) {
	now := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	idGen := func() (string, error) { return "sess-1", nil }

	session, err := CreateSession(CreateSessionInput{CampaignID: " camp-1 ", Name: "  Night Raid "}, now, idGen)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "sess-1" {
		t.Fatalf("id = %q, want %q", session.ID, "sess-1")
	}
	if session.CampaignID != "camp-1" || session.Name != "Night Raid" {
		t.Fatalf("normalized input = %q/%q, want trimmed values", session.CampaignID, session.Name)
	}
	if session.Status != StatusPlanned {
		t.Fatalf("status = %v, want %v", session.Status, StatusPlanned)
	}
	if !session.CreatedAt.Equal(now()) || !session.UpdatedAt.Equal(now()) {
		t.Fatalf("timestamps = %v/%v, want %v", session.CreatedAt, session.UpdatedAt, now())
	}
	if session.EndedAt != nil {
		t.Fatalf("ended at = %v, want nil", session.EndedAt)
	}
}

func TestCreateSessionRequiresCampaign(t *testing.T) {
	_, err := CreateSession(CreateSessionInput{Name: "no campaign"}, nil, nil)
	if !errors.Is(err, ErrEmptyCampaignID) {
		t.Fatalf("error = %v, want ErrEmptyCampaignID", err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	statuses := []Status{StatusPlanned, StatusActive, StatusEnded}
	for _, status := range statuses {
		if got := ParseStatus(status.String()); got != status {
			t.Fatalf("ParseStatus(%q) = %v, want %v", status.String(), got, status)
		}
	}
	if got := ParseStatus("bogus"); got != StatusUnspecified {
		t.Fatalf("ParseStatus(bogus) = %v, want %v", got, StatusUnspecified)
	}
}

func TestControlsCharacter(t *testing.T) {
	dm := Identity{PrincipalID: "dm-1", Role: RoleDM, CampaignID: "camp-1"}
	player := Identity{PrincipalID: "p-1", Role: RolePlayer, CampaignID: "camp-1", Characters: []string{"char-1"}}

	if !dm.ControlsCharacter("anything") {
		t.Fatal("dm should control every character")
	}
	if !player.ControlsCharacter("char-1") {
		t.Fatal("player should control a permitted character")
	}
	if player.ControlsCharacter("char-2") {
		t.Fatal("player should not control an unpermitted character")
	}
}

func TestNewID(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("id length = %d, want 26", len(id))
	}
	other, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if id == other {
		t.Fatalf("consecutive ids are equal: %s", id)
	}
}
