// Package domain holds the core session records shared across the engine.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status describes the lifecycle state of a session.
type Status int

const (
	// StatusUnspecified represents an invalid session status value.
	StatusUnspecified Status = iota
	// StatusPlanned indicates the session is scheduled but not started.
	StatusPlanned
	// StatusActive indicates the session is currently running.
	StatusActive
	// StatusEnded indicates the session has ended.
	StatusEnded
)

// String returns the lowercase wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusPlanned:
		return "planned"
	case StatusActive:
		return "active"
	case StatusEnded:
		return "ended"
	default:
		return "unspecified"
	}
}

// ParseStatus maps a wire name back to a Status.
func ParseStatus(value string) Status {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "planned":
		return StatusPlanned
	case "active":
		return StatusActive
	case "ended":
		return StatusEnded
	default:
		return StatusUnspecified
	}
}

var (
	// ErrEmptyCampaignID indicates a missing campaign ID.
	ErrEmptyCampaignID = errors.New("campaign id is required")
)

// Session represents one scheduled or in-progress play encounter of a campaign.
//
// The sequence counter and projection live with the session's coordinator;
// this record carries only identity and lifecycle metadata.
type Session struct {
	ID         string
	CampaignID string
	Name       string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	EndedAt    *time.Time // nil when session is not ended
}

// CreateSessionInput describes the metadata needed to create a session.
type CreateSessionInput struct {
	CampaignID string
	Name       string
}

// CreateSession creates a new session with a generated ID and timestamps.
// The session is created with PLANNED status.
func CreateSession(input CreateSessionInput, now func() time.Time, idGenerator func() (string, error)) (Session, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = NewID
	}

	normalized, err := NormalizeCreateSessionInput(input)
	if err != nil {
		return Session{}, err
	}

	sessionID, err := idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	createdAt := now().UTC()
	return Session{
		ID:         sessionID,
		CampaignID: normalized.CampaignID,
		Name:       normalized.Name,
		Status:     StatusPlanned,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// NormalizeCreateSessionInput trims and validates session input metadata.
func NormalizeCreateSessionInput(input CreateSessionInput) (CreateSessionInput, error) {
	input.CampaignID = strings.TrimSpace(input.CampaignID)
	if input.CampaignID == "" {
		return CreateSessionInput{}, ErrEmptyCampaignID
	}
	input.Name = strings.TrimSpace(input.Name)
	// Name is optional, so empty string is allowed
	return input, nil
}
