// Package storage defines the persistence interfaces consumed by the engine.
//
// The engine functions correctly when the event store is transiently
// unavailable: accepted events stay authoritative in memory and are retried
// for durability out-of-band.
package storage

import (
	"context"
	"errors"

	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// SessionStore persists session metadata records.
type SessionStore interface {
	PutSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, campaignID string) ([]domain.Session, error)
}

// EventStore persists the per-session event journal.
//
// AppendEvent must be idempotent on (session_id, seq) so at-least-once
// delivery from the persister cannot duplicate entries.
type EventStore interface {
	AppendEvent(ctx context.Context, evt event.Event) error
	ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error)
	LatestSeq(ctx context.Context, sessionID string) (uint64, error)
}
