// Package sqlite provides SQLite-backed persistence for sessions and their
// event journals.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/gametable/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/gametable/internal/session/domain"
	"github.com/louisbranch/gametable/internal/session/event"
	"github.com/louisbranch/gametable/internal/storage"
	"github.com/louisbranch/gametable/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store provides SQLite-backed persistence for session records.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, ".")
}

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(ctx context.Context, session domain.Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, campaign_id, name, status, created_at, updated_at, ended_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    campaign_id = excluded.campaign_id,
    name = excluded.name,
    status = excluded.status,
    updated_at = excluded.updated_at,
    ended_at = excluded.ended_at`,
		session.ID,
		session.CampaignID,
		session.Name,
		session.Status.String(),
		toMillis(session.CreatedAt),
		toMillis(session.UpdatedAt),
		toNullMillis(session.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, campaign_id, name, status, created_at, updated_at, ended_at
FROM sessions WHERE id = ?`, id)

	var (
		session   domain.Session
		status    string
		createdAt int64
		updatedAt int64
		endedAt   sql.NullInt64
	)
	err := row.Scan(&session.ID, &session.CampaignID, &session.Name, &status, &createdAt, &updatedAt, &endedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}

	session.Status = domain.ParseStatus(status)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	session.EndedAt = fromNullMillis(endedAt)
	return session, nil
}

// ListSessions returns the sessions of a campaign ordered by creation time.
func (s *Store) ListSessions(ctx context.Context, campaignID string) ([]domain.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, campaign_id, name, status, created_at, updated_at, ended_at
FROM sessions WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			session   domain.Session
			status    string
			createdAt int64
			updatedAt int64
			endedAt   sql.NullInt64
		)
		if err := rows.Scan(&session.ID, &session.CampaignID, &session.Name, &status, &createdAt, &updatedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Status = domain.ParseStatus(status)
		session.CreatedAt = fromMillis(createdAt)
		session.UpdatedAt = fromMillis(updatedAt)
		session.EndedAt = fromNullMillis(endedAt)
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendEvent persists a journal entry. The write is idempotent on
// (session_id, seq) so at-least-once retries cannot duplicate entries.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) error {
	if strings.TrimSpace(evt.SessionID) == "" {
		return fmt.Errorf("event session id is required")
	}
	if evt.Seq == 0 {
		return fmt.Errorf("event seq is required")
	}
	payload := evt.PayloadJSON
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO session_events (session_id, seq, event_type, author_id, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		evt.SessionID,
		evt.Seq,
		string(evt.Type),
		evt.AuthorID,
		string(payload),
		toMillis(evt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns up to limit events after the given sequence number.
func (s *Store) ListEvents(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT session_id, seq, event_type, author_id, payload, created_at
FROM session_events WHERE session_id = ? AND seq > ?
ORDER BY seq LIMIT ?`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var (
			evt       event.Event
			eventType string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&evt.SessionID, &evt.Seq, &eventType, &evt.AuthorID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = event.Type(eventType)
		evt.PayloadJSON = []byte(payload)
		evt.Timestamp = fromMillis(createdAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LatestSeq returns the highest persisted sequence number for a session,
// or 0 when the journal is empty.
func (s *Store) LatestSeq(ctx context.Context, sessionID string) (uint64, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_events WHERE session_id = ?`, sessionID)
	var latest uint64
	if err := row.Scan(&latest); err != nil {
		return 0, fmt.Errorf("latest seq: %w", err)
	}
	return latest, nil
}
