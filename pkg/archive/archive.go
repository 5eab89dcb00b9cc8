// Copyright 2024-2026 Aiku AI

// Package archive provides SQLite persistence for classified traffic. The
// archive is an audit trail, not an operational dependency: writes that fail
// are logged and dropped, and nothing downstream reads it on the hot path.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aiku/guildbridge/pkg/bridge"
	"github.com/aiku/guildbridge/pkg/classify"
)

// Store persists classified messages and events. All methods are safe for
// concurrent use; database/sql provides the connection pooling.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// StoredMessage is one archived chat message row.
type StoredMessage struct {
	ID        int64
	OriginID  string
	Kind      classify.MessageKind
	Username  string
	Body      string
	Rank      string
	Direction string
	RawText   string
	StoredAt  time.Time
}

// StoredEvent is one archived lifecycle event row.
type StoredEvent struct {
	ID       int64
	OriginID string
	Type     classify.EventType
	Username string
	Actor    string
	Detail   string
	RawText  string
	StoredAt time.Time
}

// Open opens or creates the archive database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	connStr := path
	if path == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	s := &Store{
		db:  db,
		log: log.With().Str("component", "archive").Logger(),
	}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		username TEXT,
		body TEXT,
		rank TEXT,
		direction TEXT,
		raw_text TEXT NOT NULL,
		stored_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		origin_id TEXT NOT NULL,
		type TEXT NOT NULL,
		username TEXT,
		actor TEXT,
		detail TEXT,
		raw_text TEXT NOT NULL,
		stored_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_origin ON messages(origin_id, stored_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_origin ON events(origin_id, stored_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive tables: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMessage archives one classified chat message.
func (s *Store) InsertMessage(ctx context.Context, msg *classify.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (origin_id, kind, username, body, rank, direction, raw_text, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.OriginID, string(msg.Kind), msg.Username, msg.Body, msg.Rank,
		msg.Direction, msg.RawText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// InsertEvent archives one classified lifecycle event. Per-type payloads
// that have no column of their own are folded into detail.
func (s *Store) InsertEvent(ctx context.Context, evt *classify.Event) error {
	detail := evt.Detail
	switch evt.Type {
	case classify.EventOnline:
		detail = strings.Join(evt.Members, ", ")
	case classify.EventLevel:
		detail = fmt.Sprintf("%d -> %d", evt.PreviousLevel, evt.Level)
	case classify.EventMOTD:
		detail = evt.MOTD
	case classify.EventPromote, classify.EventDemote:
		detail = fmt.Sprintf("%s -> %s", evt.FromRank, evt.ToRank)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (origin_id, type, username, actor, detail, raw_text, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.OriginID, string(evt.Type), evt.Username, evt.Actor, detail,
		evt.RawText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// RecentMessages returns the newest messages for an origin, newest first.
func (s *Store) RecentMessages(ctx context.Context, originID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin_id, kind, username, body, rank, direction, raw_text, stored_at
		FROM messages WHERE origin_id = ?
		ORDER BY id DESC LIMIT ?`, originID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var kind string
		if err := rows.Scan(&m.ID, &m.OriginID, &kind, &m.Username, &m.Body,
			&m.Rank, &m.Direction, &m.RawText, &m.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Kind = classify.MessageKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentEvents returns the newest events for an origin, newest first.
func (s *Store) RecentEvents(ctx context.Context, originID string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, origin_id, type, username, actor, detail, raw_text, stored_at
		FROM events WHERE origin_id = ?
		ORDER BY id DESC LIMIT ?`, originID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		var typ string
		if err := rows.Scan(&e.ID, &e.OriginID, &typ, &e.Username, &e.Actor,
			&e.Detail, &e.RawText, &e.StoredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = classify.EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run subscribes to the coordinator's output streams and archives every
// record until ctx is cancelled. Insert failures are logged and skipped so
// a broken disk never stalls classification.
func (s *Store) Run(ctx context.Context, streams *bridge.Streams) error {
	messages, cancelMessages := streams.SubscribeMessages()
	defer cancelMessages()
	events, cancelEvents := streams.SubscribeEvents()
	defer cancelEvents()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if err := s.InsertMessage(ctx, &msg); err != nil {
				s.log.Error().Err(err).Str("origin", msg.OriginID).Msg("Failed to archive message")
			}
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.InsertEvent(ctx, &evt); err != nil {
				s.log.Error().Err(err).Str("origin", evt.OriginID).Msg("Failed to archive event")
			}
		}
	}
}
