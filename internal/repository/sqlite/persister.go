// Package sqlite persists the agent's session mapping in a local SQLite
// file. It backs memory.Store through the memory.Persister interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ignite/engagement-tracker/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_sessions (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Persister stores one JSON document per session.
type Persister struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Persister, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps writes serialized and makes :memory: usable
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Persister{db: db}, nil
}

// Close releases the database.
func (p *Persister) Close() error { return p.db.Close() }

func (p *Persister) LoadAll(ctx context.Context) (map[string]*domain.TrackingSession, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, data FROM tracking_sessions`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.TrackingSession)
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var s domain.TrackingSession
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", id, err)
		}
		s.ID = id
		out[id] = &s
	}
	return out, rows.Err()
}

func (p *Persister) Save(ctx context.Context, s *domain.TrackingSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tracking_sessions (id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, s.ID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

func (p *Persister) Remove(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM tracking_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

func (p *Persister) RemoveAll(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM tracking_sessions`); err != nil {
		return fmt.Errorf("remove all sessions: %w", err)
	}
	return nil
}
