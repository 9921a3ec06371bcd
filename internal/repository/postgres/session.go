package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// Schema creates the table SessionRepo reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS tracking_sessions (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// SessionRepo implements session.Store against PostgreSQL. Each session is
// one JSONB document; Update serializes per id with a transaction-scoped
// advisory lock, so the lock is released with the transaction.
type SessionRepo struct{ db *sql.DB }

// NewSessionRepo creates a Postgres-backed session store.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

// Migrate creates the sessions table if it does not exist.
func (r *SessionRepo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate tracking_sessions: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.TrackingSession, error) {
	return get(ctx, r.db, id)
}

func get(ctx context.Context, q queryer, id string) (*domain.TrackingSession, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM tracking_sessions WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	return decode(id, data)
}

func (r *SessionRepo) GetAll(ctx context.Context) (map[string]*domain.TrackingSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, data FROM tracking_sessions`)
	if err != nil {
		return nil, unavailable("list sessions", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.TrackingSession)
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess, err := decode(id, data)
		if err != nil {
			return nil, err
		}
		out[id] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list sessions", err)
	}
	return out, nil
}

func (r *SessionRepo) Put(ctx context.Context, s *domain.TrackingSession) error {
	return put(ctx, r.db, s)
}

func put(ctx context.Context, q queryer, s *domain.TrackingSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tracking_sessions (id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, s.ID, string(data))
	if err != nil {
		return unavailable("put session", err)
	}
	return nil
}

func (r *SessionRepo) Update(ctx context.Context, id string, fn session.UpdateFunc) (*domain.TrackingSession, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin update", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return nil, unavailable("lock session", err)
	}

	cur, err := get(ctx, tx, id)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return nil, err
	}

	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	next.ID = id
	if err := put(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit update", err)
	}
	return next, nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tracking_sessions WHERE id = $1`, id); err != nil {
		return unavailable("delete session", err)
	}
	return nil
}

func (r *SessionRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM tracking_sessions`); err != nil {
		return unavailable("clear sessions", err)
	}
	return nil
}

func decode(id string, data []byte) (*domain.TrackingSession, error) {
	var s domain.TrackingSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.ID = id
	s.Normalize()
	return &s, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, session.ErrStoreUnavailable, err)
}
