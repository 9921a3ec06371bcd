// Package memory implements session.Store as an in-process map, optionally
// written through to a Persister so the mapping survives restarts.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// Persister is durable storage behind the map. The map stays the source
// of truth while the process runs; the persister is read once at Load.
type Persister interface {
	LoadAll(ctx context.Context) (map[string]*domain.TrackingSession, error)
	Save(ctx context.Context, s *domain.TrackingSession) error
	Remove(ctx context.Context, id string) error
	RemoveAll(ctx context.Context) error
}

// Store implements session.Store. Updates for one id are serialized by a
// per-id mutex; the map itself is only locked for the copy in or out.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.TrackingSession
	ids      distlock.KeyedMutex
	persist  Persister
}

// NewStore creates an empty store. persist may be nil.
func NewStore(persist Persister) *Store {
	return &Store{
		sessions: make(map[string]*domain.TrackingSession),
		persist:  persist,
	}
}

// Load replaces the map with what the persister holds.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	all, err := s.persist.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w: %w", session.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*domain.TrackingSession, len(all))
	for id, sess := range all {
		sess.Normalize()
		s.sessions[id] = sess
	}
	return len(all), nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.TrackingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) GetAll(_ context.Context) (map[string]*domain.TrackingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.TrackingSession, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess.Clone()
	}
	return out, nil
}

// Put stores a copy of sess. A persistence failure leaves the copy in
// memory and returns an error wrapping session.ErrStoreUnavailable.
func (s *Store) Put(ctx context.Context, sess *domain.TrackingSession) error {
	unlock := s.ids.Lock(sess.ID)
	defer unlock()
	return s.write(ctx, sess.Clone())
}

func (s *Store) Update(ctx context.Context, id string, fn session.UpdateFunc) (*domain.TrackingSession, error) {
	unlock := s.ids.Lock(id)
	defer unlock()

	s.mu.RLock()
	cur := s.sessions[id].Clone()
	s.mu.RUnlock()

	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	next.ID = id
	if err := s.write(ctx, next.Clone()); err != nil {
		return next, err
	}
	return next, nil
}

func (s *Store) write(ctx context.Context, sess *domain.TrackingSession) error {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(ctx, sess); err != nil {
		return fmt.Errorf("persist session %s: %w: %w", sess.ID, session.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.ids.Lock(id)
	defer unlock()

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove session %s: %w: %w", id, session.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear waits for in-flight updates of every stored id before dropping
// the map, so none of them can write a session back afterwards.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.RLock()
	ids := slices.Sorted(maps.Keys(s.sessions))
	s.mu.RUnlock()

	for _, id := range ids {
		unlock := s.ids.Lock(id)
		defer unlock()
	}

	s.mu.Lock()
	s.sessions = make(map[string]*domain.TrackingSession)
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.RemoveAll(ctx); err != nil {
		return fmt.Errorf("clear sessions: %w: %w", session.ErrStoreUnavailable, err)
	}
	return nil
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
