// Package redisstore implements session.Store on a Redis hash so several
// aggregator instances can share one session mapping.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/distlock"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// DefaultKey is the hash holding id -> session JSON.
const DefaultKey = "tracking:sessions"

// Store implements session.Store. Update holds a per-id Redis lock for the
// duration of the read-modify-write.
type Store struct {
	client  redis.UniversalClient
	key     string
	lockTTL time.Duration
	poll    time.Duration
}

// NewStore creates a store on the given client. lockTTL bounds how long a
// crashed writer can block an id; zero means 5s.
func NewStore(client redis.UniversalClient, lockTTL time.Duration) *Store {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &Store{client: client, key: DefaultKey, lockTTL: lockTTL, poll: 10 * time.Millisecond}
}

func (s *Store) Get(ctx context.Context, id string) (*domain.TrackingSession, error) {
	data, err := s.client.HGet(ctx, s.key, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+id, err)
	}
	return decode(id, data)
}

func (s *Store) GetAll(ctx context.Context) (map[string]*domain.TrackingSession, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, unavailable("get all", err)
	}
	out := make(map[string]*domain.TrackingSession, len(raw))
	for id, data := range raw {
		sess, err := decode(id, []byte(data))
		if err != nil {
			return nil, err
		}
		out[id] = sess
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, sess *domain.TrackingSession) error {
	return s.write(ctx, sess)
}

func (s *Store) Update(ctx context.Context, id string, fn session.UpdateFunc) (*domain.TrackingSession, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.Get(ctx, id)
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
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// lock takes the per-id lock shared by every writer of id.
func (s *Store) lock(ctx context.Context, id string) (release func(), err error) {
	l := distlock.NewRedisLock(s.client, s.key+":"+id, s.lockTTL)
	if err := l.AcquireWait(ctx, s.poll); err != nil {
		return nil, unavailable("lock "+id, err)
	}
	return func() { l.Release(context.WithoutCancel(ctx)) }, nil
}

func (s *Store) write(ctx context.Context, sess *domain.TrackingSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.HSet(ctx, s.key, sess.ID, data).Err(); err != nil {
		return unavailable("put "+sess.ID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := s.client.HDel(ctx, s.key, id).Err(); err != nil {
		return unavailable("delete "+id, err)
	}
	return nil
}

// Clear takes the lock of every stored id, in sorted order, before
// dropping the hash.
func (s *Store) Clear(ctx context.Context) error {
	ids, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return unavailable("clear", err)
	}
	slices.Sort(ids)
	for _, id := range ids {
		release, err := s.lock(ctx, id)
		if err != nil {
			return err
		}
		defer release()
	}

	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return unavailable("clear", err)
	}
	return nil
}

func decode(id string, data []byte) (*domain.TrackingSession, error) {
	var sess domain.TrackingSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	sess.ID = id
	sess.Normalize()
	return &sess, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, session.ErrStoreUnavailable, err)
}
