package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

type fakePersister struct {
	mu    sync.Mutex
	saved map[string]*domain.TrackingSession
	fail  error
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: map[string]*domain.TrackingSession{}}
}

func (p *fakePersister) LoadAll(context.Context) (map[string]*domain.TrackingSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]*domain.TrackingSession{}
	for id, s := range p.saved {
		out[id] = s.Clone()
	}
	return out, p.fail
}

func (p *fakePersister) Save(_ context.Context, s *domain.TrackingSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.saved[s.ID] = s.Clone()
	return nil
}

func (p *fakePersister) Remove(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, id)
	return p.fail
}

func (p *fakePersister) RemoveAll(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = map[string]*domain.TrackingSession{}
	return p.fail
}

func TestStore_GetPutReturnsCopies(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	in := &domain.TrackingSession{ID: "a", Recipients: []string{"x@example.com"}}
	require.NoError(t, s.Put(ctx, in))
	in.Recipients[0] = "mutated"

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", got.Recipients[0])

	got.Recipients[0] = "mutated again"
	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "x@example.com", again.Recipients[0])

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_UpdateSemantics(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	// absent id: fn sees nil and may decline
	got, err := s.Update(ctx, "new", func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
		assert.Nil(t, cur)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, s.Len())

	// error aborts
	boom := errors.New("boom")
	_, err = s.Update(ctx, "new", func(*domain.TrackingSession) (*domain.TrackingSession, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	// insert through update
	got, err = s.Update(ctx, "new", func(*domain.TrackingSession) (*domain.TrackingSession, error) {
		return &domain.TrackingSession{EmailSubject: "inserted"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
	assert.Equal(t, 1, s.Len())
}

func TestStore_ConcurrentRecordingLosesNothing(t *testing.T) {
	s := NewStore(newFakePersister())
	svc := session.NewService(s)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		sess, err := svc.Create(ctx, domain.EmailDraft{Subject: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		ids = append(ids, sess.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for j := 0; j < 40; j++ {
			wg.Add(1)
			go func(id string, j int) {
				defer wg.Done()
				if j%2 == 0 {
					assert.True(t, svc.RecordOpen(ctx, id, domain.ClientInfo{IP: fmt.Sprintf("10.0.0.%d", j)}))
				} else {
					assert.True(t, svc.RecordClick(ctx, id, "link_0", "https://example.com", domain.ClientInfo{}))
				}
			}(id, j)
		}
	}
	wg.Wait()

	for _, id := range ids {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, got.PixelLoads, 20)
		assert.Len(t, got.LinkClicks, 20)
		assert.Equal(t, domain.StatusClicked, got.Status)
	}
}

func TestStore_PersistFailureKeepsMemory(t *testing.T) {
	p := newFakePersister()
	s := NewStore(p)
	ctx := context.Background()

	p.fail = errors.New("disk full")
	err := s.Put(ctx, &domain.TrackingSession{ID: "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)

	_, err = s.Get(ctx, "a")
	require.NoError(t, err)

	got, err := s.Update(ctx, "a", func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
		cur.EmailSubject = "changed"
		return cur, nil
	})
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
	require.NotNil(t, got)
	assert.Equal(t, "changed", got.EmailSubject)
}

func TestStore_LoadDeleteClear(t *testing.T) {
	p := newFakePersister()
	ctx := context.Background()
	p.saved["a"] = &domain.TrackingSession{ID: "a", PixelLoads: []domain.OpenEvent{{Timestamp: 1}}}
	p.saved["b"] = &domain.TrackingSession{ID: "b"}

	s := NewStore(p)
	n, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpened, a.Status)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.NotContains(t, p.saved, "a")
	require.NoError(t, s.Delete(ctx, "never-existed"))

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, p.saved)

	p.fail = errors.New("io")
	_, err = NewStore(p).Load(ctx)
	assert.ErrorIs(t, err, session.ErrStoreUnavailable)
}

func TestStore_RemovalWaitsForInFlightUpdate(t *testing.T) {
	removals := map[string]func(*Store, context.Context) error{
		"delete": func(s *Store, ctx context.Context) error { return s.Delete(ctx, "a") },
		"clear":  func(s *Store, ctx context.Context) error { return s.Clear(ctx) },
	}
	for name, remove := range removals {
		t.Run(name, func(t *testing.T) {
			p := newFakePersister()
			s := NewStore(p)
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, &domain.TrackingSession{ID: "a"}))

			entered := make(chan struct{})
			release := make(chan struct{})
			updated := make(chan error, 1)
			go func() {
				_, err := s.Update(ctx, "a", func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
					close(entered)
					<-release
					cur.PixelLoads = append(cur.PixelLoads, domain.OpenEvent{Timestamp: 1})
					return cur, nil
				})
				updated <- err
			}()
			<-entered

			removed := make(chan error, 1)
			go func() { removed <- remove(s, ctx) }()

			select {
			case <-removed:
				t.Fatal("removal finished while an update held the session")
			case <-time.After(50 * time.Millisecond):
			}

			close(release)
			require.NoError(t, <-updated)
			require.NoError(t, <-removed)

			_, err := s.Get(ctx, "a")
			assert.ErrorIs(t, err, session.ErrNotFound)
			assert.NotContains(t, p.saved, "a")
		})
	}
}
