package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// mockStore is an in-memory Store for testing. A single mutex serializes
// every call, which is enough to exercise the service's Update contract.
type mockStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.TrackingSession
	putErr   error
	// persistErr simulates a write that reached memory but not disk.
	persistErr error
}

func newMockStore() *mockStore {
	return &mockStore{sessions: make(map[string]*domain.TrackingSession)}
}

func (m *mockStore) Get(_ context.Context, id string) (*domain.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *mockStore) GetAll(_ context.Context) (map[string]*domain.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*domain.TrackingSession, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.Clone()
	}
	return out, nil
}

func (m *mockStore) Put(_ context.Context, s *domain.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *mockStore) Update(_ context.Context, id string, fn UpdateFunc) (*domain.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.sessions[id].Clone()
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	next.ID = id
	m.sessions[id] = next.Clone()
	return next, m.persistErr
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*domain.TrackingSession)
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *countingNotifier) NotifyFirstOpen(_ context.Context, s *domain.TrackingSession) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, s.ID)
	return n.err
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type stubEnricher struct{}

func (stubEnricher) Enrich(_ context.Context, ip, _ string) (*domain.Geolocation, domain.Device) {
	return &domain.Geolocation{Country: "US", City: "Test " + ip}, domain.Device{Browser: "Chrome", OS: "Android", FormFactor: domain.FormFactorMobile}
}

var fixedNow = time.UnixMilli(1700000000000)

func newTestService(store Store, n Notifier) *Service {
	return NewService(store,
		WithNotifier(n),
		WithEnricher(stubEnricher{}),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func TestService_Create(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, nil)
	ctx := context.Background()

	sess, err := svc.Create(ctx, domain.EmailDraft{Subject: "Hello", Recipients: []string{"a@example.com", " ", "b@example.com"}})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSent, sess.Status)
	assert.Empty(t, sess.PixelLoads)
	assert.Empty(t, sess.LinkClicks)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sess.Recipients)
	assert.Equal(t, fixedNow.UnixMilli(), sess.SentTimestamp)
	_, err = uuid.Parse(sess.ID)
	assert.NoError(t, err)

	stored, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, stored)
}

func TestService_CreateUniqueIDs(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	ctx := context.Background()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		sess, err := svc.Create(ctx, domain.EmailDraft{Subject: fmt.Sprintf("mail %d", i)})
		require.NoError(t, err)
		_, dup := seen[sess.ID]
		require.False(t, dup, "duplicate id %s", sess.ID)
		seen[sess.ID] = struct{}{}
	}
	assert.Len(t, seen, 10000)
}

func TestService_CreateStoreUnavailable(t *testing.T) {
	store := newMockStore()
	store.putErr = errors.New("quota exceeded")
	svc := newTestService(store, nil)

	sess, err := svc.Create(context.Background(), domain.EmailDraft{Subject: "s"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotNil(t, sess)
	assert.NotEmpty(t, sess.ID)
}

func TestService_RecordOpenUnknownID(t *testing.T) {
	store := newMockStore()
	n := &countingNotifier{}
	svc := newTestService(store, n)
	ctx := context.Background()

	assert.False(t, svc.RecordOpen(ctx, "missing", domain.ClientInfo{IP: "198.51.100.1"}))
	assert.False(t, svc.RecordClick(ctx, "missing", "link_0", "https://example.com", domain.ClientInfo{}))
	assert.False(t, svc.RecordOpen(ctx, "", domain.ClientInfo{}))

	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	svc.Flush()
	assert.Equal(t, 0, n.count())
}

func TestService_StatusProgression(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	ctx := context.Background()

	sess, err := svc.Create(ctx, domain.EmailDraft{Subject: "s"})
	require.NoError(t, err)

	require.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{IP: "203.0.113.5", UserAgent: "UA", Timestamp: fixedNow.UnixMilli() + 10}))
	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpened, got.Status)
	require.Len(t, got.PixelLoads, 1)
	assert.Equal(t, "203.0.113.5", got.PixelLoads[0].IPAddress)
	assert.Equal(t, "Chrome", got.PixelLoads[0].Device.Browser)
	require.NotNil(t, got.PixelLoads[0].Geolocation)

	require.True(t, svc.RecordClick(ctx, sess.ID, "link_0", "https://example.com", domain.ClientInfo{IP: "203.0.113.5"}))
	got, err = svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClicked, got.Status)
	require.Len(t, got.LinkClicks, 1)
	assert.Equal(t, "link_0", got.LinkClicks[0].LinkID)
	assert.Equal(t, fixedNow.UnixMilli(), got.LinkClicks[0].Timestamp)

	// a later open never lowers the status
	require.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{IP: "203.0.113.6"}))
	got, err = svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClicked, got.Status)
	assert.Len(t, got.PixelLoads, 2)
}

func TestService_PreResolvedGeolocationWins(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, domain.EmailDraft{})
	require.NoError(t, err)

	geo := &domain.Geolocation{Country: "DE", City: "Berlin"}
	require.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{IP: "1.2.3.4", Geolocation: geo}))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Berlin", got.PixelLoads[0].Geolocation.City)
}

func TestService_MissingClientDetailsRecordedAsUnknown(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	ctx := context.Background()
	sess, err := svc.Create(ctx, domain.EmailDraft{})
	require.NoError(t, err)

	require.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{}))
	require.True(t, svc.RecordClick(ctx, sess.ID, "link_0", "https://example.com", domain.ClientInfo{IP: " "}))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.PixelLoads, 1)
	assert.Equal(t, domain.Unknown, got.PixelLoads[0].IPAddress)
	assert.Equal(t, domain.Unknown, got.PixelLoads[0].UserAgent)
	require.Len(t, got.LinkClicks, 1)
	assert.Equal(t, domain.Unknown, got.LinkClicks[0].IPAddress)
	assert.Equal(t, domain.Unknown, got.LinkClicks[0].UserAgent)
}

func TestService_FirstOpenNotifiesOnce(t *testing.T) {
	n := &countingNotifier{}
	svc := newTestService(newMockStore(), n)
	ctx := context.Background()

	sess, err := svc.Create(ctx, domain.EmailDraft{Subject: "s"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{IP: fmt.Sprintf("10.0.0.%d", i)}))
		}(i)
	}
	wg.Wait()
	svc.Flush()

	assert.Equal(t, 1, n.count())
	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.PixelLoads, 20)
}

func TestService_NotificationIndependentOfPersistence(t *testing.T) {
	store := newMockStore()
	n := &countingNotifier{err: errors.New("notifier down")}
	svc := newTestService(store, n)
	ctx := context.Background()

	sess, err := svc.Create(ctx, domain.EmailDraft{Subject: "s"})
	require.NoError(t, err)

	store.persistErr = fmt.Errorf("write: %w", ErrStoreUnavailable)
	assert.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{IP: "203.0.113.5"}))
	svc.Flush()
	assert.Equal(t, 1, n.count())
}

func TestService_NotifySurvivesCanceledContext(t *testing.T) {
	n := &countingNotifier{}
	svc := newTestService(newMockStore(), n)

	sess, err := svc.Create(context.Background(), domain.EmailDraft{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, svc.RecordOpen(ctx, sess.ID, domain.ClientInfo{}))
	cancel()
	svc.Flush()
	assert.Equal(t, 1, n.count())
}

func TestService_FindAndDeleteByRecipient(t *testing.T) {
	svc := newTestService(newMockStore(), nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, domain.EmailDraft{Subject: "a", Recipients: []string{"ana@example.com"}})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.EmailDraft{Subject: "b", Recipients: []string{"bo@example.com"}})
	require.NoError(t, err)

	found, err := svc.FindByRecipient(ctx, "ANA@example.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	n, err := svc.DeleteByRecipient(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Get(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := svc.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.FindByRecipient(ctx, " ")
	assert.Error(t, err)
}

func TestService_ClearAndList(t *testing.T) {
	clock := fixedNow
	svc := NewService(newMockStore(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.EmailDraft{Subject: "first"})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := svc.Create(ctx, domain.EmailDraft{Subject: "second"})
	require.NoError(t, err)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	require.NoError(t, svc.Clear(ctx))
	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
