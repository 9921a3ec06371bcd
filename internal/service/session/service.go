package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
)

// Service implements the session lifecycle on top of a Store. It is safe for
// concurrent use.
type Service struct {
	store    Store
	enricher Enricher
	notifier Notifier
	now      func() time.Time

	notifyWG sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithEnricher sets the enrichment boundary used for recorded events.
func WithEnricher(e Enricher) Option {
	return func(s *Service) {
		if e != nil {
			s.enricher = e
		}
	}
}

// WithNotifier sets the observer told about first opens.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a session service backed by the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		enricher: nopEnricher{},
		notifier: nopNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store.
func (s *Service) Store() Store { return s.store }

// Create allocates a session for a sent email. When the store cannot be
// written the session is still returned, with an error wrapping
// ErrStoreUnavailable, so the caller can hand out the id regardless.
func (s *Service) Create(ctx context.Context, draft domain.EmailDraft) (*domain.TrackingSession, error) {
	recipients := make([]string, 0, len(draft.Recipients))
	for _, r := range draft.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	sess := &domain.TrackingSession{
		ID:            NewSessionID(),
		EmailSubject:  draft.Subject,
		Recipients:    recipients,
		SentTimestamp: s.now().UnixMilli(),
		PixelLoads:    []domain.OpenEvent{},
		LinkClicks:    []domain.ClickEvent{},
		Status:        domain.StatusSent,
	}

	if err := s.store.Put(ctx, sess.Clone()); err != nil {
		log.Printf("[session] persist new session %s failed: %v", sess.ID, err)
		return sess, unavailable("create session", err)
	}

	logger.Info("tracking session created", "id", sess.ID, "recipients", strings.Join(recipients, ","))
	return sess, nil
}

// Get returns one session or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*domain.TrackingSession, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

// GetAll returns the whole mapping.
func (s *Service) GetAll(ctx context.Context) (map[string]*domain.TrackingSession, error) {
	return s.store.GetAll(ctx)
}

// List returns every session ordered by send time, newest first.
func (s *Service) List(ctx context.Context) ([]*domain.TrackingSession, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.TrackingSession, 0, len(all))
	for _, sess := range all {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentTimestamp != out[j].SentTimestamp {
			return out[i].SentTimestamp > out[j].SentTimestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Clear removes every session from the store.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return unavailable("clear sessions", err)
	}
	log.Printf("[session] all tracking sessions cleared")
	return nil
}

// FindByRecipient returns the sessions addressed to recipient.
func (s *Service) FindByRecipient(ctx context.Context, recipient string) ([]*domain.TrackingSession, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.TrackingSession
	for _, sess := range all {
		if sess.HasRecipient(recipient) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// DeleteByRecipient removes every session addressed to recipient and
// returns how many were deleted. Deletion is best effort: a failure on one
// session does not stop the others.
func (s *Service) DeleteByRecipient(ctx context.Context, recipient string) (int, error) {
	matches, err := s.FindByRecipient(ctx, recipient)
	if err != nil {
		return 0, err
	}
	var errs []error
	deleted := 0
	for _, sess := range matches {
		if err := s.store.Delete(ctx, sess.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", sess.ID, err))
			continue
		}
		deleted++
	}
	logger.Info("recipient sessions deleted", "recipient", recipient, "count", deleted)
	return deleted, errors.Join(errs...)
}

// Notify tells the notifier that s recorded its first open. The call runs
// in the background and outlives ctx cancellation.
func (s *Service) Notify(ctx context.Context, sess *domain.TrackingSession) {
	snapshot := sess.Clone()
	nctx := context.WithoutCancel(ctx)
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		if err := s.notifier.NotifyFirstOpen(nctx, snapshot); err != nil {
			log.Printf("[session] first-open notification for %s failed: %v", snapshot.ID, err)
		}
	}()
}

// Flush blocks until every pending notification has returned.
func (s *Service) Flush() {
	s.notifyWG.Wait()
}
