package session

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// RecordOpen appends an open event to the session id. It returns false,
// without creating anything, when the id is unknown to the store. The
// first open ever recorded for a session fires the notifier.
func (s *Service) RecordOpen(ctx context.Context, id string, info domain.ClientInfo) bool {
	if id == "" {
		return false
	}
	evt := s.openEvent(ctx, info)

	var firstOpen bool
	updated, err := s.store.Update(ctx, id, func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		firstOpen = len(cur.PixelLoads) == 0
		cur.PixelLoads = append(cur.PixelLoads, evt)
		cur.Status = cur.DeriveStatus()
		return cur, nil
	})
	if !s.recorded(id, "open", updated, err) {
		return false
	}

	s.checkSkew(updated, evt.Timestamp)
	if firstOpen {
		s.Notify(ctx, updated)
	}
	return true
}

// RecordClick appends a click on linkID to the session id. Unknown ids
// return false. Clicks never notify.
func (s *Service) RecordClick(ctx context.Context, id, linkID, originalURL string, info domain.ClientInfo) bool {
	if id == "" {
		return false
	}
	evt := domain.ClickEvent{
		OpenEvent:   s.openEvent(ctx, info),
		LinkID:      linkID,
		OriginalURL: originalURL,
	}

	updated, err := s.store.Update(ctx, id, func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
		if cur == nil {
			return nil, ErrNotFound
		}
		cur.LinkClicks = append(cur.LinkClicks, evt)
		cur.Status = cur.DeriveStatus()
		return cur, nil
	})
	if !s.recorded(id, "click", updated, err) {
		return false
	}

	s.checkSkew(updated, evt.Timestamp)
	return true
}

func (s *Service) openEvent(ctx context.Context, info domain.ClientInfo) domain.OpenEvent {
	ts := info.Timestamp
	if ts == 0 {
		ts = s.now().UnixMilli()
	}
	geo, device := s.enricher.Enrich(ctx, info.IP, info.UserAgent)
	if info.Geolocation != nil {
		g := *info.Geolocation
		geo = &g
	}
	return domain.OpenEvent{
		Timestamp:   ts,
		IPAddress:   orUnknown(info.IP),
		UserAgent:   orUnknown(info.UserAgent),
		Geolocation: geo,
		Device:      device,
	}
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return domain.Unknown
	}
	return v
}

// recorded interprets an Update result. A session returned alongside an
// error means the event reached memory but not durable storage; that still
// counts as recorded.
func (s *Service) recorded(id, kind string, updated *domain.TrackingSession, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotFound):
		log.Printf("[recorder] %s for unknown session %s ignored", kind, id)
		return false
	case updated != nil:
		log.Printf("[recorder] %s for %s kept in memory, persistence degraded: %v", kind, id, err)
		return true
	default:
		log.Printf("[recorder] %s for %s not recorded: %v", kind, id, err)
		return false
	}
}

// Events earlier than the send time are accepted; the skew is only logged.
func (s *Service) checkSkew(sess *domain.TrackingSession, ts int64) {
	if ts < sess.SentTimestamp {
		log.Printf("[recorder] clock skew on %s: event at %d precedes send at %d", sess.ID, ts, sess.SentTimestamp)
	}
}
