package session

import (
	"context"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Enricher resolves the client details attached to an event. A nil
// geolocation means the location could not be determined.
type Enricher interface {
	Enrich(ctx context.Context, ip, userAgent string) (*domain.Geolocation, domain.Device)
}

// Notifier is told when a session records its first open.
type Notifier interface {
	NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error
}

type nopEnricher struct{}

func (nopEnricher) Enrich(context.Context, string, string) (*domain.Geolocation, domain.Device) {
	return nil, domain.Device{Browser: domain.Unknown, OS: domain.Unknown, FormFactor: domain.Unknown}
}

type nopNotifier struct{}

func (nopNotifier) NotifyFirstOpen(context.Context, *domain.TrackingSession) error { return nil }
