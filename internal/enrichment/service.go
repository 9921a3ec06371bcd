// Package enrichment resolves the client details attached to recorded
// events: a device classification from the user agent and, when a lookup
// endpoint is configured, a coarse geolocation from the IP address.
package enrichment

import (
	"context"
	"log"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ignite/engagement-tracker/internal/domain"
)

const (
	// DefaultLookupTimeout bounds a single geolocation lookup. Lookups run
	// on the pixel and link request path.
	DefaultLookupTimeout = 1500 * time.Millisecond

	maxFailureTTL = time.Minute
)

// Service implements session.Enricher. Lookups are cached per IP,
// including misses, so a busy pixel does not hammer the locator. Failed
// lookups are cached as misses for a shorter period.
type Service struct {
	locator Locator
	cache   *cache.Cache
	ttl     time.Duration
	failTTL time.Duration
	timeout time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLookupTimeout overrides DefaultLookupTimeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates an enricher. locator may be nil to disable geolocation.
func New(locator Locator, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	s := &Service{
		locator: locator,
		cache:   cache.New(ttl, ttl/2),
		ttl:     ttl,
		failTTL: min(ttl, maxFailureTTL),
		timeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Enrich(ctx context.Context, ip, userAgent string) (*domain.Geolocation, domain.Device) {
	return s.Locate(ctx, ip), ClassifyDevice(userAgent)
}

// Locate returns the cached or freshly resolved location of ip, or nil.
// It never waits on the locator longer than the lookup timeout.
func (s *Service) Locate(ctx context.Context, ip string) *domain.Geolocation {
	if s.locator == nil || !Locatable(ip) {
		return nil
	}
	if v, ok := s.cache.Get(ip); ok {
		return copyGeo(v.(*domain.Geolocation))
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	geo, err := s.lookup(lookupCtx, ip)
	if err != nil {
		log.Printf("[enrichment] locate %s: %v", ip, err)
		if ctx.Err() == nil {
			s.cache.Set(ip, (*domain.Geolocation)(nil), s.failTTL)
		}
		return nil
	}
	s.cache.Set(ip, geo, s.ttl)
	return copyGeo(geo)
}

// lookup runs the locator but returns once ctx is done even if the
// locator ignores cancellation.
func (s *Service) lookup(ctx context.Context, ip string) (*domain.Geolocation, error) {
	type result struct {
		geo *domain.Geolocation
		err error
	}
	done := make(chan result, 1)
	go func() {
		geo, err := s.locator.Locate(ctx, ip)
		done <- result{geo, err}
	}()

	select {
	case r := <-done:
		return r.geo, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func copyGeo(g *domain.Geolocation) *domain.Geolocation {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}
