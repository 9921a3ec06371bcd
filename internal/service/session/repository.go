package session

import (
	"context"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// UpdateFunc mutates a session inside Store.Update. current is a private
// copy of the stored session, or nil when the id is absent. Returning a nil
// session leaves the store unchanged; returning an error aborts the write
// and Update returns that error as-is.
type UpdateFunc func(current *domain.TrackingSession) (*domain.TrackingSession, error)

// Store defines the data access contract for a mapping from session id to
// TrackingSession. The agent and the aggregator each own one instance.
//
// Implementations return copies: callers may mutate what they receive
// without affecting stored state.
type Store interface {
	// Get returns the session for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.TrackingSession, error)

	// GetAll returns every stored session keyed by id. Ordering is unspecified.
	GetAll(ctx context.Context) (map[string]*domain.TrackingSession, error)

	// Put replaces the session stored under s.ID.
	Put(ctx context.Context, s *domain.TrackingSession) error

	// Update runs a read-modify-write of one session and returns the value
	// stored afterwards (nil if the id is still absent). Calls for the same
	// id are serialized; calls for different ids never block each other.
	// When the write reached memory but durable persistence failed, Update
	// returns the new session together with an error wrapping
	// ErrStoreUnavailable.
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.TrackingSession, error)

	// Delete removes a whole session. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every session.
	Clear(ctx context.Context) error
}
