package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session service layer.
var (
	ErrNotFound         = errors.New("tracking session not found")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// unavailable wraps a storage failure so callers can match it with
// errors.Is(err, ErrStoreUnavailable) regardless of the backend.
func unavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
