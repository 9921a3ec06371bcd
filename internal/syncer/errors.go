package syncer

import (
	"errors"
	"fmt"
)

// ErrRoundTripFailed wraps every failure of a sync round trip: transport
// errors, non-2xx replies, undecodable bodies and explicit failures.
var ErrRoundTripFailed = errors.New("sync round trip failed")

// HTTPError is a non-2xx reply from the aggregator.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// ErrMalformedPayload marks a sync body that does not decode or validate.
var ErrMalformedPayload = errors.New("malformed sync payload")
