// Package message is the agent's local request contract. Each request kind
// is its own type; Decode turns a {"type": ...} envelope into one of them
// and Dispatcher handles them with an exhaustive type switch.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// ErrUnknownType is returned by Decode for an unrecognised "type" tag.
var ErrUnknownType = errors.New("unknown message type")

// Wire tags for each message kind.
const (
	TypeCreateTrackingSession = "CREATE_TRACKING_SESSION"
	TypeRecordPixelLoad       = "RECORD_PIXEL_LOAD"
	TypeRecordLinkClick       = "RECORD_LINK_CLICK"
	TypeGetTrackingData       = "GET_TRACKING_DATA"
	TypeSyncNow               = "SYNC_NOW"
	TypeSetTrackingEnabled    = "SET_TRACKING_ENABLED"
	TypeClearTrackingData     = "CLEAR_TRACKING_DATA"

	// older senders use the short form
	typeCreateTrackingAlias = "CREATE_TRACKING"
)

// Message is implemented only by the request types in this package.
type Message interface {
	isMessage()
}

// EmailDetails describes an email about to be sent. Links, when given, are
// returned rewritten as tracked redirect URLs in the same order.
type EmailDetails struct {
	Subject    string   `json:"subject"`
	Recipients []string `json:"recipients"`
	Links      []string `json:"links,omitempty"`
}

type CreateTrackingSession struct {
	EmailDetails EmailDetails `json:"emailDetails"`
}

type RecordPixelLoad struct {
	TrackingID string            `json:"trackingId"`
	Data       domain.ClientInfo `json:"data"`
}

type RecordLinkClick struct {
	TrackingID string            `json:"trackingId"`
	LinkID     string            `json:"linkId"`
	URL        string            `json:"url"`
	Data       domain.ClientInfo `json:"data"`
}

// GetTrackingData asks for one session, or every session when TrackingID
// is empty.
type GetTrackingData struct {
	TrackingID string `json:"trackingId,omitempty"`
}

type SyncNow struct{}

type SetTrackingEnabled struct {
	Enabled bool `json:"enabled"`
}

type ClearTrackingData struct{}

func (CreateTrackingSession) isMessage() {}
func (RecordPixelLoad) isMessage()       {}
func (RecordLinkClick) isMessage()       {}
func (GetTrackingData) isMessage()       {}
func (SyncNow) isMessage()               {}
func (SetTrackingEnabled) isMessage()    {}
func (ClearTrackingData) isMessage()     {}

// Decode reads the "type" tag of data and decodes the rest into the
// matching message.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeCreateTrackingSession, typeCreateTrackingAlias:
		msg, err = decodeInto[CreateTrackingSession](data)
	case TypeRecordPixelLoad:
		msg, err = decodeInto[RecordPixelLoad](data)
	case TypeRecordLinkClick:
		msg, err = decodeInto[RecordLinkClick](data)
	case TypeGetTrackingData:
		msg, err = decodeInto[GetTrackingData](data)
	case TypeSyncNow:
		msg = SyncNow{}
	case TypeSetTrackingEnabled:
		msg, err = decodeInto[SetTrackingEnabled](data)
	case TypeClearTrackingData:
		msg = ClearTrackingData{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return msg, nil
}

func decodeInto[M Message](data []byte) (Message, error) {
	var m M
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
