package message

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/session"
	"github.com/ignite/engagement-tracker/internal/syncer"
)

// Response is the reply to every message. Only the fields relevant to the
// message kind are set.
type Response struct {
	Success      bool     `json:"success"`
	TrackingID   string   `json:"trackingId,omitempty"`
	PixelURL     string   `json:"pixelUrl,omitempty"`
	TrackedLinks []string `json:"trackedLinks,omitempty"`
	Data         any      `json:"data"`
	Error        string   `json:"error,omitempty"`
}

// Syncer runs an on-demand sync round trip.
type Syncer interface {
	SyncNow(ctx context.Context) (*syncer.Result, error)
}

// Switch turns first-open notifications on and off.
type Switch interface {
	SetEnabled(enabled bool)
	Enabled() bool
}

// Dispatcher executes messages against the local session service.
type Dispatcher struct {
	svc     *session.Service
	baseURL string
	sync    Syncer
	toggle  Switch
}

// NewDispatcher creates a dispatcher. baseURL is the aggregator address
// embedded in pixel and link URLs. sync and toggle may be nil, in which
// case the corresponding messages fail.
func NewDispatcher(svc *session.Service, baseURL string, sync Syncer, toggle Switch) *Dispatcher {
	return &Dispatcher{svc: svc, baseURL: baseURL, sync: sync, toggle: toggle}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) Response {
	switch m := msg.(type) {
	case CreateTrackingSession:
		return d.create(ctx, m)
	case RecordPixelLoad:
		return Response{Success: d.svc.RecordOpen(ctx, m.TrackingID, m.Data)}
	case RecordLinkClick:
		return Response{Success: d.svc.RecordClick(ctx, m.TrackingID, m.LinkID, m.URL, m.Data)}
	case GetTrackingData:
		return d.get(ctx, m)
	case SyncNow:
		return d.syncNow(ctx)
	case SetTrackingEnabled:
		if d.toggle == nil {
			return failure(errors.New("notifications cannot be toggled"))
		}
		d.toggle.SetEnabled(m.Enabled)
		log.Printf("[message] tracking notifications enabled=%t", m.Enabled)
		return Response{Success: true, Data: map[string]bool{"enabled": m.Enabled}}
	case ClearTrackingData:
		if err := d.svc.Clear(ctx); err != nil {
			log.Printf("[message] clear failed: %v", err)
			return failure(fmt.Errorf("clear tracking data: %w", err))
		}
		return Response{Success: true}
	default:
		return failure(ErrUnknownType)
	}
}

func (d *Dispatcher) create(ctx context.Context, m CreateTrackingSession) Response {
	s, err := d.svc.Create(ctx, domain.EmailDraft{
		Subject:    m.EmailDetails.Subject,
		Recipients: m.EmailDetails.Recipients,
	})
	if s == nil {
		return failure(err)
	}
	// a session that reached memory but not disk is still usable
	if err != nil {
		log.Printf("[message] session %s created, persistence degraded: %v", s.ID, err)
	}
	resp := Response{Success: true, TrackingID: s.ID}
	if d.baseURL != "" {
		resp.PixelURL = session.PixelURL(d.baseURL, s.ID)
		if len(m.EmailDetails.Links) > 0 {
			resp.TrackedLinks = session.RewriteLinks(d.baseURL, s.ID, m.EmailDetails.Links)
		}
	}
	return resp
}

// get returns null data, not a failure, for an unknown id.
func (d *Dispatcher) get(ctx context.Context, m GetTrackingData) Response {
	if m.TrackingID == "" {
		all, err := d.svc.GetAll(ctx)
		if err != nil {
			return failure(err)
		}
		return Response{Success: true, Data: all}
	}
	s, err := d.svc.Get(ctx, m.TrackingID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return Response{Success: true, Data: nil}
	case err != nil:
		return failure(err)
	}
	return Response{Success: true, Data: s}
}

func (d *Dispatcher) syncNow(ctx context.Context) Response {
	if d.sync == nil {
		return failure(errors.New("sync is not configured"))
	}
	res, err := d.sync.SyncNow(ctx)
	if err != nil {
		return failure(err)
	}
	return Response{Success: true, Data: res}
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}
