// Package notify delivers the first-open signal for a tracking session.
// Notifiers render a title and message from a Liquid template and hand it
// to a log, an SQS queue, or an email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Notifier is told when a session records its first open.
type Notifier interface {
	NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error
}

// Message is a rendered notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"message"`
}

// Renderer turns a session into a Message.
type Renderer struct {
	title string
	tpl   *liquid.Template
}

// NewRenderer parses template. Bindings available to it: subject, id,
// recipients (comma separated), recipient_count, opened_at (RFC 3339).
func NewRenderer(title, template string) (*Renderer, error) {
	tpl, err := liquid.NewEngine().ParseString(template)
	if err != nil {
		return nil, fmt.Errorf("parse notification template: %w", err)
	}
	return &Renderer{title: title, tpl: tpl}, nil
}

// Render fills the template for s.
func (r *Renderer) Render(s *domain.TrackingSession) (Message, error) {
	openedAt := ""
	if len(s.PixelLoads) > 0 {
		openedAt = time.UnixMilli(s.PixelLoads[0].Timestamp).UTC().Format(time.RFC3339)
	}
	subject := s.EmailSubject
	if subject == "" {
		subject = "(no subject)"
	}
	body, err := r.tpl.RenderString(liquid.Bindings{
		"subject":         subject,
		"id":              s.ID,
		"recipients":      strings.Join(s.Recipients, ", "),
		"recipient_count": len(s.Recipients),
		"opened_at":       openedAt,
	})
	if err != nil {
		return Message{}, fmt.Errorf("render notification: %w", err)
	}
	return Message{Title: r.title, Body: body}, nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyFirstOpen(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Toggle forwards to next only while enabled.
type Toggle struct {
	next    Notifier
	enabled atomic.Bool
}

// NewToggle wraps next in the given state.
func NewToggle(next Notifier, enabled bool) *Toggle {
	t := &Toggle{next: next}
	t.enabled.Store(enabled)
	return t
}

// SetEnabled switches delivery on or off.
func (t *Toggle) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled reports the current state.
func (t *Toggle) Enabled() bool { return t.enabled.Load() }

func (t *Toggle) NotifyFirstOpen(ctx context.Context, s *domain.TrackingSession) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.next.NotifyFirstOpen(ctx, s)
}
