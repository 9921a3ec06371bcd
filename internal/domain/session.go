package domain

import "strings"

// SessionStatus is the engagement state of a tracked email. It is derived
// from the recorded events and never set directly.
type SessionStatus string

const (
	StatusSent    SessionStatus = "sent"
	StatusOpened  SessionStatus = "opened"
	StatusClicked SessionStatus = "clicked"
)

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusSent, StatusOpened, StatusClicked:
		return true
	}
	return false
}

// FormFactor values reported in Device.FormFactor.
const (
	FormFactorDesktop = "Desktop"
	FormFactorMobile  = "Mobile"
	FormFactorTablet  = "Tablet"
	Unknown           = "unknown"
)

// Geolocation is the coarse location resolved from a client IP.
type Geolocation struct {
	Country string  `json:"country"`
	Region  string  `json:"region"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Device is the client classification derived from a user-agent string.
type Device struct {
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	FormFactor string `json:"formFactor"`
}

// OpenEvent is one observed fetch of the tracking pixel.
type OpenEvent struct {
	Timestamp   int64        `json:"timestamp"`
	IPAddress   string       `json:"ipAddress"`
	UserAgent   string       `json:"userAgent"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
	Device      Device       `json:"device"`
}

// ClickEvent is one observed fetch of a tracked link.
type ClickEvent struct {
	OpenEvent
	LinkID      string `json:"linkId"`
	OriginalURL string `json:"originalUrl"`
}

// EventKey is the structural identity used to deduplicate events when two
// replicas of a session are merged.
type EventKey struct {
	Timestamp int64
	IPAddress string
	LinkID    string
}

// Key returns the merge identity of an open event.
func (e OpenEvent) Key() EventKey {
	return EventKey{Timestamp: e.Timestamp, IPAddress: e.IPAddress}
}

// Key returns the merge identity of a click event.
func (e ClickEvent) Key() EventKey {
	return EventKey{Timestamp: e.Timestamp, IPAddress: e.IPAddress, LinkID: e.LinkID}
}

// TrackingSession is the record kept for one sent email.
type TrackingSession struct {
	ID            string        `json:"id"`
	EmailSubject  string        `json:"emailSubject"`
	Recipients    []string      `json:"recipients"`
	SentTimestamp int64         `json:"sentTimestamp"`
	PixelLoads    []OpenEvent   `json:"pixelLoads"`
	LinkClicks    []ClickEvent  `json:"linkClicks"`
	Status        SessionStatus `json:"status"`
}

// DeriveStatus computes the status implied by the event sequences.
func (s *TrackingSession) DeriveStatus() SessionStatus {
	switch {
	case len(s.LinkClicks) > 0:
		return StatusClicked
	case len(s.PixelLoads) > 0:
		return StatusOpened
	default:
		return StatusSent
	}
}

// Normalize replaces nil slices with empty ones and recomputes the status.
// Sessions decoded from storage or from a sync peer are normalized before use.
func (s *TrackingSession) Normalize() {
	if s.Recipients == nil {
		s.Recipients = []string{}
	}
	if s.PixelLoads == nil {
		s.PixelLoads = []OpenEvent{}
	}
	if s.LinkClicks == nil {
		s.LinkClicks = []ClickEvent{}
	}
	s.Status = s.DeriveStatus()
}

// Clone returns a deep copy so callers never share slices with a store.
func (s *TrackingSession) Clone() *TrackingSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.Recipients != nil {
		out.Recipients = append(make([]string, 0, len(s.Recipients)), s.Recipients...)
	}
	if s.PixelLoads != nil {
		out.PixelLoads = make([]OpenEvent, len(s.PixelLoads))
		for i, e := range s.PixelLoads {
			out.PixelLoads[i] = e.clone()
		}
	}
	if s.LinkClicks != nil {
		out.LinkClicks = make([]ClickEvent, len(s.LinkClicks))
		for i, e := range s.LinkClicks {
			out.LinkClicks[i] = e
			out.LinkClicks[i].OpenEvent = e.OpenEvent.clone()
		}
	}
	return &out
}

func (e OpenEvent) clone() OpenEvent {
	if e.Geolocation != nil {
		g := *e.Geolocation
		e.Geolocation = &g
	}
	return e
}

// HasRecipient reports whether addr is one of the session recipients,
// compared case-insensitively.
func (s *TrackingSession) HasRecipient(addr string) bool {
	addr = strings.TrimSpace(addr)
	for _, r := range s.Recipients {
		if strings.EqualFold(strings.TrimSpace(r), addr) {
			return true
		}
	}
	return false
}

// SkewedEvents counts events whose timestamp precedes the send time.
func (s *TrackingSession) SkewedEvents() int {
	n := 0
	for _, e := range s.PixelLoads {
		if e.Timestamp < s.SentTimestamp {
			n++
		}
	}
	for _, e := range s.LinkClicks {
		if e.Timestamp < s.SentTimestamp {
			n++
		}
	}
	return n
}

// EmailDraft is what the submission source hands over when an email is sent.
type EmailDraft struct {
	Subject    string   `json:"subject"`
	Recipients []string `json:"recipients"`
}

// ClientInfo describes the client that fetched a pixel or link.
// A zero Timestamp means "now"; a non-nil Geolocation skips the lookup.
type ClientInfo struct {
	IP          string       `json:"ip"`
	UserAgent   string       `json:"userAgent"`
	Timestamp   int64        `json:"timestamp,omitempty"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
}
