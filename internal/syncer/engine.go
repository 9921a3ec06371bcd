// Package syncer reconciles the agent's local session store with the
// aggregator. A round trip sends the whole local mapping, receives the
// aggregator's merged mapping, and merges it back one session at a time.
package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/service/session"
)

// Options tunes an Engine. Zero fields take defaults.
type Options struct {
	Interval time.Duration // default 5m
	Timeout  time.Duration // default 30s
}

// Result summarizes one successful round trip.
type Result struct {
	Sent       int       `json:"sent"`
	Received   int       `json:"received"`
	Merged     int       `json:"merged"`
	Inserted   int       `json:"inserted"`
	FirstOpens int       `json:"firstOpens"`
	At         time.Time `json:"at"`
}

// Engine runs round trips periodically and on demand. At most one round
// trip is in flight at a time.
type Engine struct {
	svc      *session.Service
	remote   Remote
	opts     Options
	now      func() time.Time
	inFlight sync.Mutex

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool

	mu   sync.Mutex
	last *Result
}

// NewEngine creates an engine for svc's store against remote.
func NewEngine(svc *session.Service, remote Remote, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Engine{
		svc:     svc,
		remote:  remote,
		opts:    opts,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the sync loop until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	log.Printf("[syncer] started (interval=%s timeout=%s)", e.opts.Interval, e.opts.Timeout)
	go e.loop(ctx)
}

// Stop ends the loop and waits for an in-flight round trip to finish.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	if e.started.Load() {
		<-e.done
	}
}

// Trigger asks for a round trip as soon as possible. Requests made while
// one is already pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		if _, err := e.SyncNow(ctx); err != nil {
			log.Printf("[syncer] %v", err)
		}
	}
}

// SyncNow performs one round trip. On failure the local store is left
// untouched and the error wraps ErrRoundTripFailed; nothing is retried
// until the next tick or trigger.
func (e *Engine) SyncNow(ctx context.Context) (*Result, error) {
	e.inFlight.Lock()
	defer e.inFlight.Unlock()

	local, err := e.svc.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot local sessions: %w", err)
	}

	rctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	resp, err := e.remote.Sync(rctx, domain.SyncRequest{
		TrackingSessions: local,
		Timestamp:        e.now().UnixMilli(),
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoundTripFailed, err)
	}

	// merge against the store as it is now, not the snapshot sent above
	rec, err := e.svc.Reconcile(ctx, resp.UpdatedSessions)
	for _, s := range rec.FirstOpens {
		e.svc.Notify(ctx, s)
	}
	res := &Result{
		Sent:       len(local),
		Received:   len(resp.UpdatedSessions),
		Merged:     rec.Merged,
		Inserted:   rec.Inserted,
		FirstOpens: len(rec.FirstOpens),
		At:         e.now(),
	}
	e.mu.Lock()
	e.last = res
	e.mu.Unlock()

	if err != nil {
		return res, fmt.Errorf("merge sync reply: %w", err)
	}
	log.Printf("[syncer] sent=%d received=%d merged=%d inserted=%d", res.Sent, res.Received, res.Merged, res.Inserted)
	return res, nil
}

// Last returns the most recent successful round trip, or nil.
func (e *Engine) Last() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}
