package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Merge combines two replicas of the same session into a new value.
//
// Scalars keep the existing value when it is set. Events form a union keyed
// by (timestamp, ipAddress, linkId): every existing event is kept and an
// incoming event is added only when no existing event has its key. The
// result is ordered by timestamp, then ipAddress, then linkId, and the
// status is recomputed. Neither argument is modified.
func Merge(existing, incoming *domain.TrackingSession) *domain.TrackingSession {
	if existing == nil {
		if incoming == nil {
			return nil
		}
		out := incoming.Clone()
		sortEvents(out)
		out.Normalize()
		return out
	}
	out := existing.Clone()
	if incoming == nil {
		sortEvents(out)
		out.Normalize()
		return out
	}

	if out.ID == "" {
		out.ID = incoming.ID
	}
	if out.EmailSubject == "" {
		out.EmailSubject = incoming.EmailSubject
	}
	if len(out.Recipients) == 0 && len(incoming.Recipients) > 0 {
		out.Recipients = append([]string(nil), incoming.Recipients...)
	}
	if out.SentTimestamp == 0 {
		out.SentTimestamp = incoming.SentTimestamp
	}

	in := incoming.Clone()
	out.PixelLoads = unionEvents(out.PixelLoads, in.PixelLoads, domain.OpenEvent.Key)
	out.LinkClicks = unionEvents(out.LinkClicks, in.LinkClicks, domain.ClickEvent.Key)
	sortEvents(out)
	out.Normalize()
	return out
}

func unionEvents[E any](existing, incoming []E, key func(E) domain.EventKey) []E {
	seen := make(map[domain.EventKey]struct{}, len(existing))
	for _, e := range existing {
		seen[key(e)] = struct{}{}
	}
	out := existing
	for _, e := range incoming {
		if _, ok := seen[key(e)]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

func compareKeys(a, b domain.EventKey) int {
	return cmp.Or(
		cmp.Compare(a.Timestamp, b.Timestamp),
		strings.Compare(a.IPAddress, b.IPAddress),
		strings.Compare(a.LinkID, b.LinkID),
	)
}

func sortEvents(s *domain.TrackingSession) {
	slices.SortStableFunc(s.PixelLoads, func(a, b domain.OpenEvent) int {
		return compareKeys(a.Key(), b.Key())
	})
	slices.SortStableFunc(s.LinkClicks, func(a, b domain.ClickEvent) int {
		return compareKeys(a.Key(), b.Key())
	})
}

// unchanged reports whether merged adds nothing to cur. Merge only ever
// fills empty scalars and appends events, so equal lengths and scalars
// mean equal content.
func unchanged(cur, merged *domain.TrackingSession) bool {
	return len(cur.PixelLoads) == len(merged.PixelLoads) &&
		len(cur.LinkClicks) == len(merged.LinkClicks) &&
		cur.EmailSubject == merged.EmailSubject &&
		len(cur.Recipients) == len(merged.Recipients) &&
		cur.SentTimestamp == merged.SentTimestamp &&
		cur.Status == merged.Status
}

// ReconcileResult reports what a Reconcile call changed.
type ReconcileResult struct {
	// Merged counts sessions whose stored value changed.
	Merged int
	// Inserted counts ids that were new to the store.
	Inserted int
	// FirstOpens holds sessions that already existed in the store and
	// gained their first open through the merge.
	FirstOpens []*domain.TrackingSession
}

// Reconcile merges every incoming session into the store, one id at a time,
// each under the store's per-id serialization. The stored value is read
// fresh for each id, so events recorded concurrently are never lost. A
// failure on one id does not stop the others; all failures are returned
// joined.
func (s *Service) Reconcile(ctx context.Context, incoming map[string]*domain.TrackingSession) (ReconcileResult, error) {
	var (
		res  ReconcileResult
		errs []error
	)
	for id, in := range incoming {
		if id == "" || in == nil {
			continue
		}
		var (
			inserted  bool
			firstOpen bool
			changed   bool
		)
		merged, err := s.store.Update(ctx, id, func(cur *domain.TrackingSession) (*domain.TrackingSession, error) {
			inserted, firstOpen, changed = false, false, false
			if cur == nil {
				out := Merge(nil, in)
				out.ID = id
				inserted, changed = true, true
				return out, nil
			}
			out := Merge(cur, in)
			if unchanged(cur, out) {
				return nil, nil
			}
			changed = true
			firstOpen = len(cur.PixelLoads) == 0 && len(out.PixelLoads) > 0
			return out, nil
		})
		if err != nil && merged == nil {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", id, err))
			continue
		}
		if err != nil {
			log.Printf("[session] reconcile %s kept in memory, persistence degraded: %v", id, err)
		}
		if changed {
			res.Merged++
		}
		if inserted {
			res.Inserted++
		}
		if firstOpen {
			res.FirstOpens = append(res.FirstOpens, merged)
		}
	}
	return res, errors.Join(errs...)
}
