// Package tracking serves the aggregator's HTTP surface: the pixel and
// link endpoints embedded in sent emails, and the sync endpoint agents
// reconcile against.
package tracking

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ignite/engagement-tracker/internal/archive"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/service/session"
	"github.com/ignite/engagement-tracker/internal/syncer"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Handler struct {
	svc      *session.Service
	schema   *jsonschema.Schema
	archiver archive.Archiver
	limiter  *RateLimiter
	now      func() time.Time
}

type Option func(*Handler)

// WithArchiver snapshots the store to a before each POST /clear.
func WithArchiver(a archive.Archiver) Option {
	return func(h *Handler) { h.archiver = a }
}

// WithRateLimiter applies rl to the pixel and link endpoints.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(h *Handler) { h.limiter = rl }
}

func NewHandler(svc *session.Service, opts ...Option) (*Handler, error) {
	schema, err := compileSyncSchema()
	if err != nil {
		return nil, err
	}
	h := &Handler{svc: svc, schema: schema, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Get("/pixel/{trackingId}", h.HandlePixel)
		r.Get("/link/{trackingId}/{linkId}", h.HandleLink)
	})

	r.Post("/sync", h.HandleSync)
	r.Post("/clear", h.HandleClear)
	r.Get("/gdpr/export/{recipient}", h.HandleExport)
	r.Delete("/gdpr/delete/{recipient}", h.HandleErase)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandlePixel records an open and always answers with the pixel, whether
// or not the id is known.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "trackingId"), ".gif")
	if h.svc.RecordOpen(r.Context(), id, h.clientInfo(r)) {
		log.Printf("[tracking] OPEN id=%s", id)
	}
	h.servePixel(w, id)
}

// HandleLink records a click and redirects to the original URL. A missing
// or non-web target is rejected before anything is recorded.
func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trackingId")
	linkID := chi.URLParam(r, "linkId")
	target := r.URL.Query().Get("url")
	if !session.Trackable(target) {
		httputil.BadRequest(w, "missing or invalid url parameter")
		return
	}

	if h.svc.RecordClick(r.Context(), id, linkID, target, h.clientInfo(r)) {
		log.Printf("[tracking] CLICK id=%s link=%s", id, linkID)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleSync merges an agent's sessions into this store and replies with
// the whole merged mapping. Opens learned this way were observed by the
// agent, so no notification is sent from here.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	data, err := httputil.ReadBody(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	req, err := h.decodeSync(data)
	if err != nil {
		log.Printf("[tracking] rejected sync: %v", err)
		httputil.BadRequest(w, err.Error())
		return
	}

	// Ids that merged stay merged even when others fail, so the reply is
	// still the current snapshot. The agent resends the rest next round.
	res, err := h.svc.Reconcile(r.Context(), req.TrackingSessions)
	if err != nil {
		log.Printf("[tracking] sync partial failure: %v", err)
	}
	all, err := h.svc.GetAll(r.Context())
	if err != nil {
		httputil.InternalError(w, fmt.Errorf("snapshot after sync: %w", err))
		return
	}

	log.Printf("[tracking] sync received=%d merged=%d inserted=%d total=%d",
		len(req.TrackingSessions), res.Merged, res.Inserted, len(all))
	httputil.OK(w, domain.SyncResponse{Success: true, UpdatedSessions: all})
}

func (h *Handler) decodeSync(data []byte) (*domain.SyncRequest, error) {
	if err := validateJSON(h.schema, data); err != nil {
		return nil, fmt.Errorf("%w: %w", syncer.ErrMalformedPayload, err)
	}
	var req domain.SyncRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", syncer.ErrMalformedPayload, err)
	}
	for key, s := range req.TrackingSessions {
		if s == nil || s.ID != key {
			return nil, fmt.Errorf("%w: session key %q does not match its id", syncer.ErrMalformedPayload, key)
		}
	}
	return &req, nil
}

// HandleClear archives the store when an archiver is configured, then
// empties it. Nothing is cleared if the archive fails.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"success": true}
	if h.archiver != nil {
		all, err := h.svc.GetAll(r.Context())
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		key, err := h.archiver.Archive(r.Context(), all)
		if err != nil {
			httputil.InternalError(w, fmt.Errorf("archive before clear: %w", err))
			return
		}
		resp["archive"] = key
	}
	if err := h.svc.Clear(r.Context()); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, resp)
}

// HandleExport returns every session addressed to the recipient.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	found, err := h.svc.FindByRecipient(r.Context(), recipient)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if found == nil {
		found = []*domain.TrackingSession{}
	}
	logger.Info("recipient export", "recipient", recipient, "count", len(found))
	httputil.OK(w, map[string]any{"success": true, "sessions": found})
}

// HandleErase deletes every session addressed to the recipient. Partial
// failures are reported alongside the number deleted.
func (h *Handler) HandleErase(w http.ResponseWriter, r *http.Request) {
	recipient := chi.URLParam(r, "recipient")
	n, err := h.svc.DeleteByRecipient(r.Context(), recipient)
	if err != nil && n == 0 {
		httputil.InternalError(w, err)
		return
	}
	resp := map[string]any{"success": err == nil, "deleted": n}
	if err != nil {
		resp["error"] = "some sessions could not be deleted"
		log.Printf("[tracking] partial erase: %v", err)
	}
	httputil.OK(w, resp)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) clientInfo(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{
		IP:        realIP(r),
		UserAgent: r.UserAgent(),
		Timestamp: h.now().UnixMilli(),
	}
}

func (h *Handler) servePixel(w http.ResponseWriter, id string) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixelGIF)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	// unique per response so no cache ever revalidates to a 304
	w.Header().Set("ETag", fmt.Sprintf(`"%s-%d"`, id, h.now().UnixNano()))
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
