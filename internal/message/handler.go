package message

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
)

// Handler exposes a Dispatcher on the agent's loopback listener.
type Handler struct {
	d *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{d: d}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/messages", h.HandleMessage)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.OK(w, map[string]string{"status": "ok"})
	})
	return r
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	data, err := httputil.ReadBody(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	msg, err := Decode(data)
	if errors.Is(err, ErrUnknownType) {
		httputil.BadRequest(w, ErrUnknownType.Error())
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, h.d.Dispatch(r.Context(), msg))
}
