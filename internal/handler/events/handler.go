package events

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emotifriend/backend/internal/handler/identity"
	"github.com/emotifriend/backend/internal/orchestrator"
	"github.com/emotifriend/backend/pkg/utils"
)

// Handler serves the per-user event stream.
type Handler struct {
	broker   *Broker
	registry *orchestrator.Registry
}

func New(broker *Broker, registry *orchestrator.Registry) *Handler {
	return &Handler{broker: broker, registry: registry}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	userID := identity.UserID(r)
	utils.SetupSSEHeaders(w)

	events, cancel := h.broker.Subscribe(userID)
	defer cancel()

	log.Printf("[events] stream opened user=%s", userID)

	// The client gets the full current state up front so a reconnect never
	// has to reconstruct it from deltas.
	snap := h.registry.Get(userID).Snapshot(r.Context())
	utils.SendSSEChunk(w, flusher, Event{Type: "state", State: &snap})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[events] stream closed user=%s", userID)
			return
		case ev := <-events:
			utils.SendSSEChunk(w, flusher, ev)
		}
	}
}
