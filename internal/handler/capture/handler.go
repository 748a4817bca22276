// Package capture exposes the live microphone/camera endpoints and the
// websocket the browser streams device data over.
package capture

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/emotifriend/backend/internal/handler/identity"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/orchestrator"
	"github.com/emotifriend/backend/pkg/utils"
)

// Handler starts and stops capture sessions.
type Handler struct {
	registry *orchestrator.Registry
	hub      *media.Hub
	upgrader websocket.Upgrader
}

func New(registry *orchestrator.Registry, hub *media.Hub) *Handler {
	return &Handler{
		registry: registry,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/capture/voice", h.handleVoice)
	r.Post("/capture/voice/stop", h.handleStop)
	r.Post("/capture/face", h.handleFace)
	r.Get("/ws/capture", h.handleSocket)
}

// handleVoice records from the live microphone until the client stops or
// the duration cap fires, then runs the clip through the voice pipeline.
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	o := h.registry.Get(identity.UserID(r))
	if err := o.SubmitVoice(r.Context()); err != nil {
		respondCaptureError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()))
}

// handleStop ends an active recording early; the in-flight voice request
// finishes with whatever was captured.
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	o := h.registry.Get(identity.UserID(r))
	o.StopCapture()
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (h *Handler) handleFace(w http.ResponseWriter, r *http.Request) {
	o := h.registry.Get(identity.UserID(r))
	if err := o.SubmitFace(r.Context()); err != nil {
		respondCaptureError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()))
}

// handleSocket upgrades the browser's capture connection and pumps it until
// it closes. The connection doubles as the microphone and the camera.
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[capture] upgrade failed: %v", err)
		return
	}

	h.hub.Serve(userID, conn)
}

func respondCaptureError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		utils.RespondError(w, http.StatusConflict, "another interaction is in progress")
	case errors.Is(err, media.ErrPermissionDenied):
		utils.RespondError(w, http.StatusForbidden, "device access denied")
	case errors.Is(err, media.ErrNoData):
		utils.RespondError(w, http.StatusBadRequest, "nothing was captured")
	default:
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	}
}
