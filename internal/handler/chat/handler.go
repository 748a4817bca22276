// Package chat exposes the conversation endpoints.
package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emotifriend/backend/internal/handler/identity"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/orchestrator"
	"github.com/emotifriend/backend/pkg/utils"
)

// Handler drives conversational turns through the per-user orchestrator.
type Handler struct {
	registry *orchestrator.Registry
}

func New(registry *orchestrator.Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/messages", h.handleSubmit)
	r.Get("/chat/messages", h.handleHistory)
	r.Delete("/chat/messages", h.handleClear)
	r.Post("/chat/voice", h.handleVoiceNote)
}

// handleSubmit runs one full text turn and returns the resulting state.
// Speech and video keep generating after the response; the event stream
// delivers them.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	o := h.registry.Get(identity.UserID(r))
	if err := o.Submit(r.Context(), payload.Text); err != nil {
		respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()))
}

// handleVoiceNote accepts an already-recorded clip as a data URI, for
// clients that record on their own instead of streaming the microphone.
func (h *Handler) handleVoiceNote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AudioDataURI string `json:"audioDataUri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clip := media.DataURI(payload.AudioDataURI)
	if !clip.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "audioDataUri must be a data URI")
		return
	}

	o := h.registry.Get(identity.UserID(r))
	if err := o.SubmitVoiceClip(r.Context(), clip); err != nil {
		respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	o := h.registry.Get(identity.UserID(r))
	snap := o.Snapshot(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": snap.Messages})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	o := h.registry.Get(identity.UserID(r))
	o.ClearConversation(r.Context())
	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()))
}

// respondTurnError maps pipeline failures onto HTTP statuses. The user-facing
// notification already went out on the event stream.
func respondTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestrator.ErrBusy) {
		utils.RespondError(w, http.StatusConflict, "another interaction is in progress")
		return
	}
	utils.RespondError(w, http.StatusBadGateway, err.Error())
}
