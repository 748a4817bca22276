// Package persona exposes the avatar and voice settings endpoints.
package persona

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/handler/identity"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/model/persona"
	"github.com/emotifriend/backend/internal/orchestrator"
	"github.com/emotifriend/backend/pkg/utils"
)

// Handler manages the companion's appearance and voice for one user.
type Handler struct {
	registry *orchestrator.Registry
	gen      gateway.Generator
}

func New(registry *orchestrator.Registry, gen gateway.Generator) *Handler {
	return &Handler{registry: registry, gen: gen}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/avatar", h.handleCreateAvatar)
	r.Put("/settings", h.handleUpdateSettings)
}

// handleCreateAvatar turns an uploaded photo into the companion's avatar.
func (h *Handler) handleCreateAvatar(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PhotoDataURI string `json:"photoDataUri"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	photo := media.DataURI(payload.PhotoDataURI)
	if !photo.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "photoDataUri must be a data URI")
		return
	}

	avatar, err := h.gen.SynthesizeAvatarImage(r.Context(), photo)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, "avatar generation failed")
		return
	}

	o := h.registry.Get(identity.UserID(r))
	o.SetAvatar(r.Context(), avatar.AvatarDataURI)
	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"avatarDataUri": string(avatar.AvatarDataURI),
	})
}

// handleUpdateSettings applies explicit language/voice changes, the manual
// counterpart of the model's own tool calls.
func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
		Gender   string `json:"gender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Language == "" && payload.Gender == "" {
		utils.RespondError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	o := h.registry.Get(identity.UserID(r))
	if payload.Language != "" {
		o.SetLanguage(r.Context(), payload.Language)
	}
	if payload.Gender != "" {
		g, ok := persona.ParseGender(payload.Gender)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "gender must be female or male")
			return
		}
		o.SetGender(r.Context(), g)
	}

	utils.RespondJSON(w, http.StatusOK, o.Snapshot(r.Context()).Persona)
}
