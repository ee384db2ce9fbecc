package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/services"
)

// ProfileHandler handles profile HTTP requests
type ProfileHandler struct {
	profiles *services.ProfileService
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles *services.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// PushTokenRequest represents the request body for registering a device
type PushTokenRequest struct {
	Token *string `json:"token"`
}

// GetProfile handles GET /api/v1/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.GetProfile(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdateProfile handles PATCH /api/v1/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd models.ProfileUpdate
	if err := decodeBody(w, r, &upd); err != nil {
		respondError(w, err)
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), middleware.GetUserID(r.Context()), upd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// GetPartnerProfile handles GET /api/v1/profile/partner
func (h *ProfileHandler) GetPartnerProfile(w http.ResponseWriter, r *http.Request) {
	uid := middleware.GetUserID(r.Context())
	partner, err := h.profiles.GetPartnerProfile(r.Context(), uid)
	if err != nil {
		respondError(w, err)
		return
	}
	if partner == nil {
		respondError(w, models.NewNotFoundError("partner profile of", uid))
		return
	}
	respondJSON(w, http.StatusOK, partner)
}

// UpdatePushToken handles PUT /api/v1/profile/push-token
func (h *ProfileHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	if err := h.profiles.UpdatePushToken(r.Context(), middleware.GetUserID(r.Context()), req.Token); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
