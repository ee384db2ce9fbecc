package handlers

import (
	"net/http"

	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	identity *services.IdentityService
}

// NewUserHandler creates a new user handler
func NewUserHandler(identity *services.IdentityService) *UserHandler {
	return &UserHandler{
		identity: identity,
	}
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.identity.CreateUser(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create user")
		respondError(w, err)
		return
	}

	log.Info().
		Str("user_id", user.UID).
		Msg("User created")

	respondJSON(w, http.StatusOK, user)
}
