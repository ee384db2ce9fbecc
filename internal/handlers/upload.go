package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UploadHandler handles image upload requests
type UploadHandler struct {
	uploads *services.UploadService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploads *services.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// PresignUpload handles POST /api/v1/uploads
func (h *UploadHandler) PresignUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	var req services.UploadRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	ticket, err := h.uploads.PresignUpload(ctx, session, req)
	if err != nil {
		respondError(w, err)
		return
	}

	log.Info().
		Str("user_id", session.UID).
		Str("target", req.Target).
		Str("key", ticket.Key).
		Msg("Generated pre-signed upload URL")

	respondJSON(w, http.StatusOK, ticket)
}
