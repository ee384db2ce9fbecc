package handlers

import (
	"net/http"
	"time"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/paircode"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PairHandler handles pairing code and pair lifecycle HTTP requests.
// Connected devices learn about pair changes through the hub events the
// services emit.
type PairHandler struct {
	pairing *services.PairingService
	pairs   *services.PairService
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairing *services.PairingService, pairs *services.PairService) *PairHandler {
	return &PairHandler{
		pairing: pairing,
		pairs:   pairs,
	}
}

// PairCodeResponse is a freshly generated pairing code
type PairCodeResponse struct {
	Code        string    `json:"code"`
	DisplayCode string    `json:"display_code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RedeemRequest represents the request body for redeeming a pairing code
type RedeemRequest struct {
	Code string `json:"code"`
}

// PairStatusResponse describes the caller's current pair
type PairStatusResponse struct {
	HasPair bool         `json:"has_pair"`
	Pair    *models.Pair `json:"pair,omitempty"`
}

// GenerateCode handles POST /api/v1/pairing/codes
func (h *PairHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	code, err := h.pairing.GenerateCode(ctx, session)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, PairCodeResponse{
		Code:        code.Code,
		DisplayCode: paircode.Format(code.Code),
		ExpiresAt:   code.ExpiresAt,
	})
}

// RedeemCode handles POST /api/v1/pairing/redeem
func (h *PairHandler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)

	var req RedeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	pair, err := h.pairing.RedeemCode(ctx, session, req.Code)
	if err != nil {
		log.Info().
			Err(err).
			Str("user_id", session.UID).
			Msg("Pairing code redemption rejected")
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

// GetCurrentPair handles GET /api/v1/pairs/current
func (h *PairHandler) GetCurrentPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.pairs.FindActivePairFor(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, PairStatusResponse{HasPair: pair != nil, Pair: pair})
}

// DeletePair handles DELETE /api/v1/pairs/{pair_id}
func (h *PairHandler) DeletePair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := middleware.GetSession(ctx)
	pairID := chi.URLParam(r, "pair_id")

	if err := h.pairs.Unpair(ctx, session, pairID); err != nil {
		log.Info().
			Err(err).
			Str("user_id", session.UID).
			Str("pair_id", pairID).
			Msg("Pair deletion rejected")
		respondError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
