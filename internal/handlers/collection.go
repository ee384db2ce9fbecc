package handlers

import (
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// CollectionHandler exposes one shared collection over REST
type CollectionHandler[F, P any] struct {
	gateway *services.Gateway[F, P]
}

// NewCollectionHandler creates a handler for a gateway
func NewCollectionHandler[F, P any](gateway *services.Gateway[F, P]) *CollectionHandler[F, P] {
	return &CollectionHandler[F, P]{gateway: gateway}
}

// CreatedResponse carries the id of a created entity
type CreatedResponse struct {
	ID string `json:"id"`
}

// Routes mounts the collection routes on r
func (h *CollectionHandler[F, P]) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Remove)
}

// List handles GET /api/v1/{collection}
func (h *CollectionHandler[F, P]) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.gateway.List(r.Context(), middleware.GetSession(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// Get handles GET /api/v1/{collection}/{id}
func (h *CollectionHandler[F, P]) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.gateway.Get(r.Context(), middleware.GetSession(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// Create handles POST /api/v1/{collection}. Only domain fields are read from
// the body; scoping fields come from the session.
func (h *CollectionHandler[F, P]) Create(w http.ResponseWriter, r *http.Request) {
	var fields F
	if err := decodeBody(w, r, &fields); err != nil {
		respondError(w, err)
		return
	}

	id, err := h.gateway.Create(r.Context(), middleware.GetSession(r.Context()), fields)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// Update handles PATCH /api/v1/{collection}/{id}
func (h *CollectionHandler[F, P]) Update(w http.ResponseWriter, r *http.Request) {
	var patch P
	if err := decodeBody(w, r, &patch); err != nil {
		respondError(w, err)
		return
	}

	if err := h.gateway.Update(r.Context(), middleware.GetSession(r.Context()), chi.URLParam(r, "id"), patch); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /api/v1/{collection}/{id}
func (h *CollectionHandler[F, P]) Remove(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.Remove(r.Context(), middleware.GetSession(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
