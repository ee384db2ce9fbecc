package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
)

const maxBodyBytes = 1 << 20

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// respondError sends an error response with the status of the error's category
func respondError(w http.ResponseWriter, err error) {
	middleware.WriteError(w, err)
}

// decodeBody decodes a JSON request body into v
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return models.NewInvalidInputError("body", fmt.Sprintf("failed to decode JSON: %v", err))
	}
	return nil
}
