package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"couple-sync-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action,omitempty"`
}

// StatusFor maps an error to the HTTP status returned for it
func StatusFor(err error) int {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}

	switch apiErr.Category {
	case models.CategoryAuthentication:
		return http.StatusUnauthorized
	case models.CategoryPairing:
		switch apiErr.Code {
		case models.CodeInvalidFormat:
			return http.StatusBadRequest
		case models.CodePairCodeNotFound:
			return http.StatusNotFound
		case models.CodePairCodeExpired:
			return http.StatusGone
		}
		return http.StatusConflict
	case models.CategoryAuthorization:
		return http.StatusForbidden
	case models.CategoryNotFound:
		return http.StatusNotFound
	case models.CategoryValidation:
		return http.StatusBadRequest
	case models.CategoryRateLimit:
		return http.StatusTooManyRequests
	case models.CategoryTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError writes err as a JSON error response. Errors that are not
// APIErrors are logged and reported as internal errors.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)

	body := ErrorResponse{
		Code:     "INTERNAL",
		Message:  "internal server error",
		Category: "internal",
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		body = ErrorResponse{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		}
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
