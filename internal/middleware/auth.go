package middleware

import (
	"context"
	"net/http"
	"strings"

	"couple-sync-backend/internal/models"
)

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	sessionKey contextKey = "session"
)

// TokenValidator resolves a bearer token to a uid
type TokenValidator interface {
	ValidateJWT(token string) (string, error)
}

// SessionLoader builds the session context of an authenticated uid
type SessionLoader interface {
	Resolve(ctx context.Context, uid string) (models.SessionContext, error)
}

// AuthMiddleware authenticates the bearer token and attaches the caller's
// uid and session context to the request.
func AuthMiddleware(tokens TokenValidator, sessions SessionLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, models.ErrNotAuthenticated)
				return
			}

			uid, err := tokens.ValidateJWT(token)
			if err != nil {
				WriteError(w, models.ErrNotAuthenticated)
				return
			}

			session, err := sessions.Resolve(r.Context(), uid)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, uid)
			ctx = context.WithValue(ctx, sessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetSession extracts the session context. An unauthenticated request yields
// an empty session, which every service rejects as NotAuthenticated.
func GetSession(ctx context.Context) models.SessionContext {
	session, _ := ctx.Value(sessionKey).(models.SessionContext)
	return session
}

// WithSession returns a context carrying the session, as AuthMiddleware does
func WithSession(ctx context.Context, session models.SessionContext) context.Context {
	ctx = context.WithValue(ctx, userIDKey, session.UID)
	return context.WithValue(ctx, sessionKey, session)
}

// ValidateWebSocketToken validates the JWT passed as a WebSocket query parameter
func ValidateWebSocketToken(token string, tokens TokenValidator) (string, error) {
	if token == "" {
		return "", models.ErrNotAuthenticated
	}
	uid, err := tokens.ValidateJWT(token)
	if err != nil {
		return "", models.ErrNotAuthenticated
	}
	return uid, nil
}
