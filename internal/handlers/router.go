package handlers

import (
	"net/http"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps holds everything NewRouter wires into routes
type RouterDeps struct {
	Identity      *services.IdentityService
	Sessions      *services.SessionResolver
	Profiles      *services.ProfileService
	Pairing       *services.PairingService
	Pairs         *services.PairService
	Notifications *services.NotificationService
	Uploads       *services.UploadService

	Todos     *services.Gateway[models.TodoFields, models.TodoPatch]
	Favorites *services.Gateway[models.FavoriteFields, models.FavoritePatch]
	Stickers  *services.Gateway[models.StickerFields, models.StickerPatch]

	WebSocket   *WebSocketHandler
	RateLimiter *middleware.RateLimiter
	Gatherer    prometheus.Gatherer
}

// CollectionViews returns the WebSocket views of the shared collections
func CollectionViews(
	todos *services.Gateway[models.TodoFields, models.TodoPatch],
	favorites *services.Gateway[models.FavoriteFields, models.FavoritePatch],
	stickers *services.Gateway[models.StickerFields, models.StickerPatch],
) map[string]ViewFactory {
	return map[string]ViewFactory{
		repository.CollectionTodos:     CollectionView(todos),
		repository.CollectionFavorites: CollectionView(favorites),
		repository.CollectionStickers:  CollectionView(stickers),
	}
}

// NewRouter builds the HTTP routes.
//
// Authenticated routes run AuthMiddleware then the general rate limit.
// Redemption additionally runs the redeem rate limit.
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	userHandler := NewUserHandler(deps.Identity)
	profileHandler := NewProfileHandler(deps.Profiles)
	pairHandler := NewPairHandler(deps.Pairing, deps.Pairs)
	notificationHandler := NewNotificationHandler(deps.Notifications)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.Identity, deps.Sessions))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Route("/profile", func(r chi.Router) {
				r.Get("/", profileHandler.GetProfile)
				r.Patch("/", profileHandler.UpdateProfile)
				r.Get("/partner", profileHandler.GetPartnerProfile)
				r.Put("/push-token", profileHandler.UpdatePushToken)
			})

			r.Post("/pairing/codes", pairHandler.GenerateCode)
			r.With(deps.RateLimiter.RedeemMiddleware()).Post("/pairing/redeem", pairHandler.RedeemCode)
			r.Get("/pairs/current", pairHandler.GetCurrentPair)
			r.Delete("/pairs/{pair_id}", pairHandler.DeletePair)

			r.Route("/"+repository.CollectionTodos, NewCollectionHandler(deps.Todos).Routes)
			r.Route("/"+repository.CollectionFavorites, NewCollectionHandler(deps.Favorites).Routes)
			r.Route("/"+repository.CollectionStickers, NewCollectionHandler(deps.Stickers).Routes)

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Delete("/", notificationHandler.ClearAll)
				r.Post("/read-all", notificationHandler.MarkAllAsRead)
				r.Post("/{id}/read", notificationHandler.MarkAsRead)
				r.Delete("/{id}", notificationHandler.Remove)
			})

			if deps.Uploads != nil {
				r.Post("/uploads", NewUploadHandler(deps.Uploads).PresignUpload)
			}
		})
	})

	// WebSocket route
	if deps.WebSocket != nil {
		r.Get("/ws", deps.WebSocket.HandleWebSocket)
	}

	return r
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
