package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/database"
	"couple-sync-backend/internal/handlers"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// stores groups the repositories of one driver
type stores struct {
	profiles      repository.ProfileRepository
	codes         repository.PairCodeRepository
	pairs         repository.PairRepository
	notifications repository.NotificationRepository
	documents     repository.DocumentStore

	// feed is nil for the memory driver, which publishes changes itself
	feed  *repository.ChangeFeed
	close func()
}

func openStores(ctx context.Context, cfg config.DatabaseConfig) (*stores, error) {
	if cfg.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			profiles:      mem.Profiles(),
			codes:         mem.PairCodes(),
			pairs:         mem.Pairs(),
			notifications: mem.Notifications(),
			documents:     mem.Documents(),
			close:         func() {},
		}, nil
	}

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(cfg.URL()); err != nil {
			return nil, err
		}
		log.Info().Msg("Database migrations applied")
	}

	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	feed := repository.NewChangeFeed(db, 2*time.Second)
	return &stores{
		profiles:      repository.NewPostgresProfileRepository(db),
		codes:         repository.NewPostgresPairCodeRepository(db),
		pairs:         repository.NewPostgresPairRepository(db),
		notifications: repository.NewPostgresNotificationRepository(db),
		documents:     repository.NewPostgresDocumentStore(db, feed),
		feed:          feed,
		close:         db.Close,
	}, nil
}

// Serve runs the server and its background workers until ctx is cancelled
func Serve(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	var pusher services.Pusher = services.LogPusher{}
	if cfg.APNs.Enabled() {
		apns, err := services.NewAPNsPusher(cfg.APNs)
		if err != nil {
			return fmt.Errorf("failed to create APNs pusher: %w", err)
		}
		pusher = apns
	}

	var uploads *services.UploadService
	if cfg.AWS.Enabled() {
		uploads, err = services.NewUploadService(ctx, cfg.AWS)
		if err != nil {
			return fmt.Errorf("failed to create upload service: %w", err)
		}
	} else {
		log.Warn().Msg("aws.s3_bucket not set, uploads disabled")
	}

	// Initialize services
	hub := services.NewWSHub(recorder)
	identity := services.NewIdentityService(st.profiles, cfg.JWT.Secret)
	profiles := services.NewProfileService(st.profiles, st.pairs)
	sessions := services.NewSessionResolver(profiles)
	pairing := services.NewPairingService(st.codes, st.pairs, hub, recorder, cfg.Pairing.CodeTTL)
	pairs := services.NewPairService(st.pairs, hub, recorder)
	dispatcher := services.NewDispatcher(st.notifications, st.pairs, st.profiles, pusher, hub, recorder,
		cfg.Notifications.QueueSize, cfg.Notifications.Workers)

	pageSize := cfg.Gateway.PageSize
	todos := services.NewGateway[models.TodoFields, models.TodoPatch](services.TodoKind{}, st.documents, dispatcher, recorder, pageSize)
	favorites := services.NewGateway[models.FavoriteFields, models.FavoritePatch](services.FavoriteKind{}, st.documents, dispatcher, recorder, pageSize)
	stickers := services.NewGateway[models.StickerFields, models.StickerPatch](services.StickerKind{}, st.documents, dispatcher, recorder, pageSize)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimit))
	defer rateLimiter.Stop()

	wsHandler := handlers.NewWebSocketHandler(hub, identity, sessions, pairs,
		handlers.CollectionViews(todos, favorites, stickers), recorder, cfg.WebSocket)

	router := handlers.NewRouter(&handlers.RouterDeps{
		Identity:      identity,
		Sessions:      sessions,
		Profiles:      profiles,
		Pairing:       pairing,
		Pairs:         pairs,
		Notifications: services.NewNotificationService(st.notifications, cfg.Notifications.ListLimit),
		Uploads:       uploads,
		Todos:         todos,
		Favorites:     favorites,
		Stickers:      stickers,
		WebSocket:     wsHandler,
		RateLimiter:   rateLimiter,
		Gatherer:      registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("driver", cfg.Database.Driver).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	})

	if st.feed != nil {
		g.Go(func() error { return st.feed.Run(gctx) })
	}
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		return pairing.RunPurge(gctx, cfg.Pairing.PurgeInterval, cfg.Pairing.PurgeRetention)
	})

	return g.Wait()
}
