package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type testApp struct {
	router     http.Handler
	store      *repository.MemoryStore
	hub        *services.WSHub
	dispatcher *services.Dispatcher
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	store := repository.NewMemoryStore()
	hub := services.NewWSHub(metrics.Nop{})
	identity := services.NewIdentityService(store.Profiles(), "test-secret")
	profiles := services.NewProfileService(store.Profiles(), store.Pairs())
	sessions := services.NewSessionResolver(profiles)
	pairs := services.NewPairService(store.Pairs(), hub, metrics.Nop{})
	dispatcher := services.NewDispatcher(store.Notifications(), store.Pairs(), store.Profiles(),
		services.LogPusher{}, hub, metrics.Nop{}, 16, 1)

	todos := services.NewGateway[models.TodoFields, models.TodoPatch](services.TodoKind{}, store.Documents(), dispatcher, metrics.Nop{}, 500)
	favorites := services.NewGateway[models.FavoriteFields, models.FavoritePatch](services.FavoriteKind{}, store.Documents(), dispatcher, metrics.Nop{}, 500)
	stickers := services.NewGateway[models.StickerFields, models.StickerPatch](services.StickerKind{}, store.Documents(), dispatcher, metrics.Nop{}, 500)

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(config.RateLimitConfig{
		GeneralPerMinute: 1000,
		RedeemPerMinute:  100,
	}))
	t.Cleanup(rl.Stop)

	ws := NewWebSocketHandler(hub, identity, sessions, pairs,
		CollectionViews(todos, favorites, stickers), metrics.Nop{}, config.WebSocketConfig{MaxMessageSize: 4096})

	router := NewRouter(&RouterDeps{
		Identity:      identity,
		Sessions:      sessions,
		Profiles:      profiles,
		Pairing:       services.NewPairingService(store.PairCodes(), store.Pairs(), hub, metrics.Nop{}, 10*time.Minute),
		Pairs:         pairs,
		Notifications: services.NewNotificationService(store.Notifications(), 100),
		Todos:         todos,
		Favorites:     favorites,
		Stickers:      stickers,
		WebSocket:     ws,
		RateLimiter:   rl,
	})

	return &testApp{router: router, store: store, hub: hub, dispatcher: dispatcher}
}

// do sends a request and decodes a JSON response into out when out is non-nil
func (a *testApp) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode %s %s response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code
}

func (a *testApp) createUser(t *testing.T) services.Identity {
	t.Helper()
	var identity services.Identity
	if code := a.do(t, http.MethodPost, "/api/v1/users", "", nil, &identity); code != http.StatusOK {
		t.Fatalf("create user status = %d", code)
	}
	return identity
}

// pairUsers creates two users and pairs them through the pairing endpoints
func (a *testApp) pairUsers(t *testing.T) (alice, bob services.Identity, pair models.Pair) {
	t.Helper()
	alice = a.createUser(t)
	bob = a.createUser(t)

	var code PairCodeResponse
	if status := a.do(t, http.MethodPost, "/api/v1/pairing/codes", alice.Token, nil, &code); status != http.StatusCreated {
		t.Fatalf("generate code status = %d", status)
	}
	if status := a.do(t, http.MethodPost, "/api/v1/pairing/redeem", bob.Token, RedeemRequest{Code: code.DisplayCode}, &pair); status != http.StatusOK {
		t.Fatalf("redeem status = %d", status)
	}
	return alice, bob, pair
}

// lockedBuffer collects log output written from any goroutine
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// count returns how many log lines carry message msg
func (b *lockedBuffer) count(msg string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), `"message":"`+msg+`"`)
}

// captureLogs redirects the global logger for the rest of the test
func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	out := &lockedBuffer{}
	previous := log.Logger
	log.Logger = zerolog.New(out)
	t.Cleanup(func() { log.Logger = previous })
	return out
}
