package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiterConfig holds per-user rate limits
type RateLimiterConfig struct {
	GeneralRate     rate.Limit
	GeneralBurst    int
	RedeemRate      rate.Limit
	RedeemBurst     int
	CleanupInterval time.Duration
}

// NewRateLimiterConfig converts per-minute limits to token bucket settings
func NewRateLimiterConfig(cfg config.RateLimitConfig) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.GeneralPerMinute) / 60.0),
		GeneralBurst:    cfg.GeneralPerMinute,
		RedeemRate:      rate.Limit(float64(cfg.RedeemPerMinute) / 60.0),
		RedeemBurst:     cfg.RedeemPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet holds one limiter per user for a single kind of limit
type limiterSet struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*userLimiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*userLimiter),
	}
}

func (s *limiterSet) get(uid string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	ul, ok := s.limiters[uid]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[uid] = ul
	}
	ul.lastAccess = now
	return ul.limiter
}

func (s *limiterSet) evict(before time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uid, ul := range s.limiters {
		if ul.lastAccess.Before(before) {
			delete(s.limiters, uid)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter enforces per-user request limits. Code redemption has its own
// stricter limit on top of the general one.
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	redeem  *limiterSet
	stopCh  chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a rate limiter and starts evicting idle users
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  cfg,
		general: newLimiterSet(cfg.GeneralRate, cfg.GeneralBurst),
		redeem:  newLimiterSet(cfg.RedeemRate, cfg.RedeemBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware limits every authenticated request. It must run after AuthMiddleware.
func (rl *RateLimiter) GeneralMiddleware() func(http.Handler) http.Handler {
	return rl.middleware(rl.general, "general")
}

// RedeemMiddleware limits pairing code redemption attempts
func (rl *RateLimiter) RedeemMiddleware() func(http.Handler) http.Handler {
	return rl.middleware(rl.redeem, "redeem")
}

// GeneralLimiterCount returns the number of users tracked by the general limit
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

func (rl *RateLimiter) middleware(set *limiterSet, kind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := GetUserID(r.Context())
			if uid == "" {
				WriteError(w, models.ErrNotAuthenticated)
				return
			}

			if !set.get(uid, time.Now()).Allow() {
				log.Warn().
					Str("user_id", uid).
					Str("limit_type", kind).
					Msg("Rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(set.limit)))
				WriteError(w, models.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops users idle for more than two cleanup intervals
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * rl.config.CleanupInterval)
	rl.general.evict(cutoff)
	rl.redeem.evict(cutoff)
}

// retryAfterSeconds is the time until one token is refilled
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 {
		return 60
	}
	sec := int(math.Ceil(1.0 / float64(limit)))
	if sec < 1 {
		sec = 1
	}
	return sec
}
