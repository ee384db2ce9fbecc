package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/database"
	"couple-sync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgresRepositories_ImplementInterfaces(t *testing.T) {
	var _ ProfileRepository = (*PostgresProfileRepository)(nil)
	var _ PairCodeRepository = (*PostgresPairCodeRepository)(nil)
	var _ PairRepository = (*PostgresPairRepository)(nil)
	var _ NotificationRepository = (*PostgresNotificationRepository)(nil)
	var _ DocumentStore = (*PostgresDocumentStore)(nil)
}

// testPool connects to TEST_DATABASE_URL, applies the migrations and empties
// every table. Tests are skipped when the variable is unset or the database
// is unreachable.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.Open(ctx, dbURL)
	if err != nil {
		t.Skipf("test database unreachable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	truncate := `TRUNCATE shared_documents, notifications, pair_codes, pairs, user_profiles CASCADE`
	if _, err := pool.Exec(ctx, truncate); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return pool
}

func seedPostgresCode(t *testing.T, pool *pgxpool.Pool, owner string, ttl time.Duration) string {
	t.Helper()
	code := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	err := NewPostgresPairCodeRepository(pool).Create(context.Background(), &models.PairCode{
		Code:      code,
		OwnerUID:  owner,
		ExpiresAt: testNow.Add(ttl),
		CreatedAt: testNow,
	})
	if err != nil {
		t.Fatalf("failed to seed code: %v", err)
	}
	return code
}

func redeemParams(code, redeemer string) RedeemParams {
	return RedeemParams{Code: code, RedeemerUID: redeemer, PairID: uuid.New().String(), Now: testNow}
}

func TestPostgresPairs_Redeem(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	pairs := NewPostgresPairRepository(pool)
	codes := NewPostgresPairCodeRepository(pool)
	profiles := NewPostgresProfileRepository(pool)

	code := seedPostgresCode(t, pool, "alice", 10*time.Minute)
	params := redeemParams(code, "bob")

	pair, err := pairs.Redeem(ctx, params)
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if pair.ID != params.PairID || pair.Participants != [2]string{"alice", "bob"} || pair.Status != models.PairStatusActive {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	stored, err := codes.FindByCode(ctx, code)
	if err != nil {
		t.Fatalf("find code failed: %v", err)
	}
	if !stored.Used || stored.PairID == nil || *stored.PairID != pair.ID {
		t.Errorf("code not consumed and backfilled: %+v", stored)
	}

	for _, uid := range []string{"alice", "bob"} {
		profile, err := profiles.FindByUID(ctx, uid)
		if err != nil || profile == nil {
			t.Fatalf("profile %s missing: %v", uid, err)
		}
		if profile.CurrentPairID() != pair.ID {
			t.Errorf("profile %s pair_id = %q, want %q", uid, profile.CurrentPairID(), pair.ID)
		}
	}

	active, err := pairs.FindActiveByUser(ctx, "alice")
	if err != nil || active == nil || active.ID != pair.ID {
		t.Errorf("active pair = %+v, err = %v", active, err)
	}
}

func TestPostgresPairs_RedeemRejections(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	pairs := NewPostgresPairRepository(pool)

	// carol is already paired with dave
	paired := seedPostgresCode(t, pool, "dave", 10*time.Minute)
	if _, err := pairs.Redeem(ctx, redeemParams(paired, "carol")); err != nil {
		t.Fatalf("setup redeem failed: %v", err)
	}

	usedExpired := seedPostgresCode(t, pool, "erin", time.Minute)
	if _, err := pairs.Redeem(ctx, redeemParams(usedExpired, "frank")); err != nil {
		t.Fatalf("setup redeem failed: %v", err)
	}

	tests := []struct {
		name     string
		code     func() string
		redeemer string
		now      time.Time
		want     error
	}{
		{
			name:     "unknown code",
			code:     func() string { return "ZZZZZZZZ" },
			redeemer: "bob",
			now:      testNow,
			want:     models.ErrPairCodeNotFound,
		},
		{
			name:     "expired",
			code:     func() string { return seedPostgresCode(t, pool, "alice", time.Minute) },
			redeemer: "bob",
			now:      testNow.Add(time.Minute),
			want:     models.ErrPairCodeExpired,
		},
		{
			name:     "own code",
			code:     func() string { return seedPostgresCode(t, pool, "alice", time.Minute) },
			redeemer: "alice",
			now:      testNow,
			want:     models.ErrSelfRedemption,
		},
		{
			name:     "used reports used even when expired",
			code:     func() string { return usedExpired },
			redeemer: "bob",
			now:      testNow.Add(time.Hour),
			want:     models.ErrPairCodeUsed,
		},
		{
			name:     "redeemer already paired",
			code:     func() string { return seedPostgresCode(t, pool, "alice", time.Minute) },
			redeemer: "carol",
			now:      testNow,
			want:     models.ErrAlreadyPaired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := redeemParams(tt.code(), tt.redeemer)
			p.Now = tt.now
			if _, err := pairs.Redeem(ctx, p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPostgresPairs_ConcurrentRedeemHasOneWinner(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	pairs := NewPostgresPairRepository(pool)

	code := seedPostgresCode(t, pool, "owner", 10*time.Minute)

	const redeemers = 8
	errs := make([]error, redeemers)
	var wg sync.WaitGroup
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pairs.Redeem(ctx, redeemParams(code, fmt.Sprintf("redeemer-%d", i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, models.ErrPairCodeUsed):
		default:
			t.Errorf("redeemer %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}

	var active int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM pairs WHERE status = 'active'`).Scan(&active); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if active != 1 {
		t.Errorf("active pairs = %d, want 1", active)
	}
}

func TestPostgresPairs_Deactivate(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	pairs := NewPostgresPairRepository(pool)
	profiles := NewPostgresProfileRepository(pool)

	code := seedPostgresCode(t, pool, "alice", 10*time.Minute)
	pair, err := pairs.Redeem(ctx, redeemParams(code, "bob"))
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	ended, err := pairs.Deactivate(ctx, pair.ID)
	if err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if ended.Status != models.PairStatusInactive {
		t.Errorf("status = %q", ended.Status)
	}
	for _, uid := range []string{"alice", "bob"} {
		profile, _ := profiles.FindByUID(ctx, uid)
		if profile.CurrentPairID() != "" {
			t.Errorf("profile %s still has pair_id %q", uid, profile.CurrentPairID())
		}
	}

	if _, err := pairs.Deactivate(ctx, pair.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second deactivate: got %v, want ErrNotFound", err)
	}
}
