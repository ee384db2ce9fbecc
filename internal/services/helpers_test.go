package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type recordingEvents struct {
	mu            sync.Mutex
	created       []*models.Pair
	deleted       []*models.Pair
	notifications []*models.AppNotification
}

func (e *recordingEvents) PairCreated(p *models.Pair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, p)
}

func (e *recordingEvents) PairDeleted(p *models.Pair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, p)
}

func (e *recordingEvents) NotificationCreated(n *models.AppNotification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifications = append(e.notifications, n)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
	senders []models.SessionContext
}

func (n *recordingNotifier) NotifyPartner(session models.SessionContext, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.senders = append(n.senders, session)
	n.notices = append(n.notices, notice)
}

// pairedStore returns a store where alice and bob share pair "p1"
func pairedStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()
	if err := store.PairCodes().Create(ctx, &models.PairCode{
		Code: "ABCD2345", OwnerUID: "alice", ExpiresAt: testNow.Add(time.Minute), CreatedAt: testNow,
	}); err != nil {
		t.Fatalf("failed to seed code: %v", err)
	}
	if _, err := store.Pairs().Redeem(ctx, repository.RedeemParams{
		Code: "ABCD2345", RedeemerUID: "bob", PairID: "p1", Now: testNow,
	}); err != nil {
		t.Fatalf("failed to seed pair: %v", err)
	}
	return store
}

func session(uid, pairID string) models.SessionContext {
	return models.SessionContext{UID: uid, PairID: pairID}
}

func newTestPairingService(store *repository.MemoryStore, events EventSink) *PairingService {
	s := NewPairingService(store.PairCodes(), store.Pairs(), events, metrics.Nop{}, 10*time.Minute)
	s.now = fixedClock(testNow)
	return s
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
