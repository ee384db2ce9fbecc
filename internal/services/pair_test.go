package services

import (
	"context"
	"errors"
	"testing"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
)

func TestUnpair(t *testing.T) {
	store := pairedStore(t)
	events := &recordingEvents{}
	s := NewPairService(store.Pairs(), events, metrics.Nop{})
	ctx := context.Background()

	if err := s.Unpair(ctx, session("mallory", ""), "p1"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := s.Unpair(ctx, session("alice", "p1"), "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Unpair(ctx, session("alice", "p1"), "p1"); err != nil {
		t.Fatalf("unpair failed: %v", err)
	}
	if len(events.deleted) != 1 || events.deleted[0].Status != models.PairStatusInactive {
		t.Errorf("expected one pair_deleted event, got %+v", events.deleted)
	}

	for _, uid := range []string{"alice", "bob"} {
		pair, err := s.FindActivePairFor(ctx, uid)
		if err != nil || pair != nil {
			t.Errorf("%s still has an active pair: %+v, %v", uid, pair, err)
		}
	}

	participants, err := s.GetParticipants(ctx, "p1")
	if err != nil || participants != [2]string{"alice", "bob"} {
		t.Errorf("participants = %v, %v", participants, err)
	}

	if err := s.Unpair(ctx, session("alice", ""), "p1"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("unpairing twice should be ErrNotFound, got %v", err)
	}
}
