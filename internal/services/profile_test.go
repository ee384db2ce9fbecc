package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

func TestGetProfile_CreatesDefaultOnce(t *testing.T) {
	store := repository.NewMemoryStore()
	s := NewProfileService(store.Profiles(), store.Pairs())
	s.now = fixedClock(testNow)

	var wg sync.WaitGroup
	profiles := make([]*models.UserProfile, 8)
	for i := range profiles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profiles[i], _ = s.GetProfile(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	for _, p := range profiles {
		if p == nil || p.DisplayName != "User" || p.Bio != "" || p.AvatarURL != "" || p.PairID != nil {
			t.Fatalf("unexpected default profile: %+v", p)
		}
	}

	if _, err := s.GetProfile(context.Background(), ""); !errors.Is(err, models.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestGetPartnerProfile(t *testing.T) {
	store := pairedStore(t)
	s := NewProfileService(store.Profiles(), store.Pairs())
	ctx := context.Background()

	name := "Bobby"
	if _, err := s.UpdateProfile(ctx, "bob", models.ProfileUpdate{DisplayName: &name}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	partner, err := s.GetPartnerProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if partner == nil || partner.UID != "bob" || partner.DisplayName != "Bobby" {
		t.Fatalf("unexpected partner: %+v", partner)
	}

	lonely, err := s.GetPartnerProfile(ctx, "carol")
	if err != nil || lonely != nil {
		t.Fatalf("expected no partner for unpaired user, got %+v, %v", lonely, err)
	}
}

func TestUpdateProfile_Validation(t *testing.T) {
	store := repository.NewMemoryStore()
	s := NewProfileService(store.Profiles(), store.Pairs())
	ctx := context.Background()

	blank := "   "
	long := strings.Repeat("x", maxDisplayNameLength+1)
	longBio := strings.Repeat("y", maxBioLength+1)

	tests := []struct {
		name string
		upd  models.ProfileUpdate
	}{
		{"blank name", models.ProfileUpdate{DisplayName: &blank}},
		{"long name", models.ProfileUpdate{DisplayName: &long}},
		{"long bio", models.ProfileUpdate{Bio: &longBio}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.UpdateProfile(ctx, "alice", tt.upd); !errors.Is(err, models.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	bio := "hello"
	name := "  Alice "
	p, err := s.UpdateProfile(ctx, "alice", models.ProfileUpdate{DisplayName: &name, Bio: &bio})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if p.DisplayName != "Alice" || p.Bio != "hello" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestUpdatePushToken(t *testing.T) {
	store := repository.NewMemoryStore()
	s := NewProfileService(store.Profiles(), store.Pairs())
	ctx := context.Background()

	token := "device-token"
	if err := s.UpdatePushToken(ctx, "alice", &token); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	p, _ := store.Profiles().FindByUID(ctx, "alice")
	if p.PushToken == nil || *p.PushToken != token {
		t.Fatalf("push token not stored: %+v", p.PushToken)
	}

	blank := " "
	if err := s.UpdatePushToken(ctx, "alice", &blank); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	p, _ = store.Profiles().FindByUID(ctx, "alice")
	if p.PushToken != nil {
		t.Fatal("blank token should clear the stored token")
	}
}

func TestSessionResolver(t *testing.T) {
	store := pairedStore(t)
	r := NewSessionResolver(NewProfileService(store.Profiles(), store.Pairs()))
	ctx := context.Background()

	sess, err := r.Resolve(ctx, "alice")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess.UID != "alice" || sess.PairID != "p1" || sess.Profile == nil {
		t.Errorf("unexpected session: %+v", sess)
	}

	sess, err = r.Resolve(ctx, "newcomer")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if sess.PairID != "" || sess.Profile.DisplayName != "User" {
		t.Errorf("unexpected session: %+v", sess)
	}
}
