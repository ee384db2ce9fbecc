package services

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// PairService handles pair-related business logic
type PairService struct {
	pairRepo repository.PairRepository
	events   EventSink
	metrics  metrics.Recorder
}

// NewPairService creates a new pair service
func NewPairService(pairRepo repository.PairRepository, events EventSink, recorder metrics.Recorder) *PairService {
	return &PairService{
		pairRepo: pairRepo,
		events:   events,
		metrics:  recorder,
	}
}

// FindActivePairFor returns the active pair containing uid, or nil
func (s *PairService) FindActivePairFor(ctx context.Context, uid string) (*models.Pair, error) {
	pair, err := s.pairRepo.FindActiveByUser(ctx, uid)
	if err != nil {
		return nil, models.Transient(err)
	}
	return pair, nil
}

// GetParticipants returns the two uids of a pair
func (s *PairService) GetParticipants(ctx context.Context, pairID string) ([2]string, error) {
	pair, err := s.pairRepo.FindByID(ctx, pairID)
	if err != nil {
		return [2]string{}, models.Transient(err)
	}
	if pair == nil {
		return [2]string{}, models.NewNotFoundError("pair", pairID)
	}
	return pair.Participants, nil
}

// Unpair deactivates the caller's pair. The pair cannot be reactivated.
func (s *PairService) Unpair(ctx context.Context, session models.SessionContext, pairID string) error {
	if session.UID == "" {
		return models.ErrNotAuthenticated
	}

	pair, err := s.pairRepo.FindByID(ctx, pairID)
	if err != nil {
		return models.Transient(err)
	}
	if pair == nil || pair.Status != models.PairStatusActive {
		return models.NewNotFoundError("pair", pairID)
	}
	if !pair.HasParticipant(session.UID) {
		return models.ErrForbidden
	}

	deactivated, err := s.pairRepo.Deactivate(ctx, pairID)
	if err != nil {
		return models.Transient(fmt.Errorf("failed to deactivate pair: %w", err))
	}

	s.metrics.RecordUnpair()
	log.Info().Str("pair_id", pairID).Str("user_id", session.UID).Msg("Pair deactivated")

	s.events.PairDeleted(deactivated)
	return nil
}
