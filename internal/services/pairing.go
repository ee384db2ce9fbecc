package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/paircode"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxCodeAttempts = 10

// PairingService issues and redeems pairing codes
type PairingService struct {
	codes   repository.PairCodeRepository
	pairs   repository.PairRepository
	events  EventSink
	metrics metrics.Recorder
	codeTTL time.Duration
	now     func() time.Time
}

// NewPairingService creates a new pairing service
func NewPairingService(
	codes repository.PairCodeRepository,
	pairs repository.PairRepository,
	events EventSink,
	recorder metrics.Recorder,
	codeTTL time.Duration,
) *PairingService {
	return &PairingService{
		codes:   codes,
		pairs:   pairs,
		events:  events,
		metrics: recorder,
		codeTTL: codeTTL,
		now:     time.Now,
	}
}

// GenerateCode issues a fresh code owned by the caller
func (s *PairingService) GenerateCode(ctx context.Context, session models.SessionContext) (*models.PairCode, error) {
	if session.UID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if session.PairID != "" {
		return nil, models.ErrAlreadyPaired
	}

	for i := 0; i < maxCodeAttempts; i++ {
		value, err := paircode.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		now := s.now()
		code := &models.PairCode{
			Code:      value,
			OwnerUID:  session.UID,
			ExpiresAt: now.Add(s.codeTTL),
			CreatedAt: now,
		}
		err = s.codes.Create(ctx, code)
		if errors.Is(err, repository.ErrCodeCollision) {
			continue
		}
		if err != nil {
			return nil, models.Transient(fmt.Errorf("failed to store code: %w", err))
		}

		s.metrics.RecordCodeGenerated()
		log.Info().Str("user_id", session.UID).Time("expires_at", code.ExpiresAt).Msg("Pairing code issued")
		return code, nil
	}

	return nil, fmt.Errorf("failed to generate unique code after %d attempts", maxCodeAttempts)
}

// RedeemCode binds the caller and the code's owner into a new active pair
func (s *PairingService) RedeemCode(ctx context.Context, session models.SessionContext, raw string) (*models.Pair, error) {
	pair, err := s.redeem(ctx, session, raw)
	if err != nil {
		var apiErr *models.APIError
		outcome := "error"
		if errors.As(err, &apiErr) {
			outcome = apiErr.Code
		}
		s.metrics.RecordRedemption(outcome)
		return nil, err
	}

	s.metrics.RecordRedemption("success")
	log.Info().
		Str("pair_id", pair.ID).
		Str("owner_id", pair.Participants[0]).
		Str("redeemer_id", pair.Participants[1]).
		Msg("Pair created")

	s.events.PairCreated(pair)
	return pair, nil
}

func (s *PairingService) redeem(ctx context.Context, session models.SessionContext, raw string) (*models.Pair, error) {
	if session.UID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if !paircode.IsValidFormat(raw) {
		return nil, models.ErrInvalidFormat
	}
	if session.PairID != "" {
		return nil, models.ErrAlreadyPaired
	}

	pair, err := s.pairs.Redeem(ctx, repository.RedeemParams{
		Code:        paircode.Unformat(raw),
		RedeemerUID: session.UID,
		PairID:      uuid.New().String(),
		Now:         s.now(),
	})
	if err != nil {
		return nil, models.Transient(err)
	}
	return pair, nil
}

// PurgeExpiredCodes deletes codes that expired or were used more than retention ago
func (s *PairingService) PurgeExpiredCodes(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.codes.DeleteStale(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, models.Transient(err)
	}
	return n, nil
}

// RunPurge calls PurgeExpiredCodes every interval until ctx is cancelled
func (s *PairingService) RunPurge(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.PurgeExpiredCodes(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to purge pairing codes")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Purged stale pairing codes")
			}
		}
	}
}
