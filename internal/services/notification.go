package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"couple-sync-backend/internal/metrics"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NotificationService manages a user's app notifications
type NotificationService struct {
	repo  repository.NotificationRepository
	limit int
}

// NewNotificationService creates a new notification service
func NewNotificationService(repo repository.NotificationRepository, listLimit int) *NotificationService {
	return &NotificationService{repo: repo, limit: listLimit}
}

// ListForUser returns the caller's notifications, newest first
func (s *NotificationService) ListForUser(ctx context.Context, uid string) ([]*models.AppNotification, error) {
	if uid == "" {
		return nil, models.ErrNotAuthenticated
	}
	list, err := s.repo.ListByRecipient(ctx, uid, s.limit)
	if err != nil {
		return nil, models.Transient(err)
	}
	if list == nil {
		list = []*models.AppNotification{}
	}
	return list, nil
}

// MarkAsRead marks one of the caller's notifications read
func (s *NotificationService) MarkAsRead(ctx context.Context, uid, id string) error {
	n, err := s.owned(ctx, uid, id)
	if err != nil {
		return err
	}
	if n == nil {
		return models.NewNotFoundError("notification", id)
	}
	if err := s.repo.MarkRead(ctx, id); err != nil {
		return models.Transient(err)
	}
	return nil
}

// MarkAllAsRead marks every unread notification of the caller read
func (s *NotificationService) MarkAllAsRead(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, models.ErrNotAuthenticated
	}
	n, err := s.repo.MarkAllRead(ctx, uid)
	if err != nil {
		return 0, models.Transient(err)
	}
	return n, nil
}

// Remove deletes one of the caller's notifications. Removing a missing one succeeds.
func (s *NotificationService) Remove(ctx context.Context, uid, id string) error {
	n, err := s.owned(ctx, uid, id)
	if err != nil || n == nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return models.Transient(err)
	}
	return nil
}

// ClearAll deletes every notification of the caller
func (s *NotificationService) ClearAll(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, models.ErrNotAuthenticated
	}
	n, err := s.repo.DeleteByRecipient(ctx, uid)
	if err != nil {
		return 0, models.Transient(err)
	}
	return n, nil
}

func (s *NotificationService) owned(ctx context.Context, uid, id string) (*models.AppNotification, error) {
	if uid == "" {
		return nil, models.ErrNotAuthenticated
	}
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, models.Transient(err)
	}
	if n != nil && n.RecipientUID != uid {
		return nil, models.ErrForbidden
	}
	return n, nil
}

type notifyJob struct {
	session models.SessionContext
	notice  Notice
}

// Dispatcher delivers partner notifications off the request path. A full
// queue drops the notification with a warning.
type Dispatcher struct {
	queue    chan notifyJob
	workers  int
	repo     repository.NotificationRepository
	pairs    repository.PairRepository
	profiles repository.ProfileRepository
	pusher   Pusher
	events   EventSink
	metrics  metrics.Recorder
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Call Run to start its workers.
func NewDispatcher(
	repo repository.NotificationRepository,
	pairs repository.PairRepository,
	profiles repository.ProfileRepository,
	pusher Pusher,
	events EventSink,
	recorder metrics.Recorder,
	queueSize, workers int,
) *Dispatcher {
	return &Dispatcher{
		queue:    make(chan notifyJob, queueSize),
		workers:  workers,
		repo:     repo,
		pairs:    pairs,
		profiles: profiles,
		pusher:   pusher,
		events:   events,
		metrics:  recorder,
		now:      time.Now,
	}
}

// NotifyPartner queues a notification for the other participant of the session's pair
func (d *Dispatcher) NotifyPartner(session models.SessionContext, notice Notice) {
	select {
	case d.queue <- notifyJob{session: session, notice: notice}:
	default:
		d.metrics.RecordNotification(metrics.NotificationDropped)
		log.Warn().
			Str("user_id", session.UID).
			Str("pair_id", session.PairID).
			Str("type", string(notice.Type)).
			Msg("Notification queue full, dropping partner notification")
	}
}

// Run processes queued notifications until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.queue:
					d.handle(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, job notifyJob) {
	n, err := d.deliver(ctx, job)
	if err != nil {
		d.metrics.RecordNotification(metrics.NotificationFailed)
		log.Error().
			Err(err).
			Str("user_id", job.session.UID).
			Str("pair_id", job.session.PairID).
			Str("type", string(job.notice.Type)).
			Msg("Failed to notify partner")
		return
	}
	if n != nil {
		d.metrics.RecordNotification(metrics.NotificationStored)
	}
}

// deliver stores the notification, emits it to connected devices and pushes
// it when the recipient registered a device token. A nil notification means
// there was no partner to notify.
func (d *Dispatcher) deliver(ctx context.Context, job notifyJob) (*models.AppNotification, error) {
	pair, err := d.pairs.FindByID(ctx, job.session.PairID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pair: %w", err)
	}
	if pair == nil || pair.Status != models.PairStatusActive {
		log.Debug().Str("pair_id", job.session.PairID).Msg("Pair no longer active, skipping notification")
		return nil, nil
	}
	partnerUID := pair.PartnerOf(job.session.UID)
	if partnerUID == "" {
		return nil, fmt.Errorf("user %s is not a participant of pair %s", job.session.UID, pair.ID)
	}

	n := &models.AppNotification{
		ID:           uuid.New().String(),
		Type:         job.notice.Type,
		Title:        job.notice.Title,
		Body:         job.notice.Body,
		SenderUID:    job.session.UID,
		RecipientUID: partnerUID,
		CreatedAt:    d.now(),
		Data:         job.notice.Data,
	}
	if err := d.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	d.events.NotificationCreated(n)

	profile, err := d.profiles.FindByUID(ctx, partnerUID)
	if err != nil {
		return n, fmt.Errorf("failed to load partner profile: %w", err)
	}
	if profile == nil || profile.PushToken == nil {
		return n, nil
	}
	if err := d.pusher.Push(ctx, *profile.PushToken, n); err != nil {
		return n, err
	}
	d.metrics.RecordNotification(metrics.NotificationPushed)
	return n, nil
}
