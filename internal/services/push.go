package services

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Pusher delivers a notification to a device
type Pusher interface {
	Push(ctx context.Context, deviceToken string, n *models.AppNotification) error
}

// APNsPusher sends notifications through Apple Push Notification service
type APNsPusher struct {
	client *apns2.Client
	topic  string
}

// NewAPNsPusher creates a token-authenticated APNs client
func NewAPNsPusher(cfg config.APNsConfig) (*APNsPusher, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsPusher{client: client, topic: cfg.Topic}, nil
}

// Push sends one alert notification
func (p *APNsPusher) Push(ctx context.Context, deviceToken string, n *models.AppNotification) error {
	res, err := p.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Priority:    apns2.PriorityHigh,
		Payload:     notificationPayload(n),
	})
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

func notificationPayload(n *models.AppNotification) *payload.Payload {
	return payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default").
		Custom("notification_id", n.ID).
		Custom("type", string(n.Type))
}

// LogPusher logs instead of pushing. Used when APNs is not configured.
type LogPusher struct{}

// Push logs the notification
func (LogPusher) Push(ctx context.Context, deviceToken string, n *models.AppNotification) error {
	log.Debug().
		Str("recipient_id", n.RecipientUID).
		Str("type", string(n.Type)).
		Msg("Push delivery disabled, skipping")
	return nil
}
