package services

import "couple-sync-backend/internal/models"

// EventSink receives lifecycle events for connected devices
type EventSink interface {
	PairCreated(pair *models.Pair)
	PairDeleted(pair *models.Pair)
	NotificationCreated(n *models.AppNotification)
}

// NopEvents discards every event
type NopEvents struct{}

func (NopEvents) PairCreated(*models.Pair) {}
func (NopEvents) PairDeleted(*models.Pair) {}
func (NopEvents) NotificationCreated(*models.AppNotification) {}
