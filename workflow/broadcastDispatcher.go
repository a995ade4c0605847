package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const broadcastMaxAttempts = 3

// Backoff before retry, indexed by the attempt that just failed.
var broadcastBackoff = []time.Duration{30 * time.Second, 120 * time.Second, 480 * time.Second}

type broadcastDeliveryPayload struct {
	DeliveryId  int    `json:"delivery_id"`
	BroadcastId int    `json:"broadcast_id"`
	CustomerId  int    `json:"customer_id"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// DispatchDueBroadcastDeliveries claims up to limit pending deliveries and
// publishes one job per recipient. Each delivery is settled in its own
// transaction so one bad row never blocks the rest. Returns how many were
// published.
func DispatchDueBroadcastDeliveries(ctx context.Context, limit int) (int, error) {
	logger := config.GetLogger()
	db := config.GetDB()

	var claimed []models.BroadcastDelivery
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		claimed, err = models.ClaimDueDeliveries(tx, limit)
		if err != nil {
			return err
		}
		// Bump attempts while still holding the locks so a crashed
		// dispatcher does not replay the same rows immediately.
		for i := range claimed {
			attempts := claimed[i].Attempts + 1
			var nextTry *time.Time
			if attempts < broadcastMaxAttempts {
				t := time.Now().Add(broadcastBackoff[attempts-1])
				nextTry = &t
			}
			updates := map[string]interface{}{
				"Attempts":  attempts,
				"NextTryAt": nextTry,
			}
			if attempts >= broadcastMaxAttempts {
				updates["Status"] = models.BroadcastDeliveryStatusFailed
				updates["Error"] = "retries exhausted"
			}
			if err := tx.Model(&models.BroadcastDelivery{}).
				Where("id = ?", claimed[i].ID).
				Updates(updates).Error; err != nil {
				return err
			}
			claimed[i].Attempts = attempts
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, delivery := range claimed {
		var broadcast models.BroadcastMessage
		if err := db.WithContext(ctx).First(&broadcast, delivery.BroadcastId).Error; err != nil {
			config.LogError(logger, "broadcastDispatcher.go", "DispatchDueBroadcastDeliveries", "LoadBroadcast", delivery.BroadcastId, err)
			continue
		}

		payload, err := json.Marshal(broadcastDeliveryPayload{
			DeliveryId:  delivery.ID,
			BroadcastId: delivery.BroadcastId,
			CustomerId:  delivery.CustomerId,
			Subject:     broadcast.Subject,
			Body:        broadcast.Body,
		})
		if err != nil {
			config.LogError(logger, "broadcastDispatcher.go", "DispatchDueBroadcastDeliveries", "Marshal", delivery.ID, err)
			continue
		}

		msg := config.PubSubMessage{
			ID:            uuid.NewString(),
			JobType:       config.JobTypeBroadcastDelivery,
			ReferenceId:   delivery.ID,
			ReferenceType: "broadcast_delivery",
			OccurredAt:    time.Now(),
			Payload:       payload,
		}
		if err := config.PublishJob(msg); err != nil {
			config.LogError(logger, "broadcastDispatcher.go", "DispatchDueBroadcastDeliveries", "PublishJob", delivery.ID, err)
			continue
		}
		published++
	}
	return published, nil
}

// MarkBroadcastDeliverySent records a successful send. Safe to call more
// than once; a delivery that already failed permanently is left alone only
// if it was sent first (sent wins over failed).
func MarkBroadcastDeliverySent(ctx context.Context, deliveryId int) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&models.BroadcastDelivery{}).
		Where("id = ?", deliveryId).
		Updates(map[string]interface{}{
			"Status":    models.BroadcastDeliveryStatusSent,
			"Error":     "",
			"SentAt":    &now,
			"NextTryAt": nil,
		}).Error
}

// MarkBroadcastDeliveryFailed records a send failure for one attempt. The
// row stays pending until retries are exhausted by the dispatcher.
func MarkBroadcastDeliveryFailed(ctx context.Context, deliveryId int, sendErr error) error {
	db := config.GetDB()
	msg := ""
	if sendErr != nil {
		msg = sendErr.Error()
	}
	return db.WithContext(ctx).Model(&models.BroadcastDelivery{}).
		Where("id = ? AND status != ?", deliveryId, models.BroadcastDeliveryStatusSent).
		Update("Error", msg).Error
}
