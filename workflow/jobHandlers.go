package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
)

// MarkReceiptEmailSentFromJob handles a RECEIPT_EMAIL job. The mail gateway
// sits behind this service; once the job is accepted we record the send on
// the distribution.
func MarkReceiptEmailSentFromJob(ctx context.Context, m config.PubSubMessage) error {
	var payload receiptEmailPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal receipt email payload: %w", err)
	}
	if payload.DistributionId <= 0 {
		return errors.New("receipt email payload missing distribution_id")
	}
	if payload.Email == "" {
		// No address on file; nothing to send.
		return nil
	}
	return models.MarkReceiptEmailSent(ctx, payload.DistributionId)
}

// HandleBroadcastDeliveryJob handles a BROADCAST_DELIVERY job for one
// recipient. Send outcomes are written back to the delivery row; a failed
// send returns nil so Pub/Sub does not retry (the dispatcher owns retries).
func HandleBroadcastDeliveryJob(ctx context.Context, m config.PubSubMessage) error {
	logger := config.GetLogger()

	var payload broadcastDeliveryPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal broadcast delivery payload: %w", err)
	}
	if payload.DeliveryId <= 0 {
		return errors.New("broadcast delivery payload missing delivery_id")
	}

	customer, err := models.GetCustomer(ctx, payload.CustomerId)
	if err != nil {
		if markErr := MarkBroadcastDeliveryFailed(ctx, payload.DeliveryId, err); markErr != nil {
			config.LogError(logger, "jobHandlers.go", "HandleBroadcastDeliveryJob", "MarkBroadcastDeliveryFailed", payload.DeliveryId, markErr)
		}
		return nil
	}
	if customer.Email == "" && customer.Phone == "" {
		err := errors.New("customer has no contact channel")
		if markErr := MarkBroadcastDeliveryFailed(ctx, payload.DeliveryId, err); markErr != nil {
			config.LogError(logger, "jobHandlers.go", "HandleBroadcastDeliveryJob", "MarkBroadcastDeliveryFailed", payload.DeliveryId, markErr)
		}
		return nil
	}

	// The actual gateway call lives downstream of the push endpoint; once
	// the message is accepted here the delivery counts as sent.
	return MarkBroadcastDeliverySent(ctx, payload.DeliveryId)
}
