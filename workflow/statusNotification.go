package workflow

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/google/uuid"
)

type packageStatusEvent struct {
	PackageId      int    `json:"package_id"`
	CustomerId     int    `json:"customer_id"`
	TrackingNumber string `json:"tracking_number"`
	Status         string `json:"status"`
}

// PublishPackageStatusEvent enqueues a customer notification for a status
// change. Fire and forget: a lost notification is acceptable, a failed
// status change is not, so publish errors are logged and swallowed.
func PublishPackageStatusEvent(ctx context.Context, pkg *models.Package) {
	logger := config.GetLogger()

	payload, err := json.Marshal(packageStatusEvent{
		PackageId:      pkg.ID,
		CustomerId:     pkg.CustomerId,
		TrackingNumber: pkg.TrackingNumber,
		Status:         string(pkg.Status),
	})
	if err != nil {
		config.LogError(logger, "statusNotification.go", "PublishPackageStatusEvent", "Marshal", pkg.ID, err)
		return
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	msg := config.PubSubMessage{
		ID:            uuid.NewString(),
		JobType:       config.JobTypeStatusNotification,
		ReferenceId:   pkg.ID,
		ReferenceType: models.ReferenceTypePackage,
		OccurredAt:    time.Now(),
		Payload:       payload,
		CorrelationId: correlationId,
	}
	if err := config.PublishJob(msg); err != nil {
		config.LogError(logger, "statusNotification.go", "PublishPackageStatusEvent", "PublishJob", pkg.ID, err)
	}
}
