package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BroadcastMessage is an announcement sent to many customers at once, for
// example "Air manifest 42 has cleared customs". Deliveries fan out one row
// per recipient so each send is retried independently.
type BroadcastMessage struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	Subject     string              `gorm:"size:150;not null" json:"subject" binding:"required"`
	Body        string              `gorm:"type:text;not null" json:"body" binding:"required"`
	ManifestId  *int                `gorm:"index" json:"manifest_id"`
	CreatedById *int                `json:"created_by_id"`
	Deliveries  []BroadcastDelivery `json:"deliveries,omitempty"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

// BroadcastDelivery tracks one recipient. Status moves pending to sent or
// failed; Attempts counts tries so the dispatcher can give up.
type BroadcastDelivery struct {
	ID          int                     `gorm:"primary_key" json:"id"`
	BroadcastId int                     `gorm:"not null;index" json:"broadcast_id"`
	CustomerId  int                     `gorm:"not null;index" json:"customer_id"`
	Status      BroadcastDeliveryStatus `gorm:"size:10;not null;default:'pending';index" json:"status"`
	Attempts    int                     `gorm:"not null;default:0" json:"attempts"`
	Error       string                  `gorm:"size:255" json:"error"`
	SentAt      *time.Time              `json:"sent_at"`
	NextTryAt   *time.Time              `gorm:"index" json:"next_try_at"`
	CreatedAt   time.Time               `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time               `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBroadcast struct {
	Subject    string `json:"subject" binding:"required"`
	Body       string `json:"body" binding:"required"`
	ManifestId *int   `json:"manifest_id"`
	// CustomerIds empty means every active customer.
	CustomerIds []int `json:"customer_ids"`
}

// CreateBroadcast writes the message and one pending delivery per recipient
// in a single transaction. ManifestId set narrows the default recipient set
// to customers with packages on that manifest.
func CreateBroadcast(ctx context.Context, input *NewBroadcast, createdById *int) (*BroadcastMessage, error) {
	db := config.GetDB()

	var customerIds []int
	if len(input.CustomerIds) > 0 {
		customerIds = input.CustomerIds
	} else if input.ManifestId != nil {
		err := db.WithContext(ctx).Model(&Package{}).
			Where("manifest_id = ? AND deleted_at IS NULL", *input.ManifestId).
			Distinct().Pluck("customer_id", &customerIds).Error
		if err != nil {
			return nil, err
		}
	} else {
		err := db.WithContext(ctx).Model(&Customer{}).
			Where("is_active = ? AND deleted_at IS NULL", true).
			Pluck("id", &customerIds).Error
		if err != nil {
			return nil, err
		}
	}
	if len(customerIds) == 0 {
		return nil, errors.New("broadcast has no recipients")
	}

	broadcast := BroadcastMessage{
		Subject:     input.Subject,
		Body:        input.Body,
		ManifestId:  input.ManifestId,
		CreatedById: createdById,
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&broadcast).Error; err != nil {
			return err
		}
		now := time.Now()
		deliveries := make([]BroadcastDelivery, 0, len(customerIds))
		for _, cid := range customerIds {
			deliveries = append(deliveries, BroadcastDelivery{
				BroadcastId: broadcast.ID,
				CustomerId:  cid,
				Status:      BroadcastDeliveryStatusPending,
				NextTryAt:   &now,
			})
		}
		return tx.CreateInBatches(&deliveries, 200).Error
	})
	if err != nil {
		return nil, err
	}
	return &broadcast, nil
}

func GetBroadcast(ctx context.Context, id int) (*BroadcastMessage, error) {
	db := config.GetDB()
	var broadcast BroadcastMessage
	err := db.WithContext(ctx).Preload("Deliveries").First(&broadcast, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &broadcast, nil
}

// ClaimDueDeliveries locks and returns pending deliveries whose NextTryAt
// has passed. SKIP LOCKED lets concurrent dispatchers share the queue.
func ClaimDueDeliveries(tx *gorm.DB, limit int) ([]BroadcastDelivery, error) {
	var rows []BroadcastDelivery
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND next_try_at <= ?", BroadcastDeliveryStatusPending, time.Now()).
		Order("next_try_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
