package models

import (
	"time"

	"gorm.io/gorm"
)

// ManifestAudit records every open/close action on a manifest. Append only.
// UserId is nil when the system closed the manifest automatically.
type ManifestAudit struct {
	ID         int                 `gorm:"primary_key" json:"id"`
	ManifestId int                 `gorm:"not null;index" json:"manifest_id"`
	UserId     *int                `json:"user_id"`
	Action     ManifestAuditAction `gorm:"size:20;not null" json:"action"`
	Reason     string              `gorm:"size:500" json:"reason"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func LogManifestAction(tx *gorm.DB, manifestId int, userId *int, action ManifestAuditAction, reason string) error {
	row := ManifestAudit{
		ManifestId: manifestId,
		UserId:     userId,
		Action:     action,
		Reason:     reason,
	}
	return tx.Create(&row).Error
}

func GetManifestAuditTrail(tx *gorm.DB, manifestId int) ([]ManifestAudit, error) {
	var rows []ManifestAudit
	err := tx.Where("manifest_id = ?", manifestId).Order("id ASC").Find(&rows).Error
	return rows, err
}
