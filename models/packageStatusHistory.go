package models

import (
	"time"

	"gorm.io/gorm"
)

// PackageStatusHistory records one status transition. Append only.
type PackageStatusHistory struct {
	ID          int           `gorm:"primary_key" json:"id"`
	PackageId   int           `gorm:"not null;index" json:"package_id"`
	OldStatus   PackageStatus `gorm:"size:20;not null" json:"old_status"`
	NewStatus   PackageStatus `gorm:"size:20;not null" json:"new_status"`
	ChangedById *int          `json:"changed_by_id"`
	Note        string        `gorm:"size:255" json:"note"`
	CreatedAt   time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func RecordPackageStatusChange(tx *gorm.DB, packageId int, oldStatus, newStatus PackageStatus, changedById *int, note string) error {
	row := PackageStatusHistory{
		PackageId:   packageId,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		ChangedById: changedById,
		Note:        note,
	}
	return tx.Create(&row).Error
}

func GetPackageStatusHistory(tx *gorm.DB, packageId int) ([]PackageStatusHistory, error) {
	var rows []PackageStatusHistory
	err := tx.Where("package_id = ?", packageId).Order("id ASC").Find(&rows).Error
	return rows, err
}
