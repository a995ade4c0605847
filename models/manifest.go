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

// Manifest is one shipment (air or sea). IsOpen gates every package edit:
// closed manifests are read only until an admin unlocks them with a reason.
type Manifest struct {
	ID           int          `gorm:"primary_key" json:"id"`
	Name         string       `gorm:"size:100;not null" json:"name" binding:"required"`
	Type         ManifestType `gorm:"size:10;not null" json:"type" binding:"required"`
	ShipmentDate *time.Time   `json:"shipment_date"`
	IsOpen       *bool        `gorm:"not null;default:true;index" json:"is_open"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Manifest) Open() bool {
	return m.IsOpen != nil && *m.IsOpen
}

type NewManifest struct {
	Name         string       `json:"name" binding:"required"`
	Type         ManifestType `json:"type" binding:"required"`
	ShipmentDate *time.Time   `json:"shipment_date"`
}

func CreateManifest(ctx context.Context, input *NewManifest) (*Manifest, error) {
	if !input.Type.Valid() {
		return nil, errors.New("manifest type must be Air or Sea")
	}

	manifest := Manifest{
		Name:         input.Name,
		Type:         input.Type,
		ShipmentDate: input.ShipmentDate,
		IsOpen:       utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&manifest).Error; err != nil {
		return nil, err
	}
	return &manifest, nil
}

func GetManifest(ctx context.Context, id int) (*Manifest, error) {
	db := config.GetDB()
	var manifest Manifest
	if err := db.WithContext(ctx).First(&manifest, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &manifest, nil
}

// GetManifestForUpdate locks the manifest row inside tx. Open/close decisions
// must read the row under this lock.
func GetManifestForUpdate(tx *gorm.DB, id int) (*Manifest, error) {
	var manifest Manifest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&manifest, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &manifest, nil
}

// CountManifestPackages returns total and delivered counts over non-deleted
// packages on the manifest.
func CountManifestPackages(tx *gorm.DB, manifestId int) (total int64, delivered int64, err error) {
	base := tx.Model(&Package{}).Where("manifest_id = ? AND deleted_at IS NULL", manifestId)
	if err = base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return
	}
	err = base.Session(&gorm.Session{}).Where("status = ?", PackageStatusDelivered).Count(&delivered).Error
	return
}

// GetOpenManifestIds lists every open manifest, oldest first. Used by the
// auto closure sweep.
func GetOpenManifestIds(ctx context.Context) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&Manifest{}).
		Where("is_open = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
