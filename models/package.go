package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Package is one shipment item on a manifest. Fee pointers are nil until an
// admin assesses them; a nil fee contributes zero to the total. Rows are
// soft deleted with DeletedAt so delivered packages stay on their receipts.
type Package struct {
	ID             int              `gorm:"primary_key" json:"id"`
	CustomerId     int              `gorm:"not null;index" json:"customer_id"`
	Customer       *Customer        `json:"customer,omitempty"`
	ManifestId     int              `gorm:"not null;index" json:"manifest_id"`
	Manifest       *Manifest        `json:"manifest,omitempty"`
	TrackingNumber string           `gorm:"size:50;uniqueIndex;not null" json:"tracking_number" binding:"required"`
	Description    string           `gorm:"size:255" json:"description"`
	Weight         decimal.Decimal  `gorm:"type:decimal(10,2);default:0" json:"weight"`
	Status         PackageStatus    `gorm:"size:20;not null;default:'Pending';index" json:"status"`
	FreightPrice   *decimal.Decimal `gorm:"type:decimal(20,2)" json:"freight_price"`
	ClearanceFee   *decimal.Decimal `gorm:"type:decimal(20,2)" json:"clearance_fee"`
	StorageFee     *decimal.Decimal `gorm:"type:decimal(20,2)" json:"storage_fee"`
	DeliveryFee    *decimal.Decimal `gorm:"type:decimal(20,2)" json:"delivery_fee"`
	DeletedAt      *time.Time       `gorm:"index" json:"deleted_at"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TotalCost sums the four fee fields, treating nil as zero, rounded to cents.
func (p *Package) TotalCost() decimal.Decimal {
	total := utils.DerefMoney(p.FreightPrice).
		Add(utils.DerefMoney(p.ClearanceFee)).
		Add(utils.DerefMoney(p.StorageFee)).
		Add(utils.DerefMoney(p.DeliveryFee))
	return utils.RoundMoney(total)
}

type NewPackage struct {
	CustomerId     int              `json:"customer_id" binding:"required"`
	ManifestId     int              `json:"manifest_id" binding:"required"`
	TrackingNumber string           `json:"tracking_number" binding:"required"`
	Description    string           `json:"description"`
	Weight         decimal.Decimal  `json:"weight"`
	FreightPrice   *decimal.Decimal `json:"freight_price"`
}

func CreatePackage(ctx context.Context, input *NewPackage) (*Package, error) {
	if input.FreightPrice != nil && input.FreightPrice.IsNegative() {
		return nil, errors.New("freight price cannot be negative")
	}

	db := config.GetDB()

	if _, err := GetCustomer(ctx, input.CustomerId); err != nil {
		return nil, errors.New("customer not found")
	}

	var manifest Manifest
	if err := db.WithContext(ctx).First(&manifest, input.ManifestId).Error; err != nil {
		return nil, errors.New("manifest not found")
	}
	if !manifest.Open() {
		return nil, errors.New("manifest is closed")
	}

	pkg := Package{
		CustomerId:     input.CustomerId,
		ManifestId:     input.ManifestId,
		TrackingNumber: input.TrackingNumber,
		Description:    input.Description,
		Weight:         input.Weight,
		Status:         PackageStatusPending,
		FreightPrice:   input.FreightPrice,
	}
	if err := db.WithContext(ctx).Create(&pkg).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetPackage loads one non-deleted package with its customer and manifest.
func GetPackage(ctx context.Context, id int) (*Package, error) {
	db := config.GetDB()
	var pkg Package
	err := db.WithContext(ctx).
		Preload("Customer").Preload("Manifest").
		Where("deleted_at IS NULL").
		First(&pkg, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &pkg, nil
}

// GetPackagesForUpdate loads the requested non-deleted packages inside tx
// with row locks, preserving no particular order. Callers must check that
// every requested id came back.
func GetPackagesForUpdate(tx *gorm.DB, ids []int) ([]Package, error) {
	var pkgs []Package
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND deleted_at IS NULL", ids).
		Find(&pkgs).Error
	return pkgs, err
}

// SearchPackages filters by optional customer, manifest and status.
func SearchPackages(ctx context.Context, customerId, manifestId int, status string, limit, offset int) ([]Package, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&Package{}).Where("deleted_at IS NULL")
	if customerId > 0 {
		q = q.Where("customer_id = ?", customerId)
	}
	if manifestId > 0 {
		q = q.Where("manifest_id = ?", manifestId)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}

	var pkgs []Package
	err := q.Preload("Customer").Order("id DESC").Limit(limit).Offset(offset).Find(&pkgs).Error
	return pkgs, total, err
}

// DeletePackage soft deletes. Delivered packages are part of a settled
// distribution and cannot be removed.
func DeletePackage(ctx context.Context, id int) error {
	pkg, err := GetPackage(ctx, id)
	if err != nil {
		return err
	}
	if pkg.Status == PackageStatusDelivered {
		return errors.New("delivered packages cannot be deleted")
	}

	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&Package{}).Where("id = ?", id).
		Update("DeletedAt", &now).Error
}
