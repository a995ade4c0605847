package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"gorm.io/gorm"
)

// UpdatePackageStatus applies a manual status change. Delivered is never a
// valid manual target; packages become Delivered only through a
// distribution. On rejection nothing is written, including history.
func UpdatePackageStatus(ctx context.Context, packageId int, newStatus models.PackageStatus, changedById int, note string) (*models.Package, error) {
	if newStatus == models.PackageStatusDelivered {
		return nil, errors.New("Packages can only be marked Delivered through a distribution.")
	}
	if !newStatus.Valid() {
		return nil, errors.New("Unknown package status.")
	}

	db := config.GetDB()
	var pkg models.Package
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deleted_at IS NULL").First(&pkg, packageId).Error; err != nil {
			return errors.New("Package not found.")
		}
		if pkg.Status == models.PackageStatusDelivered {
			return errors.New("Delivered packages cannot change status.")
		}
		if pkg.Status == newStatus {
			return nil
		}

		manifest, err := models.GetManifestForUpdate(tx, pkg.ManifestId)
		if err != nil {
			return err
		}
		if !manifest.Open() {
			return errors.New("Manifest is closed. Unlock it to edit packages.")
		}

		oldStatus := pkg.Status
		if err := tx.Model(&models.Package{}).Where("id = ?", packageId).
			Update("Status", newStatus).Error; err != nil {
			return err
		}
		pkg.Status = newStatus
		return models.RecordPackageStatusChange(tx, packageId, oldStatus, newStatus, &changedById, note)
	})
	if err != nil {
		return nil, err
	}

	PublishPackageStatusEvent(ctx, &pkg)
	return &pkg, nil
}

// MarkDeliveredThroughDistribution moves one package to Delivered inside the
// settlement transaction. The package row must already be locked by the
// caller. This is the only path that writes the Delivered status.
func MarkDeliveredThroughDistribution(tx *gorm.DB, pkg *models.Package, distributedById *int) error {
	if pkg.Status == models.PackageStatusDelivered {
		return errors.New("package is already delivered")
	}

	oldStatus := pkg.Status
	if err := tx.Model(&models.Package{}).Where("id = ?", pkg.ID).
		Update("Status", models.PackageStatusDelivered).Error; err != nil {
		return err
	}
	pkg.Status = models.PackageStatusDelivered
	return models.RecordPackageStatusChange(tx, pkg.ID, oldStatus, models.PackageStatusDelivered, distributedById, "Delivered through distribution")
}
