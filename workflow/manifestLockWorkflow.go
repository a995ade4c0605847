package workflow

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"gorm.io/gorm"
)

const autoCloseReason = "All packages have been delivered"

// CanEditManifest decides whether a role may change packages on a manifest.
// Open manifests are editable by anyone who can manage them; closed ones are
// read only for everyone until unlocked.
func CanEditManifest(role models.UserRole, isOpen bool) bool {
	if !role.CanManageManifests() {
		return false
	}
	return isOpen
}

// ValidateUnlockReason checks the audit reason for reopening a manifest.
// Whitespace does not count toward the length.
func ValidateUnlockReason(reason string) error {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return errors.New("A reason is required to unlock a manifest.")
	}
	// Character limits, not byte limits: reasons are free text and may be
	// non-ASCII.
	length := utf8.RuneCountInString(trimmed)
	if length < 10 {
		return errors.New("The reason must be at least 10 characters.")
	}
	if length > 500 {
		return errors.New("The reason cannot exceed 500 characters.")
	}
	return nil
}

// UnlockManifest reopens a closed manifest. Checks run in a fixed order so
// callers get the most relevant error: permission, then state, then reason.
func UnlockManifest(ctx context.Context, manifestId int, userId int, role models.UserRole, reason string) (*models.Manifest, error) {
	if !role.CanManageManifests() {
		return nil, errors.New("You do not have permission to unlock manifests.")
	}

	db := config.GetDB()
	var manifest *models.Manifest
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		manifest, err = models.GetManifestForUpdate(tx, manifestId)
		if err != nil {
			return err
		}
		if manifest.Open() {
			return errors.New("Manifest is already open.")
		}
		if err := ValidateUnlockReason(reason); err != nil {
			return err
		}

		if err := tx.Model(&models.Manifest{}).Where("id = ?", manifestId).
			Update("IsOpen", true).Error; err != nil {
			return err
		}
		open := true
		manifest.IsOpen = &open
		return models.LogManifestAction(tx, manifestId, &userId, models.ManifestAuditActionUnlocked, strings.TrimSpace(reason))
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// CloseManifest closes an open manifest by hand, regardless of package
// statuses.
func CloseManifest(ctx context.Context, manifestId int, userId int, role models.UserRole, reason string) (*models.Manifest, error) {
	if !role.CanManageManifests() {
		return nil, errors.New("You do not have permission to close manifests.")
	}

	db := config.GetDB()
	var manifest *models.Manifest
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		manifest, err = models.GetManifestForUpdate(tx, manifestId)
		if err != nil {
			return err
		}
		if !manifest.Open() {
			return errors.New("Manifest is already closed.")
		}

		if err := tx.Model(&models.Manifest{}).Where("id = ?", manifestId).
			Update("IsOpen", false).Error; err != nil {
			return err
		}
		closed := false
		manifest.IsOpen = &closed
		return models.LogManifestAction(tx, manifestId, &userId, models.ManifestAuditActionClosed, strings.TrimSpace(reason))
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// IsEligibleForAutoClosure reports whether a manifest should close itself:
// it is open, has at least one package, and every non-deleted package is
// Delivered. A nil manifest or an empty manifest is never eligible.
func IsEligibleForAutoClosure(manifest *models.Manifest, totalPackages, deliveredPackages int64) bool {
	if manifest == nil || !manifest.Open() {
		return false
	}
	if totalPackages == 0 {
		return false
	}
	return deliveredPackages == totalPackages
}

// AutoCloseIfComplete closes the manifest when every package on it has been
// delivered. The counts are re-read under the row lock so two concurrent
// deliveries cannot both close it; the UPDATE is additionally guarded on
// is_open so only one writer wins. Returns true when this call closed it.
func AutoCloseIfComplete(tx *gorm.DB, manifestId int) (bool, error) {
	if !config.AutoCloseManifests() {
		return false, nil
	}

	manifest, err := models.GetManifestForUpdate(tx, manifestId)
	if err != nil {
		return false, err
	}
	total, delivered, err := models.CountManifestPackages(tx, manifestId)
	if err != nil {
		return false, err
	}
	if !IsEligibleForAutoClosure(manifest, total, delivered) {
		return false, nil
	}

	res := tx.Model(&models.Manifest{}).
		Where("id = ? AND is_open = ?", manifestId, true).
		Update("IsOpen", false)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	// System actor: nil user id.
	if err := models.LogManifestAction(tx, manifestId, nil, models.ManifestAuditActionAutoComplete, autoCloseReason); err != nil {
		return false, err
	}
	return true, nil
}

// EvaluateManifestClosureAfterDelivery runs auto closure in its own
// transaction after a settlement commits. Failures are logged, never
// returned; a missed auto close leaves the manifest open, which an admin
// can close by hand or the sweep will catch.
func EvaluateManifestClosureAfterDelivery(ctx context.Context, manifestId int) {
	logger := config.GetLogger()
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := AutoCloseIfComplete(tx, manifestId)
		return err
	})
	if err != nil {
		config.LogError(logger, "manifestLockWorkflow.go", "EvaluateManifestClosureAfterDelivery", "AutoCloseIfComplete", manifestId, err)
	}
}

type ManifestLockStatus struct {
	IsOpen                bool   `json:"is_open"`
	StatusLabel           string `json:"status_label"`
	CanBeEdited           bool   `json:"can_be_edited"`
	PackageCount          int64  `json:"package_count"`
	DeliveredPackageCount int64  `json:"delivered_package_count"`
	AllPackagesDelivered  bool   `json:"all_packages_delivered"`
}

// GetManifestLockStatus is a read-only summary for the manifest header UI.
func GetManifestLockStatus(ctx context.Context, manifestId int, role models.UserRole) (*ManifestLockStatus, error) {
	manifest, err := models.GetManifest(ctx, manifestId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	total, delivered, err := models.CountManifestPackages(db.WithContext(ctx), manifestId)
	if err != nil {
		return nil, err
	}

	label := "Closed"
	if manifest.Open() {
		label = "Open"
	}
	return &ManifestLockStatus{
		IsOpen:                manifest.Open(),
		StatusLabel:           label,
		CanBeEdited:           CanEditManifest(role, manifest.Open()),
		PackageCount:          total,
		DeliveredPackageCount: delivered,
		AllPackagesDelivered:  total > 0 && total == delivered,
	}, nil
}
