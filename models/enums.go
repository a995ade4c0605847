package models

import "errors"

type PackageStatus string

const (
	PackageStatusPending    PackageStatus = "Pending"
	PackageStatusProcessing PackageStatus = "Processing"
	PackageStatusShipped    PackageStatus = "Shipped"
	PackageStatusCustoms    PackageStatus = "Customs"
	PackageStatusReady      PackageStatus = "Ready for Pickup"
	PackageStatusDelayed    PackageStatus = "Delayed"
	PackageStatusDelivered  PackageStatus = "Delivered"
)

// PackageStatusCases lists every status, including Delivered.
func PackageStatusCases() []PackageStatus {
	return []PackageStatus{
		PackageStatusPending,
		PackageStatusProcessing,
		PackageStatusShipped,
		PackageStatusCustoms,
		PackageStatusReady,
		PackageStatusDelayed,
		PackageStatusDelivered,
	}
}

// PackageStatusManualCases lists the statuses an admin may pick directly.
// Delivered is excluded: packages only become Delivered through distribution.
func PackageStatusManualCases() []PackageStatus {
	cases := make([]PackageStatus, 0, 6)
	for _, s := range PackageStatusCases() {
		if s == PackageStatusDelivered {
			continue
		}
		cases = append(cases, s)
	}
	return cases
}

func (s PackageStatus) Valid() bool {
	for _, c := range PackageStatusCases() {
		if s == c {
			return true
		}
	}
	return false
}

// NextStatus suggests the usual next step in the package lifecycle.
// It never suggests Delivered; that transition belongs to the
// distribution workflow alone.
func (s PackageStatus) NextStatus() (PackageStatus, bool) {
	switch s {
	case PackageStatusPending:
		return PackageStatusProcessing, true
	case PackageStatusProcessing:
		return PackageStatusShipped, true
	case PackageStatusShipped:
		return PackageStatusCustoms, true
	case PackageStatusCustoms:
		return PackageStatusReady, true
	case PackageStatusDelayed:
		return PackageStatusProcessing, true
	default:
		return "", false
	}
}

func ParsePackageStatus(s string) (PackageStatus, error) {
	status := PackageStatus(s)
	if !status.Valid() {
		return "", errors.New("invalid package status")
	}
	return status, nil
}

type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "Paid"
	PaymentStatusPartial PaymentStatus = "Partial"
)

type TransactionType string

const (
	TransactionTypeCharge   TransactionType = "charge"
	TransactionTypeCredit   TransactionType = "credit"
	TransactionTypeDebit    TransactionType = "debit"
	TransactionTypePayment  TransactionType = "payment"
	TransactionTypeWriteOff TransactionType = "write_off"
)

type ManifestType string

const (
	ManifestTypeAir ManifestType = "Air"
	ManifestTypeSea ManifestType = "Sea"
)

func (t ManifestType) Valid() bool {
	return t == ManifestTypeAir || t == ManifestTypeSea
}

type ManifestAuditAction string

const (
	ManifestAuditActionClosed       ManifestAuditAction = "closed"
	ManifestAuditActionUnlocked     ManifestAuditAction = "unlocked"
	ManifestAuditActionAutoComplete ManifestAuditAction = "auto_complete"
)

type UserRole string

const (
	UserRoleCustomer   UserRole = "customer"
	UserRoleAdmin      UserRole = "admin"
	UserRoleSuperAdmin UserRole = "superadmin"
)

// CanManageManifests reports whether the role may edit, close or unlock
// manifests. Customers can never manage manifests.
func (r UserRole) CanManageManifests() bool {
	return r == UserRoleAdmin || r == UserRoleSuperAdmin
}

type BroadcastDeliveryStatus string

const (
	BroadcastDeliveryStatusPending BroadcastDeliveryStatus = "pending"
	BroadcastDeliveryStatusSent    BroadcastDeliveryStatus = "sent"
	BroadcastDeliveryStatusFailed  BroadcastDeliveryStatus = "failed"
)
