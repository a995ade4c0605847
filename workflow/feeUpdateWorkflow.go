package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FeeUpdateInput carries the assessed fees for one package. Freight was set
// at intake; the other three are filled in when the package clears.
// ApplyCredit consumes available customer credit against the new total cost
// at assessment time instead of waiting for the distribution.
type FeeUpdateInput struct {
	ClearanceFee *decimal.Decimal `json:"clearance_fee"`
	StorageFee   *decimal.Decimal `json:"storage_fee"`
	DeliveryFee  *decimal.Decimal `json:"delivery_fee"`
	ApplyCredit  bool             `json:"apply_credit"`
}

// ValidateFees returns a field-to-message map. All three fees are required
// and must not be negative; an empty map means valid.
func ValidateFees(input FeeUpdateInput) map[string]string {
	fieldErrors := map[string]string{}

	check := func(field string, v *decimal.Decimal) {
		if v == nil {
			fieldErrors[field] = "This fee is required."
			return
		}
		if v.IsNegative() {
			fieldErrors[field] = "This fee cannot be negative."
		}
	}
	check("clearance_fee", input.ClearanceFee)
	check("storage_fee", input.StorageFee)
	check("delivery_fee", input.DeliveryFee)
	return fieldErrors
}

// BalanceImpact previews what setting fees would do to the customer, before
// anything is written. Account balance does not move at fee time; only the
// eventual settlement moves money, so the preview shows how much existing
// credit would cover.
type BalanceImpact struct {
	NewTotalCost         decimal.Decimal `json:"new_total_cost"`
	CreditToApply        decimal.Decimal `json:"credit_to_apply"`
	NetCharge            decimal.Decimal `json:"net_charge"`
	CustomerBalanceAfter decimal.Decimal `json:"customer_balance_after"`
	CustomerCreditAfter  decimal.Decimal `json:"customer_credit_after"`
}

// CalculateBalanceImpact is pure arithmetic over the package's prospective
// total and the customer's current balances. Credit is only consumed when
// applyCredit is set; otherwise the preview shows zero credit movement.
func CalculateBalanceImpact(newTotalCost, accountBalance, creditBalance decimal.Decimal, applyCredit bool) BalanceImpact {
	total := utils.RoundMoney(newTotalCost)
	creditToApply := decimal.Zero
	if applyCredit {
		creditToApply = decimal.Min(creditBalance, total)
	}
	return BalanceImpact{
		NewTotalCost:         total,
		CreditToApply:        creditToApply,
		NetCharge:            total.Sub(creditToApply),
		CustomerBalanceAfter: accountBalance,
		CustomerCreditAfter:  creditBalance.Sub(creditToApply),
	}
}

type FeeUpdatePreview struct {
	PackageId int           `json:"package_id"`
	NewStatus string        `json:"new_status"`
	Impact    BalanceImpact `json:"impact"`
}

// GetFeeUpdatePreview shows what UpdatePackageFeesAndSetReady would do
// without writing anything.
func GetFeeUpdatePreview(ctx context.Context, packageId int, input FeeUpdateInput) (*FeeUpdatePreview, error) {
	if fieldErrors := ValidateFees(input); len(fieldErrors) > 0 {
		return nil, FeeValidationError{Fields: fieldErrors}
	}

	pkg, err := models.GetPackage(ctx, packageId)
	if err != nil {
		return nil, err
	}
	if pkg.Status == models.PackageStatusDelivered {
		return nil, errors.New("Delivered packages cannot be re-assessed.")
	}
	customer, err := models.GetCustomer(ctx, pkg.CustomerId)
	if err != nil {
		return nil, err
	}

	newTotal := utils.DerefMoney(pkg.FreightPrice).
		Add(utils.DerefMoney(input.ClearanceFee)).
		Add(utils.DerefMoney(input.StorageFee)).
		Add(utils.DerefMoney(input.DeliveryFee))

	return &FeeUpdatePreview{
		PackageId: pkg.ID,
		NewStatus: string(models.PackageStatusReady),
		Impact:    CalculateBalanceImpact(newTotal, customer.AccountBalance, customer.CreditBalance, input.ApplyCredit),
	}, nil
}

// FeeValidationError carries per-field messages back to the handler.
type FeeValidationError struct {
	Fields map[string]string
}

func (e FeeValidationError) Error() string {
	return "fee validation failed"
}

// UpdatePackageFeesAndSetReady writes all three fees and moves the package
// to Ready for Pickup in one transaction. Any rejection leaves the package
// untouched.
func UpdatePackageFeesAndSetReady(ctx context.Context, packageId int, input FeeUpdateInput, changedById int) (*models.Package, error) {
	if fieldErrors := ValidateFees(input); len(fieldErrors) > 0 {
		return nil, FeeValidationError{Fields: fieldErrors}
	}

	db := config.GetDB()
	var pkg models.Package
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("deleted_at IS NULL").First(&pkg, packageId).Error; err != nil {
			return errors.New("Package not found.")
		}
		if pkg.Status == models.PackageStatusDelivered {
			return errors.New("Delivered packages cannot be re-assessed.")
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
			Updates(map[string]interface{}{
				"ClearanceFee": input.ClearanceFee,
				"StorageFee":   input.StorageFee,
				"DeliveryFee":  input.DeliveryFee,
				"Status":       models.PackageStatusReady,
			}).Error; err != nil {
			return err
		}
		pkg.ClearanceFee = input.ClearanceFee
		pkg.StorageFee = input.StorageFee
		pkg.DeliveryFee = input.DeliveryFee
		pkg.Status = models.PackageStatusReady

		if input.ApplyCredit {
			customer, err := models.GetCustomerForUpdate(tx, pkg.CustomerId)
			if err != nil {
				return err
			}
			creditToApply := decimal.Min(customer.CreditBalance, pkg.TotalCost())
			if creditToApply.IsPositive() {
				desc := fmt.Sprintf("Credit applied to package %s", pkg.TrackingNumber)
				if _, err := models.RecordCustomerTransaction(tx, customer, models.TransactionTypeDebit, creditToApply, desc, &pkg.ID, models.ReferenceTypePackage, &changedById); err != nil {
					return err
				}
			}
		}

		if oldStatus == models.PackageStatusReady {
			return nil
		}
		return models.RecordPackageStatusChange(tx, packageId, oldStatus, models.PackageStatusReady, &changedById, "Fees assessed")
	})
	if err != nil {
		return nil, err
	}

	PublishPackageStatusEvent(ctx, &pkg)
	return &pkg, nil
}
