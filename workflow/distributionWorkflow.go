package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type DistributionInput struct {
	PackageIds      []int           `json:"package_ids" binding:"required"`
	AmountCollected decimal.Decimal `json:"amount_collected"`
	WriteOff        bool            `json:"write_off"`
}

type DistributionResult struct {
	Success      bool                        `json:"success"`
	Message      string                      `json:"message"`
	Distribution *models.PackageDistribution `json:"distribution,omitempty"`
}

const receiptNumberRetries = 3

// DistributePackages settles a batch of Ready for Pickup packages for one
// customer: snapshots fees, applies credit then cash, records every balance
// movement in the ledger, and marks the packages Delivered. The whole batch
// succeeds or fails together.
//
// After commit it stores the receipt, enqueues the receipt email and
// evaluates manifest auto closure; those are best effort and never undo the
// settlement.
func DistributePackages(ctx context.Context, input DistributionInput, distributedById int) (DistributionResult, error) {
	if len(input.PackageIds) == 0 {
		return DistributionResult{Message: "No packages selected."}, errors.New("no packages selected")
	}
	if input.AmountCollected.IsNegative() {
		return DistributionResult{Message: "Amount collected cannot be negative."}, errors.New("amount collected cannot be negative")
	}
	if input.WriteOff && !config.AllowWriteOff() {
		return DistributionResult{Message: "Write-offs are not enabled."}, errors.New("write-offs are not enabled")
	}

	var dist models.PackageDistribution
	var customer *models.Customer
	var manifestIds []int

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pkgs, err := models.GetPackagesForUpdate(tx, input.PackageIds)
		if err != nil {
			return err
		}
		if len(pkgs) != len(input.PackageIds) {
			return errors.New("one or more packages were not found")
		}

		customerId := pkgs[0].CustomerId
		for _, pkg := range pkgs {
			if pkg.CustomerId != customerId {
				return errors.New("all packages in a distribution must belong to the same customer")
			}
			if pkg.Status != models.PackageStatusReady {
				return fmt.Errorf("package %s is not ready for pickup", pkg.TrackingNumber)
			}
		}

		if err := AcquireCustomerSettlementLock(tx, customerId); err != nil {
			return err
		}
		defer ReleaseCustomerSettlementLock(tx, customerId)

		customer, err = models.GetCustomerForUpdate(tx, customerId)
		if err != nil {
			return err
		}

		total := decimal.Zero
		items := make([]models.PackageDistributionItem, 0, len(pkgs))
		for i := range pkgs {
			item := models.NewDistributionItem(&pkgs[i])
			total = total.Add(item.LineTotal)
			items = append(items, item)
		}
		total = utils.RoundMoney(total)

		settlement, err := CalculateSettlement(SettlementInput{
			TotalAmount:     total,
			CreditBalance:   customer.CreditBalance,
			AmountCollected: input.AmountCollected,
			WriteOff:        input.WriteOff,
		})
		if err != nil {
			return err
		}

		now := time.Now()
		dist = models.PackageDistribution{
			CustomerId:         customerId,
			TotalAmount:        total,
			AmountCollected:    utils.RoundMoney(input.AmountCollected),
			CreditApplied:      settlement.CreditApplied,
			CashApplied:        settlement.CashApplied,
			WriteOffAmount:     settlement.WriteOffAmount,
			OutstandingBalance: settlement.OutstandingBalance,
			PaymentStatus:      settlement.PaymentStatus,
			DistributedById:    &distributedById,
			DistributedAt:      now,
		}
		for attempt := 0; ; attempt++ {
			dist.ReceiptNumber = NewReceiptNumber(time.Now())
			err := tx.Create(&dist).Error
			if err == nil {
				break
			}
			if !isDuplicateKeyErr(err) || attempt >= receiptNumberRetries {
				return err
			}
			time.Sleep(2 * time.Millisecond)
		}

		for i := range items {
			items[i].DistributionId = dist.ID
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		dist.Items = items

		// Ledger rows, credit movements first so the debit can never
		// overdraw on a rounded remainder.
		refType := models.ReferenceTypeDistribution
		if settlement.CreditApplied.IsPositive() {
			desc := fmt.Sprintf("Credit applied to receipt %s", dist.ReceiptNumber)
			if _, err := models.RecordCustomerTransaction(tx, customer, models.TransactionTypeDebit, settlement.CreditApplied, desc, &dist.ID, refType, &distributedById); err != nil {
				return err
			}
		}
		if settlement.OverpaymentCredit.IsPositive() {
			desc := fmt.Sprintf("Overpayment credit from receipt %s", dist.ReceiptNumber)
			if _, err := models.RecordCustomerTransaction(tx, customer, models.TransactionTypeCredit, settlement.OverpaymentCredit, desc, &dist.ID, refType, &distributedById); err != nil {
				return err
			}
		}
		if settlement.WriteOffAmount.IsPositive() {
			desc := fmt.Sprintf("Write-off on receipt %s", dist.ReceiptNumber)
			if _, err := models.RecordCustomerTransaction(tx, customer, models.TransactionTypeWriteOff, settlement.WriteOffAmount, desc, &dist.ID, refType, &distributedById); err != nil {
				return err
			}
		}
		// An underpaid shortfall stays on the distribution row as
		// outstanding_balance. It never moves the customer's balances;
		// only a write-off forgives it, and that is recorded above.

		seen := map[int]bool{}
		for i := range pkgs {
			if err := MarkDeliveredThroughDistribution(tx, &pkgs[i], &distributedById); err != nil {
				return err
			}
			if !seen[pkgs[i].ManifestId] {
				seen[pkgs[i].ManifestId] = true
				manifestIds = append(manifestIds, pkgs[i].ManifestId)
			}
		}
		return nil
	})
	if err != nil {
		return DistributionResult{Message: err.Error()}, err
	}

	// Post-commit side effects. The settlement stands even if these fail.
	StoreReceipt(ctx, &dist, customer)
	enqueueReceiptEmail(ctx, &dist, customer)
	for _, manifestId := range manifestIds {
		EvaluateManifestClosureAfterDelivery(ctx, manifestId)
	}

	_ = utils.RemoveRedisItem[models.Customer](customer.ID)
	return DistributionResult{
		Success:      true,
		Message:      fmt.Sprintf("Distributed %d packages on receipt %s", len(dist.Items), dist.ReceiptNumber),
		Distribution: &dist,
	}, nil
}

type receiptEmailPayload struct {
	DistributionId int    `json:"distribution_id"`
	CustomerId     int    `json:"customer_id"`
	ReceiptNumber  string `json:"receipt_number"`
	ReceiptPath    string `json:"receipt_path"`
	Email          string `json:"email"`
}

func enqueueReceiptEmail(ctx context.Context, dist *models.PackageDistribution, customer *models.Customer) {
	logger := config.GetLogger()
	if customer.Email == "" {
		return
	}

	payload, err := json.Marshal(receiptEmailPayload{
		DistributionId: dist.ID,
		CustomerId:     customer.ID,
		ReceiptNumber:  dist.ReceiptNumber,
		ReceiptPath:    dist.ReceiptPath,
		Email:          customer.Email,
	})
	if err != nil {
		config.LogError(logger, "distributionWorkflow.go", "enqueueReceiptEmail", "Marshal", dist.ID, err)
		return
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	msg := config.PubSubMessage{
		ID:            uuid.NewString(),
		JobType:       config.JobTypeReceiptEmail,
		ReferenceId:   dist.ID,
		ReferenceType: models.ReferenceTypeDistribution,
		OccurredAt:    time.Now(),
		Payload:       payload,
		CorrelationId: correlationId,
	}
	if err := config.PublishJob(msg); err != nil {
		config.LogError(logger, "distributionWorkflow.go", "enqueueReceiptEmail", "PublishJob", dist.ID, err)
	}
}
