package workflow

import (
	"errors"

	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/shopspring/decimal"
)

// SettlementInput holds everything the settlement arithmetic needs. Keeping
// it free of database types lets the rules be tested without a database.
type SettlementInput struct {
	// TotalAmount is the charge for the batch, already rounded to cents.
	TotalAmount decimal.Decimal
	// CreditBalance is the customer's available credit before settlement.
	CreditBalance decimal.Decimal
	// AmountCollected is the cash handed over.
	AmountCollected decimal.Decimal
	// WriteOff forgives any remainder instead of leaving it outstanding.
	WriteOff bool
}

type SettlementResult struct {
	CreditApplied      decimal.Decimal
	CashApplied        decimal.Decimal
	OverpaymentCredit  decimal.Decimal
	OutstandingBalance decimal.Decimal
	WriteOffAmount     decimal.Decimal
	PaymentStatus      models.PaymentStatus
}

// CalculateSettlement applies money to a charge in a fixed order: available
// credit first, then the cash collected. Cash beyond the remaining charge
// becomes overpayment credit. Whatever is still unpaid either stays
// outstanding (Partial) or is written off (Paid).
func CalculateSettlement(input SettlementInput) (SettlementResult, error) {
	var result SettlementResult

	if input.TotalAmount.IsNegative() {
		return result, errors.New("total amount cannot be negative")
	}
	if input.AmountCollected.IsNegative() {
		return result, errors.New("amount collected cannot be negative")
	}
	if input.CreditBalance.IsNegative() {
		return result, errors.New("credit balance cannot be negative")
	}

	total := utils.RoundMoney(input.TotalAmount)
	collected := utils.RoundMoney(input.AmountCollected)
	credit := utils.RoundMoney(input.CreditBalance)

	remaining := total

	result.CreditApplied = decimal.Min(credit, remaining)
	remaining = remaining.Sub(result.CreditApplied)

	result.CashApplied = decimal.Min(collected, remaining)
	result.OverpaymentCredit = collected.Sub(result.CashApplied)
	remaining = remaining.Sub(result.CashApplied)

	if remaining.IsZero() {
		result.PaymentStatus = models.PaymentStatusPaid
		result.OutstandingBalance = decimal.Zero
		result.WriteOffAmount = decimal.Zero
		return result, nil
	}

	if input.WriteOff {
		result.PaymentStatus = models.PaymentStatusPaid
		result.OutstandingBalance = decimal.Zero
		result.WriteOffAmount = remaining
		return result, nil
	}

	result.PaymentStatus = models.PaymentStatusPartial
	result.OutstandingBalance = remaining
	result.WriteOffAmount = decimal.Zero
	return result, nil
}
