package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerTransaction is one append-only ledger row. Rows are never updated
// or deleted; corrections are new rows. BalanceBefore/BalanceAfter snapshot
// the affected balance so the ledger can be audited without replaying it.
type CustomerTransaction struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CustomerId    int             `gorm:"not null;index" json:"customer_id"`
	Type          TransactionType `gorm:"size:20;not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Description   string          `gorm:"size:255" json:"description"`
	ReferenceId   *int            `gorm:"index:idx_customer_transactions_reference" json:"reference_id"`
	ReferenceType string          `gorm:"size:50;index:idx_customer_transactions_reference" json:"reference_type"`
	CreatedById   *int            `json:"created_by_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

const (
	ReferenceTypeDistribution = "distribution"
	ReferenceTypePackage      = "package"
)

// RecordCustomerTransaction writes one ledger row and applies its effect to
// the customer's balances in the same transaction. The customer row must have
// been loaded with GetCustomerForUpdate so the before/after snapshot is
// consistent under concurrent settlements.
//
// Balance effects by type:
//
//	charge    account balance decreases by amount
//	payment   account balance increases by amount
//	debit     credit balance decreases by amount
//	credit    credit balance increases by amount
//	write_off no balance movement, audit row only
func RecordCustomerTransaction(tx *gorm.DB, customer *Customer, txnType TransactionType, amount decimal.Decimal, description string, referenceId *int, referenceType string, createdById *int) (*CustomerTransaction, error) {
	if amount.IsNegative() {
		return nil, errors.New("transaction amount cannot be negative")
	}

	var before, after decimal.Decimal
	switch txnType {
	case TransactionTypeCharge:
		before = customer.AccountBalance
		after = before.Sub(amount)
		customer.AccountBalance = after
	case TransactionTypePayment:
		before = customer.AccountBalance
		after = before.Add(amount)
		customer.AccountBalance = after
	case TransactionTypeDebit:
		before = customer.CreditBalance
		after = before.Sub(amount)
		if after.IsNegative() {
			return nil, errors.New("credit balance cannot go negative")
		}
		customer.CreditBalance = after
	case TransactionTypeCredit:
		before = customer.CreditBalance
		after = before.Add(amount)
		customer.CreditBalance = after
	case TransactionTypeWriteOff:
		before = customer.AccountBalance
		after = before
	default:
		return nil, errors.New("unknown transaction type")
	}

	row := CustomerTransaction{
		CustomerId:    customer.ID,
		Type:          txnType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		CreatedById:   createdById,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&Customer{}).Where("id = ?", customer.ID).
		Updates(map[string]interface{}{
			"AccountBalance": customer.AccountBalance,
			"CreditBalance":  customer.CreditBalance,
		}).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// GetCustomerTransactions lists ledger rows newest first.
func GetCustomerTransactions(tx *gorm.DB, customerId int, limit int, offset int) ([]CustomerTransaction, error) {
	var rows []CustomerTransaction
	err := tx.Where("customer_id = ?", customerId).
		Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, err
}
