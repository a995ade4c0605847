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

// Customer is an account holder who receives packages.
//
// AccountBalance is the running balance from distinct transactions; it may go
// negative (amount owed). CreditBalance is prepaid/overpayment money held for
// the customer and is never negative. Both fields are mutated only through
// RecordCustomerTransaction so every movement has a ledger row.
type Customer struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Email          string          `gorm:"size:100;index" json:"email"`
	Phone          string          `gorm:"size:20" json:"phone"`
	AccountNumber  string          `gorm:"size:20;uniqueIndex;not null" json:"account_number" binding:"required"`
	AccountBalance decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"account_balance"`
	CreditBalance  decimal.Decimal `gorm:"type:decimal(20,2);default:0" json:"credit_balance"`
	IsActive       *bool           `gorm:"not null;default:true" json:"is_active"`
	DeletedAt      *time.Time      `gorm:"index" json:"deleted_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCustomer struct {
	Name          string `json:"name" binding:"required"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	AccountNumber string `json:"account_number" binding:"required"`
}

func (input *NewCustomer) validate(ctx context.Context, id int) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
	}

	// unique account number
	db := config.GetDB()
	var count int64
	q := db.WithContext(ctx).Model(&Customer{}).Where("account_number = ?", input.AccountNumber)
	if id > 0 {
		q = q.Where("id != ?", id)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("account number already in use")
	}
	return nil
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	customer := Customer{
		Name:           input.Name,
		Email:          input.Email,
		Phone:          input.Phone,
		AccountNumber:  input.AccountNumber,
		AccountBalance: decimal.Zero,
		CreditBalance:  decimal.Zero,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func UpdateCustomer(ctx context.Context, id int, input *NewCustomer) (*Customer, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	customer, err := GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(customer).
		Updates(map[string]interface{}{
			"Name":          input.Name,
			"Email":         input.Email,
			"Phone":         input.Phone,
			"AccountNumber": input.AccountNumber,
		}).Error; err != nil {
		return nil, err
	}
	_ = utils.RemoveRedisItem[Customer](id)
	return customer, nil
}

// GetCustomer loads one non-deleted customer, redis first, then db.
func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	cached, err := utils.RetrieveRedis[Customer](id)
	if err == nil && cached != nil && cached.DeletedAt == nil {
		return cached, nil
	}

	db := config.GetDB()
	var customer Customer
	if err := db.WithContext(ctx).Where("deleted_at IS NULL").First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	_ = utils.StoreRedis[Customer](&customer, id)
	return &customer, nil
}

// GetCustomerForUpdate loads a customer inside tx with a row lock, bypassing
// the cache. Settlement must always read balances from the database.
func GetCustomerForUpdate(tx *gorm.DB, id int) (*Customer, error) {
	var customer Customer
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("deleted_at IS NULL").First(&customer, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &customer, nil
}
