package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/shopspring/decimal"
)

// PackageDistribution is one settlement event: a batch of packages handed
// over to a single customer together with the money that changed hands.
// The row and its items are written once and never edited afterwards.
type PackageDistribution struct {
	ID                 int                       `gorm:"primary_key" json:"id"`
	CustomerId         int                       `gorm:"not null;index" json:"customer_id"`
	Customer           *Customer                 `json:"customer,omitempty"`
	TotalAmount        decimal.Decimal           `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	AmountCollected    decimal.Decimal           `gorm:"type:decimal(20,2);not null" json:"amount_collected"`
	CreditApplied      decimal.Decimal           `gorm:"type:decimal(20,2);not null;default:0" json:"credit_applied"`
	CashApplied        decimal.Decimal           `gorm:"type:decimal(20,2);not null;default:0" json:"cash_applied"`
	WriteOffAmount     decimal.Decimal           `gorm:"type:decimal(20,2);not null;default:0" json:"write_off_amount"`
	OutstandingBalance decimal.Decimal           `gorm:"type:decimal(20,2);not null;default:0" json:"outstanding_balance"`
	PaymentStatus      PaymentStatus             `gorm:"size:20;not null" json:"payment_status"`
	ReceiptNumber      string                    `gorm:"size:30;uniqueIndex;not null" json:"receipt_number"`
	ReceiptPath        string                    `gorm:"size:255" json:"receipt_path"`
	EmailSent          *bool                     `gorm:"not null;default:false" json:"email_sent"`
	EmailSentAt        *time.Time                `json:"email_sent_at"`
	DistributedById    *int                      `json:"distributed_by_id"`
	DistributedAt      time.Time                 `gorm:"not null" json:"distributed_at"`
	Items              []PackageDistributionItem `json:"items,omitempty"`
	CreatedAt          time.Time                 `gorm:"autoCreateTime" json:"created_at"`
}

// PackageDistributionItem snapshots one package's fees at settlement time so
// later fee edits can never change what a receipt said.
type PackageDistributionItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	DistributionId int             `gorm:"not null;index" json:"distribution_id"`
	PackageId      int             `gorm:"not null;index" json:"package_id"`
	TrackingNumber string          `gorm:"size:50;not null" json:"tracking_number"`
	FreightPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"freight_price"`
	ClearanceFee   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"clearance_fee"`
	StorageFee     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"storage_fee"`
	DeliveryFee    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"delivery_fee"`
	LineTotal      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"line_total"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// NewDistributionItem builds a snapshot row from the package's current fees.
func NewDistributionItem(pkg *Package) PackageDistributionItem {
	return PackageDistributionItem{
		PackageId:      pkg.ID,
		TrackingNumber: pkg.TrackingNumber,
		FreightPrice:   utils.DerefMoney(pkg.FreightPrice),
		ClearanceFee:   utils.DerefMoney(pkg.ClearanceFee),
		StorageFee:     utils.DerefMoney(pkg.StorageFee),
		DeliveryFee:    utils.DerefMoney(pkg.DeliveryFee),
		LineTotal:      pkg.TotalCost(),
	}
}

func GetDistribution(ctx context.Context, id int) (*PackageDistribution, error) {
	db := config.GetDB()
	var dist PackageDistribution
	err := db.WithContext(ctx).
		Preload("Customer").Preload("Items").
		First(&dist, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &dist, nil
}

func GetDistributionByReceiptNumber(ctx context.Context, receiptNumber string) (*PackageDistribution, error) {
	db := config.GetDB()
	var dist PackageDistribution
	err := db.WithContext(ctx).
		Preload("Customer").Preload("Items").
		Where("receipt_number = ?", receiptNumber).
		First(&dist).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &dist, nil
}

// SearchDistributions lists settlements for a customer or date range.
func SearchDistributions(ctx context.Context, customerId int, from, to *time.Time, limit, offset int) ([]PackageDistribution, int64, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Model(&PackageDistribution{})
	if customerId > 0 {
		q = q.Where("customer_id = ?", customerId)
	}
	if from != nil {
		q = q.Where("distributed_at >= ?", *from)
	}
	if to != nil {
		q = q.Where("distributed_at < ?", *to)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}

	var rows []PackageDistribution
	err := q.Preload("Customer").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, total, err
}

// MarkReceiptEmailSent flips the email flag after the receipt mail job
// succeeds. Safe to call more than once.
func MarkReceiptEmailSent(ctx context.Context, distributionId int) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&PackageDistribution{}).
		Where("id = ?", distributionId).
		Updates(map[string]interface{}{
			"EmailSent":   utils.NewTrue(),
			"EmailSentAt": &now,
		}).Error
}
