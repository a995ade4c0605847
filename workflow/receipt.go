package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
)

// RenderReceipt produces the plain text receipt for a settled distribution.
func RenderReceipt(dist *models.PackageDistribution, customer *models.Customer) string {
	var b strings.Builder

	fmt.Fprintf(&b, "RECEIPT %s\n", dist.ReceiptNumber)
	fmt.Fprintf(&b, "Date: %s\n", dist.DistributedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Customer: %s (%s)\n", customer.Name, customer.AccountNumber)
	b.WriteString(strings.Repeat("-", 48) + "\n")

	for _, item := range dist.Items {
		fmt.Fprintf(&b, "%-20s %27s\n", item.TrackingNumber, utils.FormatMoney(item.LineTotal))
	}

	b.WriteString(strings.Repeat("-", 48) + "\n")
	fmt.Fprintf(&b, "%-20s %27s\n", "Total", utils.FormatMoney(dist.TotalAmount))
	fmt.Fprintf(&b, "%-20s %27s\n", "Credit applied", utils.FormatMoney(dist.CreditApplied))
	fmt.Fprintf(&b, "%-20s %27s\n", "Collected", utils.FormatMoney(dist.AmountCollected))
	if dist.WriteOffAmount.IsPositive() {
		fmt.Fprintf(&b, "%-20s %27s\n", "Written off", utils.FormatMoney(dist.WriteOffAmount))
	}
	if dist.OutstandingBalance.IsPositive() {
		fmt.Fprintf(&b, "%-20s %27s\n", "Outstanding", utils.FormatMoney(dist.OutstandingBalance))
	}
	fmt.Fprintf(&b, "Status: %s\n", dist.PaymentStatus)
	return b.String()
}

// StoreReceipt renders and uploads the receipt, then records its object key
// on the distribution. Called after the settlement commits; failures are
// logged, not returned, since the settlement itself already stands.
func StoreReceipt(ctx context.Context, dist *models.PackageDistribution, customer *models.Customer) {
	logger := config.GetLogger()

	objectKey := fmt.Sprintf("receipts/%s.txt", dist.ReceiptNumber)
	content := RenderReceipt(dist, customer)
	if _, err := utils.UploadReceiptToGCS(ctx, objectKey, []byte(content), "text/plain; charset=utf-8"); err != nil {
		config.LogError(logger, "receipt.go", "StoreReceipt", "UploadReceiptToGCS", dist.ID, err)
		return
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Model(&models.PackageDistribution{}).
		Where("id = ?", dist.ID).
		Update("ReceiptPath", objectKey).Error
	if err != nil {
		config.LogError(logger, "receipt.go", "StoreReceipt", "UpdateReceiptPath", dist.ID, err)
		return
	}
	dist.ReceiptPath = objectKey
}
