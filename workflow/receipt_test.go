package workflow

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/models"
)

func TestNewReceiptNumber_Format(t *testing.T) {
	now := time.Date(2026, 8, 31, 14, 30, 5, 123_000_000, time.UTC)
	got := NewReceiptNumber(now)
	if got != "RCP20260831143005123" {
		t.Fatalf("unexpected receipt number %s", got)
	}
	if !regexp.MustCompile(`^RCP\d{17}$`).MatchString(got) {
		t.Fatalf("receipt number %s does not match RCP + 17 digits", got)
	}
}

func TestRenderReceipt_ContainsSettlementLines(t *testing.T) {
	dist := models.PackageDistribution{
		ReceiptNumber:      "RCP20260831143005123",
		TotalAmount:        d("43.00"),
		AmountCollected:    d("30.00"),
		CreditApplied:      d("0.00"),
		OutstandingBalance: d("13.00"),
		PaymentStatus:      models.PaymentStatusPartial,
		DistributedAt:      time.Date(2026, 8, 31, 14, 30, 0, 0, time.UTC),
		Items: []models.PackageDistributionItem{
			{TrackingNumber: "TRK100", LineTotal: d("43.00")},
		},
	}
	customer := models.Customer{Name: "Jane Brown", AccountNumber: "AC-1001"}

	receipt := RenderReceipt(&dist, &customer)
	for _, want := range []string{
		"RECEIPT RCP20260831143005123",
		"Jane Brown (AC-1001)",
		"TRK100",
		"43.00",
		"Outstanding",
		"13.00",
		"Status: Partial",
	} {
		if !strings.Contains(receipt, want) {
			t.Fatalf("receipt missing %q:\n%s", want, receipt)
		}
	}
	if strings.Contains(receipt, "Written off") {
		t.Fatal("receipt must not show a write-off line when nothing was written off")
	}
}
