package models

import (
	"testing"

	"bitbucket.org/mmdatafocus/shipping_backend/utils"
	"github.com/shopspring/decimal"
)

func d(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return &v
}

func TestTotalCost_NilFeesCountAsZero(t *testing.T) {
	pkg := Package{FreightPrice: d(t, "25.00")}
	if got := pkg.TotalCost(); !got.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected 25.00 with only freight set, got %s", got)
	}

	empty := Package{}
	if got := empty.TotalCost(); !got.IsZero() {
		t.Fatalf("expected zero for package with no fees, got %s", got)
	}
}

func TestTotalCost_SumsAllFourFees(t *testing.T) {
	pkg := Package{
		FreightPrice: d(t, "25.00"),
		ClearanceFee: d(t, "10.00"),
		StorageFee:   d(t, "5.50"),
		DeliveryFee:  d(t, "2.50"),
	}
	if got := pkg.TotalCost(); !got.Equal(decimal.RequireFromString("43.00")) {
		t.Fatalf("expected 43.00, got %s", got)
	}
}

func TestTotalCost_RoundsToCents(t *testing.T) {
	pkg := Package{
		FreightPrice: d(t, "10.004"),
		ClearanceFee: d(t, "0.003"),
	}
	if got := utils.FormatMoney(pkg.TotalCost()); got != "10.01" {
		t.Fatalf("expected 10.01 after rounding, got %s", got)
	}
}

func TestFormatMoney_TwoDecimalPlaces(t *testing.T) {
	if got := utils.FormatMoney(decimal.RequireFromString("7")); got != "7.00" {
		t.Fatalf("expected 7.00, got %s", got)
	}
	if got := utils.FormatMoney(decimal.RequireFromString("-13.5")); got != "-13.50" {
		t.Fatalf("expected -13.50, got %s", got)
	}
}
