package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func money(s string) *decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return &v
}

func TestValidateFees_AllRequired(t *testing.T) {
	fieldErrors := ValidateFees(FeeUpdateInput{})
	for _, field := range []string{"clearance_fee", "storage_fee", "delivery_fee"} {
		if fieldErrors[field] == "" {
			t.Fatalf("expected an error for missing %s", field)
		}
	}
}

func TestValidateFees_RejectsNegative(t *testing.T) {
	fieldErrors := ValidateFees(FeeUpdateInput{
		ClearanceFee: money("-1.00"),
		StorageFee:   money("2.00"),
		DeliveryFee:  money("3.00"),
	})
	if fieldErrors["clearance_fee"] == "" {
		t.Fatal("expected an error for negative clearance fee")
	}
	if len(fieldErrors) != 1 {
		t.Fatalf("expected only one field error, got %v", fieldErrors)
	}
}

func TestValidateFees_ZeroIsValid(t *testing.T) {
	fieldErrors := ValidateFees(FeeUpdateInput{
		ClearanceFee: money("0.00"),
		StorageFee:   money("0.00"),
		DeliveryFee:  money("0.00"),
	})
	if len(fieldErrors) != 0 {
		t.Fatalf("expected no errors for zero fees, got %v", fieldErrors)
	}
}

func TestCalculateBalanceImpact_CreditCoversWholeCharge(t *testing.T) {
	// Freight 25.00 plus new fees 18.00 against 50.00 of credit.
	impact := CalculateBalanceImpact(d("43.00"), d("0.00"), d("50.00"), true)

	if !impact.NewTotalCost.Equal(d("43.00")) {
		t.Fatalf("expected total 43.00, got %s", impact.NewTotalCost)
	}
	if !impact.CreditToApply.Equal(d("43.00")) {
		t.Fatalf("expected credit to apply 43.00, got %s", impact.CreditToApply)
	}
	if !impact.NetCharge.IsZero() {
		t.Fatalf("expected net charge 0.00, got %s", impact.NetCharge)
	}
	if !impact.CustomerCreditAfter.Equal(d("7.00")) {
		t.Fatalf("expected credit after 7.00, got %s", impact.CustomerCreditAfter)
	}
	if !impact.CustomerBalanceAfter.IsZero() {
		t.Fatalf("account balance must not move at fee time, got %s", impact.CustomerBalanceAfter)
	}
}

func TestCalculateBalanceImpact_PartialCredit(t *testing.T) {
	impact := CalculateBalanceImpact(d("100.00"), d("-20.00"), d("30.00"), true)

	if !impact.CreditToApply.Equal(d("30.00")) {
		t.Fatalf("expected credit to apply 30.00, got %s", impact.CreditToApply)
	}
	if !impact.NetCharge.Equal(d("70.00")) {
		t.Fatalf("expected net charge 70.00, got %s", impact.NetCharge)
	}
	if !impact.CustomerCreditAfter.IsZero() {
		t.Fatalf("expected credit exhausted, got %s", impact.CustomerCreditAfter)
	}
	if !impact.CustomerBalanceAfter.Equal(d("-20.00")) {
		t.Fatalf("expected balance unchanged at -20.00, got %s", impact.CustomerBalanceAfter)
	}
}

func TestCalculateBalanceImpact_NoCredit(t *testing.T) {
	impact := CalculateBalanceImpact(d("43.00"), d("0.00"), d("0.00"), true)

	if !impact.CreditToApply.IsZero() {
		t.Fatalf("expected no credit to apply, got %s", impact.CreditToApply)
	}
	if !impact.NetCharge.Equal(d("43.00")) {
		t.Fatalf("expected net charge 43.00, got %s", impact.NetCharge)
	}
}

func TestCalculateBalanceImpact_ApplyCreditOff(t *testing.T) {
	// Plenty of credit available, but the flag is off: nothing may move.
	impact := CalculateBalanceImpact(d("43.00"), d("0.00"), d("50.00"), false)

	if !impact.CreditToApply.IsZero() {
		t.Fatalf("expected no credit to apply with the flag off, got %s", impact.CreditToApply)
	}
	if !impact.NetCharge.Equal(d("43.00")) {
		t.Fatalf("expected net charge 43.00, got %s", impact.NetCharge)
	}
	if !impact.CustomerCreditAfter.Equal(d("50.00")) {
		t.Fatalf("expected credit untouched at 50.00, got %s", impact.CustomerCreditAfter)
	}
	if !impact.CustomerBalanceAfter.IsZero() {
		t.Fatalf("account balance must not move at fee time, got %s", impact.CustomerBalanceAfter)
	}
}
