package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the settlement
// arithmetic on its own: credit applies before cash, overpayment becomes
// credit, and the remainder either stays outstanding or is written off.

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestSettlement_ExactPayment(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("43.00"),
		CreditBalance:   d("0.00"),
		AmountCollected: d("43.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", result.PaymentStatus)
	}
	if !result.CreditApplied.IsZero() {
		t.Fatalf("expected no credit applied, got %s", result.CreditApplied)
	}
	if !result.CashApplied.Equal(d("43.00")) {
		t.Fatalf("expected cash applied 43.00, got %s", result.CashApplied)
	}
	if !result.OverpaymentCredit.IsZero() || !result.OutstandingBalance.IsZero() {
		t.Fatalf("expected no overpayment and no outstanding, got %s / %s", result.OverpaymentCredit, result.OutstandingBalance)
	}
}

func TestSettlement_OverpaymentBecomesCredit(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("43.00"),
		CreditBalance:   d("0.00"),
		AmountCollected: d("50.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", result.PaymentStatus)
	}
	if !result.OverpaymentCredit.Equal(d("7.00")) {
		t.Fatalf("expected overpayment credit 7.00, got %s", result.OverpaymentCredit)
	}
	if !result.CashApplied.Equal(d("43.00")) {
		t.Fatalf("expected cash applied 43.00, got %s", result.CashApplied)
	}
}

func TestSettlement_OverpaymentStacksOnExistingCredit(t *testing.T) {
	// Existing credit covers the whole charge, so the cash collected is
	// pure overpayment. The caller adds it to the 5.00 already held,
	// ending at 12.00; the account balance is untouched.
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("43.00"),
		CreditBalance:   d("5.00"),
		AmountCollected: d("50.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.CreditApplied.Equal(d("5.00")) {
		t.Fatalf("expected credit applied 5.00, got %s", result.CreditApplied)
	}
	if !result.CashApplied.Equal(d("38.00")) {
		t.Fatalf("expected cash applied 38.00, got %s", result.CashApplied)
	}
	if !result.OverpaymentCredit.Equal(d("12.00")) {
		t.Fatalf("expected overpayment credit 12.00, got %s", result.OverpaymentCredit)
	}
	if result.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", result.PaymentStatus)
	}
}

func TestSettlement_UnderpaymentLeavesOutstanding(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("43.00"),
		CreditBalance:   d("0.00"),
		AmountCollected: d("30.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentStatus != models.PaymentStatusPartial {
		t.Fatalf("expected Partial, got %s", result.PaymentStatus)
	}
	if !result.OutstandingBalance.Equal(d("13.00")) {
		t.Fatalf("expected outstanding 13.00, got %s", result.OutstandingBalance)
	}
	if !result.WriteOffAmount.IsZero() {
		t.Fatalf("expected no write-off, got %s", result.WriteOffAmount)
	}
}

func TestSettlement_WriteOffForgivesRemainder(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("43.00"),
		CreditBalance:   d("0.00"),
		AmountCollected: d("30.00"),
		WriteOff:        true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid after write-off, got %s", result.PaymentStatus)
	}
	if !result.WriteOffAmount.Equal(d("13.00")) {
		t.Fatalf("expected write-off 13.00, got %s", result.WriteOffAmount)
	}
	if !result.OutstandingBalance.IsZero() {
		t.Fatalf("expected no outstanding, got %s", result.OutstandingBalance)
	}
}

func TestSettlement_CreditAppliesBeforeCash(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("100.00"),
		CreditBalance:   d("60.00"),
		AmountCollected: d("20.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.CreditApplied.Equal(d("60.00")) {
		t.Fatalf("expected credit applied 60.00, got %s", result.CreditApplied)
	}
	if !result.CashApplied.Equal(d("20.00")) {
		t.Fatalf("expected cash applied 20.00, got %s", result.CashApplied)
	}
	if !result.OutstandingBalance.Equal(d("20.00")) {
		t.Fatalf("expected outstanding 20.00, got %s", result.OutstandingBalance)
	}
	if result.PaymentStatus != models.PaymentStatusPartial {
		t.Fatalf("expected Partial, got %s", result.PaymentStatus)
	}
}

func TestSettlement_ZeroChargeIsPaid(t *testing.T) {
	result, err := CalculateSettlement(SettlementInput{
		TotalAmount:     d("0.00"),
		CreditBalance:   d("10.00"),
		AmountCollected: d("0.00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", result.PaymentStatus)
	}
	if !result.CreditApplied.IsZero() {
		t.Fatalf("expected no credit touched, got %s", result.CreditApplied)
	}
}

func TestSettlement_RejectsNegativeInputs(t *testing.T) {
	if _, err := CalculateSettlement(SettlementInput{TotalAmount: d("-1.00")}); err == nil {
		t.Fatal("expected error for negative total")
	}
	if _, err := CalculateSettlement(SettlementInput{AmountCollected: d("-0.01")}); err == nil {
		t.Fatal("expected error for negative collected amount")
	}
}
