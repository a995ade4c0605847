package workflow

import (
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/utils"
)

func TestValidateUnlockReason_Required(t *testing.T) {
	for _, reason := range []string{"", "   ", "\t\n"} {
		if err := ValidateUnlockReason(reason); err == nil {
			t.Fatalf("expected error for blank reason %q", reason)
		}
	}
}

func TestValidateUnlockReason_LengthBoundaries(t *testing.T) {
	if err := ValidateUnlockReason("too short"); err == nil {
		t.Fatal("expected error for 9 character reason")
	}
	if err := ValidateUnlockReason("exactly 10"); err != nil {
		t.Fatalf("10 characters should pass, got %v", err)
	}
	// Surrounding whitespace must not count toward the minimum.
	if err := ValidateUnlockReason("   too short   "); err == nil {
		t.Fatal("expected padding not to satisfy the minimum length")
	}
	if err := ValidateUnlockReason(strings.Repeat("x", 500)); err != nil {
		t.Fatalf("500 characters should pass, got %v", err)
	}
	if err := ValidateUnlockReason(strings.Repeat("x", 501)); err == nil {
		t.Fatal("expected error for 501 character reason")
	}
}

func TestValidateUnlockReason_CountsCharactersNotBytes(t *testing.T) {
	// Six accented characters are twelve bytes but still too short.
	if err := ValidateUnlockReason(strings.Repeat("é", 6)); err == nil {
		t.Fatal("expected error for 6 character reason regardless of byte length")
	}
	if err := ValidateUnlockReason(strings.Repeat("é", 10)); err != nil {
		t.Fatalf("10 accented characters should pass, got %v", err)
	}
	// 400 characters encode past 500 bytes but stay under the cap.
	if err := ValidateUnlockReason(strings.Repeat("é", 400)); err != nil {
		t.Fatalf("400 accented characters should pass, got %v", err)
	}
	if err := ValidateUnlockReason(strings.Repeat("é", 501)); err == nil {
		t.Fatal("expected error for 501 accented character reason")
	}
}

func TestCanEditManifest_Matrix(t *testing.T) {
	cases := []struct {
		role   models.UserRole
		isOpen bool
		want   bool
	}{
		{models.UserRoleAdmin, true, true},
		{models.UserRoleSuperAdmin, true, true},
		{models.UserRoleCustomer, true, false},
		{models.UserRoleAdmin, false, false},
		{models.UserRoleSuperAdmin, false, false},
		{models.UserRoleCustomer, false, false},
	}
	for _, c := range cases {
		if got := CanEditManifest(c.role, c.isOpen); got != c.want {
			t.Fatalf("CanEditManifest(%s, open=%v) = %v, want %v", c.role, c.isOpen, got, c.want)
		}
	}
}

func TestIsEligibleForAutoClosure(t *testing.T) {
	open := models.Manifest{ID: 1, IsOpen: utils.NewTrue()}
	closed := models.Manifest{ID: 2, IsOpen: utils.NewFalse()}

	if IsEligibleForAutoClosure(nil, 3, 3) {
		t.Fatal("nil manifest must never be eligible")
	}
	if IsEligibleForAutoClosure(&closed, 3, 3) {
		t.Fatal("closed manifest must never be eligible")
	}
	if IsEligibleForAutoClosure(&open, 0, 0) {
		t.Fatal("empty manifest must never be eligible")
	}
	if IsEligibleForAutoClosure(&open, 3, 2) {
		t.Fatal("manifest with undelivered packages must not be eligible")
	}
	if !IsEligibleForAutoClosure(&open, 3, 3) {
		t.Fatal("open manifest with all packages delivered should be eligible")
	}
	if !IsEligibleForAutoClosure(&open, 1, 1) {
		t.Fatal("single delivered package should be enough")
	}
}

func TestIsEligibleForAutoClosure_NilIsOpen(t *testing.T) {
	// A manifest loaded without its IsOpen column must read as closed.
	m := models.Manifest{ID: 3}
	if IsEligibleForAutoClosure(&m, 2, 2) {
		t.Fatal("manifest with nil IsOpen must not be eligible")
	}
}
