package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/shipping_backend/models"
)

func TestManualStatusCases_ExcludeDelivered(t *testing.T) {
	for _, s := range models.PackageStatusManualCases() {
		if s == models.PackageStatusDelivered {
			t.Fatal("Delivered must not be offered as a manual status")
		}
	}
	if len(models.PackageStatusManualCases()) != len(models.PackageStatusCases())-1 {
		t.Fatal("manual cases should be every status except Delivered")
	}
}

func TestNextStatus_NeverSuggestsDelivered(t *testing.T) {
	for _, s := range models.PackageStatusCases() {
		next, ok := s.NextStatus()
		if ok && next == models.PackageStatusDelivered {
			t.Fatalf("NextStatus from %s suggested Delivered", s)
		}
	}
}

func TestNextStatus_Progression(t *testing.T) {
	cases := []struct {
		from models.PackageStatus
		want models.PackageStatus
		ok   bool
	}{
		{models.PackageStatusPending, models.PackageStatusProcessing, true},
		{models.PackageStatusProcessing, models.PackageStatusShipped, true},
		{models.PackageStatusShipped, models.PackageStatusCustoms, true},
		{models.PackageStatusCustoms, models.PackageStatusReady, true},
		{models.PackageStatusDelayed, models.PackageStatusProcessing, true},
		{models.PackageStatusReady, "", false},
		{models.PackageStatusDelivered, "", false},
	}
	for _, c := range cases {
		got, ok := c.from.NextStatus()
		if ok != c.ok {
			t.Fatalf("NextStatus(%s): ok = %v, want %v", c.from, ok, c.ok)
		}
		if ok && got != c.want {
			t.Fatalf("NextStatus(%s) = %s, want %s", c.from, got, c.want)
		}
	}
}

func TestParsePackageStatus(t *testing.T) {
	if _, err := models.ParsePackageStatus("Ready for Pickup"); err != nil {
		t.Fatalf("expected Ready for Pickup to parse, got %v", err)
	}
	if _, err := models.ParsePackageStatus("ready for pickup"); err == nil {
		t.Fatal("status parsing is case sensitive; lowercase must be rejected")
	}
	if _, err := models.ParsePackageStatus("Lost"); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
}
