package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/shipping_backend/config"
	"bitbucket.org/mmdatafocus/shipping_backend/models"
	"bitbucket.org/mmdatafocus/shipping_backend/workflow"
	"github.com/shopspring/decimal"
)

// End-to-end settlement against a real MySQL: fees assessed, distribution
// with overpayment, ledger rows, Delivered statuses and manifest auto close.
func TestDistribution_OverpaymentAndAutoClose(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shipping_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:          "Jane Brown",
		AccountNumber: "AC-1001",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	manifest, err := models.CreateManifest(ctx, &models.NewManifest{
		Name: "Air 2026-08",
		Type: models.ManifestTypeAir,
	})
	if err != nil {
		t.Fatalf("CreateManifest: %v", err)
	}

	freight := decimal.RequireFromString("25.00")
	pkg, err := models.CreatePackage(ctx, &models.NewPackage{
		CustomerId:     customer.ID,
		ManifestId:     manifest.ID,
		TrackingNumber: "TRK100",
		FreightPrice:   &freight,
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}

	clearance := decimal.RequireFromString("10.00")
	storage := decimal.RequireFromString("5.00")
	delivery := decimal.RequireFromString("3.00")
	pkg, err = workflow.UpdatePackageFeesAndSetReady(ctx, pkg.ID, workflow.FeeUpdateInput{
		ClearanceFee: &clearance,
		StorageFee:   &storage,
		DeliveryFee:  &delivery,
	}, 1)
	if err != nil {
		t.Fatalf("UpdatePackageFeesAndSetReady: %v", err)
	}
	if pkg.Status != models.PackageStatusReady {
		t.Fatalf("expected Ready for Pickup, got %s", pkg.Status)
	}

	// Total is 43.00; collect 50.00 so 7.00 becomes overpayment credit.
	result, err := workflow.DistributePackages(ctx, workflow.DistributionInput{
		PackageIds:      []int{pkg.ID},
		AmountCollected: decimal.RequireFromString("50.00"),
	}, 1)
	if err != nil {
		t.Fatalf("DistributePackages: %v", err)
	}
	dist := result.Distribution
	if dist.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", dist.PaymentStatus)
	}
	if !dist.TotalAmount.Equal(decimal.RequireFromString("43.00")) {
		t.Fatalf("expected total 43.00, got %s", dist.TotalAmount)
	}
	if !strings.HasPrefix(dist.ReceiptNumber, "RCP") {
		t.Fatalf("unexpected receipt number %s", dist.ReceiptNumber)
	}

	customer, err = models.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !customer.CreditBalance.Equal(decimal.RequireFromString("7.00")) {
		t.Fatalf("expected credit balance 7.00, got %s", customer.CreditBalance)
	}
	if !customer.AccountBalance.IsZero() {
		t.Fatalf("expected account balance 0.00, got %s", customer.AccountBalance)
	}

	db := config.GetDB()
	ledger, err := models.GetCustomerTransactions(db.WithContext(ctx), customer.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetCustomerTransactions: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("expected 1 ledger row (overpayment credit), got %d", len(ledger))
	}
	if ledger[0].Type != models.TransactionTypeCredit {
		t.Fatalf("expected credit row, got %s", ledger[0].Type)
	}
	if !strings.Contains(ledger[0].Description, "Overpayment credit") {
		t.Fatalf("unexpected ledger description %q", ledger[0].Description)
	}

	pkg, err = models.GetPackage(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if pkg.Status != models.PackageStatusDelivered {
		t.Fatalf("expected Delivered, got %s", pkg.Status)
	}

	// The only package on the manifest is delivered, so it auto closed.
	manifest, err = models.GetManifest(ctx, manifest.ID)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	if manifest.Open() {
		t.Fatal("expected manifest to auto close after delivery")
	}
	trail, err := models.GetManifestAuditTrail(db.WithContext(ctx), manifest.ID)
	if err != nil {
		t.Fatalf("GetManifestAuditTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != models.ManifestAuditActionAutoComplete {
		t.Fatalf("expected one auto_complete audit row, got %+v", trail)
	}
	if trail[0].UserId != nil {
		t.Fatal("auto close must record a system actor (nil user)")
	}

	// A second distribution of the same package must be rejected.
	if _, err := workflow.DistributePackages(ctx, workflow.DistributionInput{
		PackageIds:      []int{pkg.ID},
		AmountCollected: decimal.Zero,
	}, 1); err == nil {
		t.Fatal("expected second distribution of a delivered package to fail")
	}
}

// Underpayment leaves the shortfall on the distribution row only: payment
// status partial, outstanding balance recorded, customer balances untouched
// and no ledger rows written for it.
func TestDistribution_UnderpaymentLeavesBalancesUntouched(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "shipping_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	customer, err := models.CreateCustomer(ctx, &models.NewCustomer{
		Name:          "Sam Rivers",
		AccountNumber: "AC-2001",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	manifest, err := models.CreateManifest(ctx, &models.NewManifest{
		Name: "Sea 2026-08",
		Type: models.ManifestTypeSea,
	})
	if err != nil {
		t.Fatalf("CreateManifest: %v", err)
	}

	freight := decimal.RequireFromString("25.00")
	pkg, err := models.CreatePackage(ctx, &models.NewPackage{
		CustomerId:     customer.ID,
		ManifestId:     manifest.ID,
		TrackingNumber: "TRK200",
		FreightPrice:   &freight,
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}

	clearance := decimal.RequireFromString("10.00")
	storage := decimal.RequireFromString("5.00")
	delivery := decimal.RequireFromString("3.00")
	if _, err := workflow.UpdatePackageFeesAndSetReady(ctx, pkg.ID, workflow.FeeUpdateInput{
		ClearanceFee: &clearance,
		StorageFee:   &storage,
		DeliveryFee:  &delivery,
	}, 1); err != nil {
		t.Fatalf("UpdatePackageFeesAndSetReady: %v", err)
	}

	// Total is 43.00; collect 30.00 so 13.00 remains outstanding.
	result, err := workflow.DistributePackages(ctx, workflow.DistributionInput{
		PackageIds:      []int{pkg.ID},
		AmountCollected: decimal.RequireFromString("30.00"),
	}, 1)
	if err != nil {
		t.Fatalf("DistributePackages: %v", err)
	}
	dist := result.Distribution
	if dist.PaymentStatus != models.PaymentStatusPartial {
		t.Fatalf("expected Partial, got %s", dist.PaymentStatus)
	}
	if !dist.OutstandingBalance.Equal(decimal.RequireFromString("13.00")) {
		t.Fatalf("expected outstanding 13.00, got %s", dist.OutstandingBalance)
	}
	if !dist.CashApplied.Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("expected cash applied 30.00, got %s", dist.CashApplied)
	}

	customer, err = models.GetCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if !customer.AccountBalance.IsZero() {
		t.Fatalf("underpayment must not touch the account balance, got %s", customer.AccountBalance)
	}
	if !customer.CreditBalance.IsZero() {
		t.Fatalf("underpayment must not touch the credit balance, got %s", customer.CreditBalance)
	}

	db := config.GetDB()
	ledger, err := models.GetCustomerTransactions(db.WithContext(ctx), customer.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetCustomerTransactions: %v", err)
	}
	if len(ledger) != 0 {
		t.Fatalf("expected no ledger rows for an underpaid shortfall, got %d: %+v", len(ledger), ledger)
	}

	pkg, err = models.GetPackage(ctx, pkg.ID)
	if err != nil {
		t.Fatalf("GetPackage: %v", err)
	}
	if pkg.Status != models.PackageStatusDelivered {
		t.Fatalf("expected Delivered, got %s", pkg.Status)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shipping-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("shipping-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=shipping_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
