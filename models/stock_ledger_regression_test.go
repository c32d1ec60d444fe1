package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/fieldfocus/fieldops_backend/config"
	"github.com/fieldfocus/fieldops_backend/models"
	"github.com/fieldfocus/fieldops_backend/utils"
	"github.com/fieldfocus/fieldops_backend/workflow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestStockLedgerAndReconciliation(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := setupIntegrationEnv(t)
	logger := logrus.New()
	actor := models.Actor{Id: 1, Name: "Test Tech"}

	item, err := models.CreateItem(ctx, &models.NewItem{Sku: "CBL-CAT6", Name: "Cat6 Cable", Unit: "m"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	warehouse, err := models.CreateLocation(ctx, &models.NewLocation{Name: "Main Warehouse", Type: "warehouse"})
	if err != nil {
		t.Fatalf("CreateLocation(warehouse): %v", err)
	}
	van, err := models.CreateLocation(ctx, &models.NewLocation{Name: "Van 12", Type: "vehicle", VehicleId: utils.IntPtr(12)})
	if err != nil {
		t.Fatalf("CreateLocation(van): %v", err)
	}
	supplierBucket, err := models.CreateLocation(ctx, &models.NewLocation{Name: "Supplier Returns", Type: "supplier"})
	if err != nil {
		t.Fatalf("CreateLocation(supplier): %v", err)
	}

	// 1) Receipt of 25 into the warehouse.
	if _, err := workflow.RecordReceipt(ctx, logger, actor, &workflow.ReceiptInput{
		ItemId:     item.ID,
		LocationId: warehouse.ID,
		Qty:        decimal.NewFromInt(25),
	}); err != nil {
		t.Fatalf("RecordReceipt: %v", err)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 25)

	// 2) Transfer 10 to the van: source down, destination up, one movement.
	if _, err := workflow.RecordTransfer(ctx, logger, actor, &workflow.TransferInput{
		ItemId:         item.ID,
		FromLocationId: warehouse.ID,
		ToLocationId:   van.ID,
		Qty:            decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("RecordTransfer: %v", err)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 15)
	assertQty(t, ctx, item.ID, van.ID, 10)

	// 3) Transfer beyond the source balance is rejected, nothing written.
	_, err = workflow.RecordTransfer(ctx, logger, actor, &workflow.TransferInput{
		ItemId:         item.ID,
		FromLocationId: warehouse.ID,
		ToLocationId:   van.ID,
		Qty:            decimal.NewFromInt(100),
	})
	var shortErr *models.InsufficientStock
	if !errors.As(err, &shortErr) {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}
	if shortErr.Available.Cmp(decimal.NewFromInt(15)) != 0 || shortErr.Requested.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("shortfall payload wrong: %+v", shortErr)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 15)
	assertQty(t, ctx, item.ID, van.ID, 10)

	// 4) Negative adjustment needs a reason and decrements.
	if _, err := workflow.RecordAdjustment(ctx, logger, actor, &workflow.AdjustmentInput{
		ItemId:     item.ID,
		LocationId: warehouse.ID,
		Delta:      decimal.NewFromInt(-5),
		Source:     "adjustment",
		Reason:     "damaged in storage",
	}); err != nil {
		t.Fatalf("RecordAdjustment: %v", err)
	}
	assertQty(t, ctx, item.ID, warehouse.ID, 10)

	_, err = workflow.RecordAdjustment(ctx, logger, actor, &workflow.AdjustmentInput{
		ItemId:     item.ID,
		LocationId: warehouse.ID,
		Delta:      decimal.NewFromInt(-1),
		Source:     "adjustment",
	})
	var valErr *models.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "reason" {
		t.Fatalf("expected missing-reason validation error, got %v", err)
	}

	// 5) Non-physical buckets never take receipts and never count on-hand.
	_, err = workflow.RecordReceipt(ctx, logger, actor, &workflow.ReceiptInput{
		ItemId:     item.ID,
		LocationId: supplierBucket.ID,
		Qty:        decimal.NewFromInt(3),
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("expected validation error for supplier bucket receipt, got %v", err)
	}
	onHand, err := models.OnHand(ctx, item.ID)
	if err != nil {
		t.Fatalf("OnHand: %v", err)
	}
	if onHand.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected on-hand 20 (warehouse 10 + van 10), got %s", onHand)
	}

	// 6) History is newest-first and movements are immutable.
	history, err := models.MovementHistory(ctx, item.ID, nil, 10)
	if err != nil {
		t.Fatalf("MovementHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(history))
	}
	if history[0].Source != models.MovementSourceAdjustment {
		t.Fatalf("expected the adjustment first (newest), got %s", history[0].Source)
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&models.Movement{}).
		Where("id = ?", history[0].ID).
		Update("notes", "edited").Error; err == nil {
		t.Fatalf("expected movement update to be rejected")
	}

	// 7) Inbound derives from open purchase order lines only.
	po := models.PurchaseOrder{
		BusinessId:   history[0].BusinessId,
		SupplierName: "Acme Supply",
		Status:       models.PurchaseOrderStatusOpen,
		OrderDate:    time.Now().UTC(),
		Details: []models.PurchaseOrderLine{
			{BusinessId: history[0].BusinessId, ItemId: item.ID, OrderedQty: decimal.NewFromInt(20)},
		},
	}
	if err := db.WithContext(ctx).Create(&po).Error; err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	inbound, err := models.InboundQty(ctx, item.ID)
	if err != nil {
		t.Fatalf("InboundQty: %v", err)
	}
	if inbound.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("expected inbound 20, got %s", inbound)
	}
	if _, err := workflow.RecordReceipt(ctx, logger, actor, &workflow.ReceiptInput{
		ItemId:              item.ID,
		LocationId:          warehouse.ID,
		Qty:                 decimal.NewFromInt(5),
		PurchaseOrderId:     &po.ID,
		PurchaseOrderLineId: &po.Details[0].ID,
	}); err != nil {
		t.Fatalf("RecordReceipt(PO): %v", err)
	}
	inbound, err = models.InboundQty(ctx, item.ID)
	if err != nil {
		t.Fatalf("InboundQty after receipt: %v", err)
	}
	if inbound.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("expected inbound 15 after receiving 5, got %s", inbound)
	}

	// 8) Reconciliation: clean now, and reports (without correcting) after
	// the stored balance is tampered with directly.
	mismatches, err := workflow.ReconcileQuantities(ctx, logger)
	if err != nil {
		t.Fatalf("ReconcileQuantities: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("expected clean reconciliation, got %d mismatches", len(mismatches))
	}

	if err := db.Exec("UPDATE quantities SET qty = qty + 7 WHERE business_id = ? AND item_id = ? AND location_id = ?",
		history[0].BusinessId, item.ID, warehouse.ID).Error; err != nil {
		t.Fatalf("tamper stored qty: %v", err)
	}
	mismatches, err = workflow.ReconcileQuantities(ctx, logger)
	if err != nil {
		t.Fatalf("ReconcileQuantities after tamper: %v", err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %d", len(mismatches))
	}
	m := mismatches[0]
	if m.ItemId != item.ID || m.LocationId != warehouse.ID {
		t.Fatalf("mismatch at wrong key: %+v", m)
	}
	if m.Stored.Cmp(decimal.NewFromInt(22)) != 0 || m.Recomputed.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("expected stored=22 recomputed=15, got stored=%s recomputed=%s", m.Stored, m.Recomputed)
	}
	// Reporting must not have corrected the stored value.
	assertQty(t, ctx, item.ID, warehouse.ID, 22)

	// Stock at a deactivated location is still checked: tamper the van
	// balance, switch the van off, and both rows must be reported.
	if err := db.Exec("UPDATE quantities SET qty = qty - 2 WHERE business_id = ? AND item_id = ? AND location_id = ?",
		history[0].BusinessId, item.ID, van.ID).Error; err != nil {
		t.Fatalf("tamper van qty: %v", err)
	}
	if _, err := models.ToggleActiveLocation(ctx, van.ID, false); err != nil {
		t.Fatalf("ToggleActiveLocation(van): %v", err)
	}
	mismatches, err = workflow.ReconcileQuantities(ctx, logger)
	if err != nil {
		t.Fatalf("ReconcileQuantities with inactive location: %v", err)
	}
	if len(mismatches) != 2 {
		t.Fatalf("expected 2 mismatches including inactive location, got %d", len(mismatches))
	}
	foundVan := false
	for _, mm := range mismatches {
		if mm.LocationId == van.ID {
			foundVan = true
			if mm.Stored.Cmp(decimal.NewFromInt(8)) != 0 || mm.Recomputed.Cmp(decimal.NewFromInt(10)) != 0 {
				t.Fatalf("van mismatch wrong: stored=%s recomputed=%s", mm.Stored, mm.Recomputed)
			}
		}
	}
	if !foundVan {
		t.Fatalf("expected a mismatch at the deactivated van, got %+v", mismatches)
	}
}

func assertQty(t *testing.T, ctx context.Context, itemId int, locationId int, want int64) {
	t.Helper()
	qty, err := models.GetQuantity(ctx, itemId, locationId)
	if err != nil {
		t.Fatalf("GetQuantity(item=%d location=%d): %v", itemId, locationId, err)
	}
	if qty.Cmp(decimal.NewFromInt(want)) != 0 {
		t.Fatalf("expected qty %d at location %d, got %s", want, locationId, qty)
	}
}

// setupIntegrationEnv starts MySQL and redis containers, connects the config
// singletons, migrates the schema, and returns a context carrying a fresh
// business and test user identity.
func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fieldops_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, uuid.NewString())
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test Tech")
	ctx = utils.SetUserEmailInContext(ctx, "tech@test.local")
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fieldops-test-redis-%d", time.Now().UnixNano())
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
	name := fmt.Sprintf("fieldops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fieldops_test",
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
