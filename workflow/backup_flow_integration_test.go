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

	"github.com/digitax/fbr_backend/config"
	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/digitax/fbr_backend/workflow"
	"github.com/shopspring/decimal"
)

const integrationTenant = "inttest"

func TestBackupFlow_LifecycleSummaryAndReconcile(t *testing.T) {
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
	t.Setenv("DB_NAME_PREFIX", "fbr_tenant_")
	t.Setenv("STRICT_BACKUP_TX", "1")

	config.ConnectRedisWithRetry()
	db, err := config.ConnectTenantDatabaseWithRetry(integrationTenant, 10)
	if err != nil {
		t.Fatalf("connect tenant database: %v", err)
	}
	t.Cleanup(config.CloseAllTenantDatabases)
	if err := models.MigrateTenantTables(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx = utils.SetTenantIdInContext(ctx, integrationTenant)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserEmailInContext(ctx, "test@local")
	ctx = utils.SetUserNameInContext(ctx, "Test")

	logger := config.GetLogger()

	invoice, err := workflow.CreateDraftInvoice(ctx, db, logger, &models.NewInvoice{
		InvoiceNumber: "INV-IT-1",
		InvoiceDate:   time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		BuyerName:     "Integration Buyer",
		Items: []models.NewInvoiceItem{
			{Description: "Widget", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(17)},
		},
	})
	if err != nil {
		t.Fatalf("CreateDraftInvoice: %v", err)
	}

	// Prime the summary cache with the draft-only projection; the save
	// below must invalidate it after its transaction commits, or the
	// total=2 read further down would serve the stale cached row.
	primed, err := models.GetBackupSummary(ctx, db, invoice.ID)
	if err != nil {
		t.Fatalf("GetBackupSummary after draft: %v", err)
	}
	if primed.TotalBackups != 1 {
		t.Fatalf("expected total=1 after draft, got %d", primed.TotalBackups)
	}

	if _, err := workflow.SaveInvoice(ctx, db, logger, invoice.ID); err != nil {
		t.Fatalf("SaveInvoice: %v", err)
	}

	summary, err := models.GetBackupSummary(ctx, db, invoice.ID)
	if err != nil {
		t.Fatalf("GetBackupSummary: %v", err)
	}
	if summary.TotalBackups != 2 || summary.DraftBackups != 1 || summary.SavedBackups != 1 {
		t.Fatalf("expected total=2 draft=1 saved=1, got %+v", summary.TypeCounters())
	}

	// Cached entries carry a TTL so a missed invalidation heals on its own.
	cacheKey := fmt.Sprintf("InvoiceBackupSummary:%s:%d", integrationTenant, invoice.ID)
	if ttl, err := config.GetRedisDB().TTL(ctx, cacheKey).Result(); err != nil || ttl <= 0 {
		t.Fatalf("cached summary must expire eventually, ttl=%v err=%v", ttl, err)
	}
	if summary.CurrentStatus == nil || *summary.CurrentStatus != "Saved" {
		t.Fatalf("expected current status Saved, got %v", summary.CurrentStatus)
	}

	// Re-applying the latest backup record must be a no-op.
	latest, err := models.GetInvoiceBackup(ctx, db, summary.LatestBackupId)
	if err != nil {
		t.Fatalf("GetInvoiceBackup: %v", err)
	}
	if err := models.UpsertBackupSummary(ctx, db, latest); err != nil {
		t.Fatalf("UpsertBackupSummary retry: %v", err)
	}
	summary, err = models.GetBackupSummary(ctx, db, invoice.ID)
	if err != nil {
		t.Fatalf("GetBackupSummary after retry: %v", err)
	}
	if summary.TotalBackups != 2 {
		t.Fatalf("retry inflated counters: total=%d", summary.TotalBackups)
	}

	// Corrupt the projection and let reconcile repair it.
	if err := db.WithContext(ctx).Model(&models.InvoiceBackupSummary{}).
		Where("original_invoice_id = ?", invoice.ID).
		Updates(map[string]interface{}{"total_backups": 0, "saved_backups": 0, "current_status": nil}).Error; err != nil {
		t.Fatalf("corrupt summary: %v", err)
	}
	drift, err := workflow.ReconcileBackupSummary(ctx, db, logger, invoice.ID, false)
	if err != nil {
		t.Fatalf("ReconcileBackupSummary: %v", err)
	}
	if !drift.HasDrift() {
		t.Fatal("expected drift on the corrupted summary")
	}
	repaired, err := models.GetBackupSummary(ctx, db, invoice.ID)
	if err != nil {
		t.Fatalf("GetBackupSummary after reconcile: %v", err)
	}
	if repaired.TotalBackups != 2 || repaired.SavedBackups != 1 {
		t.Fatalf("reconcile did not repair counters: %+v", repaired.TypeCounters())
	}
	if repaired.CurrentStatus == nil || *repaired.CurrentStatus != "Saved" {
		t.Fatalf("reconcile did not backfill status: %v", repaired.CurrentStatus)
	}

	// Second pass finds nothing.
	drift, err = workflow.ReconcileBackupSummary(ctx, db, logger, invoice.ID, false)
	if err != nil {
		t.Fatalf("ReconcileBackupSummary second pass: %v", err)
	}
	if drift.HasDrift() {
		t.Fatalf("second reconcile pass must be clean, got %v", drift.Fields)
	}

	// Audit trail: CREATE on draft, UPDATE on save.
	logs, err := models.GetAuditLogs(ctx, db, "invoice", invoice.ID)
	if err != nil {
		t.Fatalf("GetAuditLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(logs))
	}
	if logs[1].Operation != models.AuditOperationCreate || logs[0].Operation != models.AuditOperationUpdate {
		t.Fatalf("unexpected operations: newest=%s oldest=%s", logs[0].Operation, logs[1].Operation)
	}
	if logs[0].ChangedFields == nil || !strings.Contains(*logs[0].ChangedFields, "current_status") {
		t.Fatalf("UPDATE entry must list current_status as changed: %v", logs[0].ChangedFields)
	}

	// Backups survive invoice deletion.
	if err := workflow.DeleteInvoice(ctx, db, logger, invoice.ID); err != nil {
		t.Fatalf("DeleteInvoice: %v", err)
	}
	backups, err := models.GetInvoiceBackups(ctx, db, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoiceBackups: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("backups must outlive the invoice, got %d", len(backups))
	}

	// Posting serializes on a MySQL advisory lock; the lock must be free
	// again the moment PostInvoice returns. A release issued on a different
	// pooled connection than the acquire would leak it here.
	posted, err := workflow.CreateDraftInvoice(ctx, db, logger, &models.NewInvoice{
		InvoiceNumber: "INV-IT-2",
		InvoiceDate:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		BuyerName:     "Integration Buyer",
		Items: []models.NewInvoiceItem{
			{Description: "Widget", Quantity: decimal.NewFromInt(1), Rate: decimal.NewFromInt(50), TaxRate: decimal.NewFromInt(17)},
		},
	})
	if err != nil {
		t.Fatalf("CreateDraftInvoice: %v", err)
	}
	if _, err := workflow.SaveInvoice(ctx, db, logger, posted.ID); err != nil {
		t.Fatalf("SaveInvoice: %v", err)
	}
	if _, err := workflow.PostInvoice(ctx, db, logger, posted.ID); err != nil {
		t.Fatalf("PostInvoice: %v", err)
	}

	var freeLock int
	lockName := fmt.Sprintf("posting:%s:%d", integrationTenant, posted.ID)
	if err := db.Raw("SELECT IS_FREE_LOCK(?)", lockName).Scan(&freeLock).Error; err != nil {
		t.Fatalf("IS_FREE_LOCK: %v", err)
	}
	if freeLock != 1 {
		t.Fatal("posting lock leaked after PostInvoice returned")
	}

	// A second post while one is in flight is rejected, not deadlocked.
	if _, err := workflow.PostInvoice(ctx, db, logger, posted.ID); !utils.IsValidationError(err) {
		t.Fatalf("expected validation error on double post, got %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fbr-test-redis-%d", time.Now().UnixNano())
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
	name := fmt.Sprintf("fbr-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fbr_tenant_"+integrationTenant,
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
