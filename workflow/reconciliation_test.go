package workflow_test

import (
	"testing"
	"time"

	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/workflow"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func lifecycleRecords() []*models.InvoiceBackup {
	base := time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC)

	draft := &models.InvoiceBackup{
		ID: 1, OriginalInvoiceId: 8, TenantId: "tenant-1",
		BackupType: models.BackupTypeDraft, CreatedAt: base,
		UserId: intPtr(2), UserName: strPtr("Ali"),
		InvoiceNumber: strPtr("INV-8"), StatusAfter: strPtr("Draft"),
	}
	saved := &models.InvoiceBackup{
		ID: 2, OriginalInvoiceId: 8, TenantId: "tenant-1",
		BackupType: models.BackupTypeSaved, CreatedAt: base.Add(time.Minute),
		UserId: intPtr(2), StatusAfter: strPtr("Saved"),
	}
	response := &models.InvoiceBackup{
		ID: 3, OriginalInvoiceId: 8, TenantId: "tenant-1",
		BackupType: models.BackupTypeFbrResponse, CreatedAt: base.Add(2 * time.Minute),
		StatusAfter: strPtr("Posted"), FbrInvoiceNumber: strPtr("7000000000000008"),
	}
	return []*models.InvoiceBackup{draft, saved, response}
}

func TestDiffSummaries_ConsistentSummaryHasNoDrift(t *testing.T) {
	computed := models.ComputeSummaryFromBackups(lifecycleRecords())
	if fields := workflow.DiffSummaries(computed, computed); len(fields) != 0 {
		t.Fatalf("a summary must never drift from itself, got %v", fields)
	}
}

func TestDiffSummaries_DetectsCounterAndPointerDrift(t *testing.T) {
	records := lifecycleRecords()
	computed := models.ComputeSummaryFromBackups(records)

	// Stored summary missed the last write: stale counters, stale
	// pointer, null fbr number.
	stored := models.ComputeSummaryFromBackups(records[:2])

	fields := workflow.DiffSummaries(stored, computed)

	want := map[string]bool{
		"total_backups":        true,
		"fbr_response_backups": true,
		"last_backup_at":       true,
		"latest_backup_id":     true,
		"fbr_invoice_number":   true,
	}
	got := map[string]bool{}
	for _, f := range fields {
		got[f] = true
	}
	for f := range want {
		if !got[f] {
			t.Fatalf("expected drift on %q, got %v", f, fields)
		}
	}
	if got["current_status"] {
		t.Fatalf("stored non-null status must not count as drift even when it differs: %v", fields)
	}
}

func TestDiffSummaries_NonNullStoredFieldIsNotDrift(t *testing.T) {
	records := lifecycleRecords()
	computed := models.ComputeSummaryFromBackups(records)

	stored := models.ComputeSummaryFromBackups(records)
	// Operator hand-edited the display number; reconciliation must not
	// fight a non-null value.
	stored.CurrentInvoiceNumber = strPtr("INV-8-CORRECTED")

	for _, f := range workflow.DiffSummaries(stored, computed) {
		if f == "current_invoice_number" {
			t.Fatal("non-null stored value must never be overwritten by reconcile")
		}
	}
}

func TestRepairUpdates_OnlyTouchesDriftedColumns(t *testing.T) {
	computed := models.ComputeSummaryFromBackups(lifecycleRecords())

	updates := workflow.RepairUpdates(computed, []string{"total_backups", "latest_backup_id"})
	if len(updates) != 2 {
		t.Fatalf("expected exactly the listed columns, got %v", updates)
	}
	if updates["total_backups"] != computed.TotalBackups {
		t.Fatalf("total_backups repair value wrong: %v", updates)
	}
	if updates["latest_backup_id"] != computed.LatestBackupId {
		t.Fatalf("latest_backup_id repair value wrong: %v", updates)
	}

	if unknown := workflow.RepairUpdates(computed, []string{"no_such_column"}); len(unknown) != 0 {
		t.Fatalf("unknown drift fields must be dropped, got %v", unknown)
	}
}

func TestSummaryDrift_HasDrift(t *testing.T) {
	clean := workflow.SummaryDrift{OriginalInvoiceId: 8}
	if clean.HasDrift() {
		t.Fatal("no fields and no creation means no drift")
	}
	created := workflow.SummaryDrift{OriginalInvoiceId: 8, SummaryCreated: true}
	if !created.HasDrift() {
		t.Fatal("a created summary is drift")
	}
	fields := workflow.SummaryDrift{OriginalInvoiceId: 8, Fields: []string{"total_backups"}}
	if !fields.HasDrift() {
		t.Fatal("repaired fields are drift")
	}
}
