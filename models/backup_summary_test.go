package models_test

import (
	"testing"
	"time"

	"github.com/digitax/fbr_backend/models"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func backupAt(t *testing.T, id int, backupType models.BackupType, at time.Time) *models.InvoiceBackup {
	t.Helper()
	return &models.InvoiceBackup{
		ID:                id,
		OriginalInvoiceId: 42,
		TenantId:          "tenant-1",
		BackupType:        backupType,
		CreatedAt:         at,
	}
}

func TestNewSummaryFromBackup_InitializesCountersAndActor(t *testing.T) {
	at := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	record := backupAt(t, 7, models.BackupTypeDraft, at)
	record.UserId = intPtr(3)
	record.UserEmail = strPtr("ali@acme.pk")
	record.InvoiceNumber = strPtr("INV-001")
	record.StatusAfter = strPtr("Draft")

	summary := models.NewSummaryFromBackup(record)

	if summary.TotalBackups != 1 || summary.DraftBackups != 1 {
		t.Fatalf("expected total=1 draft=1, got total=%d draft=%d", summary.TotalBackups, summary.DraftBackups)
	}
	if summary.SavedBackups != 0 || summary.EditBackups != 0 {
		t.Fatalf("unexpected non-zero counters: %+v", summary.TypeCounters())
	}
	if !summary.FirstBackupAt.Equal(at) || !summary.LastBackupAt.Equal(at) {
		t.Fatalf("expected first=last=%v, got first=%v last=%v", at, summary.FirstBackupAt, summary.LastBackupAt)
	}
	if summary.LatestBackupId != 7 {
		t.Fatalf("expected latest_backup_id 7, got %d", summary.LatestBackupId)
	}
	if summary.CreatedByUserId == nil || *summary.CreatedByUserId != 3 {
		t.Fatalf("creator attribution lost: %+v", summary.CreatedByUserId)
	}
	if summary.LastModifiedByUserEmail == nil || *summary.LastModifiedByUserEmail != "ali@acme.pk" {
		t.Fatalf("last modifier attribution lost: %+v", summary.LastModifiedByUserEmail)
	}
	if summary.CurrentStatus == nil || *summary.CurrentStatus != "Draft" {
		t.Fatalf("current status not projected: %+v", summary.CurrentStatus)
	}
}

func TestSummaryOverwriteColumns_NullNeverClobbers(t *testing.T) {
	at := time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC)

	// A system-initiated record with no actor and no state fields must
	// update only the bookkeeping columns.
	bare := backupAt(t, 9, models.BackupTypeFbrRequest, at)
	updates := models.SummaryOverwriteColumns(bare)

	if len(updates) != 2 {
		t.Fatalf("expected only last_backup_at and latest_backup_id, got %v", updates)
	}
	if updates["latest_backup_id"] != 9 {
		t.Fatalf("latest_backup_id not set: %v", updates)
	}
	for _, forbidden := range []string{"current_status", "current_invoice_number", "fbr_invoice_number", "last_modified_by_user_id"} {
		if _, ok := updates[forbidden]; ok {
			t.Fatalf("null field %q must not appear in update set", forbidden)
		}
	}
}

func TestSummaryOverwriteColumns_EmptyStringIsNull(t *testing.T) {
	at := time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC)
	record := backupAt(t, 10, models.BackupTypeEdit, at)
	record.InvoiceNumber = strPtr("")
	record.StatusAfter = strPtr("Saved")

	updates := models.SummaryOverwriteColumns(record)

	if _, ok := updates["current_invoice_number"]; ok {
		t.Fatalf("empty string must be treated as null, got %v", updates)
	}
	if updates["current_status"] != "Saved" {
		t.Fatalf("non-null status must overwrite: %v", updates)
	}
}

func TestSummaryOverwriteColumns_NonNullOverwrites(t *testing.T) {
	at := time.Date(2026, 7, 3, 9, 0, 0, 0, time.UTC)
	record := backupAt(t, 11, models.BackupTypeFbrResponse, at)
	record.FbrInvoiceNumber = strPtr("7000000000000001")
	record.StatusAfter = strPtr("Posted")
	record.UserId = intPtr(5)

	updates := models.SummaryOverwriteColumns(record)

	if updates["fbr_invoice_number"] != "7000000000000001" {
		t.Fatalf("fbr_invoice_number must overwrite: %v", updates)
	}
	if updates["current_status"] != "Posted" {
		t.Fatalf("current_status must overwrite: %v", updates)
	}
	if updates["last_modified_by_user_id"] != 5 {
		t.Fatalf("last modifier must overwrite: %v", updates)
	}
}

func TestComputeSummaryFromBackups_Empty(t *testing.T) {
	if summary := models.ComputeSummaryFromBackups(nil); summary != nil {
		t.Fatalf("expected nil summary for no records, got %+v", summary)
	}
}

// Full lifecycle: draft by one user, saved, posted via an anonymous FBR
// exchange. The rebuilt summary must attribute creation to the first
// actor, keep the last human modifier, and surface the FBR number even
// though the final record carries no actor.
func TestComputeSummaryFromBackups_Lifecycle(t *testing.T) {
	base := time.Date(2026, 7, 4, 9, 0, 0, 0, time.UTC)

	draft := backupAt(t, 1, models.BackupTypeDraft, base)
	draft.UserId = intPtr(3)
	draft.UserName = strPtr("Ali")
	draft.InvoiceNumber = strPtr("INV-100")
	draft.StatusAfter = strPtr("Draft")

	saved := backupAt(t, 2, models.BackupTypeSaved, base.Add(time.Minute))
	saved.UserId = intPtr(4)
	saved.UserName = strPtr("Bina")
	saved.StatusAfter = strPtr("Saved")

	request := backupAt(t, 3, models.BackupTypeFbrRequest, base.Add(2*time.Minute))

	response := backupAt(t, 4, models.BackupTypeFbrResponse, base.Add(3*time.Minute))
	response.StatusAfter = strPtr("Posted")
	response.FbrInvoiceNumber = strPtr("7000000000000001")

	summary := models.ComputeSummaryFromBackups([]*models.InvoiceBackup{draft, saved, request, response})

	if summary.TotalBackups != 4 {
		t.Fatalf("expected 4 backups, got %d", summary.TotalBackups)
	}
	counters := summary.TypeCounters()
	if counters[models.BackupTypeDraft] != 1 || counters[models.BackupTypeSaved] != 1 ||
		counters[models.BackupTypeFbrRequest] != 1 || counters[models.BackupTypeFbrResponse] != 1 {
		t.Fatalf("per-type counters wrong: %v", counters)
	}
	if summary.LatestBackupId != 4 {
		t.Fatalf("expected latest_backup_id 4, got %d", summary.LatestBackupId)
	}
	if !summary.FirstBackupAt.Equal(base) || !summary.LastBackupAt.Equal(base.Add(3*time.Minute)) {
		t.Fatalf("timestamps wrong: first=%v last=%v", summary.FirstBackupAt, summary.LastBackupAt)
	}
	if summary.CreatedByUserId == nil || *summary.CreatedByUserId != 3 {
		t.Fatalf("creation must attribute to first actor, got %v", summary.CreatedByUserId)
	}
	if summary.LastModifiedByUserName == nil || *summary.LastModifiedByUserName != "Bina" {
		t.Fatalf("last modifier must skip actorless records, got %v", summary.LastModifiedByUserName)
	}
	if summary.CurrentStatus == nil || *summary.CurrentStatus != "Posted" {
		t.Fatalf("current status must come from latest non-null, got %v", summary.CurrentStatus)
	}
	if summary.CurrentInvoiceNumber == nil || *summary.CurrentInvoiceNumber != "INV-100" {
		t.Fatalf("invoice number must survive from the only record carrying it, got %v", summary.CurrentInvoiceNumber)
	}
	if summary.FbrInvoiceNumber == nil || *summary.FbrInvoiceNumber != "7000000000000001" {
		t.Fatalf("fbr invoice number lost: %v", summary.FbrInvoiceNumber)
	}
}

func TestComputeSummaryFromBackups_LaterNullDoesNotErase(t *testing.T) {
	base := time.Date(2026, 7, 5, 9, 0, 0, 0, time.UTC)

	first := backupAt(t, 1, models.BackupTypeSaved, base)
	first.StatusAfter = strPtr("Saved")
	first.InvoiceNumber = strPtr("INV-200")

	second := backupAt(t, 2, models.BackupTypeFbrRequest, base.Add(time.Minute))
	// No status, no invoice number on the second record.

	summary := models.ComputeSummaryFromBackups([]*models.InvoiceBackup{first, second})

	if summary.CurrentStatus == nil || *summary.CurrentStatus != "Saved" {
		t.Fatalf("null in the newest record must not erase status, got %v", summary.CurrentStatus)
	}
	if summary.CurrentInvoiceNumber == nil || *summary.CurrentInvoiceNumber != "INV-200" {
		t.Fatalf("null in the newest record must not erase invoice number, got %v", summary.CurrentInvoiceNumber)
	}
	if summary.LatestBackupId != 2 {
		t.Fatalf("latest pointer must still advance, got %d", summary.LatestBackupId)
	}
}

func TestTypeCounterColumn_CoversEveryType(t *testing.T) {
	for _, backupType := range models.AllBackupTypes {
		if models.TypeCounterColumn(backupType) == "" {
			t.Fatalf("no counter column for %s", backupType)
		}
	}
	if models.TypeCounterColumn(models.BackupType("BOGUS")) != "" {
		t.Fatal("unknown type must map to no column")
	}
}
