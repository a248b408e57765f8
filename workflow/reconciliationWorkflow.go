package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reconciliation rebuilds invoice_backup_summaries from the append-only
// invoice_backups rows and repairs any drift left behind by best-effort
// projection writes. Backup rows are the ground truth and are never
// modified here.

// SummaryDrift describes one repaired summary.
type SummaryDrift struct {
	OriginalInvoiceId int      `json:"original_invoice_id"`
	SummaryCreated    bool     `json:"summary_created"`
	Fields            []string `json:"fields"`
}

func (d *SummaryDrift) HasDrift() bool {
	return d.SummaryCreated || len(d.Fields) > 0
}

// DiffSummaries lists the columns where the stored summary disagrees with
// the recomputed one. Derived columns (counters, timestamps, the latest
// pointer) always compare exact; denormalized current-state columns only
// count as drift when the stored side is null and the recomputed side is
// not, matching the merge rule that nulls never clobber values.
func DiffSummaries(stored, computed *models.InvoiceBackupSummary) []string {
	var fields []string

	if stored.TotalBackups != computed.TotalBackups {
		fields = append(fields, "total_backups")
	}
	storedCounters := stored.TypeCounters()
	for t, want := range computed.TypeCounters() {
		if storedCounters[t] != want {
			fields = append(fields, models.TypeCounterColumn(t))
		}
	}
	if !stored.FirstBackupAt.Equal(computed.FirstBackupAt) {
		fields = append(fields, "first_backup_at")
	}
	if !stored.LastBackupAt.Equal(computed.LastBackupAt) {
		fields = append(fields, "last_backup_at")
	}
	if stored.LatestBackupId != computed.LatestBackupId {
		fields = append(fields, "latest_backup_id")
	}

	if stored.CreatedByUserId == nil && computed.CreatedByUserId != nil {
		fields = append(fields, "created_by_user_id")
	}
	if stored.CreatedByUserEmail == nil && computed.CreatedByUserEmail != nil {
		fields = append(fields, "created_by_user_email")
	}
	if stored.CreatedByUserName == nil && computed.CreatedByUserName != nil {
		fields = append(fields, "created_by_user_name")
	}
	if stored.LastModifiedByUserId == nil && computed.LastModifiedByUserId != nil {
		fields = append(fields, "last_modified_by_user_id")
	}
	if stored.LastModifiedByUserEmail == nil && computed.LastModifiedByUserEmail != nil {
		fields = append(fields, "last_modified_by_user_email")
	}
	if stored.LastModifiedByUserName == nil && computed.LastModifiedByUserName != nil {
		fields = append(fields, "last_modified_by_user_name")
	}
	if stored.CurrentInvoiceNumber == nil && computed.CurrentInvoiceNumber != nil {
		fields = append(fields, "current_invoice_number")
	}
	if stored.CurrentStatus == nil && computed.CurrentStatus != nil {
		fields = append(fields, "current_status")
	}
	if stored.SystemInvoiceId == nil && computed.SystemInvoiceId != nil {
		fields = append(fields, "system_invoice_id")
	}
	if stored.FbrInvoiceNumber == nil && computed.FbrInvoiceNumber != nil {
		fields = append(fields, "fbr_invoice_number")
	}
	if stored.TenantName == nil && computed.TenantName != nil {
		fields = append(fields, "tenant_name")
	}

	return fields
}

// RepairUpdates turns a drift field list into the update set that brings
// the stored summary in line with the recomputed one.
func RepairUpdates(computed *models.InvoiceBackupSummary, fields []string) map[string]interface{} {
	values := map[string]interface{}{
		"total_backups":               computed.TotalBackups,
		"draft_backups":               computed.DraftBackups,
		"saved_backups":               computed.SavedBackups,
		"edit_backups":                computed.EditBackups,
		"post_backups":                computed.PostBackups,
		"fbr_request_backups":         computed.FbrRequestBackups,
		"fbr_response_backups":        computed.FbrResponseBackups,
		"first_backup_at":             computed.FirstBackupAt,
		"last_backup_at":              computed.LastBackupAt,
		"latest_backup_id":            computed.LatestBackupId,
		"created_by_user_id":          computed.CreatedByUserId,
		"created_by_user_email":       computed.CreatedByUserEmail,
		"created_by_user_name":        computed.CreatedByUserName,
		"last_modified_by_user_id":    computed.LastModifiedByUserId,
		"last_modified_by_user_email": computed.LastModifiedByUserEmail,
		"last_modified_by_user_name":  computed.LastModifiedByUserName,
		"current_invoice_number":      computed.CurrentInvoiceNumber,
		"current_status":              computed.CurrentStatus,
		"system_invoice_id":           computed.SystemInvoiceId,
		"fbr_invoice_number":          computed.FbrInvoiceNumber,
		"tenant_name":                 computed.TenantName,
	}
	updates := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		if value, ok := values[field]; ok {
			updates[field] = value
		}
	}
	return updates
}

// ReconcileBackupSummary repairs one invoice's summary. Safe to run
// repeatedly and concurrently with live writes: a second pass over a
// repaired summary finds nothing to do.
func ReconcileBackupSummary(ctx context.Context, db *gorm.DB, logger *logrus.Logger, originalInvoiceId int, dryRun bool) (*SummaryDrift, error) {
	records, err := models.GetInvoiceBackupsAscending(ctx, db, originalInvoiceId)
	if err != nil {
		return nil, utils.NewStorageError("ReconcileBackupSummary.fetch", err)
	}
	drift := SummaryDrift{OriginalInvoiceId: originalInvoiceId}
	if len(records) == 0 {
		// No backups means no summary to verify. An orphaned summary row
		// without backups is left alone; it holds the only trace we have.
		return &drift, nil
	}

	computed := models.ComputeSummaryFromBackups(records)

	var stored models.InvoiceBackupSummary
	err = db.WithContext(ctx).
		Where("original_invoice_id = ?", originalInvoiceId).
		First(&stored).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewStorageError("ReconcileBackupSummary.find", err)
		}
		drift.SummaryCreated = true
		logDrift(logger, &drift, computed.TenantId)
		if dryRun {
			return &drift, nil
		}
		if err := db.WithContext(ctx).Create(computed).Error; err != nil {
			return nil, utils.NewStorageError("ReconcileBackupSummary.create", err)
		}
		models.InvalidateBackupSummaryCache(computed.TenantId, originalInvoiceId)
		return &drift, nil
	}

	drift.Fields = DiffSummaries(&stored, computed)
	if len(drift.Fields) == 0 {
		return &drift, nil
	}

	logDrift(logger, &drift, stored.TenantId)
	if dryRun {
		return &drift, nil
	}

	err = db.WithContext(ctx).Model(&models.InvoiceBackupSummary{}).
		Where("original_invoice_id = ?", originalInvoiceId).
		Updates(RepairUpdates(computed, drift.Fields)).Error
	if err != nil {
		return nil, utils.NewStorageError("ReconcileBackupSummary.update", err)
	}
	models.InvalidateBackupSummaryCache(stored.TenantId, originalInvoiceId)
	return &drift, nil
}

func logDrift(logger *logrus.Logger, drift *SummaryDrift, tenantId string) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"tenant_id":           tenantId,
		"original_invoice_id": drift.OriginalInvoiceId,
		"summary_created":     drift.SummaryCreated,
		"fields":              drift.Fields,
	}).Warn("backup summary drift detected")
}

// ReconcileAllBackupSummaries sweeps every invoice that has backup rows.
// Per-invoice failures are logged and the sweep continues; the next run
// picks up whatever this one missed.
func ReconcileAllBackupSummaries(ctx context.Context, db *gorm.DB, logger *logrus.Logger, dryRun bool) ([]*SummaryDrift, error) {
	var invoiceIds []int
	err := db.WithContext(ctx).Model(&models.InvoiceBackup{}).
		Distinct("original_invoice_id").
		Order("original_invoice_id ASC").
		Pluck("original_invoice_id", &invoiceIds).Error
	if err != nil {
		return nil, utils.NewStorageError("ReconcileAllBackupSummaries.list", err)
	}

	var drifted []*SummaryDrift
	var failed int
	for _, invoiceId := range invoiceIds {
		drift, err := ReconcileBackupSummary(ctx, db, logger, invoiceId, dryRun)
		if err != nil {
			failed++
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"original_invoice_id": invoiceId,
					"error":               err.Error(),
				}).Error("backup summary reconcile failed")
			}
			continue
		}
		if drift.HasDrift() {
			drifted = append(drifted, drift)
		}
	}
	if failed > 0 {
		return drifted, fmt.Errorf("reconcile finished with %d of %d invoices failed", failed, len(invoiceIds))
	}
	return drifted, nil
}
