package workflow

import (
	"context"
	"encoding/json"

	"github.com/digitax/fbr_backend/config"
	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// InvoiceEvent describes one tracked lifecycle transition. The snapshot
// writer turns it into an invoice_backups row plus a summary upsert.
type InvoiceEvent struct {
	Type             models.BackupType
	Reason           string
	StatusBefore     *string
	StatusAfter      *string
	FbrRequest       json.RawMessage
	FbrResponse      json.RawMessage
	FbrInvoiceNumber *string
	AdditionalInfo   json.RawMessage
}

// buildBackupInput assembles the full snapshot input from the invoice and
// the request context. Actor fields stay nil for system-initiated events.
func buildBackupInput(ctx context.Context, invoice *models.Invoice, event InvoiceEvent) *models.NewInvoiceBackup {
	input := models.NewInvoiceBackup{
		OriginalInvoiceId: invoice.ID,
		BackupType:        event.Type,
		BackupReason:      event.Reason,
		StatusBefore:      event.StatusBefore,
		StatusAfter:       event.StatusAfter,
		InvoiceData:       invoice.Snapshot(),
		InvoiceItemsData:  invoice.SnapshotItems(),
		FbrRequestData:    event.FbrRequest,
		FbrResponseData:   event.FbrResponse,
		FbrInvoiceNumber:  event.FbrInvoiceNumber,
		AdditionalInfo:    event.AdditionalInfo,
		TenantId:          invoice.TenantId,
	}
	if invoice.SystemInvoiceId != "" {
		systemInvoiceId := invoice.SystemInvoiceId
		input.SystemInvoiceId = &systemInvoiceId
	}
	if invoice.InvoiceNumber != "" {
		invoiceNumber := invoice.InvoiceNumber
		input.InvoiceNumber = &invoiceNumber
	}
	if input.FbrInvoiceNumber == nil && invoice.FbrInvoiceNumber != nil {
		input.FbrInvoiceNumber = invoice.FbrInvoiceNumber
	}

	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		input.UserId = &userId
	}
	if userEmail, ok := utils.GetUserEmailFromContext(ctx); ok && userEmail != "" {
		input.UserEmail = &userEmail
	}
	if userName, ok := utils.GetUserNameFromContext(ctx); ok && userName != "" {
		input.UserName = &userName
	}
	if userRole, ok := utils.GetUserRoleFromContext(ctx); ok && userRole != "" {
		input.UserRole = &userRole
	}
	if tenantName, ok := utils.GetTenantNameFromContext(ctx); ok && tenantName != "" {
		input.TenantName = &tenantName
	}
	if ip, ok := utils.GetIpAddressFromContext(ctx); ok && ip != "" {
		input.IpAddress = &ip
	}
	if ua, ok := utils.GetUserAgentFromContext(ctx); ok && ua != "" {
		input.UserAgent = &ua
	}
	if requestId, ok := utils.GetRequestIdFromContext(ctx); ok && requestId != "" {
		input.RequestId = &requestId
	}
	return &input
}

// RecordInvoiceBackup writes one snapshot record and folds it into the
// summary projection.
//
// With STRICT_BACKUP_TX (the default) both writes share one database
// transaction, so the summary can never be left behind by a crash between
// them. With strict mode off, the record write is the durable part and
// the summary upsert is best-effort: a failure is logged and left for
// reconciliation, matching the historical behavior this codebase grew up
// with.
func RecordInvoiceBackup(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoice *models.Invoice, event InvoiceEvent) (*models.InvoiceBackup, error) {
	input := buildBackupInput(ctx, invoice, event)

	if config.StrictBackupTx() {
		var record *models.InvoiceBackup
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			record, txErr = models.CreateInvoiceBackup(ctx, tx, input)
			if txErr != nil {
				return txErr
			}
			return models.UpsertBackupSummary(ctx, tx, record)
		})
		if err != nil {
			return nil, err
		}
		// After the commit, never inside the transaction: a concurrent
		// reader must not refill the cache with the pre-commit row.
		models.InvalidateBackupSummaryCache(record.TenantId, record.OriginalInvoiceId)
		return record, nil
	}

	record, err := models.CreateInvoiceBackup(ctx, db, input)
	if err != nil {
		return nil, err
	}
	if err := models.UpsertBackupSummary(ctx, db, record); err != nil {
		// Projection drifted; reconciliation will repair it.
		config.LogError(logger, "snapshotWorkflow.go", "RecordInvoiceBackup",
			"UpsertBackupSummary (summary left for reconciliation)", record.OriginalInvoiceId, err)
	} else {
		models.InvalidateBackupSummaryCache(record.TenantId, record.OriginalInvoiceId)
	}
	return record, nil
}

// CaptureInvoiceBackup is the isolation boundary between the backup
// subsystem and the primary invoice operation: the backup either lands or
// is logged, but it never fails the user-visible action.
func CaptureInvoiceBackup(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoice *models.Invoice, event InvoiceEvent) {
	if _, err := RecordInvoiceBackup(ctx, db, logger, invoice, event); err != nil {
		config.LogError(logger, "snapshotWorkflow.go", "CaptureInvoiceBackup",
			string(event.Type), invoice.ID, err)
	}
}

// CaptureInvoiceAudit records the before/after audit entry with the same
// isolation policy as CaptureInvoiceBackup.
func CaptureInvoiceAudit(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int, operation models.AuditOperation, oldValues, newValues map[string]interface{}) {
	_, err := models.RecordAuditChange(ctx, db, &models.NewAuditLog{
		EntityType: "invoice",
		EntityId:   invoiceId,
		Operation:  operation,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
	if err != nil {
		config.LogError(logger, "snapshotWorkflow.go", "CaptureInvoiceAudit",
			string(operation), invoiceId, err)
	}
}
