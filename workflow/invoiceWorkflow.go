package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Invoice lifecycle operations. Each one persists the primary change
// first, then captures snapshot + audit through the isolation boundary in
// snapshotWorkflow.go: a backup failure is logged, never surfaced to the
// caller.

func statusPtr(s models.InvoiceStatus) *string {
	v := string(s)
	return &v
}

// CreateDraftInvoice creates the invoice in Draft status and captures the
// DRAFT snapshot.
func CreateDraftInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, input *models.NewInvoice) (*models.Invoice, error) {
	invoice, err := models.CreateInvoice(ctx, db, input)
	if err != nil {
		return nil, err
	}

	CaptureInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:        models.BackupTypeDraft,
		Reason:      "Draft created",
		StatusAfter: statusPtr(models.InvoiceStatusDraft),
	})
	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationCreate, nil, invoice.AuditValues())

	return invoice, nil
}

// SaveInvoice promotes a draft to Saved after validation and captures the
// SAVED snapshot.
func SaveInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int) (*models.Invoice, error) {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != models.InvoiceStatusDraft {
		return nil, utils.NewValidationError("current_status", "only a Draft invoice can be saved")
	}
	if len(invoice.Items) == 0 {
		return nil, utils.NewValidationError("items", "an invoice needs at least one line item")
	}

	oldValues := invoice.AuditValues()
	statusBefore := statusPtr(invoice.CurrentStatus)

	invoice.CurrentStatus = models.InvoiceStatusSaved
	if err := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoice.ID).
		Update("current_status", models.InvoiceStatusSaved).Error; err != nil {
		return nil, utils.NewStorageError("SaveInvoice", err)
	}

	CaptureInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:         models.BackupTypeSaved,
		Reason:       "Invoice validated and saved",
		StatusBefore: statusBefore,
		StatusAfter:  statusPtr(models.InvoiceStatusSaved),
	})
	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationUpdate, oldValues, invoice.AuditValues())

	return invoice, nil
}

type UpdateInvoice struct {
	InvoiceNumber *string                 `json:"invoice_number"`
	BuyerName     *string                 `json:"buyer_name"`
	BuyerNtn      *string                 `json:"buyer_ntn"`
	BuyerAddress  *string                 `json:"buyer_address"`
	Items         []models.NewInvoiceItem `json:"items"`
}

// EditInvoice applies header/item changes and captures the EDIT snapshot.
// Posted invoices are immutable.
func EditInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int, input *UpdateInvoice) (*models.Invoice, error) {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus == models.InvoiceStatusPosted || invoice.CurrentStatus == models.InvoiceStatusPosting {
		return nil, utils.NewValidationError("current_status", "a posted invoice cannot be edited")
	}

	oldValues := invoice.AuditValues()
	statusBefore := statusPtr(invoice.CurrentStatus)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if input.InvoiceNumber != nil {
			updates["invoice_number"] = *input.InvoiceNumber
			invoice.InvoiceNumber = *input.InvoiceNumber
		}
		if input.BuyerName != nil {
			updates["buyer_name"] = *input.BuyerName
			invoice.BuyerName = *input.BuyerName
		}
		if input.BuyerNtn != nil {
			updates["buyer_ntn"] = *input.BuyerNtn
			invoice.BuyerNtn = *input.BuyerNtn
		}
		if input.BuyerAddress != nil {
			updates["buyer_address"] = *input.BuyerAddress
			invoice.BuyerAddress = *input.BuyerAddress
		}

		if input.Items != nil {
			items := models.BuildInvoiceItems(input.Items)
			if err := models.ReplaceInvoiceItems(ctx, tx, invoice.ID, items); err != nil {
				return err
			}
			invoice.Items = items
			total, totalTax := models.InvoiceTotals(items)
			updates["total_amount"] = total
			updates["total_tax_amount"] = totalTax
			invoice.TotalAmount = total
			invoice.TotalTaxAmount = totalTax
		}

		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&models.Invoice{}).Where("id = ?", invoice.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, utils.NewStorageError("EditInvoice", err)
	}

	CaptureInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:         models.BackupTypeEdit,
		Reason:       "Invoice edited",
		StatusBefore: statusBefore,
		StatusAfter:  statusPtr(invoice.CurrentStatus),
	})
	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationUpdate, oldValues, invoice.AuditValues())

	return invoice, nil
}

// PostInvoice marks the invoice as Posting and captures the POST
// snapshot. The actual FBR exchange happens outside this backend; its
// payloads come back through RecordFbrRequest/RecordFbrResponse.
func PostInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int) (*models.Invoice, error) {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != models.InvoiceStatusSaved && invoice.CurrentStatus != models.InvoiceStatusFailed {
		return nil, utils.NewValidationError("current_status", "only a Saved or Failed invoice can be posted")
	}

	if lock := AcquireInvoiceRedisLock(ctx, invoice.TenantId, invoice.ID); lock != nil {
		defer lock.Release(ctx)
	}

	oldValues := invoice.AuditValues()
	statusBefore := statusPtr(invoice.CurrentStatus)

	// GET_LOCK is connection-scoped, so acquire, transition and release all
	// happen on one pinned connection. Releasing on the pooled handle could
	// land on a different connection and leak the lock.
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if lockErr := AcquireInvoicePostingLock(conn, invoice.TenantId, invoice.ID); lockErr != nil {
			return utils.NewStorageError("PostInvoice.lock", lockErr)
		}
		defer ReleaseInvoicePostingLock(conn, invoice.TenantId, invoice.ID)

		// Re-check under the lock: a concurrent poster may have won the race
		// between the read above and the lock acquisition.
		var current models.Invoice
		if findErr := conn.Select("current_status").First(&current, invoice.ID).Error; findErr != nil {
			return utils.WrapReadError("PostInvoice.recheck", findErr)
		}
		if current.CurrentStatus != models.InvoiceStatusSaved && current.CurrentStatus != models.InvoiceStatusFailed {
			return utils.NewValidationError("current_status", "only a Saved or Failed invoice can be posted")
		}

		return conn.Model(&models.Invoice{}).
			Where("id = ?", invoice.ID).
			Update("current_status", models.InvoiceStatusPosting).Error
	})
	if err != nil {
		if utils.IsValidationError(err) || utils.IsStorageError(err) || errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, err
		}
		return nil, utils.NewStorageError("PostInvoice", err)
	}
	invoice.CurrentStatus = models.InvoiceStatusPosting

	CaptureInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:         models.BackupTypePost,
		Reason:       "Invoice submitted for FBR posting",
		StatusBefore: statusBefore,
		StatusAfter:  statusPtr(models.InvoiceStatusPosting),
	})
	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationUpdate, oldValues, invoice.AuditValues())

	return invoice, nil
}

// RecordFbrRequest captures the exact request payload sent to FBR.
func RecordFbrRequest(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int, requestPayload json.RawMessage) error {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return err
	}
	_, err = RecordInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:       models.BackupTypeFbrRequest,
		Reason:     "FBR submission request",
		FbrRequest: requestPayload,
	})
	return err
}

// RecordFbrResponse captures FBR's answer and finalizes the invoice
// status: Posted with the assigned FBR invoice number on acceptance,
// Failed otherwise.
func RecordFbrResponse(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int, responsePayload json.RawMessage, fbrInvoiceNumber *string, accepted bool) (*models.Invoice, error) {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return nil, err
	}
	if invoice.CurrentStatus != models.InvoiceStatusPosting {
		return nil, utils.NewValidationError("current_status", "no posting in flight for this invoice")
	}
	if accepted && !utils.NonNilString(fbrInvoiceNumber) {
		return nil, utils.NewValidationError("fbr_invoice_number", "required when FBR accepted the invoice")
	}

	oldValues := invoice.AuditValues()
	statusBefore := statusPtr(invoice.CurrentStatus)

	newStatus := models.InvoiceStatusFailed
	updates := map[string]interface{}{}
	if accepted {
		newStatus = models.InvoiceStatusPosted
		updates["fbr_invoice_number"] = *fbrInvoiceNumber
		invoice.FbrInvoiceNumber = fbrInvoiceNumber
	}
	updates["current_status"] = newStatus
	invoice.CurrentStatus = newStatus

	if err := db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(updates).Error; err != nil {
		return nil, utils.NewStorageError("RecordFbrResponse", err)
	}

	CaptureInvoiceBackup(ctx, db, logger, invoice, InvoiceEvent{
		Type:             models.BackupTypeFbrResponse,
		Reason:           "FBR submission response",
		StatusBefore:     statusBefore,
		StatusAfter:      statusPtr(newStatus),
		FbrResponse:      responsePayload,
		FbrInvoiceNumber: fbrInvoiceNumber,
	})
	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationUpdate, oldValues, invoice.AuditValues())

	return invoice, nil
}

// DeleteInvoice removes the invoice and its items. Backups deliberately
// survive: original_invoice_id is a soft reference and the audit trail
// must outlive the invoice.
func DeleteInvoice(ctx context.Context, db *gorm.DB, logger *logrus.Logger, invoiceId int) error {
	invoice, err := models.GetInvoice(ctx, db, invoiceId)
	if err != nil {
		return err
	}
	if invoice.CurrentStatus == models.InvoiceStatusPosted {
		return utils.NewValidationError("current_status", "a posted invoice cannot be deleted")
	}

	oldValues := invoice.AuditValues()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", invoice.ID).Delete(&models.InvoiceItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Invoice{}, invoice.ID).Error
	})
	if err != nil {
		return utils.WrapReadError("DeleteInvoice", err)
	}

	CaptureInvoiceAudit(ctx, db, logger, invoice.ID, models.AuditOperationDelete, oldValues, nil)
	return nil
}
