package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitax/fbr_backend/config"
	"github.com/digitax/fbr_backend/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// InvoiceBackupSummary is the denormalized per-invoice aggregate over
// invoice_backups: counters per backup type, first/last timestamps, a
// pointer to the latest snapshot, and the invoice's current state for
// list views. Derived data; reconciliation can rebuild it from the
// backup rows at any time.
type InvoiceBackupSummary struct {
	ID                int    `gorm:"primary_key" json:"id"`
	OriginalInvoiceId int    `gorm:"uniqueIndex;not null" json:"original_invoice_id"`
	TenantId          string `gorm:"index;not null;size:64" json:"tenant_id"`

	TotalBackups       int `gorm:"not null;default:0" json:"total_backups"`
	DraftBackups       int `gorm:"not null;default:0" json:"draft_backups"`
	SavedBackups       int `gorm:"not null;default:0" json:"saved_backups"`
	EditBackups        int `gorm:"not null;default:0" json:"edit_backups"`
	PostBackups        int `gorm:"not null;default:0" json:"post_backups"`
	FbrRequestBackups  int `gorm:"not null;default:0" json:"fbr_request_backups"`
	FbrResponseBackups int `gorm:"not null;default:0" json:"fbr_response_backups"`

	FirstBackupAt  time.Time `gorm:"not null" json:"first_backup_at"`
	LastBackupAt   time.Time `gorm:"not null" json:"last_backup_at"`
	LatestBackupId int       `gorm:"not null;default:0" json:"latest_backup_id"`

	CreatedByUserId    *int    `json:"created_by_user_id"`
	CreatedByUserEmail *string `gorm:"size:255" json:"created_by_user_email"`
	CreatedByUserName  *string `gorm:"size:255" json:"created_by_user_name"`

	LastModifiedByUserId    *int    `json:"last_modified_by_user_id"`
	LastModifiedByUserEmail *string `gorm:"size:255" json:"last_modified_by_user_email"`
	LastModifiedByUserName  *string `gorm:"size:255" json:"last_modified_by_user_name"`

	CurrentInvoiceNumber *string `gorm:"size:255" json:"current_invoice_number"`
	CurrentStatus        *string `gorm:"size:32" json:"current_status"`
	SystemInvoiceId      *string `gorm:"size:64" json:"system_invoice_id"`
	FbrInvoiceNumber     *string `gorm:"size:255" json:"fbr_invoice_number"`
	TenantName           *string `gorm:"size:255" json:"tenant_name"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TypeCounterColumn maps a backup type to its summary counter column.
func TypeCounterColumn(t BackupType) string {
	switch t {
	case BackupTypeDraft:
		return "draft_backups"
	case BackupTypeSaved:
		return "saved_backups"
	case BackupTypeEdit:
		return "edit_backups"
	case BackupTypePost:
		return "post_backups"
	case BackupTypeFbrRequest:
		return "fbr_request_backups"
	case BackupTypeFbrResponse:
		return "fbr_response_backups"
	}
	return ""
}

func (s *InvoiceBackupSummary) counterFor(t BackupType) *int {
	switch t {
	case BackupTypeDraft:
		return &s.DraftBackups
	case BackupTypeSaved:
		return &s.SavedBackups
	case BackupTypeEdit:
		return &s.EditBackups
	case BackupTypePost:
		return &s.PostBackups
	case BackupTypeFbrRequest:
		return &s.FbrRequestBackups
	case BackupTypeFbrResponse:
		return &s.FbrResponseBackups
	}
	return nil
}

// TypeCounters returns the per-type counters keyed by backup type.
func (s *InvoiceBackupSummary) TypeCounters() map[BackupType]int {
	return map[BackupType]int{
		BackupTypeDraft:       s.DraftBackups,
		BackupTypeSaved:       s.SavedBackups,
		BackupTypeEdit:        s.EditBackups,
		BackupTypePost:        s.PostBackups,
		BackupTypeFbrRequest:  s.FbrRequestBackups,
		BackupTypeFbrResponse: s.FbrResponseBackups,
	}
}

// NewSummaryFromBackup builds the initial summary row from an invoice's
// first backup record.
func NewSummaryFromBackup(record *InvoiceBackup) *InvoiceBackupSummary {
	summary := InvoiceBackupSummary{
		OriginalInvoiceId: record.OriginalInvoiceId,
		TenantId:          record.TenantId,
		TotalBackups:      1,
		FirstBackupAt:     record.CreatedAt,
		LastBackupAt:      record.CreatedAt,
		LatestBackupId:    record.ID,

		CreatedByUserId:    record.UserId,
		CreatedByUserEmail: record.UserEmail,
		CreatedByUserName:  record.UserName,

		LastModifiedByUserId:    record.UserId,
		LastModifiedByUserEmail: record.UserEmail,
		LastModifiedByUserName:  record.UserName,

		CurrentInvoiceNumber: record.InvoiceNumber,
		CurrentStatus:        record.StatusAfter,
		SystemInvoiceId:      record.SystemInvoiceId,
		FbrInvoiceNumber:     record.FbrInvoiceNumber,
		TenantName:           record.TenantName,
	}
	if counter := summary.counterFor(record.BackupType); counter != nil {
		*counter = 1
	}
	return &summary
}

// SummaryOverwriteColumns builds the update set for an existing summary.
// The rule that motivated this whole subsystem: a field present and
// non-null in the new record overwrites; a null never clobbers a value
// the summary already holds.
func SummaryOverwriteColumns(record *InvoiceBackup) map[string]interface{} {
	updates := map[string]interface{}{
		"last_backup_at":   record.CreatedAt,
		"latest_backup_id": record.ID,
	}
	if record.UserId != nil {
		updates["last_modified_by_user_id"] = *record.UserId
	}
	if utils.NonNilString(record.UserEmail) {
		updates["last_modified_by_user_email"] = *record.UserEmail
	}
	if utils.NonNilString(record.UserName) {
		updates["last_modified_by_user_name"] = *record.UserName
	}
	if utils.NonNilString(record.InvoiceNumber) {
		updates["current_invoice_number"] = *record.InvoiceNumber
	}
	if utils.NonNilString(record.StatusAfter) {
		updates["current_status"] = *record.StatusAfter
	}
	if utils.NonNilString(record.SystemInvoiceId) {
		updates["system_invoice_id"] = *record.SystemInvoiceId
	}
	if utils.NonNilString(record.FbrInvoiceNumber) {
		updates["fbr_invoice_number"] = *record.FbrInvoiceNumber
	}
	if utils.NonNilString(record.TenantName) {
		updates["tenant_name"] = *record.TenantName
	}
	return updates
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// UpsertBackupSummary folds one freshly written backup record into the
// summary projection. Idempotent under retry with the same record: once
// latest_backup_id points at the record, re-applying is a no-op. Counter
// increments happen in SQL so concurrent lifecycle events on the same
// invoice can never lose an update.
//
// Cache invalidation is the caller's job, after its transaction commits.
// Invalidating here, inside a still-open transaction, lets a concurrent
// reader refill the cache with the pre-commit row.
func UpsertBackupSummary(ctx context.Context, tx *gorm.DB, record *InvoiceBackup) error {
	if record == nil || record.ID == 0 {
		return utils.NewValidationError("record", "missing or unsaved")
	}

	var existing InvoiceBackupSummary
	err := tx.WithContext(ctx).
		Where("original_invoice_id = ?", record.OriginalInvoiceId).
		First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewStorageError("UpsertBackupSummary.find", err)
		}
		summary := NewSummaryFromBackup(record)
		if createErr := tx.WithContext(ctx).Create(summary).Error; createErr == nil {
			return nil
		} else if !isDuplicateKeyErr(createErr) {
			return utils.NewStorageError("UpsertBackupSummary.create", createErr)
		}
		// Lost the insert race to a concurrent first backup; fall through
		// to the update path.
	} else if existing.LatestBackupId == record.ID {
		return nil
	}

	counterColumn := TypeCounterColumn(record.BackupType)
	if counterColumn == "" {
		return utils.NewValidationError("backup_type", "unknown counter")
	}

	updates := SummaryOverwriteColumns(record)
	updates["total_backups"] = gorm.Expr("total_backups + 1")
	updates[counterColumn] = gorm.Expr(counterColumn + " + 1")

	// latest_backup_id guard repeats the idempotence check inside the
	// UPDATE itself, closing the read-then-write window under retries.
	result := tx.WithContext(ctx).Model(&InvoiceBackupSummary{}).
		Where("original_invoice_id = ? AND latest_backup_id <> ?", record.OriginalInvoiceId, record.ID).
		Updates(updates)
	if result.Error != nil {
		return utils.NewStorageError("UpsertBackupSummary.update", result.Error)
	}
	return nil
}

// ComputeSummaryFromBackups rebuilds the whole summary from the backup
// rows, which must be in chronological (ascending) order. This is the
// reconciliation ground truth.
func ComputeSummaryFromBackups(records []*InvoiceBackup) *InvoiceBackupSummary {
	if len(records) == 0 {
		return nil
	}

	summary := InvoiceBackupSummary{
		OriginalInvoiceId: records[0].OriginalInvoiceId,
		TenantId:          records[0].TenantId,
		FirstBackupAt:     records[0].CreatedAt,
		LastBackupAt:      records[0].CreatedAt,
	}

	for _, record := range records {
		summary.TotalBackups++
		if counter := summary.counterFor(record.BackupType); counter != nil {
			*counter++
		}
		if record.CreatedAt.Before(summary.FirstBackupAt) {
			summary.FirstBackupAt = record.CreatedAt
		}
		if !record.CreatedAt.Before(summary.LastBackupAt) {
			summary.LastBackupAt = record.CreatedAt
			summary.LatestBackupId = record.ID
		}
	}

	// Creator attribution: earliest record carrying actor fields.
	for _, record := range records {
		if summary.CreatedByUserId == nil && record.UserId != nil {
			summary.CreatedByUserId = record.UserId
		}
		if summary.CreatedByUserEmail == nil && utils.NonNilString(record.UserEmail) {
			summary.CreatedByUserEmail = record.UserEmail
		}
		if summary.CreatedByUserName == nil && utils.NonNilString(record.UserName) {
			summary.CreatedByUserName = record.UserName
		}
	}

	// Current-state fields: most recent record carrying a value.
	for i := len(records) - 1; i >= 0; i-- {
		record := records[i]
		if summary.LastModifiedByUserId == nil && record.UserId != nil {
			summary.LastModifiedByUserId = record.UserId
		}
		if summary.LastModifiedByUserEmail == nil && utils.NonNilString(record.UserEmail) {
			summary.LastModifiedByUserEmail = record.UserEmail
		}
		if summary.LastModifiedByUserName == nil && utils.NonNilString(record.UserName) {
			summary.LastModifiedByUserName = record.UserName
		}
		if summary.CurrentInvoiceNumber == nil && utils.NonNilString(record.InvoiceNumber) {
			summary.CurrentInvoiceNumber = record.InvoiceNumber
		}
		if summary.CurrentStatus == nil && utils.NonNilString(record.StatusAfter) {
			summary.CurrentStatus = record.StatusAfter
		}
		if summary.SystemInvoiceId == nil && utils.NonNilString(record.SystemInvoiceId) {
			summary.SystemInvoiceId = record.SystemInvoiceId
		}
		if summary.FbrInvoiceNumber == nil && utils.NonNilString(record.FbrInvoiceNumber) {
			summary.FbrInvoiceNumber = record.FbrInvoiceNumber
		}
		if summary.TenantName == nil && utils.NonNilString(record.TenantName) {
			summary.TenantName = record.TenantName
		}
	}

	return &summary
}

func summaryCacheKey(tenantId string, originalInvoiceId int) string {
	return fmt.Sprintf("InvoiceBackupSummary:%s:%d", tenantId, originalInvoiceId)
}

// TTL bounds how long a stale cache entry can outlive a missed
// invalidation; 0 would pin it until the next write.
const summaryCacheTTL = 10 * time.Minute

// InvalidateBackupSummaryCache drops the cached summary after an
// out-of-band write, such as a reconciliation repair.
func InvalidateBackupSummaryCache(tenantId string, originalInvoiceId int) {
	invalidateSummaryCache(tenantId, originalInvoiceId)
}

func invalidateSummaryCache(tenantId string, originalInvoiceId int) {
	if err := config.RemoveRedisKey(summaryCacheKey(tenantId, originalInvoiceId)); err != nil {
		config.LogWarn(config.GetLogger(), "backupSummary.go", "invalidateSummaryCache",
			"RemoveRedisKey", summaryCacheKey(tenantId, originalInvoiceId), err.Error())
	}
}

// GetBackupSummary fetches the summary for one invoice, through the Redis
// cache when available.
func GetBackupSummary(ctx context.Context, db *gorm.DB, originalInvoiceId int) (*InvoiceBackupSummary, error) {
	tenantId, _ := utils.GetTenantIdFromContext(ctx)

	var cached *InvoiceBackupSummary
	if tenantId != "" {
		exists, err := config.GetRedisObject(summaryCacheKey(tenantId, originalInvoiceId), &cached)
		if err == nil && exists && cached != nil {
			return cached, nil
		}
	}

	var result InvoiceBackupSummary
	err := db.WithContext(ctx).
		Where("original_invoice_id = ?", originalInvoiceId).
		First(&result).Error
	if err != nil {
		return nil, utils.WrapReadError("GetBackupSummary", err)
	}

	if tenantId != "" {
		if err := config.SetRedisObject(summaryCacheKey(tenantId, originalInvoiceId), &result, summaryCacheTTL); err != nil {
			config.LogWarn(config.GetLogger(), "backupSummary.go", "GetBackupSummary",
				"SetRedisObject", summaryCacheKey(tenantId, originalInvoiceId), err.Error())
		}
	}
	return &result, nil
}
