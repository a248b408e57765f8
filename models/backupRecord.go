package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/digitax/fbr_backend/utils"
	"gorm.io/gorm"
)

// InvoiceBackup is one immutable point-in-time snapshot of an invoice,
// written on every tracked lifecycle event. Rows are append-only: no code
// path updates or deletes them, and backups outlive the invoice itself
// (original_invoice_id is a soft reference, deliberately not a FK).
type InvoiceBackup struct {
	ID                int        `gorm:"primary_key" json:"id"`
	OriginalInvoiceId int        `gorm:"index;not null" json:"original_invoice_id"`
	SystemInvoiceId   *string    `gorm:"size:64" json:"system_invoice_id"`
	InvoiceNumber     *string    `gorm:"size:255" json:"invoice_number"`
	BackupType        BackupType `gorm:"type:enum('DRAFT','SAVED','EDIT','POST','FBR_REQUEST','FBR_RESPONSE');not null;index" json:"backup_type"`
	BackupReason      string     `gorm:"type:text" json:"backup_reason"`
	StatusBefore      *string    `gorm:"size:32" json:"status_before"`
	StatusAfter       *string    `gorm:"size:32" json:"status_after"`
	InvoiceData       *string    `gorm:"type:text" json:"invoice_data"`
	InvoiceItemsData  *string    `gorm:"type:text" json:"invoice_items_data"`
	FbrRequestData    *string    `gorm:"type:text" json:"fbr_request_data"`
	FbrResponseData   *string    `gorm:"type:text" json:"fbr_response_data"`
	FbrInvoiceNumber  *string    `gorm:"size:255" json:"fbr_invoice_number"`
	UserId            *int       `gorm:"index" json:"user_id"`
	UserEmail         *string    `gorm:"size:255" json:"user_email"`
	UserName          *string    `gorm:"size:255" json:"user_name"`
	UserRole          *string    `gorm:"size:64" json:"user_role"`
	TenantId          string     `gorm:"index;not null;size:64" json:"tenant_id"`
	TenantName        *string    `gorm:"size:255" json:"tenant_name"`
	IpAddress         *string    `gorm:"size:64" json:"ip_address"`
	UserAgent         *string    `gorm:"size:512" json:"user_agent"`
	RequestId         *string    `gorm:"size:64" json:"request_id"`
	AdditionalInfo    *string    `gorm:"type:text" json:"additional_info"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// NewInvoiceBackup carries every InvoiceBackup field except id/createdAt.
// Only OriginalInvoiceId and BackupType are required; system-initiated
// snapshots legitimately have no actor.
type NewInvoiceBackup struct {
	OriginalInvoiceId int                   `json:"original_invoice_id"`
	SystemInvoiceId   *string               `json:"system_invoice_id"`
	InvoiceNumber     *string               `json:"invoice_number"`
	BackupType        BackupType            `json:"backup_type"`
	BackupReason      string                `json:"backup_reason"`
	StatusBefore      *string               `json:"status_before"`
	StatusAfter       *string               `json:"status_after"`
	InvoiceData       *InvoiceSnapshot      `json:"invoice_data"`
	InvoiceItemsData  []InvoiceItemSnapshot `json:"invoice_items_data"`
	FbrRequestData    json.RawMessage       `json:"fbr_request_data"`
	FbrResponseData   json.RawMessage       `json:"fbr_response_data"`
	FbrInvoiceNumber  *string               `json:"fbr_invoice_number"`
	UserId            *int                  `json:"user_id"`
	UserEmail         *string               `json:"user_email"`
	UserName          *string               `json:"user_name"`
	UserRole          *string               `json:"user_role"`
	TenantId          string                `json:"tenant_id"`
	TenantName        *string               `json:"tenant_name"`
	IpAddress         *string               `json:"ip_address"`
	UserAgent         *string               `json:"user_agent"`
	RequestId         *string               `json:"request_id"`
	AdditionalInfo    json.RawMessage       `json:"additional_info"`
}

// ValidateNewInvoiceBackup rejects malformed input before anything is
// persisted: required keys, closed backup_type enum, and snapshot payloads
// that would not survive a serialize/deserialize round trip.
func ValidateNewInvoiceBackup(input *NewInvoiceBackup) error {
	if input == nil {
		return utils.NewValidationError("input", "missing")
	}
	if input.OriginalInvoiceId <= 0 {
		return utils.NewValidationError("original_invoice_id", "missing")
	}
	if input.BackupType == "" {
		return utils.NewValidationError("backup_type", "missing")
	}
	if !input.BackupType.IsValid() {
		return utils.NewValidationError("backup_type", "not in "+joinBackupTypes())
	}
	if len(input.FbrRequestData) > 0 {
		if err := utils.EnsureRoundTripJSON(input.FbrRequestData); err != nil {
			return utils.NewValidationError("fbr_request_data", "not well-formed JSON")
		}
	}
	if len(input.FbrResponseData) > 0 {
		if err := utils.EnsureRoundTripJSON(input.FbrResponseData); err != nil {
			return utils.NewValidationError("fbr_response_data", "not well-formed JSON")
		}
	}
	if len(input.AdditionalInfo) > 0 {
		if err := utils.EnsureRoundTripJSON(input.AdditionalInfo); err != nil {
			return utils.NewValidationError("additional_info", "not well-formed JSON")
		}
	}
	return nil
}

func joinBackupTypes() string {
	out := ""
	for i, t := range AllBackupTypes {
		if i > 0 {
			out += ","
		}
		out += string(t)
	}
	return out
}

// buildInvoiceBackup serializes the typed snapshot payloads into their
// persisted form. Serialization failures surface as ValidationError so
// the caller knows nothing was written.
func buildInvoiceBackup(input *NewInvoiceBackup) (*InvoiceBackup, error) {
	record := InvoiceBackup{
		OriginalInvoiceId: input.OriginalInvoiceId,
		SystemInvoiceId:   input.SystemInvoiceId,
		InvoiceNumber:     input.InvoiceNumber,
		BackupType:        input.BackupType,
		BackupReason:      input.BackupReason,
		StatusBefore:      input.StatusBefore,
		StatusAfter:       input.StatusAfter,
		FbrInvoiceNumber:  input.FbrInvoiceNumber,
		UserId:            input.UserId,
		UserEmail:         input.UserEmail,
		UserName:          input.UserName,
		UserRole:          input.UserRole,
		TenantId:          input.TenantId,
		TenantName:        input.TenantName,
		IpAddress:         input.IpAddress,
		UserAgent:         input.UserAgent,
		RequestId:         input.RequestId,
	}

	if input.InvoiceData != nil {
		data, err := utils.MarshalRoundTrip(input.InvoiceData)
		if err != nil {
			return nil, utils.NewValidationError("invoice_data", "not serializable")
		}
		record.InvoiceData = &data
	}
	if input.InvoiceItemsData != nil {
		data, err := utils.MarshalRoundTrip(input.InvoiceItemsData)
		if err != nil {
			return nil, utils.NewValidationError("invoice_items_data", "not serializable")
		}
		record.InvoiceItemsData = &data
	}
	if len(input.FbrRequestData) > 0 {
		data := string(input.FbrRequestData)
		record.FbrRequestData = &data
	}
	if len(input.FbrResponseData) > 0 {
		data := string(input.FbrResponseData)
		record.FbrResponseData = &data
	}
	if len(input.AdditionalInfo) > 0 {
		data := string(input.AdditionalInfo)
		record.AdditionalInfo = &data
	}
	return &record, nil
}

// CreateInvoiceBackup persists one snapshot record. The write happens on
// the caller's handle so it can participate in the caller's transaction
// together with the summary upsert.
func CreateInvoiceBackup(ctx context.Context, tx *gorm.DB, input *NewInvoiceBackup) (*InvoiceBackup, error) {
	if err := ValidateNewInvoiceBackup(input); err != nil {
		return nil, err
	}
	if input.TenantId == "" {
		if tenantId, ok := utils.GetTenantIdFromContext(ctx); ok {
			input.TenantId = tenantId
		}
	}
	if input.TenantId == "" {
		return nil, utils.NewValidationError("tenant_id", "missing")
	}

	record, err := buildInvoiceBackup(input)
	if err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		return nil, utils.NewStorageError("CreateInvoiceBackup", err)
	}
	return record, nil
}

func GetInvoiceBackup(ctx context.Context, db *gorm.DB, id int) (*InvoiceBackup, error) {
	var result InvoiceBackup
	err := db.WithContext(ctx).First(&result, id).Error
	if err != nil {
		return nil, utils.WrapReadError("GetInvoiceBackup", err)
	}
	return &result, nil
}

// GetInvoiceBackups lists all snapshots of one invoice, newest first.
func GetInvoiceBackups(ctx context.Context, db *gorm.DB, originalInvoiceId int) ([]*InvoiceBackup, error) {
	var results []*InvoiceBackup
	err := db.WithContext(ctx).
		Where("original_invoice_id = ?", originalInvoiceId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetInvoiceBackupsAscending is the reconciliation read: chronological
// order, oldest first.
func GetInvoiceBackupsAscending(ctx context.Context, db *gorm.DB, originalInvoiceId int) ([]*InvoiceBackup, error) {
	var results []*InvoiceBackup
	err := db.WithContext(ctx).
		Where("original_invoice_id = ?", originalInvoiceId).
		Order("created_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type InvoiceBackupsConnection struct {
	Edges    []*InvoiceBackupsEdge `json:"edges"`
	PageInfo *PageInfo             `json:"pageInfo"`
}

type InvoiceBackupsEdge Edge[InvoiceBackup]

func (obj InvoiceBackup) GetId() int {
	return obj.ID
}

func (obj InvoiceBackup) GetCursor() string {
	return obj.CreatedAt.String()
}

func PaginateInvoiceBackups(ctx context.Context,
	db *gorm.DB,
	limit int,
	after *string,
	originalInvoiceId int,
	backupType *BackupType,
) (*InvoiceBackupsConnection, error) {

	dbCtx := db.WithContext(ctx).Where("original_invoice_id = ?", originalInvoiceId)
	if backupType != nil && *backupType != "" {
		dbCtx.Where("backup_type = ?", *backupType)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[InvoiceBackup](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection InvoiceBackupsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		backupsEdge := InvoiceBackupsEdge(edge)
		connection.Edges = append(connection.Edges, &backupsEdge)
	}

	return &connection, err
}
