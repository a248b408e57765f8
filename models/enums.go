package models

// BackupType is the lifecycle event that triggered an invoice snapshot.
// The literal tokens are persisted and must stay bit-compatible with
// existing data.
type BackupType string

const (
	BackupTypeDraft       BackupType = "DRAFT"
	BackupTypeSaved       BackupType = "SAVED"
	BackupTypeEdit        BackupType = "EDIT"
	BackupTypePost        BackupType = "POST"
	BackupTypeFbrRequest  BackupType = "FBR_REQUEST"
	BackupTypeFbrResponse BackupType = "FBR_RESPONSE"
)

var AllBackupTypes = []BackupType{
	BackupTypeDraft,
	BackupTypeSaved,
	BackupTypeEdit,
	BackupTypePost,
	BackupTypeFbrRequest,
	BackupTypeFbrResponse,
}

func (t BackupType) IsValid() bool {
	switch t {
	case BackupTypeDraft, BackupTypeSaved, BackupTypeEdit,
		BackupTypePost, BackupTypeFbrRequest, BackupTypeFbrResponse:
		return true
	}
	return false
}

func (t BackupType) String() string { return string(t) }

type AuditOperation string

const (
	AuditOperationCreate AuditOperation = "CREATE"
	AuditOperationUpdate AuditOperation = "UPDATE"
	AuditOperationDelete AuditOperation = "DELETE"
)

func (o AuditOperation) IsValid() bool {
	switch o {
	case AuditOperationCreate, AuditOperationUpdate, AuditOperationDelete:
		return true
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "Draft"
	InvoiceStatusSaved   InvoiceStatus = "Saved"
	InvoiceStatusPosting InvoiceStatus = "Posting"
	InvoiceStatusPosted  InvoiceStatus = "Posted"
	InvoiceStatusFailed  InvoiceStatus = "Failed"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSaved, InvoiceStatusPosting,
		InvoiceStatusPosted, InvoiceStatusFailed:
		return true
	}
	return false
}
