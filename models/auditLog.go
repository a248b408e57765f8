package models

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/digitax/fbr_backend/utils"
	"gorm.io/gorm"
)

// AuditLog is the generic before/after change log, independent of the
// invoice backup tables. It covers buyers, products, users and invoices
// alike.
type AuditLog struct {
	ID            int            `gorm:"primary_key" json:"id"`
	TenantId      string         `gorm:"index;not null;size:64" json:"tenant_id"`
	EntityType    string         `gorm:"size:64;not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityId      int            `gorm:"not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Operation     AuditOperation `gorm:"type:enum('CREATE','UPDATE','DELETE');not null" json:"operation"`
	OldValues     *string        `gorm:"type:text" json:"old_values"`
	NewValues     *string        `gorm:"type:text" json:"new_values"`
	ChangedFields *string        `gorm:"type:text" json:"changed_fields"`
	UserId        *int           `gorm:"index" json:"user_id"`
	UserEmail     *string        `gorm:"size:255" json:"user_email"`
	UserName      *string        `gorm:"size:255" json:"user_name"`
	UserRole      *string        `gorm:"size:64" json:"user_role"`
	TenantName    *string        `gorm:"size:255" json:"tenant_name"`
	IpAddress     *string        `gorm:"size:64" json:"ip_address"`
	UserAgent     *string        `gorm:"size:512" json:"user_agent"`
	RequestId     *string        `gorm:"size:64" json:"request_id"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

type NewAuditLog struct {
	EntityType string                 `json:"entity_type" binding:"required"`
	EntityId   int                    `json:"entity_id" binding:"required"`
	Operation  AuditOperation         `json:"operation" binding:"required"`
	OldValues  map[string]interface{} `json:"old_values"`
	NewValues  map[string]interface{} `json:"new_values"`
}

// ComputeChangedFields returns the sorted set of top-level keys whose
// values differ between the old and new snapshots. Nested values (such as
// the invoice_items array) are compared by whole-value inequality, not
// per-element diff.
func ComputeChangedFields(oldValues, newValues map[string]interface{}) []string {
	changed := make([]string, 0)
	seen := map[string]bool{}

	for key, oldVal := range oldValues {
		newVal, ok := newValues[key]
		if !ok || !jsonValueEqual(oldVal, newVal) {
			changed = append(changed, key)
		}
		seen[key] = true
	}
	for key := range newValues {
		if !seen[key] {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

// jsonValueEqual compares values as they would appear after a JSON round
// trip, so int(3) and float64(3) from a decoded document compare equal.
func jsonValueEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

func validateNewAuditLog(input *NewAuditLog) error {
	if input == nil {
		return utils.NewValidationError("input", "missing")
	}
	if input.EntityType == "" {
		return utils.NewValidationError("entity_type", "missing")
	}
	if input.EntityId <= 0 {
		return utils.NewValidationError("entity_id", "missing")
	}
	if !input.Operation.IsValid() {
		return utils.NewValidationError("operation", "not one of CREATE,UPDATE,DELETE")
	}
	switch input.Operation {
	case AuditOperationCreate:
		if input.OldValues != nil {
			return utils.NewValidationError("old_values", "must be absent for CREATE")
		}
		if input.NewValues == nil {
			return utils.NewValidationError("new_values", "required for CREATE")
		}
	case AuditOperationUpdate:
		if input.OldValues == nil || input.NewValues == nil {
			return utils.NewValidationError("old_values/new_values", "both required for UPDATE")
		}
	case AuditOperationDelete:
		if input.NewValues != nil {
			return utils.NewValidationError("new_values", "must be absent for DELETE")
		}
		if input.OldValues == nil {
			return utils.NewValidationError("old_values", "required for DELETE")
		}
	}
	return nil
}

// RecordAuditChange persists one before/after entry. Actor and request
// context ride in from the request context; system-initiated changes have
// none and that is fine.
func RecordAuditChange(ctx context.Context, tx *gorm.DB, input *NewAuditLog) (*AuditLog, error) {
	if err := validateNewAuditLog(input); err != nil {
		return nil, err
	}

	tenantId, ok := utils.GetTenantIdFromContext(ctx)
	if !ok || tenantId == "" {
		return nil, utils.NewValidationError("tenant_id", "missing")
	}

	entry := AuditLog{
		TenantId:   tenantId,
		EntityType: input.EntityType,
		EntityId:   input.EntityId,
		Operation:  input.Operation,
	}

	if input.OldValues != nil {
		data, err := utils.MarshalToJSON(input.OldValues)
		if err != nil {
			return nil, utils.NewValidationError("old_values", "not serializable")
		}
		entry.OldValues = &data
	}
	if input.NewValues != nil {
		data, err := utils.MarshalToJSON(input.NewValues)
		if err != nil {
			return nil, utils.NewValidationError("new_values", "not serializable")
		}
		entry.NewValues = &data
	}
	if input.Operation == AuditOperationUpdate {
		changed := ComputeChangedFields(input.OldValues, input.NewValues)
		data, err := utils.MarshalToJSON(changed)
		if err != nil {
			return nil, utils.NewValidationError("changed_fields", "not serializable")
		}
		entry.ChangedFields = &data
	}

	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		entry.UserId = &userId
	}
	if userEmail, ok := utils.GetUserEmailFromContext(ctx); ok && userEmail != "" {
		entry.UserEmail = &userEmail
	}
	if userName, ok := utils.GetUserNameFromContext(ctx); ok && userName != "" {
		entry.UserName = &userName
	}
	if userRole, ok := utils.GetUserRoleFromContext(ctx); ok && userRole != "" {
		entry.UserRole = &userRole
	}
	if tenantName, ok := utils.GetTenantNameFromContext(ctx); ok && tenantName != "" {
		entry.TenantName = &tenantName
	}
	if ip, ok := utils.GetIpAddressFromContext(ctx); ok && ip != "" {
		entry.IpAddress = &ip
	}
	if ua, ok := utils.GetUserAgentFromContext(ctx); ok && ua != "" {
		entry.UserAgent = &ua
	}
	if requestId, ok := utils.GetRequestIdFromContext(ctx); ok && requestId != "" {
		entry.RequestId = &requestId
	}

	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, utils.NewStorageError("RecordAuditChange", err)
	}
	return &entry, nil
}

// GetAuditLogs lists entries for one entity, newest first.
func GetAuditLogs(ctx context.Context, db *gorm.DB, entityType string, entityId int) ([]*AuditLog, error) {
	var results []*AuditLog
	err := db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityId).
		Order("created_at DESC, id DESC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type AuditLogsConnection struct {
	Edges    []*AuditLogsEdge `json:"edges"`
	PageInfo *PageInfo        `json:"pageInfo"`
}

type AuditLogsEdge Edge[AuditLog]

func (obj AuditLog) GetId() int {
	return obj.ID
}

func (obj AuditLog) GetCursor() string {
	return obj.CreatedAt.String()
}

func PaginateAuditLogs(ctx context.Context,
	db *gorm.DB,
	limit int,
	after *string,
	entityType string,
	entityId int,
	operation *AuditOperation,
) (*AuditLogsConnection, error) {

	dbCtx := db.WithContext(ctx).Where("entity_type = ? AND entity_id = ?", entityType, entityId)
	if operation != nil && *operation != "" {
		dbCtx.Where("operation = ?", *operation)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[AuditLog](dbCtx, limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var connection AuditLogsConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		auditEdge := AuditLogsEdge(edge)
		connection.Edges = append(connection.Edges, &auditEdge)
	}

	return &connection, err
}
