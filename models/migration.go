package models

import (
	"gorm.io/gorm"
)

// MigrateTenantTables brings one tenant database up to the current schema.
// Runs on first connection to a tenant and from operational tools.
func MigrateTenantTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&Invoice{}, &InvoiceItem{},
		&InvoiceBackup{}, &InvoiceBackupSummary{},
		&AuditLog{},
	)
}
