package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StrictBackupTx controls whether an invoice backup insert and its summary
// upsert are wrapped in one database transaction (the default), or the
// summary is maintained as a best-effort projection repaired by
// reconciliation.
//
// Set via env:
// - STRICT_BACKUP_TX=false to disable strict mode
func StrictBackupTx() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_BACKUP_TX")))
	if v == "" {
		return true
	}
	return !(v == "0" || v == "false" || v == "no" || v == "n")
}

// BackupReconcileInterval enables the in-process reconciliation sweep.
// Zero disables the sweep (the cmd/reconcile-backup-summaries tool can
// still be run manually).
//
// Set via env:
// - BACKUP_RECONCILE_MINUTES=30
func BackupReconcileInterval() time.Duration {
	v := strings.TrimSpace(os.Getenv("BACKUP_RECONCILE_MINUTES"))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Minute
}
