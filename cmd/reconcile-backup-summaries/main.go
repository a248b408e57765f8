package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/digitax/fbr_backend/config"
	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/digitax/fbr_backend/workflow"
)

func main() {
	tenantID := flag.String("tenant-id", "", "Tenant to reconcile (required, uuid string).")
	invoiceID := flag.Int("invoice-id", 0, "Optional: reconcile only one invoice. If 0, reconciles every invoice with backups.")
	dryRun := flag.Bool("dry-run", false, "Report drift without writing repairs.")
	flag.Parse()

	tenant := strings.TrimSpace(*tenantID)
	if tenant == "" {
		fmt.Fprintln(os.Stderr, "-tenant-id is required")
		os.Exit(1)
	}

	db, err := config.ConnectTenantDatabaseWithRetry(tenant, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect tenant database (tenant=%s): %v\n", tenant, err)
		os.Exit(1)
	}

	// Ensure schema is up-to-date (creates invoice_backup_summaries if missing).
	if err := models.MigrateTenantTables(db); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed (tenant=%s): %v\n", tenant, err)
		os.Exit(1)
	}

	ctx := utils.SetTenantIdInContext(context.Background(), tenant)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	ctx = utils.SetUserNameInContext(ctx, "ReconcileBackupSummaries")

	logger := config.GetLogger()

	if *invoiceID > 0 {
		drift, err := workflow.ReconcileBackupSummary(ctx, db, logger, *invoiceID, *dryRun)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed (invoice=%d): %v\n", *invoiceID, err)
			os.Exit(1)
		}
		if drift.HasDrift() {
			fmt.Printf("invoice=%d drift: created=%v fields=%v\n", drift.OriginalInvoiceId, drift.SummaryCreated, drift.Fields)
		} else {
			fmt.Printf("invoice=%d summary consistent\n", *invoiceID)
		}
		return
	}

	drifted, err := workflow.ReconcileAllBackupSummaries(ctx, db, logger, *dryRun)
	for _, drift := range drifted {
		fmt.Printf("invoice=%d drift: created=%v fields=%v\n", drift.OriginalInvoiceId, drift.SummaryCreated, drift.Fields)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile finished with errors: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reconcile complete: %d summaries drifted\n", len(drifted))
}
