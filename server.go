package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/digitax/fbr_backend/config"
	"github.com/digitax/fbr_backend/middlewares"
	"github.com/digitax/fbr_backend/models"
	"github.com/digitax/fbr_backend/utils"
	"github.com/digitax/fbr_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const defaultPort = "8080"

var tracer = otel.Tracer("fbr-backend")

type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// tenantDB resolves the request's tenant database. TenantMiddleware has
// already guaranteed a tenant id is present.
func tenantDB(c *gin.Context) (*gorm.DB, bool) {
	tenantId, _ := utils.GetTenantIdFromContext(c.Request.Context())
	db, err := config.GetTenantDB(tenantId)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tenant database unavailable"})
		return nil, false
	}
	return db, true
}

// bindJSON decodes the request body, shaping field-level validation errors
// into a fields map the frontend can render next to its inputs.
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		if fields := utils.ProcessValidationErrors(err); fields != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": fields})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return false
	}
	return true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case utils.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func invoiceIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice id"})
		return 0, false
	}
	return id, true
}

func createInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if !bindJSON(c, &input) {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := workflow.CreateDraftInvoice(c.Request.Context(), db, logger, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, invoice)
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), db, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func editInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		var input workflow.UpdateInvoice
		if !bindJSON(c, &input) {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := workflow.EditInvoice(c.Request.Context(), db, logger, id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func saveInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := workflow.SaveInvoice(c.Request.Context(), db, logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func postInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := workflow.PostInvoice(c.Request.Context(), db, logger, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

type fbrRequestInput struct {
	RequestPayload json.RawMessage `json:"request_payload" binding:"required"`
}

func fbrRequestHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		var input fbrRequestInput
		if !bindJSON(c, &input) {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		if err := workflow.RecordFbrRequest(c.Request.Context(), db, logger, id, input.RequestPayload); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type fbrResponseInput struct {
	ResponsePayload  json.RawMessage `json:"response_payload" binding:"required"`
	FbrInvoiceNumber *string         `json:"fbr_invoice_number"`
	Accepted         bool            `json:"accepted"`
}

func fbrResponseHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		var input fbrResponseInput
		if !bindJSON(c, &input) {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		invoice, err := workflow.RecordFbrResponse(c.Request.Context(), db, logger, id,
			input.ResponsePayload, input.FbrInvoiceNumber, input.Accepted)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, invoice)
	}
}

func deleteInvoiceHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		if err := workflow.DeleteInvoice(c.Request.Context(), db, logger, id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listBackupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}

		limit := 20
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var backupType *models.BackupType
		if v := c.Query("backup_type"); v != "" {
			t := models.BackupType(v)
			if !t.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup_type"})
				return
			}
			backupType = &t
		}

		connection, err := models.PaginateInvoiceBackups(c.Request.Context(), db, limit, after, id, backupType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func getBackupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		backupId, err := strconv.Atoi(c.Param("id"))
		if err != nil || backupId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid backup id"})
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		backup, err := models.GetInvoiceBackup(c.Request.Context(), db, backupId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, backup)
	}
}

func getBackupSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}
		summary, err := models.GetBackupSummary(c.Request.Context(), db, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func listAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := invoiceIdParam(c)
		if !ok {
			return
		}
		db, ok := tenantDB(c)
		if !ok {
			return
		}

		limit := 20
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var operation *models.AuditOperation
		if v := c.Query("operation"); v != "" {
			op := models.AuditOperation(v)
			if !op.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operation"})
				return
			}
			operation = &op
		}

		connection, err := models.PaginateAuditLogs(c.Request.Context(), db, limit, after, "invoice", id, operation)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

type reconcileRequest struct {
	TenantId  string `json:"tenant_id"`
	InvoiceId int    `json:"invoice_id"`
	DryRun    bool   `json:"dry_run"`
}

// Ops tooling (admin only): repair backup summaries that drifted from the
// backup rows.
func reconcileHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, _ := utils.GetIsAdminFromContext(c.Request.Context()); !isAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req reconcileRequest
		if !bindJSON(c, &req) {
			return
		}
		if req.TenantId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
			return
		}

		db, err := config.GetTenantDB(req.TenantId)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tenant database unavailable"})
			return
		}
		ctx := utils.SetTenantIdInContext(c.Request.Context(), req.TenantId)

		if req.InvoiceId > 0 {
			drift, err := workflow.ReconcileBackupSummary(ctx, db, logger, req.InvoiceId, req.DryRun)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"tenant_id": req.TenantId, "drift": drift})
			return
		}

		drifted, err := workflow.ReconcileAllBackupSummaries(ctx, db, logger, req.DryRun)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "drifted": drifted})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tenant_id": req.TenantId, "drifted": drifted, "count": len(drifted)})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// runReconcileSweeper periodically repairs summary drift for every tenant
// database already open in this process. Tenants that never served a
// request here get swept by their own instance or the ops tool.
func runReconcileSweeper(ctx context.Context, logger *logrus.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			spanCtx, span := tracer.Start(ctx, "backup-summary-sweep")
			for tenantId, db := range config.OpenTenantDatabases() {
				sweepCtx := utils.SetTenantIdInContext(spanCtx, tenantId)
				sweepCtx = utils.SetSkipTenantScopeInContext(sweepCtx, true)
				if _, err := workflow.ReconcileAllBackupSummaries(sweepCtx, db, logger, false); err != nil {
					logger.WithFields(logrus.Fields{
						"tenant_id": tenantId,
					}).Warn("reconcile sweep finished with errors: " + err.Error())
				}
			}
			span.End()
		}
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Tenant databases open lazily; migrate each on first connection unless
	// migrations run as a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		config.RegisterTenantOpenHook(func(tenantId string, db *gorm.DB) error {
			return models.MigrateTenantTables(db)
		})
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on tenant open")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(customErrorLogger(logger))

	// Always allow the startup probe, before any dependency touches.
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS: explicit allowlist via CORS_ALLOWED_ORIGINS in
	// production, allow-all for developer convenience otherwise.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "X-Tenant-ID", "X-Request-ID")
	corsConfig.AddExposeHeaders("Content-Length", "X-Request-ID")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(redis.NewClient(&redis.Options{
			Addr: os.Getenv("REDIS_ADDRESS"),
		}), limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.RequestMiddleware())
	r.Use(middlewares.AuthMiddleware())

	api := r.Group("/api", middlewares.TenantMiddleware())
	api.POST("/invoices", createInvoiceHandler(logger))
	api.GET("/invoices/:id", getInvoiceHandler())
	api.PUT("/invoices/:id", editInvoiceHandler(logger))
	api.DELETE("/invoices/:id", deleteInvoiceHandler(logger))
	api.POST("/invoices/:id/save", saveInvoiceHandler(logger))
	api.POST("/invoices/:id/post", postInvoiceHandler(logger))
	api.POST("/invoices/:id/fbr-request", fbrRequestHandler(logger))
	api.POST("/invoices/:id/fbr-response", fbrResponseHandler(logger))
	api.GET("/invoices/:id/backups", listBackupsHandler())
	api.GET("/invoices/:id/backup-summary", getBackupSummaryHandler())
	api.GET("/invoices/:id/audit-logs", listAuditLogsHandler())
	api.GET("/backups/:id", getBackupHandler())

	r.POST("/internal/ops/reconcile-backup-summaries", reconcileHandler(logger))
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect Redis after the port is open. Tenant databases stay lazy.
	config.ConnectRedisWithRetry()

	// Periodic drift repair, in-process. Off unless configured.
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	if interval := config.BackupReconcileInterval(); interval > 0 {
		go runReconcileSweeper(sweepCtx, logger, interval)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelSweep()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.CloseAllTenantDatabases()

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware enforces a fixed window per client IP.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
