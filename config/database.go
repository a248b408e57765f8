package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Each tenant (business) has its own MySQL database on a shared server.
// The registry hands out one pooled *gorm.DB per tenant and owns its
// lifecycle: opened lazily on first use, closed at process shutdown.
var (
	tenantDBs   = map[string]*gorm.DB{}
	tenantDBsMu sync.RWMutex
)

var ErrTenantRequired = errors.New("tenant id is required")

// onTenantOpen runs once per tenant right after its database opens.
// The server registers schema migration here; config cannot import the
// models package itself.
var onTenantOpen func(tenantId string, db *gorm.DB) error

func RegisterTenantOpenHook(hook func(tenantId string, db *gorm.DB) error) {
	tenantDBsMu.Lock()
	defer tenantDBsMu.Unlock()
	onTenantOpen = hook
}

func init() {
	// Load env from .env
	godotenv.Load()
	// IMPORTANT (Cloud Run):
	// Do NOT block startup in init() waiting for DB.
	// Cloud Run requires the container to start listening on $PORT quickly.
}

// GetTenantDB returns the pooled connection for one tenant database,
// opening it on first use. Tenant ids come from validated JWT claims or
// operator flags, never raw user input.
func GetTenantDB(tenantId string) (*gorm.DB, error) {
	tenantId = strings.TrimSpace(tenantId)
	if tenantId == "" {
		return nil, ErrTenantRequired
	}

	tenantDBsMu.RLock()
	db, ok := tenantDBs[tenantId]
	tenantDBsMu.RUnlock()
	if ok {
		return db, nil
	}

	tenantDBsMu.Lock()
	defer tenantDBsMu.Unlock()
	if db, ok := tenantDBs[tenantId]; ok {
		return db, nil
	}

	db, err := openTenantDatabase(tenantId)
	if err != nil {
		return nil, err
	}
	if onTenantOpen != nil {
		if hookErr := onTenantOpen(tenantId, db); hookErr != nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				_ = sqlDB.Close()
			}
			return nil, fmt.Errorf("tenant open hook (tenant=%s): %w", tenantId, hookErr)
		}
	}
	tenantDBs[tenantId] = db
	return db, nil
}

// ConnectTenantDatabaseWithRetry opens a tenant database, retrying with
// backoff up to maxAttempts. Used by operational tools that must not give
// up on a transient connection error.
func ConnectTenantDatabaseWithRetry(tenantId string, maxAttempts int) (*gorm.DB, error) {
	var attempt int
	for {
		attempt++
		db, err := GetTenantDB(tenantId)
		if err == nil {
			return db, nil
		}
		if attempt >= maxAttempts {
			return nil, err
		}
		sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect tenant database (tenant=%s attempt=%d): %v; retrying in %s", tenantId, attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// OpenTenantDatabases snapshots the registry. Background sweeps use it to
// visit every tenant this process has touched.
func OpenTenantDatabases() map[string]*gorm.DB {
	tenantDBsMu.RLock()
	defer tenantDBsMu.RUnlock()
	snapshot := make(map[string]*gorm.DB, len(tenantDBs))
	for tenantId, db := range tenantDBs {
		snapshot[tenantId] = db
	}
	return snapshot
}

// CloseAllTenantDatabases drains the registry. Call on shutdown.
func CloseAllTenantDatabases() {
	tenantDBsMu.Lock()
	defer tenantDBsMu.Unlock()
	for tenantId, db := range tenantDBs {
		if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				log.Printf("failed to close tenant database (tenant=%s): %v", tenantId, err)
			}
		}
		delete(tenantDBs, tenantId)
	}
}

func openTenantDatabase(tenantId string) (*gorm.DB, error) {
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := tenantDatabaseName(tenantId)

	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, dbPort)

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	dsn := fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		dbUser,
		dbPassword,
		network,
		address,
		dbName,
	)

	db, err := gorm.Open(mysql.Open(dsn), initConfig())
	if err != nil {
		return nil, fmt.Errorf("open tenant database %s: %w", dbName, err)
	}

	// Tune database/sql pool. Tenant databases share one MySQL server, so the
	// per-tenant defaults are deliberately smaller than a single-DB deployment.
	// Env overrides (optional):
	// - DB_MAX_OPEN_CONNS (default 10)
	// - DB_MAX_IDLE_CONNS (default 5)
	// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
	// - DB_CONN_MAX_IDLE_TIME_SECONDS (default 60)
	if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
		maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 10)
		maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 5)
		connMaxLife := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
		connMaxIdle := time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

		if maxOpen > 0 {
			sqlDB.SetMaxOpenConns(maxOpen)
		}
		if maxIdle >= 0 {
			sqlDB.SetMaxIdleConns(maxIdle)
		}
		if connMaxLife > 0 {
			sqlDB.SetConnMaxLifetime(connMaxLife)
		}
		if connMaxIdle > 0 {
			sqlDB.SetConnMaxIdleTime(connMaxIdle)
		}
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("tenant db connected but failed to install otelgorm plugin: %v", pluginErr)
	}
	if pluginErr := db.Use(NewTenantGuardPlugin()); pluginErr != nil {
		log.Printf("tenant db connected but failed to install tenant guard plugin: %v", pluginErr)
	}
	log.Printf("connected to tenant database (tenant=%s db=%s)", tenantId, dbName)
	return db, nil
}

// tenantDatabaseName maps a tenant id to its database name.
// Tenant ids are uuid strings; MySQL database names cannot contain dashes.
func tenantDatabaseName(tenantId string) string {
	prefix := os.Getenv("DB_NAME_PREFIX")
	if prefix == "" {
		prefix = "fbr_tenant_"
	}
	return prefix + strings.ReplaceAll(tenantId, "-", "_")
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
