package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/digitax/fbr_backend/config"
	"gorm.io/gorm"
)

// AcquireInvoicePostingLock serializes posting per invoice across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so acquire and release must run on a
// connection-pinned handle (inside gorm's Connection or Transaction callback),
// never on the pooled *gorm.DB directly.
func AcquireInvoicePostingLock(conn *gorm.DB, tenantId string, invoiceId int) error {
	lockName := postingLockName(tenantId, invoiceId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for tenant=%s invoice=%d", tenantId, invoiceId)
	}
	return nil
}

// ReleaseInvoicePostingLock must run on the same connection that acquired the
// lock; RELEASE_LOCK from any other session returns 0 and leaves the lock held.
func ReleaseInvoicePostingLock(conn *gorm.DB, tenantId string, invoiceId int) {
	lockName := postingLockName(tenantId, invoiceId)
	var ok int
	if err := conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&ok).Error; err != nil || ok != 1 {
		msg := fmt.Sprintf("RELEASE_LOCK returned %d", ok)
		if err != nil {
			msg = err.Error()
		}
		config.LogWarn(config.GetLogger(), "postingLock.go", "ReleaseInvoicePostingLock", "RELEASE_LOCK", lockName, msg)
	}
}

func postingLockName(tenantId string, invoiceId int) string {
	return fmt.Sprintf("posting:%s:%d", tenantId, invoiceId)
}

// AcquireInvoiceRedisLock is a best-effort optimization on top of the
// advisory lock. Reliability must not depend on Redis: a nil return just
// means posting proceeds under the MySQL lock alone.
func AcquireInvoiceRedisLock(ctx context.Context, tenantId string, invoiceId int) *redislock.Lock {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil
	}
	key := fmt.Sprintf("lock:posting:%s:%d", tenantId, invoiceId)
	lock, err := locker.Obtain(ctx, key, 30*time.Second, nil)
	if err != nil {
		return nil
	}
	return lock
}
