package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Lock types used as part of the lock key derivation.
const (
	LockTypeWebhookConfirm = "webhook_confirm"
	LockTypeOrderCredit    = "order_credit"
)

// DistributedLock is a database-row mutex shared across worker
// instances. The unique index on LockKey is what enforces mutual
// exclusion; expiry-aware cleanup reclaims rows left behind by crashed
// holders.
type DistributedLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	LockKey    string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"lock_key"`
	LockType   string    `gorm:"type:varchar(32);not null;index" json:"lock_type"`
	HolderID   string    `gorm:"type:varchar(64);not null" json:"holder_id"`
	Metadata   string    `gorm:"type:text" json:"metadata"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}

// IsExpired reports whether the lock's TTL has elapsed and the row may
// be reclaimed by another worker.
func (l *DistributedLock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}

// DeriveLockKey produces the stable key for a (lockType, orderID, txid)
// triple. All workers must derive keys identically for the unique index
// to serialize them.
func DeriveLockKey(lockType string, orderID uint, txid string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", lockType, orderID, txid)))
	return hex.EncodeToString(sum[:])
}
