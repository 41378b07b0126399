package lockmanager

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
)

// ErrLockContention is returned when another worker holds an active
// lock for the same key. Callers should report "already processing"
// rather than fail the request.
var ErrLockContention = errors.New("lock is held by another worker")

// DefaultTTL bounds how long a crashed worker can hold a lock before
// another worker reclaims it.
const DefaultTTL = 2 * time.Minute

// Manager implements single-attempt, non-blocking distributed locking
// on top of a lock-row table with a unique key constraint. Locks are
// visible across worker instances; an in-process mutex would not
// serialize independent processes.
type Manager struct {
	repo     repository.LockRepository
	holderID string
}

// NewManager creates a lock manager with a unique holder identity.
func NewManager(repo repository.LockRepository) *Manager {
	return &Manager{
		repo:     repo,
		holderID: uuid.New().String(),
	}
}

// Lock is a handle to an acquired lock. Release must be called on every
// exit path of the critical section.
type Lock struct {
	manager *Manager
	key     string
}

// Acquire attempts to take the lock for (lockType, orderID, txid) in a
// single non-blocking attempt.
//
// On a key conflict the existing row is inspected: if its TTL has
// elapsed it is reclaimed with a compare-and-delete on the observed
// expiry and the insert retried once; if it is still active,
// ErrLockContention is returned. Any unexpected store error is treated
// as "not acquired", since rejecting duplicate work is safer than
// risking a double credit.
func (m *Manager) Acquire(lockType string, orderID uint, txid string, ttl time.Duration, metadata string) (*Lock, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := models.DeriveLockKey(lockType, orderID, txid)

	if err := m.tryInsert(key, lockType, ttl, metadata); err == nil {
		return &Lock{manager: m, key: key}, nil
	} else if !isDuplicateKey(err) {
		return nil, fmt.Errorf("lock insert failed: %w", err)
	}

	// Conflict: another lock row exists. Reclaim it only if expired.
	existing, err := m.repo.GetByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Row vanished between insert and read; retry the insert once.
			if err := m.tryInsert(key, lockType, ttl, metadata); err == nil {
				return &Lock{manager: m, key: key}, nil
			}
			return nil, ErrLockContention
		}
		return nil, fmt.Errorf("lock read failed: %w", err)
	}

	if !existing.IsExpired() {
		return nil, fmt.Errorf("%w: key=%s holder=%s expires=%s",
			ErrLockContention, key[:12], existing.HolderID, existing.ExpiresAt.Format(time.RFC3339))
	}

	reclaimed, err := m.repo.DeleteExpiredByKey(key, existing.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("stale lock reclaim failed: %w", err)
	}
	if !reclaimed {
		// Someone else reclaimed (and likely re-acquired) it first.
		return nil, ErrLockContention
	}
	log.Warnf("[LockManager] Reclaimed stale lock %s (previous holder %s)", key[:12], existing.HolderID)

	if err := m.tryInsert(key, lockType, ttl, metadata); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrLockContention
		}
		return nil, fmt.Errorf("lock insert after reclaim failed: %w", err)
	}
	return &Lock{manager: m, key: key}, nil
}

func (m *Manager) tryInsert(key, lockType string, ttl time.Duration, metadata string) error {
	now := time.Now()
	return m.repo.Insert(&models.DistributedLock{
		LockKey:    key,
		LockType:   lockType,
		HolderID:   m.holderID,
		Metadata:   metadata,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
}

// Release deletes the lock row regardless of whether the protected work
// succeeded. The delete is scoped to this manager's holder id, so a
// release arriving after the lock expired and was reclaimed by another
// worker is a safe no-op and leaves the reclaimer's lock intact.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := l.manager.repo.DeleteByKeyAndHolder(l.key, l.manager.holderID); err != nil {
		log.Errorf("[LockManager] Failed to release lock %s: %v", l.key[:12], err)
	}
}

// SweepExpired removes every expired lock row; run at startup and
// periodically so abandoned locks do not accumulate.
func (m *Manager) SweepExpired() (int64, error) {
	return m.repo.DeleteAllExpired()
}

// isDuplicateKey detects unique-constraint violations across the GORM
// translated error and the raw MySQL error text.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
