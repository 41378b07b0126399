package repository

import (
	"time"

	"github.com/tradesafe-app/paygate/app/models"
)

// DepositRepository defines database operations on canonical deposit records.
type DepositRepository interface {
	// CreateIfNotExists inserts the deposit unless a row for the same
	// (provider, txid) already exists. It returns whether a row was
	// created and the stored row either way.
	CreateIfNotExists(deposit *models.Deposit) (bool, *models.Deposit, error)
	GetByProviderTxID(provider, txid string) (*models.Deposit, error)
	GetByID(id uint) (*models.Deposit, error)
	ListByOrderID(orderID uint) ([]models.Deposit, error)
	// TransitionStatus performs a compare-and-swap status update. It
	// reports whether the row was actually moved, so concurrent writers
	// that lost the race observe updated=false instead of clobbering.
	TransitionStatus(id uint, from, to string, fields map[string]interface{}) (bool, error)
}

// OrderRepository defines database operations on exchange orders.
type OrderRepository interface {
	Create(order *models.ExchangeOrder) error
	GetByID(id uint) (*models.ExchangeOrder, error)
	GetByReference(reference string) (*models.ExchangeOrder, error)
	SetPaymentAddress(id uint, provider, address string) error
	UpdateStatus(id uint, from, to string) (bool, error)
}

// LockRepository defines the row operations backing the distributed lock manager.
type LockRepository interface {
	// Insert attempts to create the lock row; a duplicate-key error
	// means another lock is active for the same key.
	Insert(lock *models.DistributedLock) error
	GetByKey(key string) (*models.DistributedLock, error)
	// DeleteByKeyAndHolder releases a lock only if it is still owned by
	// the given holder, so a release arriving after a stale-lock reclaim
	// cannot remove the reclaimer's row.
	DeleteByKeyAndHolder(key, holderID string) error
	// DeleteExpiredByKey removes the row only if it still carries the
	// observed expiry, making stale-lock reclamation a compare-and-delete.
	DeleteExpiredByKey(key string, observedExpiry time.Time) (bool, error)
	// DeleteAllExpired sweeps every expired lock row; used at startup
	// and by the periodic sweeper.
	DeleteAllExpired() (int64, error)
}

// WebhookEventRepository defines operations on the durable webhook event rows.
type WebhookEventRepository interface {
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetByEventID(eventID string) (*models.WebhookEvent, error)
	Save(event *models.WebhookEvent) error
	// ClaimQueued flips a queued event to processing. It reports whether
	// this caller won the claim.
	ClaimQueued(eventID string) (bool, error)
	// NextQueuedBatch returns queued events ordered by priority then age;
	// used by the fallback-tier poller.
	NextQueuedBatch(limit int) ([]models.WebhookEvent, error)
	ListByStatus(status string, offset, limit int) ([]models.WebhookEvent, error)
	CountByStatus(status string) (int64, error)
	Requeue(eventID string) (bool, error)
	DeleteDoneOlderThan(age time.Duration) (int64, error)
}

// Repositories bundles all repository implementations.
type Repositories struct {
	Deposit      DepositRepository
	Order        OrderRepository
	Lock         LockRepository
	WebhookEvent WebhookEventRepository
}
