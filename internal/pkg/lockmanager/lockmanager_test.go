package lockmanager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
)

// memLockRepo is an in-memory LockRepository with the same conflict
// semantics as the MySQL-backed implementation.
type memLockRepo struct {
	mu    sync.Mutex
	rows  map[string]*models.DistributedLock
	fail  error // when set, every call returns this error
	nowFn func() time.Time
}

func newMemLockRepo() *memLockRepo {
	return &memLockRepo{rows: make(map[string]*models.DistributedLock), nowFn: time.Now}
}

func (r *memLockRepo) Insert(lock *models.DistributedLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if _, exists := r.rows[lock.LockKey]; exists {
		return gorm.ErrDuplicatedKey
	}
	cp := *lock
	r.rows[lock.LockKey] = &cp
	return nil
}

func (r *memLockRepo) GetByKey(key string) (*models.DistributedLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	row, ok := r.rows[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memLockRepo) DeleteByKeyAndHolder(key, holderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if row, ok := r.rows[key]; ok && row.HolderID == holderID {
		delete(r.rows, key)
	}
	return nil
}

func (r *memLockRepo) DeleteExpiredByKey(key string, observedExpiry time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return false, r.fail
	}
	row, ok := r.rows[key]
	if !ok || !row.ExpiresAt.Equal(observedExpiry) || r.nowFn().Before(row.ExpiresAt) {
		return false, nil
	}
	delete(r.rows, key)
	return true, nil
}

func (r *memLockRepo) DeleteAllExpired() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return 0, r.fail
	}
	var n int64
	now := r.nowFn()
	for key, row := range r.rows {
		if now.After(row.ExpiresAt) {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}

func TestAcquire_Uncontended(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	lock, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", 0, "")
	require.NoError(t, err)
	require.NotNil(t, lock)

	key := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	row, err := repo.GetByKey(key)
	require.NoError(t, err)
	assert.Equal(t, models.LockTypeWebhookConfirm, row.LockType)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), row.ExpiresAt, 2*time.Second)
}

func TestAcquire_ContentionIsSingleAttempt(t *testing.T) {
	repo := newMemLockRepo()
	first := NewManager(repo)
	second := NewManager(repo)

	_, err := first.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)

	start := time.Now()
	_, err = second.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	assert.ErrorIs(t, err, ErrLockContention)
	// Non-blocking: contention answers immediately, no waiting.
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquire_DifferentTxidsDoNotContend(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	_, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-1", time.Minute, "")
	require.NoError(t, err)
	_, err = m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-2", time.Minute, "")
	require.NoError(t, err)
	// Same txid under a different lock type is also independent.
	_, err = m.Acquire(models.LockTypeOrderCredit, 42, "tx-1", time.Minute, "")
	require.NoError(t, err)
}

func TestAcquire_ReclaimsExpiredLock(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	key := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	stale := &models.DistributedLock{
		LockKey:    key,
		LockType:   models.LockTypeWebhookConfirm,
		HolderID:   "dead-worker",
		AcquiredAt: time.Now().Add(-10 * time.Minute),
		ExpiresAt:  time.Now().Add(-8 * time.Minute),
	}
	require.NoError(t, repo.Insert(stale))

	lock, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)
	require.NotNil(t, lock)

	row, err := repo.GetByKey(key)
	require.NoError(t, err)
	assert.NotEqual(t, "dead-worker", row.HolderID)
}

func TestAcquire_LostReclaimRaceIsContention(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	key := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	expiry := time.Now().Add(-time.Minute)
	require.NoError(t, repo.Insert(&models.DistributedLock{
		LockKey:   key,
		LockType:  models.LockTypeWebhookConfirm,
		HolderID:  "dead-worker",
		ExpiresAt: expiry,
	}))

	// Simulate another worker winning the compare-and-delete: the
	// conditional delete matches nothing even though our read saw an
	// expired row.
	repo.nowFn = func() time.Time { return expiry.Add(-time.Hour) }

	_, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	assert.ErrorIs(t, err, ErrLockContention)
}

func TestAcquire_StoreErrorIsNotAcquired(t *testing.T) {
	repo := newMemLockRepo()
	repo.fail = errors.New("connection refused")
	m := NewManager(repo)

	lock, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	assert.Error(t, err)
	assert.Nil(t, lock)
	assert.NotErrorIs(t, err, ErrLockContention)
}

func TestRelease_AllowsReacquire(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	lock, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)
	lock.Release()

	_, err = m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	assert.NoError(t, err)
}

func TestRelease_IsIdempotent(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	lock, err := m.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)

	lock.Release()
	lock.Release() // second release of a deleted row must not blow up

	var nilLock *Lock
	nilLock.Release() // nil handle is also safe
}

func TestRelease_AfterReclaimLeavesNewHolderLocked(t *testing.T) {
	repo := newMemLockRepo()
	original := NewManager(repo)
	reclaimer := NewManager(repo)
	third := NewManager(repo)

	staleLock, err := original.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)

	// The original holder's lock expires while it is still working.
	key := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	repo.mu.Lock()
	repo.rows[key].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	// Another worker reclaims the expired lock.
	_, err = reclaimer.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	require.NoError(t, err)

	// The original holder's deferred release fires late. It must not
	// delete the reclaimer's active lock.
	staleLock.Release()

	row, err := repo.GetByKey(key)
	require.NoError(t, err)
	assert.Equal(t, reclaimer.holderID, row.HolderID)

	_, err = third.Acquire(models.LockTypeWebhookConfirm, 42, "tx-abc", time.Minute, "")
	assert.ErrorIs(t, err, ErrLockContention)
}

func TestSweepExpired(t *testing.T) {
	repo := newMemLockRepo()
	m := NewManager(repo)

	require.NoError(t, repo.Insert(&models.DistributedLock{
		LockKey:   models.DeriveLockKey(models.LockTypeWebhookConfirm, 1, "old"),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, repo.Insert(&models.DistributedLock{
		LockKey:   models.DeriveLockKey(models.LockTypeWebhookConfirm, 2, "fresh"),
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	n, err := m.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestDeriveLockKey_Stable(t *testing.T) {
	a := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	b := models.DeriveLockKey(models.LockTypeWebhookConfirm, 42, "tx-abc")
	c := models.DeriveLockKey(models.LockTypeWebhookConfirm, 43, "tx-abc")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
