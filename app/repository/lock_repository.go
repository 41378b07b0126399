package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
)

// lockRepository implements LockRepository backed by GORM
type lockRepository struct {
	db *gorm.DB
}

// NewLockRepository creates a new lock repository instance
func NewLockRepository(db *gorm.DB) LockRepository {
	return &lockRepository{db: db}
}

func (r *lockRepository) Insert(lock *models.DistributedLock) error {
	// The unique index on lock_key turns a concurrent insert into a
	// duplicate-key error, which the lock manager treats as contention.
	return r.db.Create(lock).Error
}

func (r *lockRepository) GetByKey(key string) (*models.DistributedLock, error) {
	var lock models.DistributedLock
	if err := r.db.Where("lock_key = ?", key).First(&lock).Error; err != nil {
		return nil, err
	}
	return &lock, nil
}

func (r *lockRepository) DeleteByKeyAndHolder(key, holderID string) error {
	// Holder-scoped so a late release cannot delete a lock that was
	// reclaimed and re-acquired by another worker in the meantime.
	return r.db.Where("lock_key = ? AND holder_id = ?", key, holderID).Delete(&models.DistributedLock{}).Error
}

func (r *lockRepository) DeleteExpiredByKey(key string, observedExpiry time.Time) (bool, error) {
	// Compare-and-delete on the observed expiry so two workers racing
	// to reclaim the same stale row cannot both think they removed it.
	tx := r.db.Where("lock_key = ? AND expires_at = ? AND expires_at < ?", key, observedExpiry, time.Now()).
		Delete(&models.DistributedLock{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *lockRepository) DeleteAllExpired() (int64, error) {
	tx := r.db.Where("expires_at < ?", time.Now()).Delete(&models.DistributedLock{})
	return tx.RowsAffected, tx.Error
}
