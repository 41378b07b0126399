package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradesafe-app/paygate/app/models"
)

// webhookEventRepository implements WebhookEventRepository backed by GORM
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) GetByEventID(eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.Where("event_id = ?", eventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *webhookEventRepository) Save(event *models.WebhookEvent) error {
	return r.db.Save(event).Error
}

func (r *webhookEventRepository) ClaimQueued(eventID string) (bool, error) {
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, models.WebhookStatusQueued).
		Update("status", models.WebhookStatusProcessing)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) NextQueuedBatch(limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("status = ?", models.WebhookStatusQueued).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) ListByStatus(status string, offset, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.Where("status = ?", status).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) CountByStatus(status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.WebhookEvent{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func (r *webhookEventRepository) Requeue(eventID string) (bool, error) {
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("event_id = ? AND status = ?", eventID, models.WebhookStatusDead).
		Updates(map[string]interface{}{
			"status":      models.WebhookStatusQueued,
			"retry_count": 0,
			"last_error":  "",
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *webhookEventRepository) DeleteDoneOlderThan(age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	tx := r.db.Where("status = ? AND processed_at < ?", models.WebhookStatusDone, cutoff).
		Delete(&models.WebhookEvent{})
	return tx.RowsAffected, tx.Error
}
