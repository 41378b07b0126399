package repository

import (
	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
)

// orderRepository implements OrderRepository backed by GORM
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *models.ExchangeOrder) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByID(id uint) (*models.ExchangeOrder, error) {
	var order models.ExchangeOrder
	if err := r.db.First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) GetByReference(reference string) (*models.ExchangeOrder, error) {
	var order models.ExchangeOrder
	if err := r.db.Where("reference = ?", reference).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) SetPaymentAddress(id uint, provider, address string) error {
	return r.db.Model(&models.ExchangeOrder{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"provider": provider, "address": address}).Error
}

func (r *orderRepository) UpdateStatus(id uint, from, to string) (bool, error) {
	tx := r.db.Model(&models.ExchangeOrder{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
