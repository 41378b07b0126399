package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradesafe-app/paygate/app/models"
)

// depositRepository implements DepositRepository backed by GORM
type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new deposit repository instance
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) CreateIfNotExists(deposit *models.Deposit) (bool, *models.Deposit, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "tx_id"},
		},
		DoNothing: true,
	}).Create(deposit)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	// Reread so callers always see the stored row, including when a
	// racing insert won the unique index.
	var stored models.Deposit
	if err := r.db.Where("provider = ? AND tx_id = ?", deposit.Provider, deposit.TxID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *depositRepository) GetByProviderTxID(provider, txid string) (*models.Deposit, error) {
	var deposit models.Deposit
	err := r.db.Where("provider = ? AND tx_id = ?", provider, txid).First(&deposit).Error
	if err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *depositRepository) GetByID(id uint) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := r.db.First(&deposit, id).Error; err != nil {
		return nil, err
	}
	return &deposit, nil
}

func (r *depositRepository) ListByOrderID(orderID uint) ([]models.Deposit, error) {
	var deposits []models.Deposit
	err := r.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&deposits).Error
	return deposits, err
}

func (r *depositRepository) TransitionStatus(id uint, from, to string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	tx := r.db.Model(&models.Deposit{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
