package models

import (
	"errors"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Known payment providers.
const (
	ProviderCoinPayd  = "coinpayd"
	ProviderBlockRail = "blockrail"
)

// PaymentSettings is the single administrative configuration row for
// provider selection. It is mutated only through UpdatePaymentSettings;
// readers see an immutable snapshot swapped atomically.
type PaymentSettings struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PrimaryProvider  string    `gorm:"type:varchar(32);not null;default:'coinpayd'" json:"primary_provider"`
	BackupProvider   string    `gorm:"type:varchar(32);not null;default:'blockrail'" json:"backup_provider"`
	FailoverEnabled  bool      `gorm:"default:true" json:"failover_enabled"`
	CoinPaydEnabled  bool      `gorm:"default:true" json:"coinpayd_enabled"`
	BlockRailEnabled bool      `gorm:"default:true" json:"blockrail_enabled"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var settingsSnapshot atomic.Pointer[PaymentSettings]

// GetPaymentSettings returns the current immutable settings snapshot.
// Callers must not mutate the returned value.
func GetPaymentSettings() *PaymentSettings {
	if s := settingsSnapshot.Load(); s != nil {
		return s
	}
	// Sensible defaults until LoadPaymentSettings has run.
	return &PaymentSettings{
		ID:               1,
		PrimaryProvider:  ProviderCoinPayd,
		BackupProvider:   ProviderBlockRail,
		FailoverEnabled:  true,
		CoinPaydEnabled:  true,
		BlockRailEnabled: true,
	}
}

// LoadPaymentSettings reads (or seeds) the settings row and publishes
// it as the process-wide snapshot.
func LoadPaymentSettings(db *gorm.DB) (*PaymentSettings, error) {
	var s PaymentSettings
	err := db.First(&s, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s = *GetPaymentSettings()
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	snap := s
	settingsSnapshot.Store(&snap)
	return &snap, nil
}

// UpdatePaymentSettings persists changed settings and swaps the
// snapshot. Switching the primary automatically makes the previous
// primary the backup so failover always has a distinct target.
func UpdatePaymentSettings(db *gorm.DB, update func(s *PaymentSettings)) (*PaymentSettings, error) {
	current := *GetPaymentSettings()
	prevPrimary := current.PrimaryProvider
	update(&current)
	if current.PrimaryProvider != prevPrimary {
		current.BackupProvider = prevPrimary
	}
	current.ID = 1
	if db != nil {
		if err := db.Save(&current).Error; err != nil {
			return nil, err
		}
	}
	snap := current
	settingsSnapshot.Store(&snap)
	return &snap, nil
}

// IsProviderEnabled reports whether callbacks from the given provider
// are currently accepted.
func (s *PaymentSettings) IsProviderEnabled(provider string) bool {
	switch provider {
	case ProviderCoinPayd:
		return s.CoinPaydEnabled
	case ProviderBlockRail:
		return s.BlockRailEnabled
	default:
		return false
	}
}

// ResetPaymentSettingsForTest clears the snapshot (test helper).
func ResetPaymentSettingsForTest() {
	settingsSnapshot.Store(nil)
}
