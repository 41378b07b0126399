package models

import "time"

// Deposit statuses. The lifecycle only ever moves forward:
// pending_unconfirmed -> ready_to_credit -> credited.
const (
	DepositStatusPendingUnconfirmed = "pending_unconfirmed"
	DepositStatusReadyToCredit      = "ready_to_credit"
	DepositStatusCredited           = "credited"
)

// depositTransitions is the closed allowed-transitions table. Anything
// not listed here is an invalid transition and must be rejected before
// mutation.
var depositTransitions = map[string][]string{
	DepositStatusPendingUnconfirmed: {DepositStatusReadyToCredit},
	DepositStatusReadyToCredit:      {DepositStatusCredited},
	DepositStatusCredited:           {},
}

// Deposit is the canonical, idempotent record of a single provider
// transaction (txid). Exactly one row exists per (provider, txid); the
// unique index backs the conflict-based upsert used when two workers
// race on first sighting.
type Deposit struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	Provider              string     `gorm:"type:varchar(32);not null;index:ux_deposits_provider_txid,unique,priority:1" json:"provider"`
	TxID                  string     `gorm:"type:varchar(128);not null;index:ux_deposits_provider_txid,unique,priority:2" json:"txid"`
	OrderID               uint       `gorm:"not null;index" json:"order_id"`
	Address               string     `gorm:"type:varchar(128)" json:"address"`
	Currency              string     `gorm:"type:varchar(16);not null" json:"currency"`
	AmountCrypto          string     `gorm:"type:decimal(30,12);not null" json:"amount_crypto"`
	AmountFiat            string     `gorm:"type:decimal(20,2)" json:"amount_fiat"`
	FiatCurrency          string     `gorm:"type:varchar(8)" json:"fiat_currency"`
	Confirmations         int        `gorm:"default:0" json:"confirmations"`
	RequiredConfirmations int        `gorm:"default:1" json:"required_confirmations"`
	Status                string     `gorm:"type:varchar(32);not null;default:'pending_unconfirmed';index" json:"status"`
	UserID                uint       `gorm:"index" json:"user_id"`
	RawPayload            string     `gorm:"type:longtext" json:"raw_payload"`
	CreditedAt            *time.Time `gorm:"type:timestamp;default:null" json:"credited_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CanTransitionTo reports whether moving the deposit to the target
// status is allowed by the transitions table.
func (d *Deposit) CanTransitionTo(target string) bool {
	for _, allowed := range depositTransitions[d.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsConfirmed reports whether the provider-reported confirmation count
// has reached the required threshold.
func (d *Deposit) IsConfirmed() bool {
	return d.Confirmations >= d.RequiredConfirmations
}

// IsFinal reports whether the deposit reached its terminal status.
func (d *Deposit) IsFinal() bool {
	return d.Status == DepositStatusCredited
}
