package models

import "time"

// Exchange order statuses. The protected set is terminal: once an order
// reaches one of those, no late or retried webhook may move it again.
const (
	OrderStatusNew       = "new"
	OrderStatusAwaiting  = "awaiting_payment"
	OrderStatusPaid      = "paid"
	OrderStatusCompleted = "completed"
	OrderStatusDisputed  = "disputed"
	OrderStatusRefunded  = "refunded"
	OrderStatusCancelled = "cancelled"
)

var protectedOrderStatuses = map[string]struct{}{
	OrderStatusCompleted: {},
	OrderStatusDisputed:  {},
	OrderStatusRefunded:  {},
	OrderStatusCancelled: {},
}

// ExchangeOrder is an escrow trade tracked through its own lifecycle,
// independent of any individual payment webhook.
type ExchangeOrder struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Reference    string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"reference"`
	BuyerID      uint       `gorm:"not null;index" json:"buyer_id"`
	SellerID     uint       `gorm:"not null;index" json:"seller_id"`
	Currency     string     `gorm:"type:varchar(16);not null" json:"currency"`
	AmountCrypto string     `gorm:"type:decimal(30,12);not null" json:"amount_crypto"`
	AmountFiat   string     `gorm:"type:decimal(20,2)" json:"amount_fiat"`
	FiatCurrency string     `gorm:"type:varchar(8)" json:"fiat_currency"`
	Address      string     `gorm:"type:varchar(128)" json:"address"`
	Provider     string     `gorm:"type:varchar(32)" json:"provider"`
	Status       string     `gorm:"type:varchar(32);not null;default:'new';index" json:"status"`
	ClosedAt     *time.Time `gorm:"type:timestamp;default:null" json:"closed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProtected reports whether the order sits in a terminal status that
// must never be reverted by a late-arriving webhook.
func (o *ExchangeOrder) IsProtected() bool {
	_, ok := protectedOrderStatuses[o.Status]
	return ok
}

// IsProtectedOrderStatus reports whether the given status belongs to
// the protected terminal set.
func IsProtectedOrderStatus(status string) bool {
	_, ok := protectedOrderStatuses[status]
	return ok
}
