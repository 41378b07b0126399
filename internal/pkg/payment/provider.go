package payment

import (
	"context"
	"errors"
)

// ErrProviderUnavailable marks failures where the provider itself is
// down or disabled, as opposed to a rejected request. The failover
// manager treats any provider error as grounds to try the backup.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// AddressRequest asks a provider for a fresh deposit address bound to
// an order.
type AddressRequest struct {
	Currency    string
	Amount      string
	CallbackURL string
	ReferenceID string
	Metadata    map[string]string
}

// AddressResult is a provider's answer to an address request.
type AddressResult struct {
	Address               string
	PaymentID             string
	RequiredConfirmations int
	ExpiresIn             int // seconds
}

// StatusResult reports the provider-side view of a payment.
type StatusResult struct {
	TxID          string
	Status        string
	Confirmations int
	AmountCrypto  string
}

// Provider is one payment rail. Implementations wrap the provider's
// HTTP API; all methods honour the passed context deadline.
type Provider interface {
	Name() string
	// Available reports whether the provider is enabled and fully
	// configured; used by the failover manager before attempting a call.
	Available() bool
	CreatePaymentAddress(ctx context.Context, req AddressRequest) (*AddressResult, error)
	CheckPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error)
	GetSupportedCurrencies(ctx context.Context) ([]string, error)
}
