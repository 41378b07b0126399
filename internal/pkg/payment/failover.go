package payment

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics"
)

// FailoverManager routes provider calls to the configured primary and
// falls back to the backup when the primary errors, so a single payment
// rail going down does not stop new escrow deposits. Which provider is
// primary comes from the atomic settings snapshot read per request.
type FailoverManager struct {
	providers map[string]Provider
}

// NewFailoverManager creates a manager over the given providers.
func NewFailoverManager(providers ...Provider) *FailoverManager {
	m := &FailoverManager{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		m.providers[p.Name()] = p
	}
	return m
}

// NewFailoverManagerFromEnv builds the manager with both known provider clients.
func NewFailoverManagerFromEnv() *FailoverManager {
	return NewFailoverManager(NewCoinPaydClientFromEnv(), NewBlockRailClientFromEnv())
}

// ordered returns the (primary, backup) pair per the current settings
// snapshot and whether failover is enabled.
func (m *FailoverManager) ordered() (Provider, Provider, bool) {
	s := models.GetPaymentSettings()
	return m.providers[s.PrimaryProvider], m.providers[s.BackupProvider], s.FailoverEnabled
}

// CreatePaymentAddress requests a deposit address, failing over to the
// backup provider when allowed. Returns the name of the provider that
// served the request.
func (m *FailoverManager) CreatePaymentAddress(ctx context.Context, req AddressRequest) (*AddressResult, string, error) {
	var result *AddressResult
	used, err := m.attempt(ctx, func(p Provider) error {
		r, err := p.CreatePaymentAddress(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, used, err
}

// CheckPaymentStatus polls a payment's status with failover.
func (m *FailoverManager) CheckPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, string, error) {
	var result *StatusResult
	used, err := m.attempt(ctx, func(p Provider) error {
		r, err := p.CheckPaymentStatus(ctx, paymentID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, used, err
}

// GetSupportedCurrencies lists currencies with failover.
func (m *FailoverManager) GetSupportedCurrencies(ctx context.Context) ([]string, string, error) {
	var result []string
	used, err := m.attempt(ctx, func(p Provider) error {
		r, err := p.GetSupportedCurrencies(ctx)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, used, err
}

// attempt runs call against the primary, then the backup. Both failures
// are surfaced combined so operators see the full picture.
func (m *FailoverManager) attempt(ctx context.Context, call func(p Provider) error) (string, error) {
	primary, backup, failoverEnabled := m.ordered()

	var primaryErr error
	if primary == nil {
		primaryErr = fmt.Errorf("%w: primary provider is not registered", ErrProviderUnavailable)
	} else if !primary.Available() {
		primaryErr = fmt.Errorf("%w: %s is not available", ErrProviderUnavailable, primary.Name())
	} else {
		primaryErr = call(primary)
		if primaryErr == nil {
			return primary.Name(), nil
		}
	}

	if !failoverEnabled || backup == nil || backup.Name() == primaryName(primary) {
		return "", fmt.Errorf("primary provider failed and failover is unavailable: %w", primaryErr)
	}

	log.Warnf("[Failover] Primary provider %s failed, trying backup %s: %v",
		primaryName(primary), backup.Name(), primaryErr)
	metrics.FailoverAttempts.WithLabelValues(primaryName(primary), backup.Name()).Inc()

	if !backup.Available() {
		return "", fmt.Errorf("both providers failed: primary: %v; backup %s is not available",
			primaryErr, backup.Name())
	}
	if backupErr := call(backup); backupErr != nil {
		return "", fmt.Errorf("both providers failed: primary: %v; backup: %v", primaryErr, backupErr)
	}
	return backup.Name(), nil
}

func primaryName(p Provider) string {
	if p == nil {
		return "unconfigured"
	}
	return p.Name()
}
