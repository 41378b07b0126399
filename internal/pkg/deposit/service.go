package deposit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/lockmanager"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics"
	"github.com/tradesafe-app/paygate/internal/pkg/metrics/counter"
	"github.com/tradesafe-app/paygate/internal/pkg/resilience"
	"github.com/tradesafe-app/paygate/internal/pkg/wallet"
)

// ErrProtectedState rejects webhooks that arrive after the parent order
// reached a protected terminal status. These are rejected outright, not
// ignored: a late retry must never revert a resolved dispute or a
// completed trade.
var ErrProtectedState = errors.New("order is in a protected terminal state")

// ErrOrderNotFound rejects webhooks referencing an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// Actions reported in a reconcile outcome.
const (
	ActionCreated    = "created"
	ActionTransition = "state_transition"
	ActionUpdated    = "updated"
	ActionDuplicate  = "duplicate"
)

// ReconcileInput is the normalized, provider-agnostic form of one
// payment webhook.
type ReconcileInput struct {
	Provider              string
	TxID                  string
	OrderID               uint
	Address               string
	Currency              string
	AmountCrypto          string
	AmountFiat            string
	FiatCurrency          string
	Confirmations         int
	RequiredConfirmations int
	RawPayload            string
}

// Outcome describes what the state machine did with a webhook.
type Outcome struct {
	Action             string `json:"action"`
	Status             string `json:"status"`
	Reason             string `json:"reason"`
	ReadyForProcessing bool   `json:"ready_for_processing"`
}

// Service drives the deposit state machine and triggers wallet
// crediting. All datastore access is breaker-wrapped; the upsert runs
// under the distributed lock for the (order, txid) pair.
type Service struct {
	deposits repository.DepositRepository
	orders   repository.OrderRepository
	locks    *lockmanager.Manager
	breakers *resilience.Registry
	creditor wallet.Creditor
}

var (
	globalService *Service
	serviceOnce   sync.Once
)

// Initialize builds the global reconciliation service. Must be called
// once during startup before GetService.
func Initialize(
	repos *repository.Repositories,
	locks *lockmanager.Manager,
	breakers *resilience.Registry,
	creditor wallet.Creditor,
) *Service {
	serviceOnce.Do(func() {
		globalService = NewService(repos, locks, breakers, creditor)
	})
	return globalService
}

// GetService returns the global reconciliation service.
func GetService() *Service {
	if globalService == nil {
		panic("deposit service not initialized. Call Initialize first.")
	}
	return globalService
}

// NewService creates a deposit reconciliation service.
func NewService(
	repos *repository.Repositories,
	locks *lockmanager.Manager,
	breakers *resilience.Registry,
	creditor wallet.Creditor,
) *Service {
	return &Service{
		deposits: repos.Deposit,
		orders:   repos.Order,
		locks:    locks,
		breakers: breakers,
		creditor: creditor,
	}
}

// Reconcile performs the idempotent upsert + state transition for one
// provider transaction.
//
// Serialization: the distributed lock for (orderID, txid) guarantees at
// most one concurrent confirmation per transaction; the unique index on
// (provider, txid) plus CAS status updates keep the upsert correct even
// for races that bypass the lock.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*Outcome, error) {
	if in.Provider == "" || in.TxID == "" || in.OrderID == 0 {
		return nil, errors.New("provider, txid and order_id are required")
	}
	if in.RequiredConfirmations <= 0 {
		in.RequiredConfirmations = 1
	}

	// Protected-state check happens before any mutation.
	order, err := s.loadOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.IsProtected() {
		log.Warnf("[Deposit] Rejected webhook for protected order %d (status=%s, txid=%s)",
			order.ID, order.Status, in.TxID)
		return nil, fmt.Errorf("%w: order=%d status=%s", ErrProtectedState, order.ID, order.Status)
	}

	lock, err := s.locks.Acquire(models.LockTypeWebhookConfirm, in.OrderID, in.TxID, lockmanager.DefaultTTL, "")
	if err != nil {
		// Contention and store errors alike mean "do not process now".
		return nil, err
	}
	defer lock.Release()

	outcome, deposit, err := s.applyTransition(ctx, in, order)
	if err != nil {
		return nil, err
	}

	if outcome.ReadyForProcessing {
		if err := s.credit(ctx, order, deposit); err != nil {
			// The deposit stays ready_to_credit; the provider's retry or
			// the status poller will drive another attempt.
			return nil, fmt.Errorf("crediting failed for txid %s: %w", in.TxID, err)
		}
		outcome.Status = models.DepositStatusCredited
	}
	return outcome, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID uint) (*models.ExchangeOrder, error) {
	var order *models.ExchangeOrder
	err := s.breakers.Protect(ctx, resilience.CategoryCritical, func(ctx context.Context) error {
		var err error
		order, err = s.orders.GetByID(orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	return order, nil
}

// applyTransition is the state machine proper. Holding the lock is the
// caller's responsibility.
func (s *Service) applyTransition(ctx context.Context, in ReconcileInput, order *models.ExchangeOrder) (*Outcome, *models.Deposit, error) {
	candidate := &models.Deposit{
		Provider:              in.Provider,
		TxID:                  in.TxID,
		OrderID:               in.OrderID,
		Address:               in.Address,
		Currency:              in.Currency,
		AmountCrypto:          in.AmountCrypto,
		AmountFiat:            in.AmountFiat,
		FiatCurrency:          in.FiatCurrency,
		Confirmations:         in.Confirmations,
		RequiredConfirmations: in.RequiredConfirmations,
		Status:                models.DepositStatusPendingUnconfirmed,
		UserID:                order.BuyerID,
		RawPayload:            in.RawPayload,
	}
	if in.Confirmations >= in.RequiredConfirmations {
		candidate.Status = models.DepositStatusReadyToCredit
	}

	var created bool
	var stored *models.Deposit
	err := s.breakers.Protect(ctx, resilience.CategoryWebhook, func(ctx context.Context) error {
		var err error
		created, stored, err = s.deposits.CreateIfNotExists(candidate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if created {
		return &Outcome{
			Action:             ActionCreated,
			Status:             stored.Status,
			Reason:             "created",
			ReadyForProcessing: stored.Status == models.DepositStatusReadyToCredit,
		}, stored, nil
	}

	switch stored.Status {
	case models.DepositStatusCredited:
		// Duplicate or retried webhook for a finalized deposit: absorb
		// it without any state change.
		return &Outcome{
			Action:             ActionDuplicate,
			Status:             stored.Status,
			Reason:             "already_credited",
			ReadyForProcessing: false,
		}, stored, nil

	case models.DepositStatusReadyToCredit:
		// Confirmed but crediting has not finished; run the trigger
		// again, the credited CAS keeps it exactly-once.
		return &Outcome{
			Action:             ActionDuplicate,
			Status:             stored.Status,
			Reason:             "awaiting_credit",
			ReadyForProcessing: true,
		}, stored, nil

	default: // pending_unconfirmed
		if in.Confirmations >= stored.RequiredConfirmations {
			if !stored.CanTransitionTo(models.DepositStatusReadyToCredit) {
				return nil, nil, fmt.Errorf("invalid transition %s -> %s for txid %s",
					stored.Status, models.DepositStatusReadyToCredit, in.TxID)
			}
			var moved bool
			err := s.breakers.Protect(ctx, resilience.CategoryWebhook, func(ctx context.Context) error {
				var err error
				moved, err = s.deposits.TransitionStatus(stored.ID,
					models.DepositStatusPendingUnconfirmed, models.DepositStatusReadyToCredit,
					map[string]interface{}{
						"confirmations": in.Confirmations,
						"raw_payload":   in.RawPayload,
					})
				return err
			})
			if err != nil {
				return nil, nil, err
			}
			if !moved {
				// Lost a race despite the lock (e.g. reclaimed stale
				// lock); reread and fall back to duplicate handling.
				reread, rerr := s.deposits.GetByProviderTxID(in.Provider, in.TxID)
				if rerr != nil {
					return nil, nil, rerr
				}
				return &Outcome{
					Action:             ActionDuplicate,
					Status:             reread.Status,
					Reason:             "concurrent_transition",
					ReadyForProcessing: reread.Status == models.DepositStatusReadyToCredit,
				}, reread, nil
			}
			stored.Status = models.DepositStatusReadyToCredit
			stored.Confirmations = in.Confirmations
			return &Outcome{
				Action:             ActionTransition,
				Status:             stored.Status,
				Reason:             "state_transition",
				ReadyForProcessing: true,
			}, stored, nil
		}

		// Still below threshold: record the new confirmation count only.
		err := s.breakers.Protect(ctx, resilience.CategoryWebhook, func(ctx context.Context) error {
			_, err := s.deposits.TransitionStatus(stored.ID,
				models.DepositStatusPendingUnconfirmed, models.DepositStatusPendingUnconfirmed,
				map[string]interface{}{"confirmations": in.Confirmations})
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		stored.Confirmations = in.Confirmations
		return &Outcome{
			Action:             ActionUpdated,
			Status:             stored.Status,
			Reason:             "confirmations_updated",
			ReadyForProcessing: false,
		}, stored, nil
	}
}

// credit invokes the external wallet collaborator and finalizes the
// deposit. The ready_to_credit -> credited CAS is what makes the
// trigger fire exactly once per canonical txid: whichever caller flips
// the row does the credit, everyone else sees a no-op.
func (s *Service) credit(ctx context.Context, order *models.ExchangeOrder, dep *models.Deposit) error {
	var moved bool
	err := s.breakers.Protect(ctx, resilience.CategoryCritical, func(ctx context.Context) error {
		now := time.Now()
		var err error
		moved, err = s.deposits.TransitionStatus(dep.ID,
			models.DepositStatusReadyToCredit, models.DepositStatusCredited,
			map[string]interface{}{"credited_at": &now})
		return err
	})
	if err != nil {
		return err
	}
	if !moved {
		log.Infof("[Deposit] Txid %s already credited by another worker", dep.TxID)
		return nil
	}

	err = s.breakers.Protect(ctx, resilience.CategoryPayment, func(ctx context.Context) error {
		return s.creditor.Credit(ctx, wallet.CreditRequest{
			Provider:     dep.Provider,
			TxID:         dep.TxID,
			OrderID:      order.ID,
			UserID:       order.BuyerID,
			Currency:     dep.Currency,
			AmountCrypto: dep.AmountCrypto,
		})
	})
	if err != nil {
		// Roll the row back so a later retry re-runs the trigger; the
		// ledger's own idempotency key makes the pair safe.
		if _, rbErr := s.deposits.TransitionStatus(dep.ID,
			models.DepositStatusCredited, models.DepositStatusReadyToCredit,
			map[string]interface{}{"credited_at": nil}); rbErr != nil {
			log.Errorf("[Deposit] Failed to roll back credit marker for txid %s: %v", dep.TxID, rbErr)
		}
		return err
	}

	if _, err := s.orders.UpdateStatus(order.ID, order.Status, models.OrderStatusPaid); err != nil {
		log.Errorf("[Deposit] Failed to mark order %d paid: %v", order.ID, err)
	}

	metrics.DepositsCredited.WithLabelValues(dep.Provider, dep.Currency).Inc()
	if err := counter.AddCredited(dep.Provider); err != nil {
		log.Errorf("[Deposit] Credited counter error: %v", err)
	}
	log.Infof("[Deposit] Credited txid %s (%s %s) for order %d",
		dep.TxID, dep.AmountCrypto, dep.Currency, order.ID)
	return nil
}
