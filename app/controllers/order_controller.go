package controllers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/deposit"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
	"github.com/tradesafe-app/paygate/internal/pkg/payment"
)

var orderValidate = validator.New()

// OrderController exposes the order lifecycle: creation, payment
// address provisioning through the provider failover manager, and a
// poll-based status check that feeds the same reconciliation path the
// webhooks use.
type OrderController struct {
	repos      *repository.Repositories
	providers  *payment.FailoverManager
	reconciler *deposit.Service
}

func NewOrderController(repos *repository.Repositories, providers *payment.FailoverManager, reconciler *deposit.Service) *OrderController {
	return &OrderController{repos: repos, providers: providers, reconciler: reconciler}
}

type createOrderRequest struct {
	BuyerID      uint   `json:"buyer_id" validate:"required"`
	SellerID     uint   `json:"seller_id" validate:"required"`
	Currency     string `json:"currency" validate:"required,uppercase,min=2,max=10"`
	AmountCrypto string `json:"amount_crypto" validate:"required"`
	AmountFiat   string `json:"amount_fiat"`
	FiatCurrency string `json:"fiat_currency"`
}

// HandleCreateOrder creates a new escrow order in status new.
func (oc *OrderController) HandleCreateOrder(c *fiber.Ctx) error {
	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "invalid request body",
		})
	}
	if err := orderValidate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": err.Error(),
		})
	}

	order := &models.ExchangeOrder{
		Reference:    uuid.New().String(),
		BuyerID:      req.BuyerID,
		SellerID:     req.SellerID,
		Currency:     req.Currency,
		AmountCrypto: req.AmountCrypto,
		AmountFiat:   req.AmountFiat,
		FiatCurrency: req.FiatCurrency,
		Status:       models.OrderStatusNew,
	}
	if err := oc.repos.Order.Create(order); err != nil {
		log.Errorf("[Order] Create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "order creation failed",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// HandleGetOrder returns one order with its deposits.
func (oc *OrderController) HandleGetOrder(c *fiber.Ctx) error {
	order, err := oc.loadOrder(c)
	if order == nil {
		return err
	}
	deposits, err := oc.repos.Deposit.ListByOrderID(order.ID)
	if err != nil {
		log.Errorf("[Order] Deposit list failed for order %d: %v", order.ID, err)
		deposits = nil
	}
	return c.JSON(fiber.Map{"order": order, "deposits": deposits})
}

// HandleCreatePaymentAddress provisions a deposit address for the order
// via the active provider, failing over to the backup when the primary
// is down.
func (oc *OrderController) HandleCreatePaymentAddress(c *fiber.Ctx) error {
	order, err := oc.loadOrder(c)
	if order == nil {
		return err
	}
	if order.Status != models.OrderStatusNew && order.Status != models.OrderStatusAwaiting {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "error", "message": "order is not awaiting payment",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	result, providerUsed, err := oc.providers.CreatePaymentAddress(ctx, payment.AddressRequest{
		Currency:    order.Currency,
		Amount:      order.AmountCrypto,
		CallbackURL: callbackURL(models.GetPaymentSettings().PrimaryProvider),
		ReferenceID: strconv.FormatUint(uint64(order.ID), 10),
		Metadata:    map[string]string{"reference": order.Reference},
	})
	if err != nil {
		log.Errorf("[Order] Address provisioning failed for order %d: %v", order.ID, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "error", "message": "no payment provider available",
		})
	}

	if err := oc.repos.Order.SetPaymentAddress(order.ID, providerUsed, result.Address); err != nil {
		log.Errorf("[Order] Failed to store address for order %d: %v", order.ID, err)
	}
	if order.Status == models.OrderStatusNew {
		if _, err := oc.repos.Order.UpdateStatus(order.ID, models.OrderStatusNew, models.OrderStatusAwaiting); err != nil {
			log.Errorf("[Order] Failed to move order %d to awaiting_payment: %v", order.ID, err)
		}
	}

	return c.JSON(fiber.Map{
		"provider":               providerUsed,
		"address":                result.Address,
		"payment_id":             result.PaymentID,
		"required_confirmations": result.RequiredConfirmations,
		"expires_in":             result.ExpiresIn,
	})
}

// HandleCheckPaymentStatus polls the provider for a payment and, when
// the provider reports a transaction, runs it through the same
// reconciliation path the webhook pipeline uses. This covers webhooks
// the provider never managed to deliver.
func (oc *OrderController) HandleCheckPaymentStatus(c *fiber.Ctx) error {
	order, err := oc.loadOrder(c)
	if order == nil {
		return err
	}
	paymentID := c.Query("payment_id")
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "payment_id is required",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
	defer cancel()

	status, providerUsed, err := oc.providers.CheckPaymentStatus(ctx, paymentID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "error", "message": "no payment provider available",
		})
	}

	var outcome *deposit.Outcome
	if status.TxID != "" {
		outcome, err = oc.reconciler.Reconcile(ctx, deposit.ReconcileInput{
			Provider:      providerUsed,
			TxID:          status.TxID,
			OrderID:       order.ID,
			Address:       order.Address,
			Currency:      order.Currency,
			AmountCrypto:  status.AmountCrypto,
			Confirmations: status.Confirmations,
			RawPayload:    fmt.Sprintf(`{"source":"status_poll","payment_id":%q}`, paymentID),
		})
		if err != nil {
			log.Warnf("[Order] Poll-driven reconcile for order %d txid %s: %v", order.ID, status.TxID, err)
		}
	}

	resp := fiber.Map{
		"provider":      providerUsed,
		"tx_id":         status.TxID,
		"state":         status.Status,
		"confirmations": status.Confirmations,
	}
	if outcome != nil {
		resp["reconcile"] = outcome
	}
	return c.JSON(resp)
}

// loadOrder resolves the :id path parameter. On a bad or unknown id it
// writes the 400/404 response itself and returns a nil order, so
// callers must branch on the order pointer, not the error.
func (oc *OrderController) loadOrder(c *fiber.Ctx) (*models.ExchangeOrder, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "invalid order id",
		})
	}
	order, err := oc.repos.Order.GetByID(uint(id))
	if err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status": "error", "message": "order not found",
		})
	}
	return order, nil
}

// callbackURL is the webhook URL registered with the provider when an
// address is created.
func callbackURL(provider string) string {
	base := env.GetEnv("PUBLIC_URL", "http://localhost:4000")
	endpoint := "ipn"
	if provider == models.ProviderBlockRail {
		endpoint = "notify"
	}
	return fmt.Sprintf("%s/webhook/%s/%s", base, provider, endpoint)
}
