package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
)

type stubOrderRepo struct {
	orders map[uint]*models.ExchangeOrder
}

func (r *stubOrderRepo) Create(order *models.ExchangeOrder) error {
	order.ID = uint(len(r.orders) + 1)
	r.orders[order.ID] = order
	return nil
}

func (r *stubOrderRepo) GetByID(id uint) (*models.ExchangeOrder, error) {
	if order, ok := r.orders[id]; ok {
		cp := *order
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) GetByReference(reference string) (*models.ExchangeOrder, error) {
	for _, order := range r.orders {
		if order.Reference == reference {
			cp := *order
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) SetPaymentAddress(id uint, provider, address string) error {
	if order, ok := r.orders[id]; ok {
		order.Provider = provider
		order.Address = address
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (r *stubOrderRepo) UpdateStatus(id uint, from, to string) (bool, error) {
	order, ok := r.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	return true, nil
}

type stubDepositRepo struct {
	deposits []models.Deposit
}

func (r *stubDepositRepo) CreateIfNotExists(deposit *models.Deposit) (bool, *models.Deposit, error) {
	return false, nil, errors.New("not implemented")
}

func (r *stubDepositRepo) GetByProviderTxID(provider, txid string) (*models.Deposit, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubDepositRepo) GetByID(id uint) (*models.Deposit, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubDepositRepo) ListByOrderID(orderID uint) ([]models.Deposit, error) {
	var out []models.Deposit
	for _, d := range r.deposits {
		if d.OrderID == orderID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *stubDepositRepo) TransitionStatus(id uint, from, to string, fields map[string]interface{}) (bool, error) {
	return false, errors.New("not implemented")
}

// The provider manager and reconciler are only reached after the order
// resolves, so nil is fine for the lookup paths under test.
func newOrderTestApp(orders map[uint]*models.ExchangeOrder, deposits []models.Deposit) *fiber.App {
	repos := &repository.Repositories{
		Order:   &stubOrderRepo{orders: orders},
		Deposit: &stubDepositRepo{deposits: deposits},
	}
	oc := NewOrderController(repos, nil, nil)

	app := fiber.New()
	app.Get("/api/v1/orders/:id", oc.HandleGetOrder)
	app.Post("/api/v1/orders/:id/payment-address", oc.HandleCreatePaymentAddress)
	app.Get("/api/v1/orders/:id/payment-status", oc.HandleCheckPaymentStatus)
	return app
}

func TestGetOrder_UnknownIDIs404(t *testing.T) {
	app := newOrderTestApp(map[uint]*models.ExchangeOrder{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/orders/999", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "order not found", body["message"])
}

func TestGetOrder_InvalidIDIs400(t *testing.T) {
	app := newOrderTestApp(map[uint]*models.ExchangeOrder{}, nil)

	for _, id := range []string{"abc", "0", "-1"} {
		req := httptest.NewRequest("GET", "/api/v1/orders/"+id, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, "id=%q", id)
	}
}

func TestGetOrder_ReturnsOrderWithDeposits(t *testing.T) {
	orders := map[uint]*models.ExchangeOrder{
		100: {
			ID:        100,
			Reference: "ref-100",
			BuyerID:   7,
			SellerID:  8,
			Currency:  "BTC",
			Status:    models.OrderStatusAwaiting,
			CreatedAt: time.Now(),
		},
	}
	deposits := []models.Deposit{
		{Provider: models.ProviderCoinPayd, TxID: "tx-abc", OrderID: 100, Status: models.DepositStatusPendingUnconfirmed},
	}
	app := newOrderTestApp(orders, deposits)

	req := httptest.NewRequest("GET", "/api/v1/orders/100", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ref-100")
	assert.Contains(t, string(raw), "tx-abc")
}

func TestCreatePaymentAddress_UnknownOrderIs404(t *testing.T) {
	app := newOrderTestApp(map[uint]*models.ExchangeOrder{}, nil)

	req := httptest.NewRequest("POST", "/api/v1/orders/999/payment-address", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCheckPaymentStatus_UnknownOrderIs404(t *testing.T) {
	app := newOrderTestApp(map[uint]*models.ExchangeOrder{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/orders/999/payment-status?payment_id=p-1", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
