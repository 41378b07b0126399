package controllers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/app/repository"
	"github.com/tradesafe-app/paygate/internal/pkg/database"
	"github.com/tradesafe-app/paygate/internal/pkg/security"
)

// AdminPaymentController exposes the operational surface: provider
// settings, dead-letter inspection and the token-guarded one-shot
// actions (retry, refund, decline).
type AdminPaymentController struct {
	repos *repository.Repositories
}

func NewAdminPaymentController(repos *repository.Repositories) *AdminPaymentController {
	return &AdminPaymentController{repos: repos}
}

// HandleGetSettings returns the current provider settings snapshot.
func (ac *AdminPaymentController) HandleGetSettings(c *fiber.Ctx) error {
	return c.JSON(models.GetPaymentSettings())
}

type updateSettingsRequest struct {
	PrimaryProvider  *string `json:"primary_provider"`
	FailoverEnabled  *bool   `json:"failover_enabled"`
	CoinPaydEnabled  *bool   `json:"coinpayd_enabled"`
	BlockRailEnabled *bool   `json:"blockrail_enabled"`
}

// HandleUpdateSettings applies a partial settings update. Setting a new
// primary provider demotes the previous primary to backup.
func (ac *AdminPaymentController) HandleUpdateSettings(c *fiber.Ctx) error {
	var req updateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "invalid request body",
		})
	}
	if req.PrimaryProvider != nil {
		switch *req.PrimaryProvider {
		case models.ProviderCoinPayd, models.ProviderBlockRail:
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"status": "error", "message": "unknown provider",
			})
		}
	}

	updated, err := models.UpdatePaymentSettings(database.GetDB(), func(s *models.PaymentSettings) {
		if req.PrimaryProvider != nil {
			s.PrimaryProvider = *req.PrimaryProvider
		}
		if req.FailoverEnabled != nil {
			s.FailoverEnabled = *req.FailoverEnabled
		}
		if req.CoinPaydEnabled != nil {
			s.CoinPaydEnabled = *req.CoinPaydEnabled
		}
		if req.BlockRailEnabled != nil {
			s.BlockRailEnabled = *req.BlockRailEnabled
		}
	})
	if err != nil {
		log.Errorf("[Admin] Settings update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "settings update failed",
		})
	}
	log.Infof("[Admin] Payment settings updated: primary=%s backup=%s failover=%t",
		updated.PrimaryProvider, updated.BackupProvider, updated.FailoverEnabled)
	return c.JSON(updated)
}

// HandleListDeadEvents pages through the dead-letter queue.
func (ac *AdminPaymentController) HandleListDeadEvents(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}

	events, err := ac.repos.WebhookEvent.ListByStatus(models.WebhookStatusDead, offset, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "failed to list events",
		})
	}
	total, err := ac.repos.WebhookEvent.CountByStatus(models.WebhookStatusDead)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "failed to count events",
		})
	}
	return c.JSON(fiber.Map{"total": total, "events": events})
}

type mintTokenRequest struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

// HandleMintActionToken issues a signed single-use token for one
// sensitive action against one target.
func (ac *AdminPaymentController) HandleMintActionToken(c *fiber.Ctx) error {
	var req mintTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "invalid request body",
		})
	}
	switch req.Action {
	case security.ActionRetryEvent, security.ActionRefundOrder, security.ActionDeclineOrder, security.ActionRequeueEvents:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "unknown action",
		})
	}

	token, err := security.GenerateActionToken(req.Action, req.Target, adminID(c),
		security.DefaultActionTokenTTL, security.ActionTokenSecret())
	if err != nil {
		log.Errorf("[Admin] Token generation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "token generation failed",
		})
	}
	return c.JSON(fiber.Map{"token": token})
}

// HandleRetryEvent requeues one dead event. Requires a matching
// single-use action token.
func (ac *AdminPaymentController) HandleRetryEvent(c *fiber.Ctx) error {
	eventID := c.Params("id")
	claims, err := ac.consumeToken(c, security.ActionRetryEvent, eventID)
	if err != nil {
		return tokenError(c, err)
	}

	requeued, err := ac.repos.WebhookEvent.Requeue(eventID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "requeue failed",
		})
	}
	if !requeued {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "error", "message": "event is not in the dead-letter queue",
		})
	}
	log.Infof("[Admin] Event %s requeued by admin %d", eventID, claims.AdminID)
	return c.JSON(fiber.Map{"status": "ok"})
}

// HandleRefundOrder moves an order to refunded. Refunded is protected,
// so the webhook pipeline rejects any later callbacks for the order.
func (ac *AdminPaymentController) HandleRefundOrder(c *fiber.Ctx) error {
	return ac.closeOrder(c, security.ActionRefundOrder, models.OrderStatusRefunded)
}

// HandleDeclineOrder moves an order to cancelled.
func (ac *AdminPaymentController) HandleDeclineOrder(c *fiber.Ctx) error {
	return ac.closeOrder(c, security.ActionDeclineOrder, models.OrderStatusCancelled)
}

func (ac *AdminPaymentController) closeOrder(c *fiber.Ctx, action, toStatus string) error {
	orderParam := c.Params("id")
	claims, err := ac.consumeToken(c, action, orderParam)
	if err != nil {
		return tokenError(c, err)
	}

	orderID, err := strconv.ParseUint(orderParam, 10, 64)
	if err != nil || orderID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status": "error", "message": "invalid order id",
		})
	}
	order, err := ac.repos.Order.GetByID(uint(orderID))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status": "error", "message": "order not found",
		})
	}
	if order.IsProtected() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "error", "message": "order already closed: " + order.Status,
		})
	}

	moved, err := ac.repos.Order.UpdateStatus(order.ID, order.Status, toStatus)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "error", "message": "status update failed",
		})
	}
	if !moved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status": "error", "message": "order changed concurrently",
		})
	}
	log.Infof("[Admin] Order %d moved to %s by admin %d", order.ID, toStatus, claims.AdminID)
	return c.JSON(fiber.Map{"status": "ok", "order_status": toStatus})
}

func (ac *AdminPaymentController) consumeToken(c *fiber.Ctx, action, target string) (*security.ActionTokenClaims, error) {
	token := c.Get("X-Action-Token", c.Query("token"))
	claims, err := security.ConsumeActionToken(token, security.ActionTokenSecret())
	if err != nil {
		return nil, err
	}
	if claims.Action != action || claims.Target != target {
		return nil, errors.New("token does not authorize this action")
	}
	return claims, nil
}

func tokenError(c *fiber.Ctx, err error) error {
	status := fiber.StatusUnauthorized
	if errors.Is(err, security.ErrTokenUsed) {
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": err.Error()})
}

// adminID extracts the authenticated admin's id placed by the admin
// auth middleware; 0 means unattributed (static API key auth).
func adminID(c *fiber.Ctx) uint {
	if v, ok := c.Locals("admin_id").(uint); ok {
		return v
	}
	return 0
}
