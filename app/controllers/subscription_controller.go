package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/cache"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
	"github.com/altpay/saasbilling/internal/pkg/usercontext"
)

// SubscribeRequest is the POST /subscriptions body.
type SubscribeRequest struct {
	PlanCostID uint   `json:"plan_cost_id" validate:"required"`
	Gateway    string `json:"gateway" validate:"omitempty,oneof=stripe paypal crypto"`
	Currency   string `json:"currency"`
	Quantity   int    `json:"quantity"`
}

// HandleListPlans returns the plan catalog with all cost variants.
func HandleListPlans(c *fiber.Ctx) error {
	plans, err := repo.ListPlans()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load plans")
	}
	return c.JSON(fiber.Map{"plans": plans})
}

// HandleSubscribe starts a subscription for the authenticated user. The
// response carries whatever the user needs to complete payment: a crypto
// payment request, a PayPal approval link or a Stripe checkout session.
func HandleSubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req SubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	gatewayName := req.Gateway
	if gatewayName == "crypto" {
		gatewayName = ""
	}
	if gatewayName == "" && req.Currency == "" {
		// Cheaper than the database fallback inside the service.
		if last, err := cache.Get(cache.LastCryptoKey(userCtx.UserID)); err == nil {
			req.Currency = last
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := svc.Subscribe(ctx, userCtx.UserID, req.PlanCostID, gatewayName, req.Currency, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPlanCostNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Plan cost not found")
		case errors.Is(err, billing.ErrQuantityTooLow):
			return jsonError(c, fiber.StatusBadRequest, "quantity_too_low", err.Error())
		case errors.Is(err, billing.ErrPendingPayment):
			return jsonError(c, fiber.StatusConflict, "pending_payment", "Finish or cancel the open payment first")
		case errors.Is(err, billing.ErrAlreadySubscribed):
			return jsonError(c, fiber.StatusConflict, "already_subscribed", "Subscription already active")
		case errors.Is(err, billing.ErrPlanNotPublished):
			return jsonError(c, fiber.StatusConflict, "plan_not_published", "Plan is not available on this gateway")
		case errors.Is(err, gateway.ErrUnknownGateway):
			return jsonError(c, fiber.StatusBadRequest, "unknown_gateway", "Gateway is not configured")
		case errors.Is(err, gateway.ErrGateway):
			return jsonError(c, fiber.StatusBadGateway, "gateway_error", "Payment gateway is unavailable")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Subscribe failed")
	}

	if result.Payment != nil {
		_ = cache.Set(cache.LastCryptoKey(userCtx.UserID), result.Payment.Currency, 90*24*time.Hour)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleUnsubscribe ends one of the user's subscriptions.
func HandleUnsubscribe(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid subscription id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Unsubscribe(ctx, userCtx.UserID, uint(id)); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Subscription not found")
		case errors.Is(err, billing.ErrNotSubscriptionOwner):
			return jsonError(c, fiber.StatusForbidden, "forbidden", "Subscription does not belong to you")
		case errors.Is(err, gateway.ErrGateway):
			return jsonError(c, fiber.StatusBadGateway, "gateway_error", "Gateway cancellation failed, nothing was changed")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Unsubscribe failed")
	}

	return c.JSON(fiber.Map{"ok": true})
}

// HandleActiveSubscriptions lists the user's active subscriptions.
func HandleActiveSubscriptions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	subs, err := svc.ActiveSubscriptions(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load subscriptions")
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleListTransactions lists the user's ledger history, newest first.
func HandleListTransactions(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	txs, err := svc.Transactions(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load transactions")
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// HandleGetTransaction returns one ledger entry with its payment requests.
func HandleGetTransaction(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid transaction id")
	}

	tx, err := repo.GetTransaction(uint(id))
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Transaction not found")
	}
	if tx.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Transaction does not belong to you")
	}

	payments, err := repo.ListPaymentsForTransaction(tx.ID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load payments")
	}
	return c.JSON(fiber.Map{"transaction": tx, "payments": payments})
}
