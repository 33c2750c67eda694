package controllers

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/metrics/counter"
	"github.com/altpay/saasbilling/internal/pkg/usercontext"
)

// PaymentStatusRequest is the processor callback body.
type PaymentStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// HandleGetPayment returns one of the user's payment requests by UUID.
func HandleGetPayment(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	payment, err := repo.GetPaymentByUUID(c.Params("uuid"))
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Payment not found")
	}
	if payment.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Payment does not belong to you")
	}
	return c.JSON(payment)
}

// HandlePaymentStatusCallback receives status updates from the crypto
// payment processor. Authenticated by a shared callback token, not by user
// API keys.
func HandlePaymentStatusCallback(c *fiber.Ctx) error {
	if !callbackTokenValid(c) {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Invalid callback token")
	}

	var req PaymentStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	status := strings.ToLower(req.Status)
	_ = counter.AddPaymentCallback(status)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := reconciler.ApplyPaymentStatus(ctx, c.Params("uuid"), status)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPaymentStatus):
			return jsonError(c, fiber.StatusBadRequest, "invalid_status", err.Error())
		case errors.Is(err, billing.ErrPaymentNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "Payment not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Status update failed")
	}

	return c.JSON(fiber.Map{"ok": true})
}

func callbackTokenValid(c *fiber.Ctx) bool {
	token := strings.TrimSpace(c.Get("X-Callback-Token"))
	expected := cfg.PaymentCallbackToken
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}
