package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/internal/pkg/entitlements"
	"github.com/altpay/saasbilling/internal/pkg/metrics/counter"
	"github.com/altpay/saasbilling/internal/pkg/statistics"
	"github.com/altpay/saasbilling/internal/pkg/usercontext"
)

// HandleStats returns aggregate billing numbers plus the raw delivery
// counters. Aggregates are cached and may lag a few minutes.
func HandleStats(c *fiber.Ctx) error {
	data := statistics.GetStatisticsData()

	counters, err := counter.Snapshot()
	if err != nil {
		counters = nil
	}

	return c.JSON(fiber.Map{
		"stats":    data,
		"counters": counters,
	})
}

// HandleEntitlements tells the caller what their subscriptions currently
// grant. Downstream services use this instead of reading subscription rows.
func HandleEntitlements(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	subs, err := svc.ActiveSubscriptions(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load subscriptions")
	}
	return c.JSON(entitlements.Resolve(subs))
}
