package controllers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/config"
	"github.com/altpay/saasbilling/internal/pkg/gateway"
)

// Package-level dependencies, wired once at startup by Setup. Handlers are
// plain functions so the router stays free of constructor plumbing.
var (
	repo       billing.Repository
	svc        *billing.Service
	reconciler *billing.Reconciler
	gateways   *gateway.Registry
	cfg        *config.Config

	validate = validator.New()
)

// Setup injects the shared dependencies for all controllers.
func Setup(r billing.Repository, s *billing.Service, rec *billing.Reconciler, g *gateway.Registry, c *config.Config) {
	repo = r
	svc = s
	reconciler = rec
	gateways = g
	cfg = c
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}
