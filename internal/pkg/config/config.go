package config

import (
	"strconv"
	"strings"

	"github.com/altpay/saasbilling/internal/pkg/env"
)

// GatewayAuth holds the credential set for one external payment gateway.
type GatewayAuth struct {
	APIKey        string
	APISecret     string
	PublicKey     string
	WebhookID     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Environment   string // "sandbox" or "live"
}

// Live reports whether the gateway credentials target the production API.
func (g GatewayAuth) Live() bool {
	return strings.EqualFold(g.Environment, "live")
}

// Policy carries the subscription policy flags recognized by the billing
// core.
type Policy struct {
	NoMultipleSubscription      bool
	ReusePreviousSubscription   bool
	ExtraCostMultiply           bool
	DefaultFallbackPlanCostID   uint
	DueScanWindowDays           int
	DefaultCryptoCurrency       string
}

// Config is built once at startup and handed to the components that need it.
// Nothing in this package reads the environment after Load returns.
type Config struct {
	Stripe GatewayAuth
	Paypal GatewayAuth
	Policy Policy

	// PaymentCallbackToken authenticates status callbacks from the crypto
	// payment processor.
	PaymentCallbackToken string

	ScannerCronSpec string
}

// Load assembles the configuration from the environment (.env via the env
// package, OS env as fallback).
func Load() *Config {
	return &Config{
		Stripe: GatewayAuth{
			APIKey:        env.GetEnv("STRIPE_SECRET_KEY", ""),
			PublicKey:     env.GetEnv("STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    env.GetEnv("STRIPE_SUCCESS_URL", ""),
			CancelURL:     env.GetEnv("STRIPE_CANCEL_URL", ""),
			Environment:   env.GetEnv("STRIPE_ENV", "sandbox"),
		},
		Paypal: GatewayAuth{
			APIKey:      env.GetEnv("PAYPAL_CLIENT_ID", ""),
			APISecret:   env.GetEnv("PAYPAL_CLIENT_SECRET", ""),
			WebhookID:   env.GetEnv("PAYPAL_WEBHOOK_ID", ""),
			SuccessURL:  env.GetEnv("PAYPAL_SUCCESS_URL", ""),
			CancelURL:   env.GetEnv("PAYPAL_CANCEL_URL", ""),
			Environment: env.GetEnv("PAYPAL_ENV", "sandbox"),
		},
		Policy: Policy{
			NoMultipleSubscription:    getBool("POLICY_NO_MULTIPLE_SUBSCRIPTION", true),
			ReusePreviousSubscription: getBool("POLICY_REUSE_PREVIOUS_SUBSCRIPTION", true),
			ExtraCostMultiply:         getBool("POLICY_EXTRA_COST_MULTIPLY", false),
			DefaultFallbackPlanCostID: getUint("POLICY_DEFAULT_PLAN_COST_ID", 0),
			DueScanWindowDays:         getInt("SCANNER_DUE_WINDOW_DAYS", 7),
			DefaultCryptoCurrency:     env.GetEnv("DEFAULT_CRYPTO_CURRENCY", "BITCOIN"),
		},
		PaymentCallbackToken: env.GetEnv("PAYMENT_CALLBACK_TOKEN", ""),
		ScannerCronSpec:      env.GetEnv("SCANNER_CRON", "@every 5m"),
	}
}

func getBool(key string, def bool) bool {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func getInt(key string, def int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func getUint(key string, def uint) uint {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return def
	}
	return uint(v)
}
