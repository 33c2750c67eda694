package controllers

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/altpay/saasbilling/app/models"
	"github.com/altpay/saasbilling/internal/pkg/billing"
	"github.com/altpay/saasbilling/internal/pkg/cache"
	"github.com/altpay/saasbilling/internal/pkg/metrics/counter"
)

// HandleStripeWebhook receives Stripe events. The signature is checked
// against the endpoint secret; valid events are deduplicated and applied by
// the reconciler.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	client, err := gateways.Get(models.GatewayStripe)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Stripe is not configured")
	}
	_ = counter.AddWebhookReceived(models.GatewayStripe)

	headers := map[string]string{
		"Stripe-Signature": c.Get("Stripe-Signature"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var evt struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID                string `json:"id"`
				Subscription      string `json:"subscription"`
				ClientReferenceID string `json:"client_reference_id"`
				Customer          string `json:"customer"`
				Status            string `json:"status"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil || evt.ID == "" {
		_ = counter.AddWebhookRejected(models.GatewayStripe)
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Malformed event")
	}

	event := billing.GatewayEvent{
		Gateway:         models.GatewayStripe,
		ProviderEventID: evt.ID,
		Type:            evt.Type,
		OccurredAt:      time.Unix(evt.Created, 0),
		Payload:         rawBody,
		SignatureValid:  client.VerifyWebhook(ctx, rawBody, headers),
	}
	if !event.SignatureValid {
		_ = counter.AddWebhookRejected(models.GatewayStripe)
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Signature verification failed")
	}

	obj := evt.Data.Object
	switch {
	case strings.HasPrefix(evt.Type, "customer.subscription."):
		event.SubscriptionRef = obj.ID
	default:
		event.SubscriptionRef = obj.Subscription
	}
	event.LocalSubID = parseLocalSubID(obj.ClientReferenceID)

	if evt.Type == "checkout.session.completed" && obj.Customer != "" && event.LocalSubID != 0 {
		rememberGatewayCustomer(models.GatewayStripe, event.LocalSubID, obj.Customer)
	}

	if evt.Type == "customer.subscription.updated" {
		action := billing.StripeSubscriptionStatusAction(obj.Status)
		if err := reconciler.ProcessGatewayAction(ctx, event, action); err != nil {
			return jsonError(c, fiber.StatusInternalServerError, "processing_failed", "Event processing failed")
		}
		return c.JSON(fiber.Map{"ok": true})
	}

	if err := reconciler.ProcessGatewayEvent(ctx, event); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "processing_failed", "Event processing failed")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandlePaypalWebhook receives PayPal events, verified through PayPal's
// verify-webhook-signature API before processing.
func HandlePaypalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	client, err := gateways.Get(models.GatewayPaypal)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "not_found", "PayPal is not configured")
	}
	_ = counter.AddWebhookReceived(models.GatewayPaypal)

	headers := map[string]string{
		"Paypal-Transmission-Id":   c.Get("Paypal-Transmission-Id"),
		"Paypal-Transmission-Time": c.Get("Paypal-Transmission-Time"),
		"Paypal-Transmission-Sig":  c.Get("Paypal-Transmission-Sig"),
		"Paypal-Cert-Url":          c.Get("Paypal-Cert-Url"),
		"Paypal-Auth-Algo":         c.Get("Paypal-Auth-Algo"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var evt struct {
		ID         string `json:"id"`
		EventType  string `json:"event_type"`
		CreateTime string `json:"create_time"`
		Resource   struct {
			ID                 string `json:"id"`
			CustomID           string `json:"custom_id"`
			BillingAgreementID string `json:"billing_agreement_id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(rawBody, &evt); err != nil || evt.ID == "" {
		_ = counter.AddWebhookRejected(models.GatewayPaypal)
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "Malformed event")
	}

	event := billing.GatewayEvent{
		Gateway:         models.GatewayPaypal,
		ProviderEventID: evt.ID,
		Type:            evt.EventType,
		LocalSubID:      parseLocalSubID(evt.Resource.CustomID),
		Payload:         rawBody,
		SignatureValid:  client.VerifyWebhook(ctx, rawBody, headers),
	}
	if !event.SignatureValid {
		_ = counter.AddWebhookRejected(models.GatewayPaypal)
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Signature verification failed")
	}

	if t, err := time.Parse(time.RFC3339, evt.CreateTime); err == nil {
		event.OccurredAt = t
	}

	// For payment events the subscription id travels in
	// billing_agreement_id; subscription events carry it as the resource id.
	if strings.HasPrefix(evt.EventType, "PAYMENT.") {
		event.SubscriptionRef = evt.Resource.BillingAgreementID
	} else {
		event.SubscriptionRef = evt.Resource.ID
	}

	if err := reconciler.ProcessGatewayEvent(ctx, event); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "processing_failed", "Event processing failed")
	}
	return c.JSON(fiber.Map{"ok": true})
}

func parseLocalSubID(raw string) uint {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}
	return uint(id)
}

// rememberGatewayCustomer caches the external customer id so later charges
// reuse it. Best-effort; a miss only costs an extra customer on the gateway.
func rememberGatewayCustomer(gatewayName string, localSubID uint, customerID string) {
	sub, err := repo.GetSubscription(localSubID)
	if err != nil {
		return
	}
	gc, err := repo.GetGatewayCustomer(gatewayName, sub.UserID)
	if err != nil {
		gc = &models.GatewayCustomer{Gateway: gatewayName, UserID: sub.UserID}
	}
	if gc.CustomerID == customerID {
		return
	}
	gc.CustomerID = customerID
	if err := repo.SaveGatewayCustomer(gc); err != nil {
		return
	}
	_ = cache.Set(cache.CustomerKey(gatewayName, sub.UserID), customerID, 30*24*time.Hour)
}
