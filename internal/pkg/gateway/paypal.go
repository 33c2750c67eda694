package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/altpay/saasbilling/internal/pkg/config"
)

const (
	paypalSandboxBaseURL = "https://api.sandbox.paypal.com/v1"
	paypalLiveBaseURL    = "https://api.paypal.com/v1"
)

// PayPalClient talks to the PayPal REST billing API: catalog products,
// billing plans and subscriptions. Plans map to local plan costs.
type PayPalClient struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BrandName    string
	ReturnURL    string
	CancelURL    string

	BaseURL    string
	HTTPClient *http.Client

	mu    sync.Mutex
	token string
}

// NewPayPalClient builds a client from gateway credentials. The OAuth token
// is fetched lazily on first use.
func NewPayPalClient(auth config.GatewayAuth) *PayPalClient {
	base := paypalSandboxBaseURL
	if auth.Live() {
		base = paypalLiveBaseURL
	}
	return &PayPalClient{
		ClientID:     auth.APIKey,
		ClientSecret: auth.APISecret,
		WebhookID:    auth.WebhookID,
		BrandName:    "PayPal",
		ReturnURL:    auth.SuccessURL,
		CancelURL:    auth.CancelURL,
		BaseURL:      base,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *PayPalClient) Name() string {
	return "paypal"
}

func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: paypal token request: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: paypal token request failed: status=%d body=%s", ErrGateway, resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: paypal token response: %v", ErrGateway, err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal token response missing access_token", ErrGateway)
	}
	c.token = out.AccessToken
	return c.token, nil
}

// do issues an authenticated JSON request and returns the raw response body
// when the status is in wantStatus.
func (c *PayPalClient) do(ctx context.Context, method, path string, payload any, wantStatus ...int) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: paypal %s %s: %v", ErrGateway, method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	for _, want := range wantStatus {
		if resp.StatusCode == want {
			return body, nil
		}
	}
	return nil, fmt.Errorf("%w: paypal %s %s: status=%d body=%s", ErrGateway, method, path, resp.StatusCode, string(body))
}

// CreateOrUpdateProduct publishes a plan as a catalog product. An existing
// product is only ever patched; the external ref is never recreated.
func (c *PayPalClient) CreateOrUpdateProduct(ctx context.Context, in PlanInput) (string, error) {
	if in.ProductRef != "" {
		patch := []map[string]any{
			{"op": "replace", "path": "/description", "value": in.Description},
		}
		if _, err := c.do(ctx, http.MethodPatch, "/catalogs/products/"+in.ProductRef, patch, http.StatusOK, http.StatusNoContent); err != nil {
			return "", err
		}
		return in.ProductRef, nil
	}

	data := map[string]any{
		"name":        in.Name,
		"description": in.Description,
		"type":        "SERVICE",
		"category":    "SOFTWARE",
	}
	body, err := c.do(ctx, http.MethodPost, "/catalogs/products", data, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: paypal product response: %v", ErrGateway, err)
	}
	return out.ID, nil
}

// CreateOrUpdatePlan publishes a plan cost as a billing plan. Plans with a
// trial get a one-cycle TRIAL tenure ahead of the REGULAR cycle.
func (c *PayPalClient) CreateOrUpdatePlan(ctx context.Context, in CostInput) (string, error) {
	if in.CostRef != "" {
		patch := []map[string]any{
			{"op": "replace", "path": "/description", "value": in.Description},
		}
		if _, err := c.do(ctx, http.MethodPatch, "/billing/plans/"+in.CostRef, patch, http.StatusOK, http.StatusNoContent); err != nil {
			return "", err
		}
		return in.CostRef, nil
	}

	regular := map[string]any{
		"frequency": map[string]any{
			"interval_unit":  strings.ToUpper(in.IntervalUnit),
			"interval_count": in.IntervalCount,
		},
		"tenure_type":  "REGULAR",
		"sequence":     1,
		"total_cycles": 0,
		"pricing_scheme": map[string]any{
			"fixed_price": map[string]any{
				"value":         in.Amount.StringFixed(2),
				"currency_code": strings.ToUpper(in.Currency),
			},
		},
	}

	cycles := []map[string]any{}
	if in.TrialDays > 0 {
		cycles = append(cycles, map[string]any{
			"frequency": map[string]any{
				"interval_unit":  "DAY",
				"interval_count": in.TrialDays,
			},
			"tenure_type":  "TRIAL",
			"sequence":     1,
			"total_cycles": 1,
		})
		regular["sequence"] = 2
	}
	cycles = append(cycles, regular)

	data := map[string]any{
		"product_id":     in.ProductRef,
		"name":           in.Name,
		"description":    in.Description,
		"billing_cycles": cycles,
		"payment_preferences": map[string]any{
			"auto_bill_outstanding": true,
			"setup_fee": map[string]any{
				"value":         "0",
				"currency_code": strings.ToUpper(in.Currency),
			},
			"setup_fee_failure_action":  "CONTINUE",
			"payment_failure_threshold": 3,
		},
		"taxes": map[string]any{
			"percentage": "0",
			"inclusive":  false,
		},
	}
	body, err := c.do(ctx, http.MethodPost, "/billing/plans", data, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: paypal plan response: %v", ErrGateway, err)
	}
	return out.ID, nil
}

func (c *PayPalClient) ActivatePlan(ctx context.Context, costRef string) error {
	_, err := c.do(ctx, http.MethodPost, "/billing/plans/"+costRef+"/activate", nil, http.StatusNoContent)
	return err
}

func (c *PayPalClient) DeactivatePlan(ctx context.Context, costRef string) error {
	_, err := c.do(ctx, http.MethodPost, "/billing/plans/"+costRef+"/deactivate", nil, http.StatusNoContent)
	return err
}

// UpdatePlanPricing pushes a price change to an already-published plan.
func (c *PayPalClient) UpdatePlanPricing(ctx context.Context, costRef string, in CostInput) error {
	data := map[string]any{
		"pricing_schemes": []map[string]any{
			{
				"billing_cycle_sequence": 1,
				"pricing_scheme": map[string]any{
					"fixed_price": map[string]any{
						"value":         in.Amount.StringFixed(2),
						"currency_code": strings.ToUpper(in.Currency),
					},
				},
			},
		},
	}
	_, err := c.do(ctx, http.MethodPost, "/billing/plans/"+costRef+"/update-pricing-schemes", data, http.StatusNoContent)
	return err
}

// CreateSubscription starts a gateway subscription and returns the approval
// link the subscriber must visit.
func (c *PayPalClient) CreateSubscription(ctx context.Context, in SubscriptionInput) (*SubscriptionResult, error) {
	data := map[string]any{
		"plan_id": in.CostRef,
		"subscriber": map[string]any{
			"name": map[string]any{
				"given_name": in.FirstName,
				"surname":    in.LastName,
			},
			"email_address": in.Email,
		},
		"application_context": map[string]any{
			"brand_name":          c.BrandName,
			"locale":              "en-US",
			"shipping_preference": "NO_SHIPPING",
			"user_action":         "SUBSCRIBE_NOW",
			"payment_method": map[string]any{
				"payer_selected":  "PAYPAL",
				"payee_preferred": "IMMEDIATE_PAYMENT_REQUIRED",
			},
			"return_url": c.ReturnURL,
			"cancel_url": c.CancelURL,
		},
	}
	if in.LocalSubID != "" {
		data["custom_id"] = in.LocalSubID
	}
	if in.StartTime != nil {
		data["start_time"] = in.StartTime.UTC().Format(time.RFC3339)
	}

	body, err := c.do(ctx, http.MethodPost, "/billing/subscriptions", data, http.StatusCreated, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: paypal subscription response: %v", ErrGateway, err)
	}

	result := &SubscriptionResult{SubscriptionRef: out.ID}
	for _, link := range out.Links {
		if link.Rel == "approve" {
			result.ApprovalURL = link.Href
			break
		}
	}
	return result, nil
}

func (c *PayPalClient) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	_, err := c.do(ctx, http.MethodPost, "/billing/subscriptions/"+subscriptionRef+"/cancel", map[string]any{}, http.StatusNoContent)
	return err
}

// VerifyWebhook asks PayPal's verification API whether the delivery headers
// sign the payload for our webhook id.
func (c *PayPalClient) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) bool {
	var event json.RawMessage
	if err := json.Unmarshal(payload, &event); err != nil {
		return false
	}

	data := map[string]any{
		"transmission_id":   headers["Paypal-Transmission-Id"],
		"transmission_time": headers["Paypal-Transmission-Time"],
		"cert_url":          headers["Paypal-Cert-Url"],
		"auth_algo":         headers["Paypal-Auth-Algo"],
		"transmission_sig":  headers["Paypal-Transmission-Sig"],
		"webhook_id":        c.WebhookID,
		"webhook_event":     event,
	}
	body, err := c.do(ctx, http.MethodPost, "/notifications/verify-webhook-signature", data, http.StatusOK)
	if err != nil {
		return false
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false
	}
	return out.VerificationStatus == "SUCCESS"
}
