package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"settlement-gateway/internal/models"
)

const StripeName = "stripe"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API endpoint. Used against stripe-mock and in tests.
	BaseURL   string
	MinAmount decimal.Decimal
	Timeout   time.Duration
}

// Stripe is the card provider, driven through stripe-go.
type Stripe struct {
	cfg StripeConfig
	api *client.API
}

func NewStripe(cfg StripeConfig) *Stripe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackend(stripe.ConnectBackend),
		Uploads: stripe.GetBackend(stripe.UploadsBackend),
	}

	return &Stripe{cfg: cfg, api: client.New(cfg.SecretKey, backends)}
}

func (s *Stripe) Name() string { return StripeName }

func (s *Stripe) Capabilities() Capabilities {
	return Capabilities{Push: true, Pull: true, Signed: true, MinAmount: s.cfg.MinAmount}
}

func (s *Stripe) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.AddMetadata("order_number", req.OrderNumber)
	params.AddMetadata("intent_id", req.IntentID)
	params.AddMetadata("purpose", string(req.Purpose))
	params.SetIdempotencyKey("intent-" + req.OrderNumber)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, s.classify("create", err)
	}

	return &CreateResult{
		ExternalID: pi.ID,
		Raw:        rawJSON(pi.LastResponse, pi),
	}, nil
}

func (s *Stripe) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, s.classify("status", err)
	}
	if pi.Status == "" {
		return nil, newError(KindMalformed, StripeName, "status", fmt.Errorf("payment intent %s has no status", externalID))
	}

	return &StatusResult{
		ExternalStatus: string(pi.Status),
		ReceivedAmount: fromMinorUnits(pi.AmountReceived),
		Raw:            rawJSON(pi.LastResponse, pi),
	}, nil
}

func (s *Stripe) VerifyInbound(payload []byte, signature string) bool {
	if s.cfg.WebhookSecret == "" || signature == "" {
		return false
	}
	return webhook.ValidatePayload(payload, signature, s.cfg.WebhookSecret) == nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID             string            `json:"id"`
			Object         string            `json:"object"`
			Status         string            `json:"status"`
			AmountReceived int64             `json:"amount_received"`
			Metadata       map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Stripe) ParseInbound(payload []byte) (*Notification, error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, newError(KindMalformed, StripeName, "parse", err)
	}
	obj := evt.Data.Object
	if !strings.HasPrefix(evt.Type, "payment_intent.") || obj.ID == "" {
		return nil, newError(KindMalformed, StripeName, "parse", fmt.Errorf("unsupported event %q", evt.Type))
	}
	if obj.Status == "" {
		return nil, newError(KindMalformed, StripeName, "parse", fmt.Errorf("event %s has no status", evt.ID))
	}

	return &Notification{
		ExternalID:     obj.ID,
		OrderNumber:    obj.Metadata["order_number"],
		ExternalStatus: obj.Status,
		ReceivedAmount: fromMinorUnits(obj.AmountReceived),
		Raw:            payload,
	}, nil
}

func (s *Stripe) MapStatus(external string) models.IntentStatus {
	switch stripe.PaymentIntentStatus(external) {
	case stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction:
		return models.IntentStatusPending
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return models.IntentStatusAwaitingConfirmation
	case stripe.PaymentIntentStatusSucceeded:
		return models.IntentStatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return models.IntentStatusFailed
	}
	return ""
}

func (s *Stripe) classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= 500 ||
			stripeErr.Type == stripe.ErrorTypeAPI {
			return newError(KindUnavailable, StripeName, op, err)
		}
		return newError(KindRejected, StripeName, op, err)
	}
	return newError(KindUnavailable, StripeName, op, err)
}

func rawJSON(resp *stripe.APIResponse, fallback any) json.RawMessage {
	if resp != nil && len(resp.RawJSON) > 0 {
		return json.RawMessage(resp.RawJSON)
	}
	b, err := json.Marshal(fallback)
	if err != nil {
		return nil
	}
	return b
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
