package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

const NowPaymentsName = "nowpayments"

type NowPaymentsConfig struct {
	APIKey      string
	IPNSecret   string
	BaseURL     string
	PayCurrency string
	CallbackURL string
	MinAmount   decimal.Decimal
	Timeout     time.Duration
}

// NowPayments is a crypto invoice provider. Callbacks are signed with
// HMAC-SHA512 over the key-sorted JSON body (x-nowpayments-sig).
type NowPayments struct {
	cfg    NowPaymentsConfig
	caller jsonCaller
}

func NewNowPayments(cfg NowPaymentsConfig) *NowPayments {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.nowpayments.io/v1"
	}
	if cfg.PayCurrency == "" {
		cfg.PayCurrency = "usdttrc20"
	}
	return &NowPayments{cfg: cfg, caller: newJSONCaller(NowPaymentsName, cfg.Timeout)}
}

func (n *NowPayments) Name() string { return NowPaymentsName }

func (n *NowPayments) Capabilities() Capabilities {
	return Capabilities{Push: true, Pull: true, Signed: true, MinAmount: n.cfg.MinAmount}
}

type nowPaymentsPayment struct {
	PaymentID     flexID          `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	PayAddress    string          `json:"pay_address"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	OrderID       string          `json:"order_id"`
	InvoiceID     flexID          `json:"invoice_id"`
}

func (n *NowPayments) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body := map[string]any{
		"price_amount":      json.Number(req.Amount.String()),
		"price_currency":    strings.ToLower(req.Currency),
		"pay_currency":      n.cfg.PayCurrency,
		"order_id":          req.OrderNumber,
		"order_description": req.Description,
		"ipn_callback_url":  firstNonEmpty(req.CallbackURL, n.cfg.CallbackURL),
	}

	var out nowPaymentsPayment
	raw, err := n.caller.call(ctx, "create", http.MethodPost, n.cfg.BaseURL+"/payment", n.headers(), body, &out)
	if err != nil {
		return nil, err
	}
	if out.PaymentID == "" {
		return nil, newError(KindMalformed, NowPaymentsName, "create", fmt.Errorf("response has no payment_id"))
	}

	return &CreateResult{
		ExternalID: string(out.PaymentID),
		PayAddress: out.PayAddress,
		Raw:        raw,
	}, nil
}

func (n *NowPayments) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	var out nowPaymentsPayment
	raw, err := n.caller.call(ctx, "status", http.MethodGet, n.cfg.BaseURL+"/payment/"+externalID, n.headers(), nil, &out)
	if err != nil {
		return nil, err
	}
	if out.PaymentStatus == "" {
		return nil, newError(KindMalformed, NowPaymentsName, "status", fmt.Errorf("response has no payment_status"))
	}
	return &StatusResult{
		ExternalStatus: out.PaymentStatus,
		ReceivedAmount: out.ActuallyPaid,
		Raw:            raw,
	}, nil
}

func (n *NowPayments) VerifyInbound(payload []byte, signature string) bool {
	if n.cfg.IPNSecret == "" || signature == "" {
		return false
	}
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return false
	}
	expected := hmacSHA512Hex(canonical, n.cfg.IPNSecret)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

func (n *NowPayments) ParseInbound(payload []byte) (*Notification, error) {
	var ipn nowPaymentsPayment
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return nil, newError(KindMalformed, NowPaymentsName, "parse", err)
	}
	if ipn.PaymentID == "" && ipn.OrderID == "" {
		return nil, newError(KindMalformed, NowPaymentsName, "parse", fmt.Errorf("no payment_id or order_id"))
	}
	if ipn.PaymentStatus == "" {
		return nil, newError(KindMalformed, NowPaymentsName, "parse", fmt.Errorf("no payment_status"))
	}
	return &Notification{
		ExternalID:     string(ipn.PaymentID),
		OrderNumber:    ipn.OrderID,
		ExternalStatus: ipn.PaymentStatus,
		ReceivedAmount: ipn.ActuallyPaid,
		Raw:            payload,
	}, nil
}

func (n *NowPayments) MapStatus(external string) models.IntentStatus {
	switch external {
	case "waiting":
		return models.IntentStatusPending
	case "confirming", "confirmed", "sending":
		return models.IntentStatusAwaitingConfirmation
	case "partially_paid":
		return models.IntentStatusPartiallyPaid
	case "finished":
		return models.IntentStatusCompleted
	case "failed", "refunded":
		return models.IntentStatusFailed
	case "expired":
		return models.IntentStatusExpired
	}
	return ""
}

func (n *NowPayments) headers() map[string]string {
	return map[string]string{"x-api-key": n.cfg.APIKey}
}

// SignNowPayments produces the x-nowpayments-sig value for payload.
func SignNowPayments(payload []byte, secret string) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return hmacSHA512Hex(canonical, secret), nil
}

func hmacSHA512Hex(data []byte, secret string) string {
	h := hmac.New(sha512.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// flexID accepts identifiers providers send either as strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*f = flexID(num.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
