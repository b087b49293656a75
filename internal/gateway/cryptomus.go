package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

const CryptomusName = "cryptomus"

type CryptomusConfig struct {
	MerchantID  string
	APIKey      string
	BaseURL     string
	CallbackURL string
	Lifetime    time.Duration
	MinAmount   decimal.Decimal
	Timeout     time.Duration
}

// Cryptomus is a crypto invoice provider. Requests and callbacks are signed
// with md5(base64(body) + apiKey); callbacks carry the sign inside the body.
type Cryptomus struct {
	cfg    CryptomusConfig
	caller jsonCaller
}

func NewCryptomus(cfg CryptomusConfig) *Cryptomus {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cryptomus.com/v1"
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = time.Hour
	}
	return &Cryptomus{cfg: cfg, caller: newJSONCaller(CryptomusName, cfg.Timeout)}
}

func (c *Cryptomus) Name() string { return CryptomusName }

func (c *Cryptomus) Capabilities() Capabilities {
	return Capabilities{Push: true, Pull: true, Signed: true, MinAmount: c.cfg.MinAmount}
}

type cryptomusEnvelope struct {
	State   int             `json:"state"`
	Message string          `json:"message"`
	Result  cryptomusResult `json:"result"`
}

type cryptomusResult struct {
	UUID          string          `json:"uuid"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	URL           string          `json:"url"`
	Address       string          `json:"address"`
	PaymentStatus string          `json:"payment_status"`
	Status        string          `json:"status"`
}

type cryptomusWebhook struct {
	Type          string          `json:"type"`
	UUID          string          `json:"uuid"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	Status        string          `json:"status"`
	Sign          string          `json:"sign"`
}

func (c *Cryptomus) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body, err := json.Marshal(map[string]any{
		"amount":       req.Amount.StringFixed(2),
		"currency":     strings.ToUpper(req.Currency),
		"order_id":     req.OrderNumber,
		"url_callback": firstNonEmpty(req.CallbackURL, c.cfg.CallbackURL),
		"url_success":  req.SuccessURL,
		"url_return":   req.CancelURL,
		"lifetime":     int(c.cfg.Lifetime.Seconds()),
	})
	if err != nil {
		return nil, newError(KindMalformed, CryptomusName, "create", err)
	}

	var out cryptomusEnvelope
	raw, err := c.caller.call(ctx, "create", http.MethodPost, c.cfg.BaseURL+"/payment", c.headers(body), body, &out)
	if err != nil {
		return nil, err
	}
	if out.State != 0 || out.Result.UUID == "" {
		return nil, newError(KindRejected, CryptomusName, "create", fmt.Errorf("state %d: %s", out.State, out.Message))
	}

	return &CreateResult{
		ExternalID:  out.Result.UUID,
		CheckoutURL: out.Result.URL,
		PayAddress:  out.Result.Address,
		Raw:         raw,
	}, nil
}

func (c *Cryptomus) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	body, err := json.Marshal(map[string]string{"uuid": externalID})
	if err != nil {
		return nil, newError(KindMalformed, CryptomusName, "status", err)
	}

	var out cryptomusEnvelope
	raw, err := c.caller.call(ctx, "status", http.MethodPost, c.cfg.BaseURL+"/payment/info", c.headers(body), body, &out)
	if err != nil {
		return nil, err
	}
	status := firstNonEmpty(out.Result.PaymentStatus, out.Result.Status)
	if out.State != 0 || status == "" {
		return nil, newError(KindMalformed, CryptomusName, "status", fmt.Errorf("state %d without status", out.State))
	}

	return &StatusResult{
		ExternalStatus: status,
		ReceivedAmount: out.Result.PaymentAmount,
		Raw:            raw,
	}, nil
}

// VerifyInbound ignores the signature argument: Cryptomus puts the sign in
// the body itself.
func (c *Cryptomus) VerifyInbound(payload []byte, _ string) bool {
	if c.cfg.APIKey == "" {
		return false
	}
	var hook cryptomusWebhook
	if err := json.Unmarshal(payload, &hook); err != nil || hook.Sign == "" {
		return false
	}
	expected, err := SignCryptomusWebhook(payload, c.cfg.APIKey)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(hook.Sign)), []byte(expected)) == 1
}

func (c *Cryptomus) ParseInbound(payload []byte) (*Notification, error) {
	var hook cryptomusWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, newError(KindMalformed, CryptomusName, "parse", err)
	}
	if hook.UUID == "" && hook.OrderID == "" {
		return nil, newError(KindMalformed, CryptomusName, "parse", fmt.Errorf("no uuid or order_id"))
	}
	if hook.Status == "" {
		return nil, newError(KindMalformed, CryptomusName, "parse", fmt.Errorf("no status"))
	}
	return &Notification{
		ExternalID:     hook.UUID,
		OrderNumber:    hook.OrderID,
		ExternalStatus: hook.Status,
		ReceivedAmount: hook.PaymentAmount,
		Raw:            payload,
	}, nil
}

func (c *Cryptomus) MapStatus(external string) models.IntentStatus {
	switch external {
	case "check":
		return models.IntentStatusPending
	case "process", "confirm_check":
		return models.IntentStatusAwaitingConfirmation
	case "wrong_amount", "wrong_amount_waiting":
		return models.IntentStatusPartiallyPaid
	case "paid", "paid_over":
		return models.IntentStatusCompleted
	case "fail", "system_fail", "refund_process", "refund_fail", "refund_paid", "locked":
		return models.IntentStatusFailed
	case "cancel":
		return models.IntentStatusExpired
	}
	return ""
}

func (c *Cryptomus) headers(body []byte) map[string]string {
	return map[string]string{
		"merchant": c.cfg.MerchantID,
		"sign":     cryptomusSign(body, c.cfg.APIKey),
	}
}

// SignCryptomusWebhook computes the sign a callback body should carry. The
// body is re-encoded without its sign field, with slashes escaped the way the
// provider's encoder emits them.
func SignCryptomusWebhook(payload []byte, apiKey string) (string, error) {
	canonical, err := canonicalJSON(payload, "sign")
	if err != nil {
		return "", err
	}
	escaped := strings.ReplaceAll(string(canonical), "/", `\/`)
	return cryptomusSign([]byte(escaped), apiKey), nil
}

func cryptomusSign(body []byte, apiKey string) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + apiKey))
	return hex.EncodeToString(sum[:])
}
