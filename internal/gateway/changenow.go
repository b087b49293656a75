package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

const ChangeNowName = "changenow"

type ChangeNowConfig struct {
	APIKey        string
	BaseURL       string
	FromCurrency  string
	Network       string
	PayoutAddress string
	MinAmount     decimal.Decimal
	Timeout       time.Duration
}

// ChangeNow is an exchange/swap provider. It has no signed callbacks, so its
// status is only ever learned by polling.
type ChangeNow struct {
	cfg    ChangeNowConfig
	caller jsonCaller
}

func NewChangeNow(cfg ChangeNowConfig) *ChangeNow {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.changenow.io/v2"
	}
	if cfg.FromCurrency == "" {
		cfg.FromCurrency = "btc"
	}
	return &ChangeNow{cfg: cfg, caller: newJSONCaller(ChangeNowName, cfg.Timeout)}
}

func (c *ChangeNow) Name() string { return ChangeNowName }

func (c *ChangeNow) Capabilities() Capabilities {
	return Capabilities{Push: false, Pull: true, Signed: false, MinAmount: c.cfg.MinAmount}
}

type changeNowExchange struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	PayinAddress string          `json:"payinAddress"`
	FromAmount   decimal.Decimal `json:"fromAmount"`
	AmountFrom   decimal.Decimal `json:"amountFrom"`
	ExpectedFrom decimal.Decimal `json:"expectedAmountFrom"`
	Error        string          `json:"error"`
	Message      string          `json:"message"`
}

func (c *ChangeNow) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	body := map[string]any{
		"fromCurrency": c.cfg.FromCurrency,
		"toCurrency":   strings.ToLower(req.Currency),
		"toAmount":     req.Amount.String(),
		"flow":         "fixed-rate",
		"type":         "reverse",
		"address":      c.cfg.PayoutAddress,
		"toNetwork":    c.cfg.Network,
		"userId":       req.OrderNumber,
	}

	var out changeNowExchange
	raw, err := c.caller.call(ctx, "create", http.MethodPost, c.cfg.BaseURL+"/exchange", c.headers(), body, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, newError(KindRejected, ChangeNowName, "create", fmt.Errorf("%s: %s", out.Error, out.Message))
	}

	return &CreateResult{
		ExternalID: out.ID,
		PayAddress: out.PayinAddress,
		Raw:        raw,
	}, nil
}

func (c *ChangeNow) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	endpoint := c.cfg.BaseURL + "/exchange/by-id?id=" + url.QueryEscape(externalID)

	var out changeNowExchange
	raw, err := c.caller.call(ctx, "status", http.MethodGet, endpoint, c.headers(), nil, &out)
	if err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, newError(KindMalformed, ChangeNowName, "status", fmt.Errorf("response has no status"))
	}

	received := out.AmountFrom
	if received.IsZero() {
		received = out.FromAmount
	}
	return &StatusResult{
		ExternalStatus: out.Status,
		ReceivedAmount: received,
		Raw:            raw,
	}, nil
}

// VerifyInbound always fails: the provider cannot authenticate callbacks.
func (c *ChangeNow) VerifyInbound([]byte, string) bool { return false }

func (c *ChangeNow) ParseInbound([]byte) (*Notification, error) {
	return nil, newError(KindRejected, ChangeNowName, "parse", fmt.Errorf("provider does not send callbacks"))
}

func (c *ChangeNow) MapStatus(external string) models.IntentStatus {
	switch external {
	case "new", "waiting":
		return models.IntentStatusPending
	case "confirming", "exchanging", "sending", "verifying":
		return models.IntentStatusAwaitingConfirmation
	case "finished":
		return models.IntentStatusCompleted
	case "failed", "refunded":
		return models.IntentStatusFailed
	case "expired":
		return models.IntentStatusExpired
	}
	return ""
}

func (c *ChangeNow) headers() map[string]string {
	return map[string]string{"x-changenow-api-key": c.cfg.APIKey}
}
