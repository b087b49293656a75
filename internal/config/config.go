// Package config loads service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/fee"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

type Config struct {
	Service     string `mapstructure:"service"`
	Environment string `mapstructure:"environment"`
	Port        string `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`

	// AllowSandboxInProduction lets the unsigned sandbox gateway run in a
	// production environment. Off unless set explicitly.
	AllowSandboxInProduction bool `mapstructure:"allow_sandbox_in_production"`

	Checkout   CheckoutConfig   `mapstructure:"checkout"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Gateways   GatewaysConfig   `mapstructure:"gateways"`
}

// CheckoutConfig holds the URLs handed to providers at creation. When
// PublicURL is set, callbacks go to PublicURL/api/v1/webhooks/<gateway> unless the
// gateway overrides callback_url.
type CheckoutConfig struct {
	PublicURL  string `mapstructure:"public_url"`
	SuccessURL string `mapstructure:"success_url"`
	CancelURL  string `mapstructure:"cancel_url"`
}

// WebhookBaseURL is the callback prefix for gateways without their own
// callback_url, or "" when no public URL is configured.
func (c CheckoutConfig) WebhookBaseURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicURL, "/") + "/api/v1/webhooks"
}

type SettlementConfig struct {
	// CommissionPercent of the requested amount is credited to the referrer
	// of a customer's first order.
	CommissionPercent decimal.Decimal `mapstructure:"commission_percent"`
	RenewalDays       int             `mapstructure:"renewal_days"`
	IdempotencyTTL    time.Duration   `mapstructure:"idempotency_ttl"`
	CommitAttempts    int             `mapstructure:"commit_attempts"`
}

type ReconcileConfig struct {
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	StaleAfter         time.Duration `mapstructure:"stale_after"`
	ExpireAfter        time.Duration `mapstructure:"expire_after"`
	StatusCheckTimeout time.Duration `mapstructure:"status_check_timeout"`
	Workers            int           `mapstructure:"workers"`
	BatchSize          int           `mapstructure:"batch_size"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Queue        string        `mapstructure:"queue"`
	MaxRetry     int           `mapstructure:"max_retry"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	Concurrency  int           `mapstructure:"concurrency"`
	ProvisionURL string        `mapstructure:"provision_url"`
}

// GatewayCommon holds the settings every provider shares.
type GatewayCommon struct {
	Enabled     bool            `mapstructure:"enabled"`
	Fee         fee.Policy      `mapstructure:"fee"`
	MinAmount   decimal.Decimal `mapstructure:"min_amount"`
	BaseURL     string          `mapstructure:"base_url"`
	CallbackURL string          `mapstructure:"callback_url"`
	Timeout     time.Duration   `mapstructure:"timeout"`
}

type NowPaymentsConfig struct {
	GatewayCommon `mapstructure:",squash"`
	APIKey        string `mapstructure:"api_key"`
	IPNSecret     string `mapstructure:"ipn_secret"`
	PayCurrency   string `mapstructure:"pay_currency"`
}

type CryptomusConfig struct {
	GatewayCommon `mapstructure:",squash"`
	MerchantID    string        `mapstructure:"merchant_id"`
	APIKey        string        `mapstructure:"api_key"`
	Lifetime      time.Duration `mapstructure:"lifetime"`
}

type StripeConfig struct {
	GatewayCommon `mapstructure:",squash"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type ChangeNowConfig struct {
	GatewayCommon `mapstructure:",squash"`
	APIKey        string `mapstructure:"api_key"`
	FromCurrency  string `mapstructure:"from_currency"`
	Network       string `mapstructure:"network"`
	PayoutAddress string `mapstructure:"payout_address"`
}

type SandboxConfig struct {
	GatewayCommon   `mapstructure:",squash"`
	CheckoutBaseURL string `mapstructure:"checkout_base_url"`
}

type GatewaysConfig struct {
	NowPayments NowPaymentsConfig `mapstructure:"nowpayments"`
	Cryptomus   CryptomusConfig   `mapstructure:"cryptomus"`
	Stripe      StripeConfig      `mapstructure:"stripe"`
	ChangeNow   ChangeNowConfig   `mapstructure:"changenow"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// SandboxPermitted reports whether the unsigned sandbox gateway may accept
// callbacks in this environment.
func (c *Config) SandboxPermitted() bool {
	return !c.IsProduction() || c.AllowSandboxInProduction
}

// Validate checks the loaded configuration. Fee policies are validated here
// so that fee computation never sees a bad policy.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be one of development, staging, production, got %q", c.Environment))
	}
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}

	s := c.Settlement
	if s.CommissionPercent.IsNegative() || s.CommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("settlement.commission_percent must be within [0, 100], got %s", s.CommissionPercent))
	}
	if s.RenewalDays <= 0 {
		errs = append(errs, errors.New("settlement.renewal_days must be positive"))
	}
	if s.CommitAttempts <= 0 {
		errs = append(errs, errors.New("settlement.commit_attempts must be positive"))
	}

	r := c.Reconcile
	if r.SweepInterval <= 0 || r.StaleAfter <= 0 || r.StatusCheckTimeout <= 0 {
		errs = append(errs, errors.New("reconcile intervals must be positive"))
	}
	if r.ExpireAfter < r.StaleAfter {
		errs = append(errs, errors.New("reconcile.expire_after must not be shorter than reconcile.stale_after"))
	}
	if r.Workers <= 0 {
		errs = append(errs, errors.New("reconcile.workers must be positive"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("retry.max_attempts must be positive"))
	}

	enabled := 0
	for name, gw := range c.Gateways.common() {
		if !gw.Enabled {
			continue
		}
		enabled++
		if err := gw.Fee.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("gateways.%s.fee: %w", name, err))
		}
		if gw.MinAmount.IsNegative() {
			errs = append(errs, fmt.Errorf("gateways.%s.min_amount must not be negative", name))
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("at least one gateway must be enabled"))
	}

	errs = append(errs, c.validateSecrets()...)

	return errors.Join(errs...)
}

func (c *Config) validateSecrets() []error {
	var errs []error
	g := c.Gateways
	if g.Sandbox.Enabled && !c.SandboxPermitted() {
		errs = append(errs, errors.New("gateways.sandbox cannot be enabled in production without allow_sandbox_in_production"))
	}
	if !c.IsProduction() {
		return errs
	}
	if g.NowPayments.Enabled && (g.NowPayments.APIKey == "" || g.NowPayments.IPNSecret == "") {
		errs = append(errs, errors.New("gateways.nowpayments requires api_key and ipn_secret in production"))
	}
	if g.Cryptomus.Enabled && (g.Cryptomus.APIKey == "" || g.Cryptomus.MerchantID == "") {
		errs = append(errs, errors.New("gateways.cryptomus requires merchant_id and api_key in production"))
	}
	if g.Stripe.Enabled && (g.Stripe.SecretKey == "" || g.Stripe.WebhookSecret == "") {
		errs = append(errs, errors.New("gateways.stripe requires secret_key and webhook_secret in production"))
	}
	if g.ChangeNow.Enabled && g.ChangeNow.APIKey == "" {
		errs = append(errs, errors.New("gateways.changenow requires api_key in production"))
	}
	return errs
}

func (g GatewaysConfig) common() map[string]GatewayCommon {
	return map[string]GatewayCommon{
		"nowpayments": g.NowPayments.GatewayCommon,
		"cryptomus":   g.Cryptomus.GatewayCommon,
		"stripe":      g.Stripe.GatewayCommon,
		"changenow":   g.ChangeNow.GatewayCommon,
		"sandbox":     g.Sandbox.GatewayCommon,
	}
}
