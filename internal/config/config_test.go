package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-gateway/internal/fee"
	"settlement-gateway/internal/gateway"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.True(t, cfg.Settlement.CommissionPercent.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 30, cfg.Settlement.RenewalDays)
	assert.Equal(t, 10*time.Minute, cfg.Reconcile.StaleAfter)
	assert.Equal(t, 3*time.Second, cfg.Reconcile.StatusCheckTimeout)
	assert.True(t, cfg.Gateways.Sandbox.Enabled)
	assert.Equal(t, fee.TypeNone, cfg.Gateways.Sandbox.Fee.Type)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: staging
port: "9090"
settlement:
  commission_percent: 12.5
reconcile:
  stale_after: 5m
  expire_after: 2h
gateways:
  nowpayments:
    enabled: true
    api_key: np-key
    ipn_secret: np-secret
    min_amount: 5
    fee:
      type: percentage
      percentage: 3
  stripe:
    enabled: true
    secret_key: sk_test
    webhook_secret: whsec
    fee:
      type: percentage_plus_fixed
      percentage: "2.9"
      fixed: "0.30"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.Settlement.CommissionPercent.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.StaleAfter)

	np := cfg.Gateways.NowPayments
	assert.True(t, np.Enabled)
	assert.Equal(t, "np-secret", np.IPNSecret)
	assert.True(t, np.MinAmount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, fee.TypePercentage, np.Fee.Type)
	assert.True(t, np.Fee.Percentage.Equal(decimal.NewFromInt(3)))

	st := cfg.Gateways.Stripe
	assert.True(t, st.Fee.Fixed.Equal(decimal.RequireFromString("0.30")))

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	assert.Equal(t, []string{gateway.NowPaymentsName, gateway.SandboxName, gateway.StripeName}, reg.Names())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("SETTLEMENT_RECONCILE_WORKERS", "9")
	t.Setenv("SETTLEMENT_GATEWAYS_SANDBOX_FEE_TYPE", "fixed")
	t.Setenv("SETTLEMENT_GATEWAYS_SANDBOX_FEE_FIXED", "1.25")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 9, cfg.Reconcile.Workers)
	assert.Equal(t, fee.TypeFixed, cfg.Gateways.Sandbox.Fee.Type)
	assert.True(t, cfg.Gateways.Sandbox.Fee.Fixed.Equal(decimal.RequireFromString("1.25")))
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "Negative fee",
			body: `
gateways:
  sandbox:
    enabled: true
    fee:
      type: fixed
      fixed: -1
`,
		},
		{
			name: "Unknown fee type",
			body: `
gateways:
  sandbox:
    enabled: true
    fee:
      type: tiered
`,
		},
		{
			name: "Sandbox in production",
			body: `
environment: production
`,
		},
		{
			name: "Production stripe without webhook secret",
			body: `
environment: production
gateways:
  sandbox:
    enabled: false
  stripe:
    enabled: true
    secret_key: sk_live
`,
		},
		{
			name: "No gateways",
			body: `
gateways:
  sandbox:
    enabled: false
`,
		},
		{
			name: "Expiry shorter than staleness",
			body: `
reconcile:
  stale_after: 1h
  expire_after: 30m
`,
		},
		{
			name: "Unknown environment",
			body: `
environment: qa
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestSandboxAllowedInProductionWhenExplicit(t *testing.T) {
	path := writeConfig(t, `
environment: production
allow_sandbox_in_production: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.SandboxPermitted())

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	_, ok := reg.Adapter(gateway.SandboxName)
	assert.True(t, ok)
}

func TestRetryPolicy(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	p := cfg.RetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.BaseDelay)
}

func TestWebhookBaseURL(t *testing.T) {
	tests := []struct {
		publicURL string
		want      string
	}{
		{"", ""},
		{"https://pay.example.com", "https://pay.example.com/api/v1/webhooks"},
		{"https://pay.example.com/", "https://pay.example.com/api/v1/webhooks"},
	}
	for _, tt := range tests {
		t.Run(tt.publicURL, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckoutConfig{PublicURL: tt.publicURL}.WebhookBaseURL())
		})
	}
}
