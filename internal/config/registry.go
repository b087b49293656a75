package config

import (
	"settlement-gateway/internal/gateway"
)

// BuildRegistry constructs an adapter for every enabled gateway.
func (c *Config) BuildRegistry() (*gateway.Registry, error) {
	g := c.Gateways
	var entries []gateway.Entry

	if g.NowPayments.Enabled {
		entries = append(entries, gateway.Entry{
			Adapter: gateway.NewNowPayments(gateway.NowPaymentsConfig{
				APIKey:      g.NowPayments.APIKey,
				IPNSecret:   g.NowPayments.IPNSecret,
				BaseURL:     g.NowPayments.BaseURL,
				PayCurrency: g.NowPayments.PayCurrency,
				CallbackURL: g.NowPayments.CallbackURL,
				MinAmount:   g.NowPayments.MinAmount,
				Timeout:     g.NowPayments.Timeout,
			}),
			Fee: g.NowPayments.Fee,
		})
	}
	if g.Cryptomus.Enabled {
		entries = append(entries, gateway.Entry{
			Adapter: gateway.NewCryptomus(gateway.CryptomusConfig{
				MerchantID:  g.Cryptomus.MerchantID,
				APIKey:      g.Cryptomus.APIKey,
				BaseURL:     g.Cryptomus.BaseURL,
				CallbackURL: g.Cryptomus.CallbackURL,
				Lifetime:    g.Cryptomus.Lifetime,
				MinAmount:   g.Cryptomus.MinAmount,
				Timeout:     g.Cryptomus.Timeout,
			}),
			Fee: g.Cryptomus.Fee,
		})
	}
	if g.Stripe.Enabled {
		entries = append(entries, gateway.Entry{
			Adapter: gateway.NewStripe(gateway.StripeConfig{
				SecretKey:     g.Stripe.SecretKey,
				WebhookSecret: g.Stripe.WebhookSecret,
				BaseURL:       g.Stripe.BaseURL,
				MinAmount:     g.Stripe.MinAmount,
				Timeout:       g.Stripe.Timeout,
			}),
			Fee: g.Stripe.Fee,
		})
	}
	if g.ChangeNow.Enabled {
		entries = append(entries, gateway.Entry{
			Adapter: gateway.NewChangeNow(gateway.ChangeNowConfig{
				APIKey:        g.ChangeNow.APIKey,
				BaseURL:       g.ChangeNow.BaseURL,
				FromCurrency:  g.ChangeNow.FromCurrency,
				Network:       g.ChangeNow.Network,
				PayoutAddress: g.ChangeNow.PayoutAddress,
				MinAmount:     g.ChangeNow.MinAmount,
				Timeout:       g.ChangeNow.Timeout,
			}),
			Fee: g.ChangeNow.Fee,
		})
	}
	if g.Sandbox.Enabled && c.SandboxPermitted() {
		entries = append(entries, gateway.Entry{
			Adapter: gateway.NewSandbox(gateway.SandboxConfig{
				CheckoutBaseURL: g.Sandbox.CheckoutBaseURL,
				MinAmount:       g.Sandbox.MinAmount,
			}),
			Fee: g.Sandbox.Fee,
		})
	}

	return gateway.NewRegistry(entries...)
}

// RetryPolicy converts the retry section into the gateway call policy.
func (c *Config) RetryPolicy() gateway.Retry {
	return gateway.Retry{
		MaxAttempts:    c.Retry.MaxAttempts,
		BaseDelay:      c.Retry.BaseDelay,
		MaxDelay:       c.Retry.MaxDelay,
		AttemptTimeout: c.Retry.AttemptTimeout,
	}
}
