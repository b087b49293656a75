package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowPaymentsCreateIntent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payment", r.URL.Path)
		assert.Equal(t, "np-key", r.Header.Get("x-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(103), body["price_amount"])
		assert.Equal(t, "usd", body["price_currency"])
		assert.Equal(t, "ORD-1", body["order_id"])
		assert.Equal(t, "https://merchant.test/webhooks/nowpayments", body["ipn_callback_url"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"payment_id":"5745459419","payment_status":"waiting","pay_address":"TXabc","price_amount":103,"order_id":"ORD-1"}`)
	}))
	defer server.Close()

	np := NewNowPayments(NowPaymentsConfig{
		APIKey:      "np-key",
		BaseURL:     server.URL,
		CallbackURL: "https://merchant.test/webhooks/nowpayments",
	})

	res, err := np.CreateIntent(context.Background(), CreateRequest{
		OrderNumber: "ORD-1",
		Amount:      decimal.RequireFromString("103.00"),
		Currency:    "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "5745459419", res.ExternalID)
	assert.Equal(t, "TXabc", res.PayAddress)
	assert.NotEmpty(t, res.Raw)
}

func TestNowPaymentsQueryStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind ErrorKind
		want     string
	}{
		{name: "Finished with numeric id", status: 200, body: `{"payment_id":5745459419,"payment_status":"finished","actually_paid":103.5}`, want: "finished"},
		{name: "Provider outage", status: 503, body: `{"message":"down"}`, wantKind: KindUnavailable},
		{name: "Rate limited", status: 429, body: `{}`, wantKind: KindUnavailable},
		{name: "Unknown payment", status: 404, body: `{"message":"not found"}`, wantKind: KindRejected},
		{name: "Garbage body", status: 200, body: `<html>`, wantKind: KindMalformed},
		{name: "Missing status", status: 200, body: `{"payment_id":1}`, wantKind: KindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/payment/5745459419", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			np := NewNowPayments(NowPaymentsConfig{APIKey: "k", BaseURL: server.URL})
			res, err := np.QueryStatus(context.Background(), "5745459419")
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, KindOf(err), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ExternalStatus)
			assert.True(t, res.ReceivedAmount.Equal(decimal.RequireFromString("103.5")))
		})
	}
}

func TestNowPaymentsVerifyInbound(t *testing.T) {
	const secret = "ipn-secret"
	payload := []byte(`{"payment_status":"finished","payment_id":123,"order_id":"ORD-1","actually_paid":103.00}`)
	sorted := []byte(`{"actually_paid":103.00,"order_id":"ORD-1","payment_id":123,"payment_status":"finished"}`)
	validSig := hmacSHA512Hex(sorted, secret)

	np := NewNowPayments(NowPaymentsConfig{IPNSecret: secret})

	signed, err := SignNowPayments(payload, secret)
	require.NoError(t, err)
	assert.Equal(t, validSig, signed)

	tests := []struct {
		name    string
		payload []byte
		sig     string
		want    bool
	}{
		{name: "Valid signature", payload: payload, sig: validSig, want: true},
		{name: "Signature is case insensitive", payload: payload, sig: strings.ToUpper(validSig), want: true},
		{name: "Tampered body", payload: []byte(`{"payment_status":"finished","payment_id":123,"order_id":"ORD-2","actually_paid":103.00}`), sig: validSig},
		{name: "Wrong secret", payload: payload, sig: hmacSHA512Hex(sorted, "other")},
		{name: "Missing signature", payload: payload, sig: ""},
		{name: "Not JSON", payload: []byte(`nope`), sig: validSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, np.VerifyInbound(tt.payload, tt.sig))
		})
	}

	t.Run("No secret configured", func(t *testing.T) {
		assert.False(t, NewNowPayments(NowPaymentsConfig{}).VerifyInbound(payload, validSig))
	})
}

func TestNowPaymentsParseInbound(t *testing.T) {
	np := NewNowPayments(NowPaymentsConfig{})

	n, err := np.ParseInbound([]byte(`{"payment_id":123,"payment_status":"partially_paid","order_id":"ORD-1","actually_paid":"50.1"}`))
	require.NoError(t, err)
	assert.Equal(t, "123", n.ExternalID)
	assert.Equal(t, "ORD-1", n.OrderNumber)
	assert.Equal(t, "partially_paid", n.ExternalStatus)
	assert.True(t, n.ReceivedAmount.Equal(decimal.RequireFromString("50.1")))

	_, err = np.ParseInbound([]byte(`{"payment_status":"finished"}`))
	assert.Equal(t, KindMalformed, KindOf(err))

	_, err = np.ParseInbound([]byte(`{"payment_id":1}`))
	assert.Equal(t, KindMalformed, KindOf(err))

	_, err = np.ParseInbound([]byte(`[`))
	assert.Equal(t, KindMalformed, KindOf(err))
}
