package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"settlement-gateway/internal/fee"
	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/handler"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
	"settlement-gateway/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	store   *repository.MemoryStore
	sandbox *gateway.Sandbox
}

func newTestServer(t *testing.T, extra ...gateway.Entry) *testServer {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemoryStore()
	sandbox := gateway.NewSandbox(gateway.SandboxConfig{MinAmount: decimal.NewFromInt(1)})
	registry, err := gateway.NewRegistry(append([]gateway.Entry{{
		Adapter: sandbox,
		Fee:     fee.Policy{Type: fee.TypePercentage, Percentage: decimal.NewFromInt(3)},
	}}, extra...)...)
	require.NoError(t, err)

	retry := gateway.Retry{MaxAttempts: 1, AttemptTimeout: time.Second}
	committer := service.NewLedgerCommitter(store, service.CommitterConfig{
		CommissionPercent: decimal.NewFromInt(10),
		RenewalDays:       30,
		Attempts:          3,
	}, log)
	factory := service.NewIntentFactory(store, registry, nil, retry, service.FactoryConfig{}, log)
	ingestor := service.NewWebhookIngestor(registry, store, store, committer, true, log)
	reconciler := service.NewReconciler(store, registry, committer, retry, service.ReconcilerConfig{
		StatusCheckTimeout: time.Second,
		ExpireAfter:        24 * time.Hour,
	}, log)
	ledger := service.NewLedgerService(store, log)

	router := handler.NewRouter(handler.RouterConfig{
		Intents:  handler.NewIntentHandler(factory, reconciler, store, store, log),
		Webhooks: handler.NewWebhookHandler(ingestor, log),
		Accounts: handler.NewAccountHandler(ledger, log),
		Sandbox:  handler.NewSandboxHandler(sandbox),
		Log:      log,
	})
	return &testServer{router: router, store: store, sandbox: sandbox}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func depositBody(order string) []byte {
	body, _ := json.Marshal(map[string]string{
		"order_number": order,
		"purpose":      "deposit",
		"amount":       "100",
		"currency":     "usd",
		"gateway":      "sandbox",
		"customer_id":  "cust-1",
	})
	return body
}

func (s *testServer) createDeposit(t *testing.T, order string) models.IntentResponse {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/intents", depositBody(order))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp models.IntentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateIntent(t *testing.T) {
	s := newTestServer(t)

	resp := s.createDeposit(t, "ORD-100")
	assert.True(t, decimal.RequireFromString("3.00").Equal(resp.Fee.FeeAmount))
	assert.True(t, decimal.RequireFromString("103.00").Equal(resp.Fee.FinalAmount))
	assert.NotEmpty(t, resp.CheckoutURL)
	assert.Equal(t, models.IntentStatusPending, resp.Intent.Status)
	assert.Equal(t, "USD", resp.Intent.Currency)

	t.Run("replay returns the same intent", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/intents", depositBody("ORD-100"))
		require.Equal(t, http.StatusOK, w.Code)
		var replay models.IntentResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replay))
		assert.Equal(t, resp.Intent.ID, replay.Intent.ID)
	})
}

func TestCreateIntentRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"order_number":`, http.StatusBadRequest},
		{"missing order number", `{"purpose":"deposit","amount":"10","currency":"USD","gateway":"sandbox","customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"order_number":"O-1","purpose":"deposit","amount":"-5","currency":"USD","gateway":"sandbox","customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"too many decimals", `{"order_number":"O-2","purpose":"deposit","amount":"10.001","currency":"USD","gateway":"sandbox","customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"unknown gateway", `{"order_number":"O-3","purpose":"deposit","amount":"10","currency":"USD","gateway":"paypal","customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"below gateway minimum", `{"order_number":"O-4","purpose":"deposit","amount":"0.50","currency":"USD","gateway":"sandbox","customer_id":"c"}`, http.StatusUnprocessableEntity},
		{"order without product", `{"order_number":"O-5","purpose":"order","amount":"10","currency":"USD","gateway":"sandbox","customer_id":"c"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/intents", []byte(tt.body))
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestCreateIntentHidesProviderErrors(t *testing.T) {
	const providerBody = `{"code":"INVALID_API_KEY","message":"key nowp_live_SECRET123 revoked for merchant 4711"}`

	tests := []struct {
		name    string
		code    int
		body    string
		status  int
		message string
	}{
		{"rejected", http.StatusBadRequest, providerBody, http.StatusBadGateway, "payment gateway rejected the request"},
		{"malformed", http.StatusOK, `{"payment_id":`, http.StatusBadGateway, "payment gateway returned an invalid response"},
		{"unavailable", http.StatusServiceUnavailable, providerBody, http.StatusServiceUnavailable, "payment gateway unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer provider.Close()

			s := newTestServer(t, gateway.Entry{
				Adapter: gateway.NewNowPayments(gateway.NowPaymentsConfig{APIKey: "k", IPNSecret: "s", BaseURL: provider.URL}),
				Fee:     fee.Policy{Type: fee.TypeNone},
			})
			body, _ := json.Marshal(map[string]string{
				"order_number": "ORD-np-" + tt.name,
				"purpose":      "deposit",
				"amount":       "100",
				"currency":     "usd",
				"gateway":      "nowpayments",
				"customer_id":  "cust-1",
			})

			w := s.do(t, http.MethodPost, "/api/v1/intents", body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.message, resp["error"])
			assert.NotContains(t, w.Body.String(), "SECRET123")
			assert.NotContains(t, w.Body.String(), "nowpayments")
		})
	}
}

func TestGetIntent(t *testing.T) {
	s := newTestServer(t)
	created := s.createDeposit(t, "ORD-200")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"by id", "/api/v1/intents/" + created.Intent.ID, http.StatusOK},
		{"by order", "/api/v1/intents/by-order/ORD-200", http.StatusOK},
		{"unknown id", "/api/v1/intents/nope", http.StatusNotFound},
		{"unknown order", "/api/v1/intents/by-order/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				var view models.StatusView
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
				assert.Equal(t, created.Intent.ID, view.ID)
			}
		})
	}
}

func TestRefreshAndReconcileSettleFromProvider(t *testing.T) {
	s := newTestServer(t)
	created := s.createDeposit(t, "ORD-300")

	s.sandbox.SetStatus(created.Intent.ExternalID, "paid", created.Intent.FinalAmount)

	w := s.do(t, http.MethodGet, "/api/v1/intents/"+created.Intent.ID+"?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.IntentStatusCompleted, view.Status)

	w = s.do(t, http.MethodPost, "/api/v1/intents/"+created.Intent.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/accounts/cust-1/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal models.AccountBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.True(t, decimal.NewFromInt(100).Equal(bal.Balance), "credited once, got %s", bal.Balance)
}

func TestWebhookFlow(t *testing.T) {
	s := newTestServer(t)
	created := s.createDeposit(t, "ORD-400")

	callback := func(status string) []byte {
		body, _ := json.Marshal(map[string]string{
			"external_id":     created.Intent.ExternalID,
			"status":          status,
			"received_amount": created.Intent.FinalAmount.String(),
		})
		return body
	}

	tests := []struct {
		name    string
		gateway string
		body    []byte
		status  int
		outcome models.WebhookOutcome
	}{
		{"partial payment", "sandbox", callback("partially_paid"), http.StatusOK, models.OutcomeProgressed},
		{"completion", "sandbox", callback("completed"), http.StatusOK, models.OutcomeApplied},
		{"duplicate completion", "sandbox", callback("completed"), http.StatusOK, models.OutcomeAlreadyApplied},
		{"unknown gateway", "paypal", callback("completed"), http.StatusNotFound, ""},
		{"malformed body", "sandbox", []byte("not json"), http.StatusUnprocessableEntity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/webhooks/"+tt.gateway, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.outcome == "" {
				return
			}
			var resp struct {
				Outcome  models.WebhookOutcome `json:"outcome"`
				IntentID string                `json:"intent_id"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.outcome, resp.Outcome)
			assert.Equal(t, created.Intent.ID, resp.IntentID)
		})
	}

	w := s.do(t, http.MethodGet, "/api/v1/intents/"+created.Intent.ID+"/webhooks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Webhooks []models.WebhookRecord `json:"webhooks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed.Webhooks, 3)

	w = s.do(t, http.MethodGet, "/api/v1/accounts/cust-1/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec service.AccountReconciliation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Balanced)
	assert.Equal(t, 1, rec.Credits)
}

func TestSandboxEndpointMovesPayment(t *testing.T) {
	s := newTestServer(t)
	created := s.createDeposit(t, "ORD-500")

	w := s.do(t, http.MethodPost, "/sandbox/payments/"+created.Intent.ExternalID, []byte(`{"status":"failed"}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/intents/"+created.Intent.ID+"?refresh=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view models.StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.IntentStatusFailed, view.Status)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := s.do(t, http.MethodGet, path, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}

	w := s.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "req-42")
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
