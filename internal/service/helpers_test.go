package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"settlement-gateway/internal/fee"
	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
	"settlement-gateway/pkg/redis"
)

var fastRetry = gateway.Retry{
	MaxAttempts:    3,
	BaseDelay:      time.Millisecond,
	MaxDelay:       2 * time.Millisecond,
	AttemptTimeout: time.Second,
}

var threePercent = fee.Policy{Type: fee.TypePercentage, Percentage: decimal.NewFromInt(3)}

type fixture struct {
	store      *repository.MemoryStore
	sandbox    *gateway.Sandbox
	registry   *gateway.Registry
	cache      *fakeCache
	committer  *LedgerCommitter
	factory    *IntentFactory
	ingestor   *WebhookIngestor
	reconciler *Reconciler
	ledger     *LedgerService
}

func newFixture(t *testing.T, extra ...gateway.Entry) *fixture {
	t.Helper()

	f := &fixture{
		store:   repository.NewMemoryStore(),
		sandbox: gateway.NewSandbox(gateway.SandboxConfig{MinAmount: decimal.NewFromInt(1)}),
		cache:   newFakeCache(),
	}
	entries := append([]gateway.Entry{{Adapter: f.sandbox, Fee: threePercent}}, extra...)
	registry, err := gateway.NewRegistry(entries...)
	require.NoError(t, err)
	f.registry = registry

	f.committer = NewLedgerCommitter(f.store, CommitterConfig{
		CommissionPercent: decimal.NewFromInt(10),
		RenewalDays:       30,
		Attempts:          3,
	}, nil)
	f.factory = NewIntentFactory(f.store, registry, f.cache, fastRetry, FactoryConfig{}, nil)
	f.ingestor = NewWebhookIngestor(registry, f.store, f.store, f.committer, true, nil)
	f.reconciler = NewReconciler(f.store, registry, f.committer, fastRetry, ReconcilerConfig{
		StaleAfter:         10 * time.Minute,
		ExpireAfter:        24 * time.Hour,
		StatusCheckTimeout: 50 * time.Millisecond,
		SweepInterval:      time.Hour,
		Workers:            4,
		BatchSize:          100,
	}, nil)
	f.ledger = NewLedgerService(f.store, nil)
	return f
}

func (f *fixture) create(t *testing.T, req models.CreateIntentRequest) *models.PaymentIntent {
	t.Helper()
	out, err := f.factory.Create(context.Background(), req)
	require.NoError(t, err)
	require.False(t, out.Replayed)
	return out.Intent
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := f.store.Balance(context.Background(), account)
	require.NoError(t, err)
	return bal.Balance
}

func depositRequest(order string) models.CreateIntentRequest {
	return models.CreateIntentRequest{
		OrderNumber: order,
		Purpose:     models.PurposeDeposit,
		Amount:      decimal.NewFromInt(100),
		Currency:    "usd",
		Gateway:     gateway.SandboxName,
		CustomerID:  "cust-1",
	}
}

func orderRequest(order, customer, referrer string) models.CreateIntentRequest {
	return models.CreateIntentRequest{
		OrderNumber: order,
		Purpose:     models.PurposeOrder,
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Gateway:     gateway.SandboxName,
		CustomerID:  customer,
		ReferrerID:  referrer,
		ProductID:   "prod-1",
		VariantID:   "var-1",
	}
}

func sandboxCallback(t *testing.T, intent *models.PaymentIntent, status string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"external_id":     intent.ExternalID,
		"order_number":    intent.OrderNumber,
		"status":          status,
		"received_amount": intent.FinalAmount.String(),
	})
	require.NoError(t, err)
	return body
}

// stubAdapter is a configurable provider. Its callbacks use the sandbox
// body shape and verify when the signature equals secret.
type stubAdapter struct {
	name   string
	caps   gateway.Capabilities
	secret string

	createErr   error
	createCalls int32

	mu          sync.Mutex
	status      string
	statusErr   error
	statusDelay time.Duration
}

func (s *stubAdapter) Name() string                       { return s.name }
func (s *stubAdapter) Capabilities() gateway.Capabilities { return s.caps }

func (s *stubAdapter) CreateIntent(_ context.Context, req gateway.CreateRequest) (*gateway.CreateResult, error) {
	atomic.AddInt32(&s.createCalls, 1)
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &gateway.CreateResult{ExternalID: s.name + "-" + req.OrderNumber, Raw: json.RawMessage(`{}`)}, nil
}

func (s *stubAdapter) QueryStatus(ctx context.Context, _ string) (*gateway.StatusResult, error) {
	s.mu.Lock()
	status, statusErr, delay := s.status, s.statusErr, s.statusDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &gateway.Error{Kind: gateway.KindUnavailable, Gateway: s.name, Op: "status", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	if statusErr != nil {
		return nil, statusErr
	}
	return &gateway.StatusResult{ExternalStatus: status}, nil
}

func (s *stubAdapter) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *stubAdapter) VerifyInbound(_ []byte, signature string) bool {
	return s.secret != "" && signature == s.secret
}

func (s *stubAdapter) ParseInbound(payload []byte) (*gateway.Notification, error) {
	var cb struct {
		ExternalID  string `json:"external_id"`
		OrderNumber string `json:"order_number"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, &gateway.Error{Kind: gateway.KindMalformed, Gateway: s.name, Op: "parse", Err: err}
	}
	return &gateway.Notification{ExternalID: cb.ExternalID, OrderNumber: cb.OrderNumber, ExternalStatus: cb.Status, Raw: payload}, nil
}

func (s *stubAdapter) MapStatus(external string) models.IntentStatus {
	if st := models.IntentStatus(external); st.Valid() {
		return st
	}
	return ""
}

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = toString(value)
	return nil
}

func (c *fakeCache) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = toString(value)
	return true, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
