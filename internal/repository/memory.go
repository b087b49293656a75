package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

// MemoryStore implements every store on maps behind one mutex, so a
// Transition with a settlement is as atomic as the Postgres transaction.
// It backs unit tests and the sandbox-only development mode.
type MemoryStore struct {
	mu sync.Mutex

	intents  map[string]*models.PaymentIntent
	byOrder  map[string]string
	webhooks []*models.WebhookRecord
	entries  []*models.LedgerEntry
	accounts map[string]*models.AccountBalance
	orders   map[string]time.Time
	renewals map[string]time.Time
	outbox   []*models.OutboxEvent

	// BeforeTransition, when set, runs before every Transition and can fail it.
	BeforeTransition func(t Transition) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		intents:  make(map[string]*models.PaymentIntent),
		byOrder:  make(map[string]string),
		accounts: make(map[string]*models.AccountBalance),
		orders:   make(map[string]time.Time),
		renewals: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Create(_ context.Context, intent *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOrder[intent.OrderNumber]; ok {
		return ErrDuplicate
	}
	if intent.ExternalID != "" {
		for _, existing := range m.intents {
			if existing.Gateway == intent.Gateway && existing.ExternalID == intent.ExternalID {
				return ErrDuplicate
			}
		}
	}
	m.intents[intent.ID] = intent.Clone()
	m.byOrder[intent.OrderNumber] = intent.ID
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return intent.Clone(), nil
}

func (m *MemoryStore) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.PaymentIntent, error) {
	m.mu.Lock()
	id, ok := m.byOrder[orderNumber]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryStore) GetByExternalID(_ context.Context, gateway, externalID string) (*models.PaymentIntent, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, intent := range m.intents {
		if intent.Gateway == gateway && intent.ExternalID == externalID {
			return intent.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) HasCompletedOrder(_ context.Context, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, intent := range m.intents {
		if intent.CustomerID == customerID && intent.Purpose == models.PurposeOrder && intent.Status == models.IntentStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListStale(_ context.Context, createdBefore time.Time, limit int) ([]*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.PaymentIntent
	for _, intent := range m.intents {
		if !intent.Status.IsTerminal() && intent.CreatedAt.Before(createdBefore) {
			out = append(out, intent.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Transition(_ context.Context, t Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.BeforeTransition != nil {
		if err := m.BeforeTransition(t); err != nil {
			return err
		}
	}

	intent, ok := m.intents[t.IntentID]
	if !ok {
		return ErrNotFound
	}
	if intent.Status != t.From || intent.Status.IsTerminal() {
		return ErrStaleStatus
	}

	if t.Settlement != nil {
		for _, e := range t.Settlement.Entries {
			for _, existing := range m.entries {
				if existing.IntentID == e.IntentID && existing.Kind == e.Kind {
					return ErrStaleStatus
				}
			}
		}
	}

	if intent.Status != t.To {
		intent.StatusChangedAt = t.At
	}
	intent.Status = t.To
	if t.Confirmations > intent.Confirmations {
		intent.Confirmations = t.Confirmations
	}
	intent.ReceivedAmount = t.ReceivedAmount
	if t.FailureReason != "" {
		intent.FailureReason = t.FailureReason
	}
	if t.To == models.IntentStatusCompleted {
		at := t.At
		intent.CompletedAt = &at
	}

	if s := t.Settlement; s != nil {
		intent.Settled = true
		m.applySettlement(s)
	}
	return nil
}

func (m *MemoryStore) Register(_ context.Context, r Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[r.IntentID]
	if !ok {
		return ErrNotFound
	}
	if intent.Status != models.IntentStatusPending || intent.ExternalID != "" {
		return ErrStaleStatus
	}
	for _, existing := range m.intents {
		if existing.Gateway == intent.Gateway && existing.ExternalID == r.ExternalID {
			return ErrDuplicate
		}
	}
	intent.ExternalID = r.ExternalID
	intent.CheckoutURL = r.CheckoutURL
	intent.PayAddress = r.PayAddress
	intent.Metadata = append([]byte(nil), r.Metadata...)
	intent.FailureReason = ""
	return nil
}

func (m *MemoryStore) applySettlement(s *models.Settlement) {
	for _, e := range s.Entries {
		cp := *e
		m.entries = append(m.entries, &cp)
		if !CreditsAccount(e.Kind) {
			continue
		}
		acct, ok := m.accounts[e.AccountID]
		if !ok {
			acct = &models.AccountBalance{AccountID: e.AccountID, Balance: decimal.Zero}
			m.accounts[e.AccountID] = acct
		}
		acct.Balance = acct.Balance.Add(e.Amount)
		acct.UpdatedAt = s.SettledAt
	}
	if s.OrderPaid && s.OrderNumber != "" {
		m.orders[s.OrderNumber] = s.SettledAt
	}
	if s.SubscriptionID != "" && s.RenewalDays > 0 {
		base := m.renewals[s.SubscriptionID]
		if base.Before(s.SettledAt) {
			base = s.SettledAt
		}
		m.renewals[s.SubscriptionID] = base.AddDate(0, 0, s.RenewalDays)
	}
	for _, evt := range s.Events {
		cp := *evt
		m.outbox = append(m.outbox, &cp)
	}
}

func (m *MemoryStore) Append(_ context.Context, rec *models.WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	m.webhooks = append(m.webhooks, &cp)
	return nil
}

func (m *MemoryStore) ListByIntent(_ context.Context, intentID string) ([]*models.WebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.WebhookRecord
	for _, rec := range m.webhooks {
		if rec.IntentID == intentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Webhooks returns every appended record in order.
func (m *MemoryStore) Webhooks() []*models.WebhookRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.WebhookRecord, len(m.webhooks))
	for i, rec := range m.webhooks {
		cp := *rec
		out[i] = &cp
	}
	return out
}

func (m *MemoryStore) Balance(_ context.Context, accountID string) (*models.AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct, ok := m.accounts[accountID]; ok {
		cp := *acct
		return &cp, nil
	}
	return &models.AccountBalance{AccountID: accountID, Balance: decimal.Zero}, nil
}

func (m *MemoryStore) EntriesByIntent(_ context.Context, intentID string) ([]*models.LedgerEntry, error) {
	return m.filterEntries(func(e *models.LedgerEntry) bool { return e.IntentID == intentID }), nil
}

func (m *MemoryStore) EntriesByAccount(_ context.Context, accountID string) ([]*models.LedgerEntry, error) {
	return m.filterEntries(func(e *models.LedgerEntry) bool { return e.AccountID == accountID }), nil
}

func (m *MemoryStore) filterEntries(keep func(*models.LedgerEntry) bool) []*models.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.LedgerEntry
	for _, e := range m.entries {
		if keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

// OrderPaidAt reports when an order was marked paid.
func (m *MemoryStore) OrderPaidAt(orderNumber string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.orders[orderNumber]
	return t, ok
}

// NextRenewal reports a subscription's next renewal time.
func (m *MemoryStore) NextRenewal(subscriptionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.renewals[subscriptionID]
	return t, ok
}

func (m *MemoryStore) FindUnpublished(_ context.Context, maxAttempts, limit int) ([]*models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.OutboxEvent
	for _, evt := range m.outbox {
		if evt.Published || (maxAttempts > 0 && evt.Attempts >= maxAttempts) {
			continue
		}
		cp := *evt
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(_ context.Context, id string) error {
	return m.touchEvent(id, true)
}

func (m *MemoryStore) MarkAttempted(_ context.Context, id string) error {
	return m.touchEvent(id, false)
}

func (m *MemoryStore) touchEvent(id string, published bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, evt := range m.outbox {
		if evt.ID == id {
			evt.Attempts++
			if published {
				evt.Published = true
			}
			return nil
		}
	}
	return ErrNotFound
}

// Events returns every outbox event recorded so far.
func (m *MemoryStore) Events() []*models.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.OutboxEvent, len(m.outbox))
	for i, evt := range m.outbox {
		cp := *evt
		out[i] = &cp
	}
	return out
}
