// internal/models/ledger.go
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindDeposit            EntryKind = "deposit"
	EntryKindOrderPayment       EntryKind = "order_payment"
	EntryKindRenewalPayment     EntryKind = "renewal_payment"
	EntryKindReferralCommission EntryKind = "referral_commission"
)

// LedgerEntry is one settlement-originated balance movement. At most one
// entry of each kind exists per intent.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	IntentID  string          `json:"intent_id" db:"intent_id"`
	AccountID string          `json:"account_id" db:"account_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Currency  string          `json:"currency" db:"currency"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// AccountBalance represents account balance
type AccountBalance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Settlement is the bundle a first-time completion applies atomically.
type Settlement struct {
	IntentID    string
	OrderNumber string
	Entries     []*LedgerEntry
	// OrderPaid marks the purchased order paid when set.
	OrderPaid bool
	// RenewalDays extends SubscriptionID's next renewal when > 0.
	SubscriptionID string
	RenewalDays    int
	Events         []*OutboxEvent
	SettledAt      time.Time
}

// Observation is what a webhook or poll reported alongside a status.
type Observation struct {
	ExternalStatus string          `json:"external_status"`
	Confirmations  int             `json:"confirmations"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	Raw            json.RawMessage `json:"raw,omitempty"`
	Source         string          `json:"source"`
}

type EventType string

const (
	EventIntentSettled      EventType = "intent.settled"
	EventProvisionRequested EventType = "intent.provision_requested"
	EventRenewalScheduled   EventType = "intent.renewal_scheduled"
)

// OutboxEvent is a downstream trigger recorded in the settlement transaction.
type OutboxEvent struct {
	ID        string          `json:"id" db:"id"`
	Type      EventType       `json:"type" db:"event_type"`
	IntentID  string          `json:"intent_id" db:"intent_id"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Published bool            `json:"published" db:"published"`
	Attempts  int             `json:"attempts" db:"attempts"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// TriggerPayload is the body of every outbox event.
type TriggerPayload struct {
	IntentID       string          `json:"intent_id"`
	OrderNumber    string          `json:"order_number"`
	Purpose        Purpose         `json:"purpose"`
	CustomerID     string          `json:"customer_id"`
	ProductID      string          `json:"product_id,omitempty"`
	VariantID      string          `json:"variant_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// Database schema
const LedgerSchema = `
CREATE TABLE IF NOT EXISTS accounts (
    id VARCHAR(64) PRIMARY KEY,
    balance DECIMAL(19, 4) NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id VARCHAR(36) PRIMARY KEY,
    intent_id VARCHAR(36) NOT NULL REFERENCES payment_intents(id),
    account_id VARCHAR(64) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    amount DECIMAL(19, 4) NOT NULL CHECK (amount >= 0),
    currency VARCHAR(10) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (intent_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at);

CREATE TABLE IF NOT EXISTS orders (
    order_number VARCHAR(128) PRIMARY KEY,
    status VARCHAR(20) NOT NULL,
    paid_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id VARCHAR(64) PRIMARY KEY,
    next_renewal_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_events (
    id VARCHAR(36) PRIMARY KEY,
    event_type VARCHAR(64) NOT NULL,
    intent_id VARCHAR(36) NOT NULL,
    payload JSONB NOT NULL,
    published BOOLEAN NOT NULL DEFAULT FALSE,
    attempts INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_events (created_at) WHERE published = FALSE;
`
