// internal/models/intent.go
package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusPending              IntentStatus = "pending"
	IntentStatusAwaitingConfirmation IntentStatus = "awaiting_confirmation"
	IntentStatusPartiallyPaid        IntentStatus = "partially_paid"
	IntentStatusCompleted            IntentStatus = "completed"
	IntentStatusFailed               IntentStatus = "failed"
	IntentStatusExpired              IntentStatus = "expired"
)

// IsTerminal reports whether no further transition is permitted.
func (s IntentStatus) IsTerminal() bool {
	switch s {
	case IntentStatusCompleted, IntentStatusFailed, IntentStatusExpired:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusPending, IntentStatusAwaitingConfirmation, IntentStatusPartiallyPaid,
		IntentStatusCompleted, IntentStatusFailed, IntentStatusExpired:
		return true
	}
	return false
}

type Purpose string

const (
	PurposeOrder   Purpose = "order"
	PurposeDeposit Purpose = "deposit"
	PurposeRenewal Purpose = "renewal"
)

func (p Purpose) Valid() bool {
	return p == PurposeOrder || p == PurposeDeposit || p == PurposeRenewal
}

// PaymentIntent is one attempt to collect money through one gateway for one purpose.
type PaymentIntent struct {
	ID              string          `json:"id" db:"id"`
	ExternalID      string          `json:"external_id,omitempty" db:"external_id"`
	OrderNumber     string          `json:"order_number" db:"order_number"`
	Purpose         Purpose         `json:"purpose" db:"purpose"`
	CustomerID      string          `json:"customer_id" db:"customer_id"`
	ReferrerID      string          `json:"referrer_id,omitempty" db:"referrer_id"`
	IsFirstOrder    bool            `json:"is_first_order" db:"is_first_order"`
	ProductID       string          `json:"product_id,omitempty" db:"product_id"`
	VariantID       string          `json:"variant_id,omitempty" db:"variant_id"`
	SubscriptionID  string          `json:"subscription_id,omitempty" db:"subscription_id"`
	RequestedAmount decimal.Decimal `json:"requested_amount" db:"requested_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount" db:"final_amount"`
	FeeType         string          `json:"fee_type" db:"fee_type"`
	FeePercentage   decimal.Decimal `json:"fee_percentage" db:"fee_percentage"`
	Currency        string          `json:"currency" db:"currency"`
	Gateway         string          `json:"gateway" db:"gateway"`
	Status          IntentStatus    `json:"status" db:"status"`
	CheckoutURL     string          `json:"checkout_url,omitempty" db:"checkout_url"`
	PayAddress      string          `json:"pay_address,omitempty" db:"pay_address"`
	Confirmations   int             `json:"confirmations" db:"confirmations"`
	ReceivedAmount  decimal.Decimal `json:"received_amount" db:"received_amount"`
	FailureReason   string          `json:"failure_reason,omitempty" db:"failure_reason"`
	Metadata        json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	Settled         bool            `json:"settled" db:"settled"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	StatusChangedAt time.Time       `json:"status_changed_at" db:"status_changed_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a copy that shares no mutable state with p.
func (p *PaymentIntent) Clone() *PaymentIntent {
	c := *p
	if p.Metadata != nil {
		c.Metadata = append(json.RawMessage(nil), p.Metadata...)
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CreateIntentRequest is the caller's purchase/deposit/renewal request.
type CreateIntentRequest struct {
	OrderNumber    string          `json:"order_number" binding:"required,max=128"`
	Purpose        Purpose         `json:"purpose" binding:"required,oneof=order deposit renewal"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"required,min=3,max=10"`
	Gateway        string          `json:"gateway" binding:"required"`
	CustomerID     string          `json:"customer_id" binding:"required"`
	ReferrerID     string          `json:"referrer_id"`
	ProductID      string          `json:"product_id"`
	VariantID      string          `json:"variant_id"`
	SubscriptionID string          `json:"subscription_id"`
	Description    string          `json:"description"`
}

// FeeBreakdown is the fee part of an intent creation response.
type FeeBreakdown struct {
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	FeeType         string          `json:"fee_type"`
	FeePercentage   decimal.Decimal `json:"fee_percentage"`
}

type IntentResponse struct {
	Intent      *PaymentIntent `json:"intent"`
	CheckoutURL string         `json:"checkout_url,omitempty"`
	PayAddress  string         `json:"pay_address,omitempty"`
	Fee         FeeBreakdown   `json:"fee"`
}

// NewIntentResponse builds the creation response for intent.
func NewIntentResponse(intent *PaymentIntent) IntentResponse {
	return IntentResponse{
		Intent:      intent,
		CheckoutURL: intent.CheckoutURL,
		PayAddress:  intent.PayAddress,
		Fee: FeeBreakdown{
			RequestedAmount: intent.RequestedAmount,
			FeeAmount:       intent.FeeAmount,
			FinalAmount:     intent.FinalAmount,
			FeeType:         intent.FeeType,
			FeePercentage:   intent.FeePercentage,
		},
	}
}

// StatusView is what the status endpoint returns.
type StatusView struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	Gateway         string          `json:"gateway"`
	Status          IntentStatus    `json:"status"`
	RequestedAmount decimal.Decimal `json:"requested_amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
	ReceivedAmount  decimal.Decimal `json:"received_amount"`
	Currency        string          `json:"currency"`
	PayAddress      string          `json:"pay_address,omitempty"`
	CheckoutURL     string          `json:"checkout_url,omitempty"`
	Confirmations   int             `json:"confirmations"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

func NewStatusView(p *PaymentIntent) StatusView {
	return StatusView{
		ID:              p.ID,
		OrderNumber:     p.OrderNumber,
		Gateway:         p.Gateway,
		Status:          p.Status,
		RequestedAmount: p.RequestedAmount,
		FeeAmount:       p.FeeAmount,
		FinalAmount:     p.FinalAmount,
		ReceivedAmount:  p.ReceivedAmount,
		Currency:        p.Currency,
		PayAddress:      p.PayAddress,
		CheckoutURL:     p.CheckoutURL,
		Confirmations:   p.Confirmations,
		CompletedAt:     p.CompletedAt,
	}
}

// Database schema
const IntentSchema = `
CREATE TABLE IF NOT EXISTS payment_intents (
    id VARCHAR(36) PRIMARY KEY,
    external_id VARCHAR(255),
    order_number VARCHAR(128) NOT NULL UNIQUE,
    purpose VARCHAR(16) NOT NULL,
    customer_id VARCHAR(64) NOT NULL,
    referrer_id VARCHAR(64),
    is_first_order BOOLEAN NOT NULL DEFAULT FALSE,
    product_id VARCHAR(64),
    variant_id VARCHAR(64),
    subscription_id VARCHAR(64),
    requested_amount DECIMAL(19, 4) NOT NULL,
    fee_amount DECIMAL(19, 4) NOT NULL,
    final_amount DECIMAL(19, 4) NOT NULL,
    fee_type VARCHAR(32) NOT NULL,
    fee_percentage DECIMAL(9, 4) NOT NULL DEFAULT 0,
    currency VARCHAR(10) NOT NULL,
    gateway VARCHAR(32) NOT NULL,
    status VARCHAR(32) NOT NULL,
    checkout_url TEXT,
    pay_address TEXT,
    confirmations INT NOT NULL DEFAULT 0,
    received_amount DECIMAL(19, 4) NOT NULL DEFAULT 0,
    failure_reason TEXT,
    metadata JSONB,
    settled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    status_changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMPTZ,
    CHECK (final_amount = requested_amount + fee_amount)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_gateway_external
    ON payment_intents (gateway, external_id) WHERE external_id IS NOT NULL AND external_id <> '';
CREATE INDEX IF NOT EXISTS idx_intents_status_created ON payment_intents (status, created_at);
CREATE INDEX IF NOT EXISTS idx_intents_customer ON payment_intents (customer_id, purpose, status);
`
