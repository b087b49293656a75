package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an intent with the same order number exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleStatus means the intent was no longer in the expected status
	// when the conditional update ran.
	ErrStaleStatus = errors.New("intent status changed concurrently")
)

// Transition is a conditional status change. It only applies while the intent
// is still in From and From is not terminal. A non-nil Settlement is applied
// in the same unit of work.
type Transition struct {
	IntentID       string
	From           models.IntentStatus
	To             models.IntentStatus
	Confirmations  int
	ReceivedAmount decimal.Decimal
	FailureReason  string
	At             time.Time
	Settlement     *models.Settlement
}

// Registration attaches the provider's identifiers to an intent whose first
// creation attempt never reached the provider.
type Registration struct {
	IntentID    string
	ExternalID  string
	CheckoutURL string
	PayAddress  string
	Metadata    []byte
}

type IntentStore interface {
	Create(ctx context.Context, intent *models.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.PaymentIntent, error)
	GetByExternalID(ctx context.Context, gateway, externalID string) (*models.PaymentIntent, error)
	HasCompletedOrder(ctx context.Context, customerID string) (bool, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.PaymentIntent, error)
	Transition(ctx context.Context, t Transition) error
	// Register applies r only while the intent is pending without an
	// external id. Otherwise it returns ErrStaleStatus.
	Register(ctx context.Context, r Registration) error
}

// WebhookStore is append-only.
type WebhookStore interface {
	Append(ctx context.Context, rec *models.WebhookRecord) error
	ListByIntent(ctx context.Context, intentID string) ([]*models.WebhookRecord, error)
}

type LedgerStore interface {
	Balance(ctx context.Context, accountID string) (*models.AccountBalance, error)
	EntriesByIntent(ctx context.Context, intentID string) ([]*models.LedgerEntry, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]*models.LedgerEntry, error)
}

type OutboxStore interface {
	// FindUnpublished skips events that already had maxAttempts publish
	// attempts. A maxAttempts of zero or less disables the cap.
	FindUnpublished(ctx context.Context, maxAttempts, limit int) ([]*models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string) error
	MarkAttempted(ctx context.Context, id string) error
}
