// Package gateway adapts external payment providers to one contract. Provider
// payload shapes and status vocabularies never leave this package.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

// Capabilities describes what a provider supports.
type Capabilities struct {
	// Push means the provider delivers outcome notifications.
	Push bool
	// Pull means the provider can be polled for status.
	Pull bool
	// Signed means inbound notifications carry a verifiable signature.
	Signed bool
	// Sandbox marks a test provider whose notifications are not verified.
	Sandbox bool
	// MinAmount is the smallest final amount the provider accepts.
	MinAmount decimal.Decimal
}

type CreateRequest struct {
	IntentID    string
	OrderNumber string
	Purpose     models.Purpose
	Amount      decimal.Decimal
	Currency    string
	Description string
	CallbackURL string
	SuccessURL  string
	CancelURL   string
}

type CreateResult struct {
	ExternalID  string
	CheckoutURL string
	PayAddress  string
	Raw         json.RawMessage
}

type StatusResult struct {
	ExternalStatus string
	Confirmations  int
	ReceivedAmount decimal.Decimal
	Raw            json.RawMessage
}

// Notification is a provider callback reduced to the fields lookup and
// transition handling need.
type Notification struct {
	ExternalID     string
	OrderNumber    string
	ExternalStatus string
	Confirmations  int
	ReceivedAmount decimal.Decimal
	Raw            json.RawMessage
}

// Adapter is implemented once per provider.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error)
	QueryStatus(ctx context.Context, externalID string) (*StatusResult, error)
	// VerifyInbound checks the authenticity of a raw callback body. Unsigned
	// providers always return false.
	VerifyInbound(payload []byte, signature string) bool
	ParseInbound(payload []byte) (*Notification, error)
	// MapStatus translates provider vocabulary. Unknown values map to "".
	MapStatus(external string) models.IntentStatus
}
