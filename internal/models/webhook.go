// internal/models/webhook.go
package models

import "time"

type Verification string

const (
	VerificationVerified       Verification = "verified"
	VerificationFailed         Verification = "failed"
	VerificationSkippedSandbox Verification = "skipped_sandbox"
	VerificationNotSupported   Verification = "not_supported"
)

type WebhookOutcome string

const (
	OutcomeApplied           WebhookOutcome = "applied"
	OutcomeAlreadyApplied    WebhookOutcome = "already_applied"
	OutcomeUnchanged         WebhookOutcome = "unchanged"
	OutcomeProgressed        WebhookOutcome = "progressed"
	OutcomeFailed            WebhookOutcome = "failed"
	OutcomeRejectedAuth      WebhookOutcome = "rejected_auth"
	OutcomeNotFound          WebhookOutcome = "not_found"
	OutcomeInvalidTransition WebhookOutcome = "invalid_transition"
	OutcomeMalformed         WebhookOutcome = "malformed"
	OutcomeError             WebhookOutcome = "error"
)

// WebhookRecord is an immutable log line for one inbound callback.
type WebhookRecord struct {
	ID           string         `json:"id" db:"id"`
	Gateway      string         `json:"gateway" db:"gateway"`
	IntentID     string         `json:"intent_id,omitempty" db:"intent_id"`
	ExternalID   string         `json:"external_id,omitempty" db:"external_id"`
	OrderNumber  string         `json:"order_number,omitempty" db:"order_number"`
	Payload      []byte         `json:"payload" db:"payload"`
	Signature    string         `json:"signature,omitempty" db:"signature"`
	Verification Verification   `json:"verification" db:"verification"`
	Outcome      WebhookOutcome `json:"outcome" db:"outcome"`
	Detail       string         `json:"detail,omitempty" db:"detail"`
	ReceivedAt   time.Time      `json:"received_at" db:"received_at"`
}

// Database schema
const WebhookSchema = `
CREATE TABLE IF NOT EXISTS webhook_records (
    id VARCHAR(36) PRIMARY KEY,
    gateway VARCHAR(32) NOT NULL,
    intent_id VARCHAR(36),
    external_id VARCHAR(255),
    order_number VARCHAR(128),
    payload BYTEA NOT NULL,
    signature TEXT,
    verification VARCHAR(32) NOT NULL,
    outcome VARCHAR(32) NOT NULL,
    detail TEXT,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_webhook_records_intent ON webhook_records (intent_id, received_at);
CREATE INDEX IF NOT EXISTS idx_webhook_records_gateway_external ON webhook_records (gateway, external_id);

CREATE OR REPLACE RULE webhook_records_no_update AS ON UPDATE TO webhook_records DO INSTEAD NOTHING;
CREATE OR REPLACE RULE webhook_records_no_delete AS ON DELETE TO webhook_records DO INSTEAD NOTHING;
`

// Schemas lists every table definition in dependency order.
func Schemas() []string {
	return []string{IntentSchema, LedgerSchema, WebhookSchema}
}
