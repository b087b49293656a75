package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/metrics"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
	"settlement-gateway/internal/statemachine"
)

// IngestResult reports what one callback did.
type IngestResult struct {
	Outcome      models.WebhookOutcome
	Verification models.Verification
	IntentID     string
	Status       models.IntentStatus
}

// WebhookIngestor authenticates provider callbacks, records every one of
// them and hands legal transitions to the committer.
type WebhookIngestor struct {
	registry       *gateway.Registry
	intents        repository.IntentStore
	webhooks       repository.WebhookStore
	committer      *LedgerCommitter
	sandboxAllowed bool
	log            *zap.Logger
	now            func() time.Time
}

func NewWebhookIngestor(registry *gateway.Registry, intents repository.IntentStore, webhooks repository.WebhookStore, committer *LedgerCommitter, sandboxAllowed bool, log *zap.Logger) *WebhookIngestor {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookIngestor{
		registry:       registry,
		intents:        intents,
		webhooks:       webhooks,
		committer:      committer,
		sandboxAllowed: sandboxAllowed,
		log:            log,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Ingest processes one raw callback body. Nothing is parsed before the
// signature is checked, and the audit record is written whatever the outcome.
//
// Errors: ErrGatewayNotConfigured, *AuthenticityError, *ValidationError for a
// malformed body, ErrIntentNotFound, *CommitFailure. An illegal transition is
// not an error; it is reported as OutcomeInvalidTransition.
func (w *WebhookIngestor) Ingest(ctx context.Context, gatewayName string, payload []byte, signature string) (*IngestResult, error) {
	rec := &models.WebhookRecord{
		ID:         uuid.New().String(),
		Gateway:    gatewayName,
		Payload:    payload,
		Signature:  signature,
		ReceivedAt: w.now(),
	}
	res, err := w.ingest(ctx, gatewayName, payload, signature, rec)

	rec.Verification = res.Verification
	rec.Outcome = res.Outcome
	rec.IntentID = res.IntentID
	if err != nil {
		rec.Detail = err.Error()
	}
	metrics.WebhooksReceived.WithLabelValues(gatewayName, string(res.Verification), string(res.Outcome)).Inc()

	if appendErr := w.webhooks.Append(ctx, rec); appendErr != nil {
		w.log.Error("failed to record webhook",
			zap.String("gateway", gatewayName),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(appendErr),
		)
		if err == nil {
			err = fmt.Errorf("record webhook: %w", appendErr)
		}
	}
	return res, err
}

func (w *WebhookIngestor) ingest(ctx context.Context, gatewayName string, payload []byte, signature string, rec *models.WebhookRecord) (*IngestResult, error) {
	res := &IngestResult{}
	adapter, ok := w.registry.Adapter(gatewayName)
	if !ok {
		res.Verification = models.VerificationNotSupported
		res.Outcome = models.OutcomeNotFound
		return res, ErrGatewayNotConfigured
	}

	res.Verification = w.verify(adapter, payload, signature)
	if res.Verification != models.VerificationVerified && res.Verification != models.VerificationSkippedSandbox {
		res.Outcome = models.OutcomeRejectedAuth
		w.log.Warn("webhook rejected",
			zap.String("gateway", gatewayName),
			zap.String("verification", string(res.Verification)),
		)
		return res, &AuthenticityError{Gateway: gatewayName, Verification: res.Verification}
	}

	n, err := adapter.ParseInbound(payload)
	if err != nil {
		res.Outcome = models.OutcomeMalformed
		return res, &ValidationError{Field: "payload", Message: err.Error(), Err: err}
	}
	rec.ExternalID = n.ExternalID
	rec.OrderNumber = n.OrderNumber

	to := adapter.MapStatus(n.ExternalStatus)
	if to == "" {
		res.Outcome = models.OutcomeMalformed
		return res, invalid("status", "unknown %s status %q", gatewayName, n.ExternalStatus)
	}

	intent, err := w.lookup(ctx, gatewayName, n)
	if err != nil {
		res.Outcome = models.OutcomeNotFound
		if !errors.Is(err, ErrIntentNotFound) {
			res.Outcome = models.OutcomeError
		}
		return res, err
	}
	res.IntentID = intent.ID
	res.Status = intent.Status

	if intent.Status.IsTerminal() {
		res.Outcome = models.OutcomeAlreadyApplied
		return res, nil
	}
	if _, err := statemachine.Check(intent.Status, to); err != nil {
		res.Outcome = models.OutcomeInvalidTransition
		w.log.Info("ignoring illegal transition from webhook",
			zap.String("gateway", gatewayName),
			zap.String("intent_id", intent.ID),
			zap.String("from", string(intent.Status)),
			zap.String("to", string(to)),
		)
		return res, nil
	}

	result, err := w.committer.Commit(ctx, intent.ID, to, models.Observation{
		ExternalStatus: n.ExternalStatus,
		Confirmations:  n.Confirmations,
		ReceivedAmount: n.ReceivedAmount,
		Raw:            n.Raw,
		Source:         SourceWebhook,
	})
	var conflict *StateConflictError
	switch {
	case errors.As(err, &conflict):
		// The intent moved between the check above and the commit.
		res.Outcome = models.OutcomeInvalidTransition
		res.Status = conflict.From
		return res, nil
	case err != nil:
		res.Outcome = models.OutcomeError
		return res, err
	}

	res.Outcome = outcomeFor(result)
	if result != AlreadyApplied {
		res.Status = to
	}
	return res, nil
}

// verify decides the Verification for a callback.
func (w *WebhookIngestor) verify(adapter gateway.Adapter, payload []byte, signature string) models.Verification {
	caps := adapter.Capabilities()
	switch {
	case !caps.Push:
		return models.VerificationNotSupported
	case caps.Sandbox:
		if w.sandboxAllowed {
			return models.VerificationSkippedSandbox
		}
		return models.VerificationFailed
	case adapter.VerifyInbound(payload, signature):
		return models.VerificationVerified
	default:
		return models.VerificationFailed
	}
}

// lookup resolves the intent by external id, falling back to the order
// number for providers that call back before the id is known to us.
func (w *WebhookIngestor) lookup(ctx context.Context, gatewayName string, n *gateway.Notification) (*models.PaymentIntent, error) {
	intent, err := w.intents.GetByExternalID(ctx, gatewayName, n.ExternalID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup intent: %w", err)
	}
	if n.OrderNumber == "" {
		return nil, ErrIntentNotFound
	}

	intent, err = w.intents.GetByOrderNumber(ctx, n.OrderNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup intent: %w", err)
	}
	if intent.Gateway != gatewayName {
		return nil, ErrIntentNotFound
	}
	return intent, nil
}

func outcomeFor(r CommitResult) models.WebhookOutcome {
	switch r {
	case Applied:
		return models.OutcomeApplied
	case AlreadyApplied:
		return models.OutcomeAlreadyApplied
	case Rejected:
		return models.OutcomeFailed
	case Progressed:
		return models.OutcomeProgressed
	default:
		return models.OutcomeUnchanged
	}
}
