package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-gateway/internal/metrics"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
	"settlement-gateway/internal/statemachine"
)

type CommitResult string

const (
	// Applied is a first-time completion with its settlement.
	Applied CommitResult = "applied"
	// AlreadyApplied means the intent was terminal before this call.
	AlreadyApplied CommitResult = "already_applied"
	// Rejected is a first-time move to failed or expired.
	Rejected CommitResult = "rejected"
	// Progressed is a move between non-terminal statuses.
	Progressed CommitResult = "progressed"
	// Unchanged is a repeat of the current non-terminal status.
	Unchanged CommitResult = "unchanged"
)

// Observation sources.
const (
	SourceWebhook   = "webhook"
	SourceReconcile = "reconcile"
	SourceSweep     = "sweep"
)

type CommitterConfig struct {
	CommissionPercent decimal.Decimal
	RenewalDays       int
	Attempts          int
}

// LedgerCommitter is the only writer of intent status. Webhooks, on-demand
// reconciliation and the sweep all funnel through Commit.
type LedgerCommitter struct {
	intents repository.IntentStore
	cfg     CommitterConfig
	locks   *keyedMutex
	log     *zap.Logger
	now     func() time.Time
}

func NewLedgerCommitter(intents repository.IntentStore, cfg CommitterConfig, log *zap.Logger) *LedgerCommitter {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LedgerCommitter{
		intents: intents,
		cfg:     cfg,
		locks:   newKeyedMutex(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Commit moves intentID to status to, applying the settlement on a first
// completion. Concurrent calls for one intent are serialized in process; the
// store's conditional update serializes them across processes.
func (c *LedgerCommitter) Commit(ctx context.Context, intentID string, to models.IntentStatus, obs models.Observation) (CommitResult, error) {
	unlock := c.locks.Lock(intentID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		var result CommitResult
		result, err = c.commitOnce(ctx, intentID, to, obs)
		if err == nil {
			metrics.Commits.WithLabelValues(obs.Source, string(result)).Inc()
			return result, nil
		}
		var failure *CommitFailure
		if !errors.As(err, &failure) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.log.Warn("commit attempt failed",
			zap.String("intent_id", intentID),
			zap.String("target", string(to)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	metrics.Commits.WithLabelValues(obs.Source, "error").Inc()
	return "", err
}

func (c *LedgerCommitter) commitOnce(ctx context.Context, intentID string, to models.IntentStatus, obs models.Observation) (CommitResult, error) {
	intent, err := c.intents.GetByID(ctx, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrIntentNotFound
	}
	if err != nil {
		return "", &CommitFailure{IntentID: intentID, Err: err}
	}

	if intent.Status.IsTerminal() {
		return AlreadyApplied, nil
	}

	kind, err := statemachine.Check(intent.Status, to)
	if err != nil {
		return "", &StateConflictError{IntentID: intentID, From: intent.Status, To: to, Err: err}
	}

	now := c.now()
	t := repository.Transition{
		IntentID:       intentID,
		From:           intent.Status,
		To:             to,
		Confirmations:  max(obs.Confirmations, intent.Confirmations),
		ReceivedAmount: intent.ReceivedAmount,
		At:             now,
	}
	if !obs.ReceivedAmount.IsZero() {
		t.ReceivedAmount = obs.ReceivedAmount
	}

	var result CommitResult
	switch {
	case kind == statemachine.Unchanged:
		if t.Confirmations == intent.Confirmations && t.ReceivedAmount.Equal(intent.ReceivedAmount) {
			return Unchanged, nil
		}
		result = Unchanged
	case to == models.IntentStatusCompleted:
		t.Settlement, err = c.buildSettlement(intent, now)
		if err != nil {
			return "", err
		}
		result = Applied
	case to == models.IntentStatusFailed || to == models.IntentStatusExpired:
		t.FailureReason = failureReason(to, obs)
		result = Rejected
	default:
		result = Progressed
	}

	// ErrStaleStatus lands here too: another process moved the intent between
	// the read and the write, and the next attempt re-reads it.
	if err := c.intents.Transition(ctx, t); err != nil {
		return "", &CommitFailure{IntentID: intentID, Err: err}
	}

	c.log.Info("intent transitioned",
		zap.String("intent_id", intentID),
		zap.String("order_number", intent.OrderNumber),
		zap.String("from", string(intent.Status)),
		zap.String("to", string(to)),
		zap.String("source", obs.Source),
		zap.String("result", string(result)),
	)
	return result, nil
}

func failureReason(to models.IntentStatus, obs models.Observation) string {
	if obs.ExternalStatus != "" {
		return fmt.Sprintf("%s:%s", obs.Source, obs.ExternalStatus)
	}
	return string(to)
}

// buildSettlement assembles the ledger effects of completing intent. Credits
// use the requested amount; the fee is never credited.
func (c *LedgerCommitter) buildSettlement(intent *models.PaymentIntent, at time.Time) (*models.Settlement, error) {
	s := &models.Settlement{
		IntentID:    intent.ID,
		OrderNumber: intent.OrderNumber,
		SettledAt:   at,
	}

	entry := func(account string, kind models.EntryKind, amount decimal.Decimal) *models.LedgerEntry {
		return &models.LedgerEntry{
			ID:        uuid.New().String(),
			IntentID:  intent.ID,
			AccountID: account,
			Kind:      kind,
			Amount:    amount,
			Currency:  intent.Currency,
			CreatedAt: at,
		}
	}

	switch intent.Purpose {
	case models.PurposeDeposit:
		s.Entries = append(s.Entries, entry(intent.CustomerID, models.EntryKindDeposit, intent.RequestedAmount))
	case models.PurposeOrder:
		s.Entries = append(s.Entries, entry(intent.CustomerID, models.EntryKindOrderPayment, intent.RequestedAmount))
		s.OrderPaid = true
		if commission := c.commission(intent); commission.IsPositive() {
			s.Entries = append(s.Entries, entry(intent.ReferrerID, models.EntryKindReferralCommission, commission))
		}
	case models.PurposeRenewal:
		s.Entries = append(s.Entries, entry(intent.CustomerID, models.EntryKindRenewalPayment, intent.RequestedAmount))
		s.SubscriptionID = intent.SubscriptionID
		s.RenewalDays = c.cfg.RenewalDays
	default:
		return nil, fmt.Errorf("intent %s: unknown purpose %q", intent.ID, intent.Purpose)
	}

	payload, err := json.Marshal(models.TriggerPayload{
		IntentID:       intent.ID,
		OrderNumber:    intent.OrderNumber,
		Purpose:        intent.Purpose,
		CustomerID:     intent.CustomerID,
		ProductID:      intent.ProductID,
		VariantID:      intent.VariantID,
		SubscriptionID: intent.SubscriptionID,
		Amount:         intent.RequestedAmount,
		Currency:       intent.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal trigger payload: %w", err)
	}

	event := func(t models.EventType) *models.OutboxEvent {
		return &models.OutboxEvent{
			ID:        uuid.New().String(),
			Type:      t,
			IntentID:  intent.ID,
			Payload:   payload,
			CreatedAt: at,
		}
	}
	s.Events = append(s.Events, event(models.EventIntentSettled))
	switch intent.Purpose {
	case models.PurposeOrder:
		s.Events = append(s.Events, event(models.EventProvisionRequested))
	case models.PurposeRenewal:
		s.Events = append(s.Events, event(models.EventRenewalScheduled))
	}
	return s, nil
}

// commission is owed only on a customer's first completed order with a referrer.
func (c *LedgerCommitter) commission(intent *models.PaymentIntent) decimal.Decimal {
	if !intent.IsFirstOrder || intent.ReferrerID == "" || intent.ReferrerID == intent.CustomerID {
		return decimal.Zero
	}
	return intent.RequestedAmount.
		Mul(c.cfg.CommissionPercent).
		Div(decimal.NewFromInt(100)).
		Round(2)
}
