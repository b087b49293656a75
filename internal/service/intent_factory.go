package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"settlement-gateway/internal/fee"
	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/metrics"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
)

// Cache is the subset of pkg/redis used for idempotent creation. A nil Cache
// leaves the order-number uniqueness in the store as the only guard.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type FactoryConfig struct {
	IdempotencyTTL time.Duration
	// LockTTL bounds how long one creation holds the per-order lock.
	LockTTL     time.Duration
	CallbackURL string
	SuccessURL  string
	CancelURL   string
}

// CreateOutcome is the result of IntentFactory.Create. Replayed is set when
// the order number already had an intent and no provider call was made.
type CreateOutcome struct {
	Intent   *models.PaymentIntent
	Replayed bool
}

type IntentFactory struct {
	intents  repository.IntentStore
	registry *gateway.Registry
	cache    Cache
	retry    gateway.Retry
	cfg      FactoryConfig
	log      *zap.Logger
	now      func() time.Time
}

func NewIntentFactory(intents repository.IntentStore, registry *gateway.Registry, cache Cache, retry gateway.Retry, cfg FactoryConfig, log *zap.Logger) *IntentFactory {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IntentFactory{
		intents:  intents,
		registry: registry,
		cache:    cache,
		retry:    retry,
		cfg:      cfg,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

const reasonCreationUnavailable = "creation_unavailable"

func idempotencyKey(orderNumber string) string { return "idempotency:" + orderNumber }
func creationLockKey(orderNumber string) string { return "idempotency:lock:" + orderNumber }

// Create validates req, computes the fee, registers the intent with the
// gateway and persists it. A repeated order number returns the stored intent.
func (f *IntentFactory) Create(ctx context.Context, req models.CreateIntentRequest) (*CreateOutcome, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if existing, err := f.lookupExisting(ctx, req.OrderNumber); err != nil {
		return nil, err
	} else if existing != nil && !awaitingRegistration(existing) {
		return f.replay(existing, req)
	}

	entry, ok := f.registry.Get(req.Gateway)
	if !ok {
		return nil, &ValidationError{Field: "gateway", Message: fmt.Sprintf("%q is not configured", req.Gateway), Err: ErrGatewayNotConfigured}
	}
	caps := entry.Adapter.Capabilities()
	if caps.MinAmount.IsPositive() && req.Amount.LessThan(caps.MinAmount) {
		return nil, invalid("amount", "%s is below the %s minimum of %s", req.Amount, req.Gateway, caps.MinAmount)
	}

	breakdown, err := fee.Compute(req.Amount, entry.Fee)
	if err != nil {
		return nil, invalid("amount", "%v", err)
	}

	release, err := f.acquire(ctx, req.OrderNumber)
	if err != nil {
		return nil, err
	}
	defer release()

	// The lock holder before us may have finished between the lookup and
	// the lock.
	if existing, err := f.lookupExisting(ctx, req.OrderNumber); err != nil {
		return nil, err
	} else if existing != nil {
		out, err := f.replay(existing, req)
		if err != nil || !awaitingRegistration(existing) {
			return out, err
		}
		return f.register(ctx, entry.Adapter, existing, req.Description)
	}

	firstOrder := false
	if req.Purpose == models.PurposeOrder {
		completed, err := f.intents.HasCompletedOrder(ctx, req.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("check order history: %w", err)
		}
		firstOrder = !completed
	}

	now := f.now()
	intent := &models.PaymentIntent{
		ID:              uuid.New().String(),
		OrderNumber:     req.OrderNumber,
		Purpose:         req.Purpose,
		CustomerID:      req.CustomerID,
		ReferrerID:      req.ReferrerID,
		IsFirstOrder:    firstOrder,
		ProductID:       req.ProductID,
		VariantID:       req.VariantID,
		SubscriptionID:  req.SubscriptionID,
		RequestedAmount: req.Amount,
		FeeAmount:       breakdown.FeeAmount,
		FinalAmount:     breakdown.FinalAmount,
		FeeType:         string(breakdown.FeeType),
		FeePercentage:   breakdown.FeePercentage,
		Currency:        req.Currency,
		Gateway:         req.Gateway,
		Status:          models.IntentStatusPending,
		CreatedAt:       now,
		StatusChangedAt: now,
	}

	result, callErr := f.createAtGateway(ctx, entry.Adapter, intent, req.Description)
	if callErr != nil {
		// An unavailable provider may still have created the payment, so the
		// intent stays open for callbacks, a retried Create or the sweep.
		if gateway.IsUnavailable(callErr) {
			intent.FailureReason = reasonCreationUnavailable
		} else {
			intent.Status = models.IntentStatusFailed
			intent.FailureReason = "creation_failed:" + string(gateway.KindOf(callErr))
		}
		if err := f.intents.Create(ctx, intent); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			f.log.Error("failed to record unregistered intent", zap.String("order_number", intent.OrderNumber), zap.Error(err))
		} else if err == nil {
			f.remember(ctx, intent)
		}
		metrics.IntentsCreated.WithLabelValues(intent.Gateway, string(intent.Purpose), string(intent.Status)).Inc()
		f.log.Warn("gateway did not register intent",
			zap.String("order_number", intent.OrderNumber),
			zap.String("gateway", intent.Gateway),
			zap.String("status", string(intent.Status)),
			zap.Error(callErr),
		)
		return nil, callErr
	}

	intent.ExternalID = result.ExternalID
	intent.CheckoutURL = result.CheckoutURL
	intent.PayAddress = result.PayAddress
	intent.Metadata = result.Raw

	if err := f.intents.Create(ctx, intent); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			stored, lookupErr := f.intents.GetByOrderNumber(ctx, req.OrderNumber)
			if lookupErr == nil {
				return &CreateOutcome{Intent: stored, Replayed: true}, nil
			}
		}
		return nil, fmt.Errorf("failed to save intent: %w", err)
	}

	f.remember(ctx, intent)
	metrics.IntentsCreated.WithLabelValues(intent.Gateway, string(intent.Purpose), string(intent.Status)).Inc()
	f.log.Info("payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("order_number", intent.OrderNumber),
		zap.String("gateway", intent.Gateway),
		zap.String("purpose", string(intent.Purpose)),
		zap.String("final_amount", intent.FinalAmount.String()),
	)
	return &CreateOutcome{Intent: intent}, nil
}

// register retries provider creation for an intent whose first attempt found
// the provider unavailable. The intent id is reused as the provider order id.
func (f *IntentFactory) register(ctx context.Context, adapter gateway.Adapter, intent *models.PaymentIntent, description string) (*CreateOutcome, error) {
	result, callErr := f.createAtGateway(ctx, adapter, intent, description)
	if gateway.IsUnavailable(callErr) {
		return nil, callErr
	}
	if callErr != nil {
		err := f.intents.Transition(ctx, repository.Transition{
			IntentID:      intent.ID,
			From:          models.IntentStatusPending,
			To:            models.IntentStatusFailed,
			FailureReason: "creation_failed:" + string(gateway.KindOf(callErr)),
			At:            f.now(),
		})
		if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			f.log.Error("failed to record failed intent", zap.String("intent_id", intent.ID), zap.Error(err))
		}
		return nil, callErr
	}

	err := f.intents.Register(ctx, repository.Registration{
		IntentID:    intent.ID,
		ExternalID:  result.ExternalID,
		CheckoutURL: result.CheckoutURL,
		PayAddress:  result.PayAddress,
		Metadata:    result.Raw,
	})
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		return nil, fmt.Errorf("failed to register intent: %w", err)
	}
	// A stale status means a callback moved the intent first.
	registered := err == nil

	current, err := f.intents.GetByID(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("reload intent: %w", err)
	}
	f.log.Info("payment intent registered after retry",
		zap.String("intent_id", current.ID),
		zap.String("order_number", current.OrderNumber),
		zap.String("gateway", current.Gateway),
		zap.String("status", string(current.Status)),
	)
	return &CreateOutcome{Intent: current, Replayed: !registered}, nil
}

// awaitingRegistration reports whether the provider never confirmed
// creating intent.
func awaitingRegistration(intent *models.PaymentIntent) bool {
	return intent.Status == models.IntentStatusPending &&
		intent.ExternalID == "" &&
		intent.FailureReason == reasonCreationUnavailable
}

func (f *IntentFactory) createAtGateway(ctx context.Context, adapter gateway.Adapter, intent *models.PaymentIntent, description string) (*gateway.CreateResult, error) {
	req := gateway.CreateRequest{
		IntentID:    intent.ID,
		OrderNumber: intent.OrderNumber,
		Purpose:     intent.Purpose,
		Amount:      intent.FinalAmount,
		Currency:    intent.Currency,
		Description: description,
		CallbackURL: f.cfg.CallbackURL,
		SuccessURL:  f.cfg.SuccessURL,
		CancelURL:   f.cfg.CancelURL,
	}
	if req.CallbackURL != "" {
		req.CallbackURL = strings.TrimRight(req.CallbackURL, "/") + "/" + adapter.Name()
	}

	var result *gateway.CreateResult
	err := f.retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		r, err := adapter.CreateIntent(ctx, req)
		observeCall(adapter.Name(), "create", start, err)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func observeCall(gw, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(gateway.KindOf(err))
	}
	metrics.GatewayCallDuration.WithLabelValues(gw, op, outcome).Observe(time.Since(start).Seconds())
}

// lookupExisting checks the cache then the store. The cache holds only the
// intent id, so a hit still reads the current row. Cache errors and ids that
// no longer resolve fall through to the order-number lookup.
func (f *IntentFactory) lookupExisting(ctx context.Context, orderNumber string) (*models.PaymentIntent, error) {
	if f.cache != nil {
		if id, err := f.cache.Get(ctx, idempotencyKey(orderNumber)); err == nil && id != "" {
			if existing, err := f.intents.GetByID(ctx, id); err == nil && existing.OrderNumber == orderNumber {
				return existing, nil
			}
		}
	}

	existing, err := f.intents.GetByOrderNumber(ctx, orderNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup order %s: %w", orderNumber, err)
	}
	f.remember(ctx, existing)
	return existing, nil
}

// replay returns a stored intent for a repeated order number, refusing reuse
// of the number for a different purchase.
func (f *IntentFactory) replay(existing *models.PaymentIntent, req models.CreateIntentRequest) (*CreateOutcome, error) {
	if existing.Gateway != req.Gateway ||
		existing.Purpose != req.Purpose ||
		existing.CustomerID != req.CustomerID ||
		!existing.RequestedAmount.Equal(req.Amount) {
		return nil, invalid("order_number", "%s was already used for a different request", req.OrderNumber)
	}
	f.log.Debug("replaying existing intent", zap.String("order_number", req.OrderNumber), zap.String("intent_id", existing.ID))
	return &CreateOutcome{Intent: existing, Replayed: true}, nil
}

func (f *IntentFactory) acquire(ctx context.Context, orderNumber string) (func(), error) {
	if f.cache == nil {
		return func() {}, nil
	}
	key := creationLockKey(orderNumber)
	ok, err := f.cache.SetNX(ctx, key, "1", f.cfg.LockTTL)
	if err != nil {
		f.log.Warn("creation lock unavailable, relying on store uniqueness", zap.String("order_number", orderNumber), zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrRequestInProgress
	}
	return func() {
		if err := f.cache.Delete(context.Background(), key); err != nil {
			f.log.Warn("failed to release creation lock", zap.String("order_number", orderNumber), zap.Error(err))
		}
	}, nil
}

func (f *IntentFactory) remember(ctx context.Context, intent *models.PaymentIntent) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(ctx, idempotencyKey(intent.OrderNumber), intent.ID, f.cfg.IdempotencyTTL); err != nil {
		f.log.Warn("failed to cache intent", zap.String("order_number", intent.OrderNumber), zap.Error(err))
	}
}

func validateRequest(req models.CreateIntentRequest) error {
	switch {
	case strings.TrimSpace(req.OrderNumber) == "":
		return invalid("order_number", "is required")
	case len(req.OrderNumber) > 128:
		return invalid("order_number", "must be at most 128 characters")
	case !req.Purpose.Valid():
		return invalid("purpose", "must be one of order, deposit, renewal")
	case !req.Amount.IsPositive():
		return invalid("amount", "must be greater than zero")
	case !req.Amount.Equal(req.Amount.Round(fee.Scale)):
		return invalid("amount", "must have at most %d decimal places", fee.Scale)
	case len(req.Currency) < 3 || len(req.Currency) > 10:
		return invalid("currency", "must be 3 to 10 characters")
	case strings.TrimSpace(req.Gateway) == "":
		return invalid("gateway", "is required")
	case strings.TrimSpace(req.CustomerID) == "":
		return invalid("customer_id", "is required")
	case req.Purpose == models.PurposeOrder && req.ProductID == "":
		return invalid("product_id", "is required for orders")
	case req.Purpose == models.PurposeRenewal && req.SubscriptionID == "":
		return invalid("subscription_id", "is required for renewals")
	}
	return nil
}
