package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/metrics"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
)

type ReconcilerConfig struct {
	StaleAfter         time.Duration
	ExpireAfter        time.Duration
	StatusCheckTimeout time.Duration
	SweepInterval      time.Duration
	Workers            int
	BatchSize          int
}

// SweepReport summarizes one Sweep run.
type SweepReport struct {
	Examined   int
	Progressed int
	Settled    int
	Rejected   int
	Expired    int
	Skipped    int
	Failed     int
}

// Reconciler polls providers for intents whose push notification never
// arrived. All status changes go through the committer.
type Reconciler struct {
	intents   repository.IntentStore
	registry  *gateway.Registry
	committer *LedgerCommitter
	retry     gateway.Retry
	cfg       ReconcilerConfig
	log       *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewReconciler(intents repository.IntentStore, registry *gateway.Registry, committer *LedgerCommitter, retry gateway.Retry, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		intents:   intents,
		registry:  registry,
		committer: committer,
		retry:     retry,
		cfg:       cfg,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		inflight:  make(map[string]struct{}),
	}
}

// Reconcile asks the provider for the current status of intentID and commits
// it. It returns the intent's status afterwards. Intents that are terminal,
// not yet registered with the provider, or on a push-only gateway are
// returned as stored.
func (r *Reconciler) Reconcile(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	return r.reconcile(ctx, intentID, SourceReconcile)
}

func (r *Reconciler) reconcile(ctx context.Context, intentID, source string) (*models.PaymentIntent, error) {
	intent, err := r.get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() || intent.ExternalID == "" {
		return intent, nil
	}
	adapter, ok := r.registry.Adapter(intent.Gateway)
	if !ok || !adapter.Capabilities().Pull {
		return intent, nil
	}

	var st *gateway.StatusResult
	err = r.retry.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		res, err := adapter.QueryStatus(ctx, intent.ExternalID)
		observeCall(adapter.Name(), "status", start, err)
		if err != nil {
			return err
		}
		st = res
		return nil
	})
	if err != nil {
		return intent, err
	}

	to := adapter.MapStatus(st.ExternalStatus)
	if to == "" {
		r.log.Warn("provider reported unknown status",
			zap.String("intent_id", intent.ID),
			zap.String("gateway", intent.Gateway),
			zap.String("external_status", st.ExternalStatus),
		)
		return intent, nil
	}

	_, err = r.committer.Commit(ctx, intent.ID, to, models.Observation{
		ExternalStatus: st.ExternalStatus,
		Confirmations:  st.Confirmations,
		ReceivedAmount: st.ReceivedAmount,
		Raw:            st.Raw,
		Source:         source,
	})
	var conflict *StateConflictError
	if errors.As(err, &conflict) {
		r.log.Info("provider status is not a legal transition",
			zap.String("intent_id", intent.ID),
			zap.String("from", string(conflict.From)),
			zap.String("to", string(conflict.To)),
		)
		return intent, nil
	}
	if err != nil {
		return intent, err
	}
	return r.get(ctx, intentID)
}

// Check returns the freshest status available within the status check
// timeout. A slow or failing provider yields the stored intent, not an error.
func (r *Reconciler) Check(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	checkCtx := ctx
	if r.cfg.StatusCheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, r.cfg.StatusCheckTimeout)
		defer cancel()
	}

	intent, err := r.Reconcile(checkCtx, intentID)
	if err == nil {
		return intent, nil
	}
	if errors.Is(err, ErrIntentNotFound) {
		return nil, err
	}

	r.log.Warn("status refresh failed, serving stored status",
		zap.String("intent_id", intentID),
		zap.Error(err),
	)
	return r.get(ctx, intentID)
}

// Sweep reconciles one batch of stale intents and expires those past
// ExpireAfter whose provider still reports them open.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	now := r.now()
	stale, err := r.intents.ListStale(ctx, now.Add(-r.cfg.StaleAfter), r.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list stale intents: %w", err)
	}

	var (
		mu     sync.Mutex
		report SweepReport
		wg     sync.WaitGroup
	)
	jobs := make(chan *models.PaymentIntent)
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for intent := range jobs {
				result := r.sweepOne(ctx, intent, now)
				metrics.SweepProcessed.WithLabelValues(result).Inc()
				mu.Lock()
				report.Examined++
				switch result {
				case "settled":
					report.Settled++
				case "rejected":
					report.Rejected++
				case "expired":
					report.Expired++
				case "progressed":
					report.Progressed++
				case "skipped":
					report.Skipped++
				case "failed":
					report.Failed++
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, intent := range stale {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- intent:
		}
	}
	close(jobs)
	wg.Wait()

	if report.Examined > 0 {
		r.log.Info("sweep finished",
			zap.Int("examined", report.Examined),
			zap.Int("settled", report.Settled),
			zap.Int("rejected", report.Rejected),
			zap.Int("expired", report.Expired),
			zap.Int("progressed", report.Progressed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed),
		)
	}
	return report, ctx.Err()
}

func (r *Reconciler) sweepOne(ctx context.Context, intent *models.PaymentIntent, now time.Time) string {
	if !r.claim(intent.ID) {
		return "skipped"
	}
	defer r.release(intent.ID)

	adapter, ok := r.registry.Adapter(intent.Gateway)
	if !ok || !adapter.Capabilities().Pull {
		return "skipped"
	}

	current, err := r.reconcile(ctx, intent.ID, SourceSweep)
	if err != nil {
		r.log.Warn("sweep reconcile failed",
			zap.String("intent_id", intent.ID),
			zap.String("gateway", intent.Gateway),
			zap.Error(err),
		)
		return "failed"
	}

	switch current.Status {
	case models.IntentStatusCompleted:
		return "settled"
	case models.IntentStatusFailed, models.IntentStatusExpired:
		return "rejected"
	case models.IntentStatusPartiallyPaid:
		// Held for manual review rather than expired.
		return "progressed"
	}

	if r.cfg.ExpireAfter > 0 && current.CreatedAt.Before(now.Add(-r.cfg.ExpireAfter)) {
		_, err := r.committer.Commit(ctx, current.ID, models.IntentStatusExpired, models.Observation{Source: SourceSweep})
		if err != nil {
			r.log.Warn("failed to expire intent", zap.String("intent_id", current.ID), zap.Error(err))
			return "failed"
		}
		return "expired"
	}
	if current.Status != intent.Status {
		return "progressed"
	}
	return "unchanged"
}

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (r *Reconciler) RunSweeper(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("stale sweep started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("stale sweep stopped")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Reconciler) release(id string) {
	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
}

func (r *Reconciler) get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	intent, err := r.intents.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get intent %s: %w", id, err)
	}
	return intent, nil
}
