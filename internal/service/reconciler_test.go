package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-gateway/internal/fee"
	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/models"
)

func TestReconcileAppliesProviderStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.create(t, depositRequest("DEP-poll"))

	got, err := f.reconciler.Reconcile(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, got.Status)

	f.sandbox.SetStatus(intent.ExternalID, "paid", intent.FinalAmount)
	got, err = f.reconciler.Reconcile(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusCompleted, got.Status)
	assert.True(t, f.balance(t, "cust-1").Equal(decimal.NewFromInt(100)))

	// A webhook arriving after the poll must not credit again.
	res, err := f.ingestor.Ingest(ctx, gateway.SandboxName, sandboxCallback(t, intent, "paid"), "")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAlreadyApplied, res.Outcome)
	assert.True(t, f.balance(t, "cust-1").Equal(decimal.NewFromInt(100)))
}

func TestWebhookAndReconcileRaceSettlesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.create(t, orderRequest("ORD-race", "cust-r", "ref-r"))
	require.True(t, intent.IsFirstOrder)
	f.sandbox.SetStatus(intent.ExternalID, "paid", intent.FinalAmount)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[models.WebhookOutcome]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res, err := f.ingestor.Ingest(ctx, gateway.SandboxName, sandboxCallback(t, intent, "paid"), "")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			got, err := f.reconciler.Reconcile(ctx, intent.ID)
			if assert.NoError(t, err) {
				assert.Equal(t, models.IntentStatusCompleted, got.Status)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, outcomes[models.OutcomeApplied], 1)
	assert.Equal(t, 20, outcomes[models.OutcomeApplied]+outcomes[models.OutcomeAlreadyApplied])

	settled := 0
	for _, e := range f.store.Events() {
		if e.Type == models.EventIntentSettled {
			settled++
		}
	}
	assert.Equal(t, 1, settled, "exactly one commit settles the intent")

	entries, err := f.store.EntriesByIntent(ctx, intent.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "order payment and referral commission")
	assert.True(t, f.balance(t, "ref-r").Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, f.committer.locks.size())
}

func TestReconcileIgnoresIllegalProviderStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	intent := f.create(t, depositRequest("DEP-back"))

	_, err := f.committer.Commit(ctx, intent.ID, models.IntentStatusAwaitingConfirmation, models.Observation{Source: SourceWebhook})
	require.NoError(t, err)

	got, err := f.reconciler.Reconcile(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusAwaitingConfirmation, got.Status)
}

func TestCheckFallsBackToStoredStatus(t *testing.T) {
	ctx := context.Background()
	slow := &stubAdapter{
		name:        "slow",
		caps:        gateway.Capabilities{Push: true, Pull: true},
		status:      "completed",
		statusDelay: time.Second,
	}
	f := newFixture(t, gateway.Entry{Adapter: slow, Fee: fee.Policy{Type: fee.TypeNone}})

	req := depositRequest("DEP-slow")
	req.Gateway = "slow"
	intent := f.create(t, req)

	start := time.Now()
	got, err := f.reconciler.Check(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusPending, got.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "bounded by the status check timeout")
}

func TestCheckUnknownIntent(t *testing.T) {
	f := newFixture(t)
	_, err := f.reconciler.Check(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	pushOnly := &stubAdapter{name: "pushonly", caps: gateway.Capabilities{Push: true}}
	pollable := &stubAdapter{name: "pollable", caps: gateway.Capabilities{Pull: true}, status: "partially_paid"}
	f := newFixture(t,
		gateway.Entry{Adapter: pushOnly, Fee: fee.Policy{Type: fee.TypeNone}},
		gateway.Entry{Adapter: pollable, Fee: fee.Policy{Type: fee.TypeNone}},
	)

	at := func(age time.Duration) {
		f.factory.now = func() time.Time { return time.Now().UTC().Add(-age) }
	}

	at(time.Hour)
	paid := f.create(t, depositRequest("DEP-paid"))
	f.sandbox.SetStatus(paid.ExternalID, "paid", paid.FinalAmount)

	at(48 * time.Hour)
	abandoned := f.create(t, depositRequest("DEP-abandoned"))

	at(time.Hour)
	open := f.create(t, depositRequest("DEP-open"))

	pushReq := depositRequest("DEP-push")
	pushReq.Gateway = "pushonly"
	at(48 * time.Hour)
	pushIntent := f.create(t, pushReq)

	partialReq := depositRequest("DEP-partial")
	partialReq.Gateway = "pollable"
	partial := f.create(t, partialReq)

	at(0)
	fresh := f.create(t, depositRequest("DEP-fresh"))

	report, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Examined, "the fresh intent is not stale yet")
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Progressed)

	status := func(id string) models.IntentStatus {
		i, err := f.store.GetByID(ctx, id)
		require.NoError(t, err)
		return i.Status
	}
	assert.Equal(t, models.IntentStatusCompleted, status(paid.ID))
	assert.Equal(t, models.IntentStatusExpired, status(abandoned.ID))
	assert.Equal(t, models.IntentStatusPending, status(open.ID))
	assert.Equal(t, models.IntentStatusPending, status(pushIntent.ID))
	assert.Equal(t, models.IntentStatusPartiallyPaid, status(partial.ID), "partial payments are held, not expired")
	assert.Equal(t, models.IntentStatusPending, status(fresh.ID))

	assert.True(t, f.balance(t, "cust-1").Equal(decimal.NewFromInt(100)))

	again, err := f.reconciler.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Settled, "a settled intent is never swept twice")
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.reconciler.cfg.SweepInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.reconciler.RunSweeper(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
