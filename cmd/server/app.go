package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-gateway/internal/config"
	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/handler"
	"settlement-gateway/internal/models"
	"settlement-gateway/internal/outbox"
	"settlement-gateway/internal/repository"
	"settlement-gateway/internal/service"
	"settlement-gateway/pkg/database"
	"settlement-gateway/pkg/redis"
)

// app holds the wired components of one process.
type app struct {
	cfg *config.Config
	log *zap.Logger

	intents  repository.IntentStore
	webhooks repository.WebhookStore
	ledgers  repository.LedgerStore
	events   repository.OutboxStore

	db    *database.PostgresDB
	cache *redis.Client

	registry   *gateway.Registry
	factory    *service.IntentFactory
	ingestor   *service.WebhookIngestor
	reconciler *service.Reconciler
	ledger     *service.LedgerService

	publisher outbox.Publisher
	worker    *outbox.Worker
	closers   []func() error
	wg        sync.WaitGroup
}

func newApp(cfg *config.Config, log *zap.Logger, memory bool) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if memory {
		store := repository.NewMemoryStore()
		a.intents, a.webhooks, a.ledgers, a.events = store, store, store, store
		log.Warn("using in-memory store; state is lost on exit")
	} else {
		db, err := database.NewPostgresDB(cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(context.Background(), models.Schemas()...); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.intents = repository.NewIntentRepository(db.DB)
		a.webhooks = repository.NewWebhookRepository(db.DB)
		a.ledgers = repository.NewLedgerRepository(db.DB)
		a.events = repository.NewOutboxRepository(db.DB)

		a.cache = redis.NewRedisClient(cfg.RedisURL)
		a.closers = append(a.closers, a.cache.Close)
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry = registry
	retry := cfg.RetryPolicy()

	committer := service.NewLedgerCommitter(a.intents, service.CommitterConfig{
		CommissionPercent: cfg.Settlement.CommissionPercent,
		RenewalDays:       cfg.Settlement.RenewalDays,
		Attempts:          cfg.Settlement.CommitAttempts,
	}, log)

	// A nil *redis.Client must not reach the factory as a non-nil interface.
	var cache service.Cache
	if a.cache != nil {
		cache = a.cache
	}
	a.factory = service.NewIntentFactory(a.intents, registry, cache, retry, service.FactoryConfig{
		IdempotencyTTL: cfg.Settlement.IdempotencyTTL,
		CallbackURL:    cfg.Checkout.WebhookBaseURL(),
		SuccessURL:     cfg.Checkout.SuccessURL,
		CancelURL:      cfg.Checkout.CancelURL,
	}, log)
	a.ingestor = service.NewWebhookIngestor(registry, a.intents, a.webhooks, committer, cfg.SandboxPermitted(), log)
	a.reconciler = service.NewReconciler(a.intents, registry, committer, retry, service.ReconcilerConfig{
		StaleAfter:         cfg.Reconcile.StaleAfter,
		ExpireAfter:        cfg.Reconcile.ExpireAfter,
		StatusCheckTimeout: cfg.Reconcile.StatusCheckTimeout,
		SweepInterval:      cfg.Reconcile.SweepInterval,
		Workers:            cfg.Reconcile.Workers,
		BatchSize:          cfg.Reconcile.BatchSize,
	}, log)
	a.ledger = service.NewLedgerService(a.ledgers, log)

	return a, nil
}

func (a *app) handlers() *outbox.Handlers {
	h := &outbox.Handlers{Log: a.log}
	if url := a.cfg.Outbox.ProvisionURL; url != "" {
		h.Provisioner = outbox.NewHTTPProvisioner(url, 10*time.Second)
	}
	return h
}

// startBackground launches the sweeper, the outbox dispatcher and, with a
// Redis queue, the task worker. They stop when ctx is cancelled.
func (a *app) startBackground(ctx context.Context) error {
	handlers := a.handlers()
	if a.cache == nil {
		a.publisher = &outbox.InlinePublisher{Mux: handlers.Mux()}
	} else {
		pub := outbox.NewAsynqPublisher(a.cfg.RedisURL, a.cfg.Outbox.Queue, a.cfg.Outbox.MaxRetry)
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)

		a.worker = outbox.NewWorker(outbox.WorkerConfig{
			RedisAddr:   a.cfg.RedisURL,
			Queue:       a.cfg.Outbox.Queue,
			Concurrency: a.cfg.Outbox.Concurrency,
		}, handlers)
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}

	dispatcher := &outbox.Dispatcher{
		Repo:         a.events,
		Publisher:    a.publisher,
		PollInterval: a.cfg.Outbox.PollInterval,
		BatchSize:    a.cfg.Outbox.BatchSize,
		MaxAttempts:  a.cfg.Outbox.MaxAttempts,
		Log:          a.log,
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.reconciler.RunSweeper(ctx)
	}()
	return nil
}

// wait blocks until the background loops have returned, then drains the
// worker.
func (a *app) wait() {
	a.wg.Wait()
	if a.worker != nil {
		a.worker.Shutdown()
	}
}

func (a *app) router() *gin.Engine {
	ready := map[string]handler.ReadinessCheck{}
	if a.db != nil {
		ready["postgres"] = a.db.PingContext
	}
	if a.cache != nil {
		ready["redis"] = a.cache.Ping
	}

	var sandbox *handler.SandboxHandler
	if adapter, ok := a.registry.Adapter(gateway.SandboxName); ok && a.cfg.SandboxPermitted() {
		if sb, ok := adapter.(*gateway.Sandbox); ok {
			sandbox = handler.NewSandboxHandler(sb)
		}
	}

	return handler.NewRouter(handler.RouterConfig{
		Intents:  handler.NewIntentHandler(a.factory, a.reconciler, a.intents, a.webhooks, a.log),
		Webhooks: handler.NewWebhookHandler(a.ingestor, a.log),
		Accounts: handler.NewAccountHandler(a.ledger, a.log),
		Sandbox:  sandbox,
		Ready:    ready,
		Log:      a.log,
	})
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
