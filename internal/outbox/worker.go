package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"settlement-gateway/internal/models"
)

// Provisioner tells the storefront that a paid order can be fulfilled.
type Provisioner interface {
	Provision(ctx context.Context, p models.TriggerPayload) error
}

// HTTPProvisioner posts the trigger payload to a fulfilment endpoint.
type HTTPProvisioner struct {
	URL    string
	client *http.Client
}

func NewHTTPProvisioner(url string, timeout time.Duration) *HTTPProvisioner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvisioner{URL: url, client: &http.Client{Timeout: timeout}}
}

func (h *HTTPProvisioner) Provision(ctx context.Context, p models.TriggerPayload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", p.IntentID)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provision %s: %w", p.OrderNumber, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("provision %s: status %d: %s", p.OrderNumber, resp.StatusCode, msg)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	return nil
}

// Handlers consumes the trigger tasks. Provisioner may be nil, in which case
// provisioning requests are logged and acknowledged.
type Handlers struct {
	Provisioner Provisioner
	Log         *zap.Logger
}

// Mux routes every event type to its handler.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(string(models.EventIntentSettled), h.handleSettled)
	mux.HandleFunc(string(models.EventProvisionRequested), h.handleProvision)
	mux.HandleFunc(string(models.EventRenewalScheduled), h.handleRenewal)
	return mux
}

func (h *Handlers) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func decodeTrigger(t *asynq.Task) (models.TriggerPayload, error) {
	var p models.TriggerPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p, nil
}

func (h *Handlers) handleSettled(_ context.Context, t *asynq.Task) error {
	p, err := decodeTrigger(t)
	if err != nil {
		return err
	}
	h.logger().Info("intent settled",
		zap.String("intent_id", p.IntentID),
		zap.String("order_number", p.OrderNumber),
		zap.String("purpose", string(p.Purpose)),
		zap.String("amount", p.Amount.String()),
		zap.String("currency", p.Currency),
	)
	return nil
}

func (h *Handlers) handleProvision(ctx context.Context, t *asynq.Task) error {
	p, err := decodeTrigger(t)
	if err != nil {
		return err
	}
	if h.Provisioner == nil {
		h.logger().Info("provisioning requested, no provisioner configured",
			zap.String("order_number", p.OrderNumber),
			zap.String("product_id", p.ProductID),
		)
		return nil
	}
	if err := h.Provisioner.Provision(ctx, p); err != nil {
		h.logger().Warn("provisioning failed", zap.String("order_number", p.OrderNumber), zap.Error(err))
		return err
	}
	h.logger().Info("order provisioned", zap.String("order_number", p.OrderNumber), zap.String("product_id", p.ProductID))
	return nil
}

func (h *Handlers) handleRenewal(_ context.Context, t *asynq.Task) error {
	p, err := decodeTrigger(t)
	if err != nil {
		return err
	}
	h.logger().Info("subscription renewed",
		zap.String("subscription_id", p.SubscriptionID),
		zap.String("order_number", p.OrderNumber),
	)
	return nil
}

type WorkerConfig struct {
	RedisAddr   string
	Queue       string
	Concurrency int
}

// Worker runs the asynq server for the trigger queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(cfg WorkerConfig, handlers *Handlers) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
	})
	return &Worker{server: srv, mux: handlers.Mux()}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for in-flight tasks and stops the server.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
