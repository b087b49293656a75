package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

const SandboxName = "sandbox"

type SandboxConfig struct {
	CheckoutBaseURL string
	MinAmount       decimal.Decimal
}

// Sandbox is an in-process test provider. Its callbacks are unsigned; the
// ingestor only accepts them when the gateway is configured as sandbox.
type Sandbox struct {
	cfg SandboxConfig

	mu       sync.RWMutex
	statuses map[string]sandboxState
}

type sandboxState struct {
	status   string
	received decimal.Decimal
}

func NewSandbox(cfg SandboxConfig) *Sandbox {
	if cfg.CheckoutBaseURL == "" {
		cfg.CheckoutBaseURL = "http://localhost:8080/sandbox/checkout"
	}
	return &Sandbox{cfg: cfg, statuses: make(map[string]sandboxState)}
}

func (s *Sandbox) Name() string { return SandboxName }

func (s *Sandbox) Capabilities() Capabilities {
	return Capabilities{Push: true, Pull: true, Signed: false, Sandbox: true, MinAmount: s.cfg.MinAmount}
}

func (s *Sandbox) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnavailable, SandboxName, "create", err)
	}
	id := "sbx_" + uuid.New().String()

	s.mu.Lock()
	s.statuses[id] = sandboxState{status: "pending"}
	s.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"id": id, "order_number": req.OrderNumber})
	return &CreateResult{
		ExternalID:  id,
		CheckoutURL: s.cfg.CheckoutBaseURL + "/" + id,
		Raw:         raw,
	}, nil
}

func (s *Sandbox) QueryStatus(ctx context.Context, externalID string) (*StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindUnavailable, SandboxName, "status", err)
	}
	s.mu.RLock()
	st, ok := s.statuses[externalID]
	s.mu.RUnlock()
	if !ok {
		return nil, newError(KindRejected, SandboxName, "status", fmt.Errorf("unknown payment %s", externalID))
	}
	raw, _ := json.Marshal(map[string]string{"id": externalID, "status": st.status})
	return &StatusResult{ExternalStatus: st.status, ReceivedAmount: st.received, Raw: raw}, nil
}

// SetStatus moves a sandbox payment, as a tester would on the provider side.
func (s *Sandbox) SetStatus(externalID, status string, received decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[externalID] = sandboxState{status: status, received: received}
}

func (s *Sandbox) VerifyInbound([]byte, string) bool { return false }

type sandboxCallback struct {
	ExternalID     string          `json:"external_id"`
	OrderNumber    string          `json:"order_number"`
	Status         string          `json:"status"`
	Confirmations  int             `json:"confirmations"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

func (s *Sandbox) ParseInbound(payload []byte) (*Notification, error) {
	var cb sandboxCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, newError(KindMalformed, SandboxName, "parse", err)
	}
	if cb.ExternalID == "" && cb.OrderNumber == "" {
		return nil, newError(KindMalformed, SandboxName, "parse", fmt.Errorf("no external_id or order_number"))
	}
	if cb.Status == "" {
		return nil, newError(KindMalformed, SandboxName, "parse", fmt.Errorf("no status"))
	}
	return &Notification{
		ExternalID:     cb.ExternalID,
		OrderNumber:    cb.OrderNumber,
		ExternalStatus: cb.Status,
		Confirmations:  cb.Confirmations,
		ReceivedAmount: cb.ReceivedAmount,
		Raw:            payload,
	}, nil
}

func (s *Sandbox) MapStatus(external string) models.IntentStatus {
	if external == "paid" {
		return models.IntentStatusCompleted
	}
	status := models.IntentStatus(external)
	if status.Valid() {
		return status
	}
	return ""
}
