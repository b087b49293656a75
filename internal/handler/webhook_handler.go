// internal/handler/webhook_handler.go
package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-gateway/internal/models"
	"settlement-gateway/internal/service"
)

const maxWebhookBody = 1 << 20

// signatureHeaders lists where each provider puts its callback signature.
// Cryptomus signs inside the body.
var signatureHeaders = map[string]string{
	"nowpayments": "x-nowpayments-sig",
	"stripe":      "Stripe-Signature",
}

type WebhookHandler struct {
	ingestor *service.WebhookIngestor
	logger   *zap.Logger
}

func NewWebhookHandler(ingestor *service.WebhookIngestor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

func signatureFor(c *gin.Context, gatewayName string) string {
	if name, ok := signatureHeaders[gatewayName]; ok {
		if sig := c.GetHeader(name); sig != "" {
			return sig
		}
	}
	return c.GetHeader("X-Signature")
}

// HandleWebhook handles POST /api/v1/webhooks/:gateway
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	gatewayName := c.Param("gateway")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(payload) > maxWebhookBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context(), gatewayName, payload, signatureFor(c, gatewayName))
	if err != nil {
		h.logger.Warn("webhook not applied",
			zap.String("gateway", gatewayName),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(err),
		)
		writeError(c, h.logger, "webhook processing failed", err)
		return
	}

	if res.Outcome == models.OutcomeInvalidTransition {
		h.logger.Info("webhook ignored",
			zap.String("gateway", gatewayName),
			zap.String("intent_id", res.IntentID),
		)
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":   res.Outcome,
		"intent_id": res.IntentID,
		"status":    res.Status,
	})
}

// SandboxHandler lets testers move sandbox payments on the provider side.
type SandboxHandler struct {
	sandbox SandboxControl
}

// SandboxControl is the part of the sandbox gateway the handler drives.
type SandboxControl interface {
	SetStatus(externalID, status string, received decimal.Decimal)
}

type sandboxStatusRequest struct {
	Status         string          `json:"status" binding:"required"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

func NewSandboxHandler(sandbox SandboxControl) *SandboxHandler {
	return &SandboxHandler{sandbox: sandbox}
}

// SetStatus handles POST /sandbox/payments/:id
func (h *SandboxHandler) SetStatus(c *gin.Context) {
	var req sandboxStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.sandbox.SetStatus(c.Param("id"), req.Status, req.ReceivedAmount)
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}
