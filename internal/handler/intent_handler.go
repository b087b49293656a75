// internal/handler/intent_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
	"settlement-gateway/internal/service"
)

type IntentHandler struct {
	factory    *service.IntentFactory
	reconciler *service.Reconciler
	intents    repository.IntentStore
	webhooks   repository.WebhookStore
	logger     *zap.Logger
}

func NewIntentHandler(factory *service.IntentFactory, reconciler *service.Reconciler, intents repository.IntentStore, webhooks repository.WebhookStore, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		factory:    factory,
		reconciler: reconciler,
		intents:    intents,
		webhooks:   webhooks,
		logger:     logger,
	}
}

// CreateIntent handles POST /api/v1/intents
func (h *IntentHandler) CreateIntent(c *gin.Context) {
	var req models.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON body"})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	out, err := h.factory.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, "failed to create intent", err)
		return
	}

	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, models.NewIntentResponse(out.Intent))
}

// GetIntent handles GET /api/v1/intents/:id. With ?refresh=true the provider
// is polled first, bounded by the status check timeout.
func (h *IntentHandler) GetIntent(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	var (
		intent *models.PaymentIntent
		err    error
	)
	if c.Query("refresh") == "true" {
		intent, err = h.reconciler.Check(ctx, id)
	} else {
		intent, err = h.intents.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			err = service.ErrIntentNotFound
		}
	}
	if err != nil {
		writeError(c, h.logger, "failed to load intent", err)
		return
	}
	c.JSON(http.StatusOK, models.NewStatusView(intent))
}

// GetIntentByOrder handles GET /api/v1/intents/by-order/:orderNumber
func (h *IntentHandler) GetIntentByOrder(c *gin.Context) {
	intent, err := h.intents.GetByOrderNumber(c.Request.Context(), c.Param("orderNumber"))
	if errors.Is(err, repository.ErrNotFound) {
		err = service.ErrIntentNotFound
	}
	if err != nil {
		writeError(c, h.logger, "failed to load intent", err)
		return
	}
	c.JSON(http.StatusOK, models.NewStatusView(intent))
}

// ReconcileIntent handles POST /api/v1/intents/:id/reconcile. Unlike the
// refresh query it surfaces provider errors.
func (h *IntentHandler) ReconcileIntent(c *gin.Context) {
	intent, err := h.reconciler.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to reconcile intent", err)
		return
	}
	c.JSON(http.StatusOK, models.NewStatusView(intent))
}

// ListWebhooks handles GET /api/v1/intents/:id/webhooks
func (h *IntentHandler) ListWebhooks(c *gin.Context) {
	records, err := h.webhooks.ListByIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to list webhooks", err)
		return
	}
	if records == nil {
		records = []*models.WebhookRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": records})
}
