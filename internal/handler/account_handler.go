// internal/handler/account_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-gateway/internal/models"
	"settlement-gateway/internal/service"
)

type AccountHandler struct {
	service *service.LedgerService
	logger  *zap.Logger
}

func NewAccountHandler(service *service.LedgerService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		service: service,
		logger:  logger,
	}
}

// GetBalance handles GET /api/v1/accounts/:id/balance
func (h *AccountHandler) GetBalance(c *gin.Context) {
	balance, err := h.service.GetBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to get balance", err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// ListEntries handles GET /api/v1/accounts/:id/entries
func (h *AccountHandler) ListEntries(c *gin.Context) {
	entries, err := h.service.GetTransactionHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to list entries", err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Reconcile handles GET /api/v1/accounts/:id/reconciliation
func (h *AccountHandler) Reconcile(c *gin.Context) {
	rec, err := h.service.ReconcileAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to reconcile account", err)
		return
	}
	if !rec.Balanced {
		h.logger.Warn("account balance mismatch",
			zap.String("account_id", rec.AccountID),
			zap.String("discrepancy", rec.Discrepancy.String()),
		)
	}
	c.JSON(http.StatusOK, rec)
}

// ListIntentEntries handles GET /api/v1/intents/:id/entries
func (h *AccountHandler) ListIntentEntries(c *gin.Context) {
	entries, err := h.service.EntriesForIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "failed to list entries", err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
