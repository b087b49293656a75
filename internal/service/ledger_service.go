// internal/service/ledger_service.go
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"settlement-gateway/internal/models"
	"settlement-gateway/internal/repository"
)

// LedgerService is the read side of the ledger.
type LedgerService struct {
	repo   repository.LedgerStore
	logger *zap.Logger
}

func NewLedgerService(repo repository.LedgerStore, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{repo: repo, logger: logger}
}

// GetBalance returns an account's stored balance. Unknown accounts are zero.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	return s.repo.Balance(ctx, accountID)
}

// GetTransactionHistory lists every settlement entry touching an account.
func (s *LedgerService) GetTransactionHistory(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	return s.repo.EntriesByAccount(ctx, accountID)
}

// EntriesForIntent lists the entries one settlement produced.
func (s *LedgerService) EntriesForIntent(ctx context.Context, intentID string) ([]*models.LedgerEntry, error) {
	return s.repo.EntriesByIntent(ctx, intentID)
}

// AccountReconciliation compares a stored balance with the entries behind it.
type AccountReconciliation struct {
	AccountID       string          `json:"account_id"`
	StoredBalance   decimal.Decimal `json:"stored_balance"`
	ComputedBalance decimal.Decimal `json:"computed_balance"`
	Credits         int             `json:"credits"`
	AuditOnly       int             `json:"audit_only"`
	Balanced        bool            `json:"balanced"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// ReconcileAccount recomputes an account's balance from its crediting entries.
// Order and renewal payments are audit records and do not count.
func (s *LedgerService) ReconcileAccount(ctx context.Context, accountID string) (*AccountReconciliation, error) {
	balance, err := s.repo.Balance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.EntriesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rec := &AccountReconciliation{
		AccountID:       accountID,
		StoredBalance:   balance.Balance,
		ComputedBalance: decimal.Zero,
		CheckedAt:       time.Now().UTC(),
	}
	for _, e := range entries {
		if repository.CreditsAccount(e.Kind) {
			rec.ComputedBalance = rec.ComputedBalance.Add(e.Amount)
			rec.Credits++
		} else {
			rec.AuditOnly++
		}
	}
	rec.Discrepancy = rec.StoredBalance.Sub(rec.ComputedBalance)
	rec.Balanced = rec.Discrepancy.IsZero()

	if !rec.Balanced {
		s.logger.Warn("account balance does not match its ledger entries",
			zap.String("account_id", accountID),
			zap.String("stored", rec.StoredBalance.String()),
			zap.String("computed", rec.ComputedBalance.String()),
		)
	}
	return rec, nil
}
