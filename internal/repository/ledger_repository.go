package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"settlement-gateway/internal/models"
)

// LedgerRepository reads balances and settlement entries. Writes only happen
// inside IntentRepository.Transition.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Balance returns a zero balance for accounts that were never credited.
func (r *LedgerRepository) Balance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	balance := &models.AccountBalance{AccountID: accountID, Balance: decimal.Zero}
	err := r.db.QueryRowContext(ctx,
		`SELECT balance, updated_at FROM accounts WHERE id = $1`, accountID,
	).Scan(&balance.Balance, &balance.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return balance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (r *LedgerRepository) EntriesByIntent(ctx context.Context, intentID string) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, intent_id, account_id, kind, amount, currency, created_at
		FROM ledger_entries
		WHERE intent_id = $1
		ORDER BY created_at ASC
	`
	return r.queryEntries(ctx, query, intentID)
}

func (r *LedgerRepository) EntriesByAccount(ctx context.Context, accountID string) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, intent_id, account_id, kind, amount, currency, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC
	`
	return r.queryEntries(ctx, query, accountID)
}

func (r *LedgerRepository) queryEntries(ctx context.Context, query string, arg string) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry := &models.LedgerEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.IntentID,
			&entry.AccountID,
			&entry.Kind,
			&entry.Amount,
			&entry.Currency,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
