package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-gateway/internal/models"
	"settlement-gateway/pkg/database"
)

type IntentRepository struct {
	db *sql.DB
}

func NewIntentRepository(db *sql.DB) *IntentRepository {
	return &IntentRepository{db: db}
}

const intentColumns = `
	id, COALESCE(external_id, ''), order_number, purpose, customer_id,
	COALESCE(referrer_id, ''), is_first_order, COALESCE(product_id, ''),
	COALESCE(variant_id, ''), COALESCE(subscription_id, ''),
	requested_amount, fee_amount, final_amount, fee_type, fee_percentage,
	currency, gateway, status, COALESCE(checkout_url, ''), COALESCE(pay_address, ''),
	confirmations, received_amount, COALESCE(failure_reason, ''), metadata,
	settled, created_at, status_changed_at, completed_at`

func (r *IntentRepository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	query := `
		INSERT INTO payment_intents (
			id, external_id, order_number, purpose, customer_id, referrer_id,
			is_first_order, product_id, variant_id, subscription_id,
			requested_amount, fee_amount, final_amount, fee_type, fee_percentage,
			currency, gateway, status, checkout_url, pay_address, confirmations,
			received_amount, failure_reason, metadata, settled, created_at,
			status_changed_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`

	_, err := r.db.ExecContext(ctx, query,
		intent.ID,
		nullString(intent.ExternalID),
		intent.OrderNumber,
		intent.Purpose,
		intent.CustomerID,
		nullString(intent.ReferrerID),
		intent.IsFirstOrder,
		nullString(intent.ProductID),
		nullString(intent.VariantID),
		nullString(intent.SubscriptionID),
		intent.RequestedAmount,
		intent.FeeAmount,
		intent.FinalAmount,
		intent.FeeType,
		intent.FeePercentage,
		intent.Currency,
		intent.Gateway,
		intent.Status,
		nullString(intent.CheckoutURL),
		nullString(intent.PayAddress),
		intent.Confirmations,
		intent.ReceivedAmount,
		nullString(intent.FailureReason),
		nullJSON(intent.Metadata),
		intent.Settled,
		intent.CreatedAt,
		intent.StatusChangedAt,
		intent.CompletedAt,
	)
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (r *IntentRepository) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
}

func (r *IntentRepository) GetByOrderNumber(ctx context.Context, orderNumber string) (*models.PaymentIntent, error) {
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_number = $1`, orderNumber)
}

func (r *IntentRepository) GetByExternalID(ctx context.Context, gateway, externalID string) (*models.PaymentIntent, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE gateway = $1 AND external_id = $2`, gateway, externalID)
}

func (r *IntentRepository) HasCompletedOrder(ctx context.Context, customerID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_intents
			WHERE customer_id = $1 AND purpose = $2 AND status = $3
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, customerID, models.PurposeOrder, models.IntentStatusCompleted).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed orders: %w", err)
	}
	return exists, nil
}

func (r *IntentRepository) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]*models.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status IN ($1, $2, $3) AND created_at < $4
		ORDER BY created_at ASC
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, query,
		models.IntentStatusPending,
		models.IntentStatusAwaitingConfirmation,
		models.IntentStatusPartiallyPaid,
		createdBefore,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

// Transition locks the intent row, re-checks its status and applies the
// change together with any settlement in one transaction.
func (r *IntentRepository) Transition(ctx context.Context, t Transition) error {
	return database.WithTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		var current models.IntentStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM payment_intents WHERE id = $1 FOR UPDATE`, t.IntentID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock intent: %w", err)
		}
		if current != t.From || current.IsTerminal() {
			return ErrStaleStatus
		}

		var completedAt *time.Time
		if t.To == models.IntentStatusCompleted {
			at := t.At
			completedAt = &at
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE payment_intents
			SET status = $1,
			    confirmations = GREATEST(confirmations, $2),
			    received_amount = $3,
			    failure_reason = COALESCE($4, failure_reason),
			    settled = settled OR $5,
			    status_changed_at = CASE WHEN status = $1 THEN status_changed_at ELSE $6 END,
			    completed_at = COALESCE($7, completed_at)
			WHERE id = $8 AND status = $9 AND status NOT IN ($10, $11, $12)
		`,
			t.To,
			t.Confirmations,
			t.ReceivedAmount,
			nullString(t.FailureReason),
			t.Settlement != nil,
			t.At,
			completedAt,
			t.IntentID,
			t.From,
			models.IntentStatusCompleted,
			models.IntentStatusFailed,
			models.IntentStatusExpired,
		)
		if err != nil {
			return fmt.Errorf("update intent: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update intent: %w", err)
		} else if n != 1 {
			return ErrStaleStatus
		}

		if t.Settlement != nil {
			return applySettlement(ctx, tx, t.Settlement)
		}
		return nil
	})
}

func (r *IntentRepository) Register(ctx context.Context, reg Registration) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_intents
		SET external_id = $1,
		    checkout_url = $2,
		    pay_address = $3,
		    metadata = $4,
		    failure_reason = NULL
		WHERE id = $5 AND status = $6 AND external_id IS NULL
	`,
		reg.ExternalID,
		nullString(reg.CheckoutURL),
		nullString(reg.PayAddress),
		nullJSON(reg.Metadata),
		reg.IntentID,
		models.IntentStatusPending,
	)
	if database.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("register intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("register intent: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, reg.IntentID); err != nil {
		return err
	}
	return ErrStaleStatus
}

func applySettlement(ctx context.Context, tx *sql.Tx, s *models.Settlement) error {
	for _, e := range s.Entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, intent_id, account_id, kind, amount, currency, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, e.ID, e.IntentID, e.AccountID, e.Kind, e.Amount, e.Currency, e.CreatedAt)
		if database.IsUniqueViolation(err) {
			// The (intent_id, kind) constraint caught a second credit.
			return ErrStaleStatus
		}
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		if !CreditsAccount(e.Kind) {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (id, balance, updated_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET
				balance = accounts.balance + EXCLUDED.balance,
				updated_at = EXCLUDED.updated_at
		`, e.AccountID, e.Amount, s.SettledAt)
		if err != nil {
			return fmt.Errorf("credit account %s: %w", e.AccountID, err)
		}
	}

	if s.OrderNumber != "" && s.OrderPaid {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (order_number, status, paid_at) VALUES ($1, 'paid', $2)
			ON CONFLICT (order_number) DO UPDATE SET status = 'paid', paid_at = EXCLUDED.paid_at
		`, s.OrderNumber, s.SettledAt)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
	}

	if s.SubscriptionID != "" && s.RenewalDays > 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, next_renewal_at, updated_at)
			VALUES ($1, $2::timestamptz + make_interval(days => $3), $2)
			ON CONFLICT (id) DO UPDATE SET
				next_renewal_at = GREATEST(subscriptions.next_renewal_at, $2::timestamptz) + make_interval(days => $3),
				updated_at = $2
		`, s.SubscriptionID, s.SettledAt, s.RenewalDays)
		if err != nil {
			return fmt.Errorf("extend subscription: %w", err)
		}
	}

	for _, evt := range s.Events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_events (id, event_type, intent_id, payload, published, attempts, created_at)
			VALUES ($1, $2, $3, $4, FALSE, 0, $5)
		`, evt.ID, evt.Type, evt.IntentID, string(evt.Payload), evt.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

// CreditsAccount reports whether an entry kind moves a wallet balance. Order
// and renewal payments are recorded for audit only.
func CreditsAccount(kind models.EntryKind) bool {
	return kind == models.EntryKindDeposit || kind == models.EntryKindReferralCommission
}

func (r *IntentRepository) getOne(ctx context.Context, query string, args ...interface{}) (*models.PaymentIntent, error) {
	intent, err := scanIntent(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return intent, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{}
	var metadata []byte
	var completedAt sql.NullTime

	err := row.Scan(
		&intent.ID,
		&intent.ExternalID,
		&intent.OrderNumber,
		&intent.Purpose,
		&intent.CustomerID,
		&intent.ReferrerID,
		&intent.IsFirstOrder,
		&intent.ProductID,
		&intent.VariantID,
		&intent.SubscriptionID,
		&intent.RequestedAmount,
		&intent.FeeAmount,
		&intent.FinalAmount,
		&intent.FeeType,
		&intent.FeePercentage,
		&intent.Currency,
		&intent.Gateway,
		&intent.Status,
		&intent.CheckoutURL,
		&intent.PayAddress,
		&intent.Confirmations,
		&intent.ReceivedAmount,
		&intent.FailureReason,
		&metadata,
		&intent.Settled,
		&intent.CreatedAt,
		&intent.StatusChangedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		intent.Metadata = metadata
	}
	if completedAt.Valid {
		t := completedAt.Time
		intent.CompletedAt = &t
	}
	return intent, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
