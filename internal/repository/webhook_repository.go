package repository

import (
	"context"
	"database/sql"
	"fmt"

	"settlement-gateway/internal/models"
)

// WebhookRepository stores the callback audit log. It has no update or delete.
type WebhookRepository struct {
	db *sql.DB
}

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Append(ctx context.Context, rec *models.WebhookRecord) error {
	query := `
		INSERT INTO webhook_records (
			id, gateway, intent_id, external_id, order_number, payload,
			signature, verification, outcome, detail, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Gateway,
		nullString(rec.IntentID),
		nullString(rec.ExternalID),
		nullString(rec.OrderNumber),
		rec.Payload,
		nullString(rec.Signature),
		rec.Verification,
		rec.Outcome,
		nullString(rec.Detail),
		rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("append webhook record: %w", err)
	}
	return nil
}

func (r *WebhookRepository) ListByIntent(ctx context.Context, intentID string) ([]*models.WebhookRecord, error) {
	query := `
		SELECT id, gateway, COALESCE(intent_id, ''), COALESCE(external_id, ''),
		       COALESCE(order_number, ''), payload, COALESCE(signature, ''),
		       verification, outcome, COALESCE(detail, ''), received_at
		FROM webhook_records
		WHERE intent_id = $1
		ORDER BY received_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, intentID)
	if err != nil {
		return nil, fmt.Errorf("list webhook records: %w", err)
	}
	defer rows.Close()

	var records []*models.WebhookRecord
	for rows.Next() {
		rec := &models.WebhookRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Gateway,
			&rec.IntentID,
			&rec.ExternalID,
			&rec.OrderNumber,
			&rec.Payload,
			&rec.Signature,
			&rec.Verification,
			&rec.Outcome,
			&rec.Detail,
			&rec.ReceivedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
