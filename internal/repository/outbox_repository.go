package repository

import (
	"context"
	"database/sql"
	"fmt"

	"settlement-gateway/internal/models"
)

type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) FindUnpublished(ctx context.Context, maxAttempts, limit int) ([]*models.OutboxEvent, error) {
	query := `
		SELECT id, event_type, intent_id, payload, published, attempts, created_at
		FROM outbox_events
		WHERE published = FALSE AND ($1 <= 0 OR attempts < $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("find unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		evt := &models.OutboxEvent{}
		var payload []byte
		if err := rows.Scan(&evt.ID, &evt.Type, &evt.IntentID, &payload, &evt.Published, &evt.Attempts, &evt.CreatedAt); err != nil {
			return nil, err
		}
		evt.Payload = payload
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET published = TRUE, attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkAttempted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event attempted: %w", err)
	}
	return nil
}
