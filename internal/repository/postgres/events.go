package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// EventRepo appends per-run ingestion audit rows.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed ingestion event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Record appends one ingestion event. Rows are append-only; nothing updates
// them after the fact.
func (r *EventRepo) Record(ctx context.Context, ev *domain.IngestionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ingestion_events
			(id, source_id, reason, created, updated, skipped, errors, history_id, duration_ms, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, ev.ID, ev.SourceID, ev.Reason, ev.Created, ev.Updated, ev.Skipped, ev.Errors,
		ev.HistoryID, ev.DurationMs, ev.StartedAt)
	if err != nil {
		return fmt.Errorf("record ingestion event: %w", err)
	}
	return nil
}

// ListBySource returns the most recent events for a source, newest first.
func (r *EventRepo) ListBySource(ctx context.Context, sourceID string, limit int) ([]*domain.IngestionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, reason, created, updated, skipped, errors, history_id, duration_ms, started_at, created_at
		FROM ingestion_events
		WHERE source_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion events: %w", err)
	}
	defer rows.Close()

	var out []*domain.IngestionEvent
	for rows.Next() {
		var ev domain.IngestionEvent
		if err := rows.Scan(&ev.ID, &ev.SourceID, &ev.Reason, &ev.Created, &ev.Updated,
			&ev.Skipped, &ev.Errors, &ev.HistoryID, &ev.DurationMs, &ev.StartedAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ingestion event: %w", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
