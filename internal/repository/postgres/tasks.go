package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// TaskRepo persists tasks. The (caregiver_id, external_id) pair carries a
// partial unique index (external_id <> ''), which is what makes ingestion
// idempotent across repeated syncs of the same message.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed task repository.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

const taskColumns = `id, caregiver_id, care_recipient_id, type, status, review_state, confidence,
	title, description, raw_snippet,
	external_id, source_id, source_link, provider, sender, sender_domain,
	start_at, end_at, location, organizer,
	amount, currency, due_at, vendor, reference_number, statement_period,
	medication_name, dosage, frequency, route, prescribing_provider, next_dose_at,
	ingestion_debug, synced_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	err := row.Scan(
		&t.ID, &t.CaregiverID, &t.CareRecipientID, &t.Type, &t.Status, &t.ReviewState, &t.Confidence,
		&t.Title, &t.Description, &t.RawSnippet,
		&t.ExternalID, &t.SourceID, &t.SourceLink, &t.Provider, &t.Sender, &t.SenderDomain,
		&t.StartAt, &t.EndAt, &t.Location, &t.Organizer,
		&t.Amount, &t.Currency, &t.DueAt, &t.Vendor, &t.ReferenceNumber, &t.StatementPeriod,
		&t.MedicationName, &t.Dosage, &t.Frequency, &t.Route, &t.PrescribingProvider, &t.NextDoseAt,
		&t.IngestionDebug, &t.SyncedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &t, nil
}

// Upsert inserts or updates by (caregiver_id, external_id) and reports which
// happened. Tasks without an external id always insert. created_at is never
// overwritten on update.
func (r *TaskRepo) Upsert(ctx context.Context, t *domain.Task) (domain.Outcome, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	if t.ExternalID == "" {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16,
				$17, $18, $19, $20,
				$21, $22, $23, $24, $25, $26,
				$27, $28, $29, $30, $31, $32,
				$33, $34, NOW(), NOW())
		`, upsertArgs(t)...)
		if err != nil {
			return domain.OutcomeErrored, fmt.Errorf("insert task: %w", err)
		}
		return domain.OutcomeCreated, nil
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26,
			$27, $28, $29, $30, $31, $32,
			$33, $34, NOW(), NOW())
		ON CONFLICT (caregiver_id, external_id) WHERE external_id <> '' DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			review_state = EXCLUDED.review_state,
			confidence = EXCLUDED.confidence,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			raw_snippet = EXCLUDED.raw_snippet,
			source_id = EXCLUDED.source_id,
			source_link = EXCLUDED.source_link,
			sender = EXCLUDED.sender,
			sender_domain = EXCLUDED.sender_domain,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			location = EXCLUDED.location,
			organizer = EXCLUDED.organizer,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			due_at = EXCLUDED.due_at,
			vendor = EXCLUDED.vendor,
			reference_number = EXCLUDED.reference_number,
			statement_period = EXCLUDED.statement_period,
			medication_name = EXCLUDED.medication_name,
			dosage = EXCLUDED.dosage,
			frequency = EXCLUDED.frequency,
			route = EXCLUDED.route,
			prescribing_provider = EXCLUDED.prescribing_provider,
			next_dose_at = EXCLUDED.next_dose_at,
			ingestion_debug = EXCLUDED.ingestion_debug,
			synced_at = EXCLUDED.synced_at,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`, upsertArgs(t)...).Scan(&inserted)
	if err != nil {
		return domain.OutcomeErrored, fmt.Errorf("upsert task: %w", err)
	}
	if inserted {
		return domain.OutcomeCreated, nil
	}
	return domain.OutcomeUpdated, nil
}

func upsertArgs(t *domain.Task) []any {
	return []any{
		t.ID, t.CaregiverID, t.CareRecipientID, t.Type, t.Status, t.ReviewState, t.Confidence,
		t.Title, t.Description, t.RawSnippet,
		t.ExternalID, t.SourceID, t.SourceLink, t.Provider, t.Sender, t.SenderDomain,
		t.StartAt, t.EndAt, t.Location, t.Organizer,
		t.Amount, t.Currency, t.DueAt, t.Vendor, t.ReferenceNumber, t.StatementPeriod,
		t.MedicationName, t.Dosage, t.Frequency, t.Route, t.PrescribingProvider, t.NextDoseAt,
		t.IngestionDebug, t.SyncedAt,
	}
}

// Tombstone closes the task for this external id as done and ignored. Returns
// false when the caregiver has no task for the id.
func (r *TaskRepo) Tombstone(ctx context.Context, caregiverID, externalID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'done', review_state = 'ignored', updated_at = NOW()
		WHERE caregiver_id = $1 AND external_id = $2
	`, caregiverID, externalID)
	if err != nil {
		return false, fmt.Errorf("tombstone task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// IgnoredExternalIDs returns the external ids the caregiver has ignored.
func (r *TaskRepo) IgnoredExternalIDs(ctx context.Context, caregiverID string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT external_id FROM tasks
		WHERE caregiver_id = $1 AND review_state = 'ignored' AND external_id <> ''
	`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list ignored ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ignored id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	return scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// Ignore marks a task ignored and done, returning the updated row so the
// suppression learner can see the sender domain.
func (r *TaskRepo) Ignore(ctx context.Context, id string) (*domain.Task, error) {
	return scanTask(r.db.QueryRowContext(ctx, `
		UPDATE tasks SET review_state = 'ignored', status = 'done', updated_at = NOW()
		WHERE id = $1
		RETURNING `+taskColumns, id))
}

// ListByCaregiver returns the caregiver's tasks, optionally filtered by
// review state, newest first.
func (r *TaskRepo) ListByCaregiver(ctx context.Context, caregiverID string, reviewState domain.ReviewState, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE caregiver_id = $1`
	args := []any{caregiverID}
	if reviewState != "" {
		query += ` AND review_state = $2`
		args = append(args, reviewState)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
