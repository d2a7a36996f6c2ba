package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// SuppressionRepo persists per-caregiver sender-domain suppressions.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

const suppressionColumns = `id, caregiver_id, provider, sender_domain,
	ignore_count, suppressed, last_ignored_at, created_at, updated_at`

func scanSuppression(row interface{ Scan(...any) error }) (*domain.SenderSuppression, error) {
	var s domain.SenderSuppression
	err := row.Scan(&s.ID, &s.CaregiverID, &s.Provider, &s.SenderDomain,
		&s.IgnoreCount, &s.Suppressed, &s.LastIgnoredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan suppression: %w", err)
	}
	return &s, nil
}

// Increment bumps the ignore count for the domain, creating the row on the
// first ignore. The suppressed flag flips once the count reaches the threshold
// and stays set until explicitly lifted.
func (r *SuppressionRepo) Increment(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string, threshold int) (*domain.SenderSuppression, error) {
	return scanSuppression(r.db.QueryRowContext(ctx, `
		INSERT INTO sender_suppressions
			(id, caregiver_id, provider, sender_domain, ignore_count, suppressed, last_ignored_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, 1 >= $5, NOW(), NOW(), NOW())
		ON CONFLICT (caregiver_id, provider, sender_domain) DO UPDATE SET
			ignore_count = sender_suppressions.ignore_count + 1,
			suppressed = sender_suppressions.suppressed OR (sender_suppressions.ignore_count + 1 >= $5),
			last_ignored_at = NOW(),
			updated_at = NOW()
		RETURNING `+suppressionColumns,
		uuid.New().String(), caregiverID, p, senderDomain, threshold))
}

// SetSuppressed manually suppresses or unsuppresses a domain. Lifting a
// suppression resets the learned count to zero.
func (r *SuppressionRepo) SetSuppressed(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string, suppressed bool) (*domain.SenderSuppression, error) {
	return scanSuppression(r.db.QueryRowContext(ctx, `
		INSERT INTO sender_suppressions
			(id, caregiver_id, provider, sender_domain, ignore_count, suppressed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())
		ON CONFLICT (caregiver_id, provider, sender_domain) DO UPDATE SET
			suppressed = $5,
			ignore_count = CASE WHEN $5 THEN sender_suppressions.ignore_count ELSE 0 END,
			updated_at = NOW()
		RETURNING `+suppressionColumns,
		uuid.New().String(), caregiverID, p, senderDomain, suppressed))
}

// ListSuppressed returns only the suppressed domains, the hot path the mail
// pipeline reads per run.
func (r *SuppressionRepo) ListSuppressed(ctx context.Context, caregiverID string, p domain.Provider) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sender_domain FROM sender_suppressions
		WHERE caregiver_id = $1 AND provider = $2 AND suppressed = true
	`, caregiverID, p)
	if err != nil {
		return nil, fmt.Errorf("list suppressed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan suppressed domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// List returns all suppression rows for a caregiver, most recently ignored
// first.
func (r *SuppressionRepo) List(ctx context.Context, caregiverID string) ([]*domain.SenderSuppression, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+suppressionColumns+` FROM sender_suppressions
		WHERE caregiver_id = $1
		ORDER BY last_ignored_at DESC NULLS LAST
	`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []*domain.SenderSuppression
	for rows.Next() {
		s, err := scanSuppression(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
