// Package postgres implements the persistence interfaces against PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SourceRepo persists connected sources.
type SourceRepo struct{ db *sql.DB }

// NewSourceRepo creates a Postgres-backed source repository.
func NewSourceRepo(db *sql.DB) *SourceRepo { return &SourceRepo{db: db} }

const sourceColumns = `id, caregiver_id, care_recipient_id, provider, account_email,
	refresh_token, status, error_message, is_primary,
	history_id, watch_id, watch_expiration,
	calendar_sync_token, calendar_channel_id, calendar_resource_id,
	last_sync_at, last_push_at, created_at, updated_at`

func scanSource(row interface{ Scan(...any) error }) (*domain.Source, error) {
	var s domain.Source
	err := row.Scan(
		&s.ID, &s.CaregiverID, &s.CareRecipientID, &s.Provider, &s.AccountEmail,
		&s.RefreshToken, &s.Status, &s.ErrorMessage, &s.IsPrimary,
		&s.HistoryID, &s.WatchID, &s.WatchExpiration,
		&s.CalendarSyncToken, &s.CalendarChannelID, &s.CalendarResourceID,
		&s.LastSyncAt, &s.LastPushAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	return &s, nil
}

// Create inserts a new source connection.
func (r *SourceRepo) Create(ctx context.Context, s *domain.Source) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = domain.SourceActive
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (id, caregiver_id, care_recipient_id, provider, account_email,
			refresh_token, status, is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, s.ID, s.CaregiverID, s.CareRecipientID, s.Provider, s.AccountEmail,
		s.RefreshToken, s.Status, s.IsPrimary)
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}
	return nil
}

func (r *SourceRepo) Get(ctx context.Context, id string) (*domain.Source, error) {
	return scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
}

func (r *SourceRepo) FindByAccountEmail(ctx context.Context, email string) (*domain.Source, error) {
	return scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE account_email = $1 AND status != 'disconnected'`, email))
}

func (r *SourceRepo) FindByChannelID(ctx context.Context, channelID string) (*domain.Source, error) {
	return scanSource(r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE calendar_channel_id = $1 AND status != 'disconnected'`, channelID))
}

// ListByCaregiver returns all of a caregiver's sources, newest first.
func (r *SourceRepo) ListByCaregiver(ctx context.Context, caregiverID string) ([]*domain.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE caregiver_id = $1 ORDER BY created_at DESC`, caregiverID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return collectSources(rows)
}

// ListStale returns syncable sources whose last sync predates the cutoff or
// never happened.
func (r *SourceRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sourceColumns+` FROM sources
		WHERE status = 'active'
		  AND (last_sync_at IS NULL OR last_sync_at < $1)
		ORDER BY last_sync_at ASC NULLS FIRST
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale sources: %w", err)
	}
	return collectSources(rows)
}

// ListExpiringWatches returns syncable sources whose mail watch expires before
// the cutoff or that have never registered one.
func (r *SourceRepo) ListExpiringWatches(ctx context.Context, cutoff time.Time) ([]*domain.Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sourceColumns+` FROM sources
		WHERE status = 'active'
		  AND (watch_expiration IS NULL OR watch_expiration < $1)
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring watches: %w", err)
	}
	return collectSources(rows)
}

// SaveSyncState persists the cursor and watch fields the scheduler owns. The
// write holds the source's advisory lock so two replicas cannot interleave
// cursor updates for the same source.
func (r *SourceRepo) SaveSyncState(ctx context.Context, s *domain.Source) error {
	return WithSourceLock(ctx, r.db, s.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sources SET
				history_id = $2, watch_id = $3, watch_expiration = $4,
				calendar_sync_token = $5, calendar_channel_id = $6, calendar_resource_id = $7,
				last_sync_at = $8, updated_at = NOW()
			WHERE id = $1
		`, s.ID, s.HistoryID, s.WatchID, s.WatchExpiration,
			s.CalendarSyncToken, s.CalendarChannelID, s.CalendarResourceID, s.LastSyncAt)
		if err != nil {
			return fmt.Errorf("save sync state: %w", err)
		}
		return nil
	})
}

func (r *SourceRepo) SetStatus(ctx context.Context, id string, status domain.SourceStatus, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sources SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("set source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SourceRepo) TouchPush(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET last_push_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch push: %w", err)
	}
	return nil
}

func collectSources(rows *sql.Rows) ([]*domain.Source, error) {
	defer rows.Close()
	var out []*domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
