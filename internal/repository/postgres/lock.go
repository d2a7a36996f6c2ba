package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// WithSourceLock runs fn inside a transaction that holds the advisory lock
// for the source id. When multiple replicas share the database, this is what
// keeps two of them from syncing the same source at once; within one process
// the scheduler's in-memory locks already serialize.
func WithSourceLock(ctx context.Context, db *sql.DB, sourceID string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin source lock tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sourceID); err != nil {
		return fmt.Errorf("acquire source lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit source lock tx: %w", err)
	}
	return nil
}
