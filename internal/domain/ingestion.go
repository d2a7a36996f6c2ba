package domain

import "time"

// SyncReason records what triggered an ingestion run.
type SyncReason string

const (
	ReasonPush   SyncReason = "push"
	ReasonPoll   SyncReason = "poll"
	ReasonManual SyncReason = "manual"
)

// IngestionEvent is one append-only audit row per sync run that caused
// observable change. Counts aggregate per run, not per message.
type IngestionEvent struct {
	ID         string     `json:"id" db:"id"`
	SourceID   string     `json:"source_id" db:"source_id"`
	Reason     SyncReason `json:"reason" db:"reason"`
	Created    int        `json:"created" db:"created"`
	Updated    int        `json:"updated" db:"updated"`
	Skipped    int        `json:"skipped" db:"skipped"`
	Errors     int        `json:"errors" db:"errors"`
	HistoryID  string     `json:"history_id,omitempty" db:"history_id"`
	DurationMs int64      `json:"duration_ms" db:"duration_ms"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// SyncResult is the per-run summary returned to manual callers.
type SyncResult struct {
	Created        int    `json:"created"`
	Updated        int    `json:"updated"`
	Skipped        int    `json:"skipped"`
	Errors         int    `json:"errors"`
	MessageCount   int    `json:"message_count"`
	HistoryID      string `json:"history_id,omitempty"`
	ResetSyncToken bool   `json:"reset_sync_token,omitempty"`
}

// Changed reports whether the run produced any observable change worth an
// IngestionEvent row.
func (r SyncResult) Changed() bool {
	return r.Created > 0 || r.Updated > 0 || r.Skipped > 0 || r.Errors > 0
}
