package domain

import "time"

// Provider identifies the external account provider a source connects to.
type Provider string

const (
	ProviderGoogle Provider = "google"
)

// SourceStatus enumerates the lifecycle states of a connected source.
type SourceStatus string

const (
	SourceActive       SourceStatus = "active"
	SourceErrored      SourceStatus = "errored"
	SourceDisconnected SourceStatus = "disconnected"
)

// Source is one mailbox/calendar connection per (caregiver, provider, account).
// It exclusively owns its watch/channel resources and cursor state; only the
// holder of the per-source lock may advance HistoryID, CalendarSyncToken,
// LastSyncAt, WatchExpiration, or Status.
type Source struct {
	ID              string       `json:"id" db:"id"`
	CaregiverID     string       `json:"caregiver_id" db:"caregiver_id"`
	CareRecipientID string       `json:"care_recipient_id" db:"care_recipient_id"`
	Provider        Provider     `json:"provider" db:"provider"`
	AccountEmail    string       `json:"account_email" db:"account_email"`
	RefreshToken    string       `json:"-" db:"refresh_token"`
	Status          SourceStatus `json:"status" db:"status"`
	ErrorMessage    string       `json:"error_message,omitempty" db:"error_message"`

	// IsPrimary marks the single source per (careRecipient, provider) that is
	// allowed to write tasks. Non-primary sources are synced silently.
	IsPrimary bool `json:"is_primary" db:"is_primary"`

	// Mail cursor state. HistoryID is opaque to the core.
	HistoryID       string     `json:"history_id,omitempty" db:"history_id"`
	WatchID         string     `json:"watch_id,omitempty" db:"watch_id"`
	WatchExpiration *time.Time `json:"watch_expiration,omitempty" db:"watch_expiration"`

	// Calendar cursor state.
	CalendarSyncToken  string `json:"calendar_sync_token,omitempty" db:"calendar_sync_token"`
	CalendarChannelID  string `json:"calendar_channel_id,omitempty" db:"calendar_channel_id"`
	CalendarResourceID string `json:"calendar_resource_id,omitempty" db:"calendar_resource_id"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastPushAt *time.Time `json:"last_push_at,omitempty" db:"last_push_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Syncable reports whether the scheduler may run a sync against this source.
// Errored sources stay parked until the caregiver re-authenticates.
func (s *Source) Syncable() bool {
	return s.Status == SourceActive
}
