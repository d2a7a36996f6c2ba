package domain

import "time"

// DefaultSuppressThreshold is how many ignores of a sender domain promote it
// to suppressed.
const DefaultSuppressThreshold = 3

// SenderSuppression tracks how often a caregiver has ignored mail from a
// sender domain. Once IgnoreCount reaches the threshold the domain is
// suppressed and future messages from it are tombstoned at ingestion.
//
// Unique per (CaregiverID, Provider, SenderDomain). Domain matching is strict
// lowercased equality, never suffix matching.
type SenderSuppression struct {
	ID            string     `json:"id" db:"id"`
	CaregiverID   string     `json:"caregiver_id" db:"caregiver_id"`
	Provider      Provider   `json:"provider" db:"provider"`
	SenderDomain  string     `json:"sender_domain" db:"sender_domain"`
	IgnoreCount   int        `json:"ignore_count" db:"ignore_count"`
	Suppressed    bool       `json:"suppressed" db:"suppressed"`
	LastIgnoredAt *time.Time `json:"last_ignored_at,omitempty" db:"last_ignored_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
