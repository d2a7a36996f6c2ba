package domain

import "time"

// ParsedRecord is the transient typed extraction the heuristic parser produces
// from a decoded message, before routing. Confidence here is the heuristic
// confidence; the routed confidence on the final Task may differ.
type ParsedRecord struct {
	Type       TaskType
	Confidence float64

	// Appointment evidence.
	StartAt   *time.Time
	EndAt     *time.Time
	Location  string
	Organizer string
	// RawStartToken preserves the ICS datetime token exactly as received so a
	// later timezone fix-up is possible.
	RawStartToken string

	// Bill evidence.
	Amount          *float64
	Currency        string
	DueAt           *time.Time
	Vendor          string
	ReferenceNumber string
	StatementPeriod string

	// Medication evidence.
	MedicationName      string
	Dosage              string
	Frequency           string
	Route               string
	PrescribingProvider string
}

// HasHardEvidence reports whether the record carries any structured field
// strong enough to keep a bulk-flagged message out of the tombstone path.
func (p *ParsedRecord) HasHardEvidence() bool {
	if p == nil {
		return false
	}
	return p.Amount != nil || p.DueAt != nil || p.StartAt != nil ||
		p.Dosage != "" || p.Frequency != "" || p.PrescribingProvider != ""
}
