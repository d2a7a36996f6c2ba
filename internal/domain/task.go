package domain

import "time"

// TaskType enumerates the care task categories the pipeline produces.
type TaskType string

const (
	TaskAppointment TaskType = "appointment"
	TaskBill        TaskType = "bill"
	TaskMedication  TaskType = "medication"
	TaskGeneral     TaskType = "general"
)

// TaskStatus enumerates the workflow states of a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusScheduled  TaskStatus = "scheduled"
	StatusSnoozed    TaskStatus = "snoozed"
	StatusDone       TaskStatus = "done"
)

// ReviewState enumerates how far a task has moved through caregiver review.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewIgnored  ReviewState = "ignored"
)

// Task is a single care item extracted from a message or calendar event.
//
// Invariants:
//   - (CaregiverID, ExternalID) is unique when ExternalID is present
//   - Status == StatusScheduled iff Type == TaskAppointment at creation
//   - ReviewState == ReviewIgnored implies Status == StatusDone
type Task struct {
	ID              string      `json:"id" db:"id"`
	CaregiverID     string      `json:"caregiver_id" db:"caregiver_id"`
	CareRecipientID string      `json:"care_recipient_id" db:"care_recipient_id"`
	Type            TaskType    `json:"type" db:"type"`
	Status          TaskStatus  `json:"status" db:"status"`
	ReviewState     ReviewState `json:"review_state" db:"review_state"`
	Confidence      float64     `json:"confidence" db:"confidence"`

	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`
	RawSnippet  string `json:"raw_snippet,omitempty" db:"raw_snippet"`

	// Provenance. Tasks survive source disconnection; SourceID is a reference,
	// not an ownership edge.
	ExternalID   string   `json:"external_id,omitempty" db:"external_id"`
	SourceID     string   `json:"source_id,omitempty" db:"source_id"`
	SourceLink   string   `json:"source_link,omitempty" db:"source_link"`
	Provider     Provider `json:"provider,omitempty" db:"provider"`
	Sender       string   `json:"sender,omitempty" db:"sender"`
	SenderDomain string   `json:"sender_domain,omitempty" db:"sender_domain"`

	// Appointment fields.
	StartAt   *time.Time `json:"start_at,omitempty" db:"start_at"`
	EndAt     *time.Time `json:"end_at,omitempty" db:"end_at"`
	Location  string     `json:"location,omitempty" db:"location"`
	Organizer string     `json:"organizer,omitempty" db:"organizer"`

	// Bill fields.
	Amount          *float64   `json:"amount,omitempty" db:"amount"`
	Currency        string     `json:"currency,omitempty" db:"currency"`
	DueAt           *time.Time `json:"due_at,omitempty" db:"due_at"`
	Vendor          string     `json:"vendor,omitempty" db:"vendor"`
	ReferenceNumber string     `json:"reference_number,omitempty" db:"reference_number"`
	StatementPeriod string     `json:"statement_period,omitempty" db:"statement_period"`

	// Medication fields.
	MedicationName      string     `json:"medication_name,omitempty" db:"medication_name"`
	Dosage              string     `json:"dosage,omitempty" db:"dosage"`
	Frequency           string     `json:"frequency,omitempty" db:"frequency"`
	Route               string     `json:"route,omitempty" db:"route"`
	PrescribingProvider string     `json:"prescribing_provider,omitempty" db:"prescribing_provider"`
	NextDoseAt          *time.Time `json:"next_dose_at,omitempty" db:"next_dose_at"`

	// IngestionDebug is an opaque diagnostic blob (classifier output, signals,
	// routing decision) stored as JSON.
	IngestionDebug []byte `json:"-" db:"ingestion_debug"`

	SyncedAt  *time.Time `json:"synced_at,omitempty" db:"synced_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Outcome enumerates the per-message result of an ingestion run.
type Outcome string

const (
	OutcomeCreated           Outcome = "created"
	OutcomeUpdated           Outcome = "updated"
	OutcomeSkipped           Outcome = "skipped"
	OutcomeSkippedLowConf    Outcome = "skipped_low_confidence"
	OutcomeSkippedIgnored    Outcome = "skipped_ignored"
	OutcomeTombstoned        Outcome = "tombstoned"
	OutcomeErrored           Outcome = "errored"
)
