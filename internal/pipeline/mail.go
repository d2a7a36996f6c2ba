// Package pipeline turns fetched provider payloads into tasks: the mail
// ingestion flow, the calendar sync-token flow, and the routing decision that
// merges heuristic extraction with the model verdict.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/carebridge/inbox-triage/internal/classifier"
	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/heuristics"
	"github.com/carebridge/inbox-triage/internal/mailparse"
	"github.com/carebridge/inbox-triage/internal/provider"
)

// FallbackQuery is the search used when a source has no usable history cursor.
const FallbackQuery = "subject:(appointment OR medication OR bill)"

// TaskStore is the persistence surface the pipelines write through.
type TaskStore interface {
	// Upsert inserts or updates by (caregiverID, externalID) and reports
	// whether the row was created or updated.
	Upsert(ctx context.Context, t *domain.Task) (domain.Outcome, error)

	// Tombstone marks the task with this external id done and ignored.
	// Returns false when no such task exists.
	Tombstone(ctx context.Context, caregiverID, externalID string) (bool, error)

	// IgnoredExternalIDs returns the external ids of tasks the caregiver has
	// ignored, so re-synced messages stay dead.
	IgnoredExternalIDs(ctx context.Context, caregiverID string) (map[string]struct{}, error)
}

// SuppressionView answers which sender domains are suppressed for a caregiver.
type SuppressionView interface {
	SuppressedDomains(ctx context.Context, caregiverID string, p domain.Provider) (map[string]struct{}, error)
}

// IgnoreRecorder is the suppression-learner surface the pipeline feeds when a
// message lands ignored at ingestion, mirroring the user-initiated ignore.
type IgnoreRecorder interface {
	RecordIgnore(ctx context.Context, caregiverID string, p domain.Provider, senderDomain string) (*domain.SenderSuppression, error)
}

// MailPipeline ingests mailbox messages into tasks.
type MailPipeline struct {
	Tasks           TaskStore
	Suppression     SuppressionView
	Classifier      classifier.Classifier
	Ignores         IgnoreRecorder
	MaxMessageBytes int64
	HistoryPageSize int64
	Now             func() time.Time
}

// runState carries the per-run lookups loaded once up front.
type runState struct {
	ignored    map[string]struct{}
	suppressed map[string]struct{}
}

// Run syncs one mail source: history delta when a cursor exists, query
// fallback otherwise. The returned result's HistoryID is the cursor to
// persist; it is left empty when any message errored so the next run replays
// the window.
func (p *MailPipeline) Run(ctx context.Context, client provider.MailClient, src *domain.Source) (domain.SyncResult, error) {
	var result domain.SyncResult

	ids, nextCursor, err := p.listChanged(ctx, client, src)
	if err != nil {
		return result, err
	}
	result.MessageCount = len(ids)
	if len(ids) == 0 {
		result.HistoryID = nextCursor
		return result, nil
	}

	state, err := p.loadRunState(ctx, src)
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		msg, err := client.GetMessage(ctx, id)
		if err != nil {
			log.Printf("[MailPipeline] source=%s message=%s fetch failed: %v", src.ID, id, err)
			result.Errors++
			continue
		}
		outcome, err := p.processMessage(ctx, src, msg, state)
		if err != nil {
			log.Printf("[MailPipeline] source=%s message=%s process failed: %v", src.ID, id, err)
			result.Errors++
			continue
		}
		tally(&result, outcome)
	}

	// Only advance the cursor on a clean run; a kept cursor would silently
	// drop the messages that errored.
	if result.Errors == 0 {
		result.HistoryID = nextCursor
	}
	return result, nil
}

// listChanged resolves the set of message ids to process plus the cursor to
// store afterwards. A stale cursor falls through to the query fallback.
func (p *MailPipeline) listChanged(ctx context.Context, client provider.MailClient, src *domain.Source) ([]string, string, error) {
	pageSize := p.HistoryPageSize
	if pageSize == 0 {
		pageSize = 20
	}

	if src.HistoryID != "" {
		delta, err := client.ListHistory(ctx, src.HistoryID, pageSize)
		switch {
		case err == nil:
			next := delta.NextHistoryID
			if next == "" {
				next = src.HistoryID
			}
			if len(delta.MessageIDs) > 0 {
				return delta.MessageIDs, next, nil
			}
			// An empty delta still reseeds from the subject query, so a source
			// whose history window is quiet picks up matching backlog.
			ids, err := client.SearchMessages(ctx, FallbackQuery, pageSize)
			if err != nil {
				return nil, "", fmt.Errorf("search messages: %w", err)
			}
			return ids, next, nil
		case errors.Is(err, provider.ErrInvalidCursor):
			log.Printf("[MailPipeline] source=%s history cursor stale, falling back to query", src.ID)
		default:
			return nil, "", fmt.Errorf("list history: %w", err)
		}
	}

	ids, err := client.SearchMessages(ctx, FallbackQuery, pageSize)
	if err != nil {
		return nil, "", fmt.Errorf("search messages: %w", err)
	}
	cursor, err := client.CurrentHistoryID(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("current history id: %w", err)
	}
	return ids, cursor, nil
}

func (p *MailPipeline) loadRunState(ctx context.Context, src *domain.Source) (*runState, error) {
	ignored, err := p.Tasks.IgnoredExternalIDs(ctx, src.CaregiverID)
	if err != nil {
		return nil, fmt.Errorf("load ignored ids: %w", err)
	}
	suppressed, err := p.Suppression.SuppressedDomains(ctx, src.CaregiverID, src.Provider)
	if err != nil {
		return nil, fmt.Errorf("load suppressed domains: %w", err)
	}
	return &runState{ignored: ignored, suppressed: suppressed}, nil
}

// processMessage runs the full per-message flow: guards, decode, tombstone
// gates, heuristic parse, classification, routing, persistence.
func (p *MailPipeline) processMessage(ctx context.Context, src *domain.Source, msg *provider.Message, state *runState) (domain.Outcome, error) {
	maxBytes := p.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = 200_000
	}
	if msg.SizeEstimate > maxBytes {
		return domain.OutcomeSkipped, nil
	}
	if !hasLabel(msg.LabelIDs, "INBOX") || hasLabel(msg.LabelIDs, "DRAFT") {
		return domain.OutcomeSkipped, nil
	}

	headers := lowercaseHeaders(msg.Payload.Headers)
	subject := mailparse.DecodeHeader(headers["subject"])
	sender := mailparse.DecodeHeader(headers["from"])
	externalID := externalIDFor(msg, headers)

	if _, ok := state.ignored[externalID]; ok {
		return domain.OutcomeSkippedIgnored, nil
	}

	senderDomain := heuristics.SenderDomain(sender)
	if _, ok := state.suppressed[senderDomain]; ok && senderDomain != "" {
		return p.tombstone(ctx, src, msg, externalID, subject, sender, senderDomain, "sender_suppressed", nil)
	}
	if heuristics.ShouldTombstoneMessage(msg.LabelIDs) {
		return p.tombstone(ctx, src, msg, externalID, subject, sender, senderDomain, "category_tombstone", nil)
	}

	parts := mailparse.Flatten(msg.Payload)
	body := mailparse.PreferredBody(parts)
	ics := mailparse.ExtractICS(parts)
	parsed := heuristics.Parse(subject, sender, msg.Snippet, body, ics)

	bulk := heuristics.HasBulkHeaderSignals(headers)
	if drop, reason := heuristics.ShouldTombstoneNonActionable(bulk, parsed); drop {
		return p.tombstone(ctx, src, msg, externalID, subject, sender, senderDomain, reason, parsed)
	}

	verdict := p.Classifier.Classify(ctx, classifier.Input{
		Subject:  subject,
		Snippet:  msg.Snippet,
		Body:     signalsBlock(parsed) + body,
		Sender:   sender,
		LabelIDs: msg.LabelIDs,
		Headers:  headers,
	})

	decision := Decide(DecisionInput{
		Bucket:          verdict.Label,
		Failed:          verdict.Failed(),
		ModelConfidence: verdict.Confidence,
		Parsed:          parsed,
		Subject:         subject,
		Snippet:         msg.Snippet,
		BulkSignals:     bulk,
	})
	if decision.ShouldDrop {
		return domain.OutcomeSkippedLowConf, nil
	}

	task := p.buildTask(src, msg, externalID, subject, sender, senderDomain, body, parsed, verdict, decision, bulk)
	outcome, err := p.Tasks.Upsert(ctx, task)
	if err != nil {
		return domain.OutcomeErrored, fmt.Errorf("upsert task: %w", err)
	}
	if task.ReviewState == domain.ReviewIgnored {
		p.recordIgnore(ctx, src.CaregiverID, src.Provider, senderDomain)
	}
	return outcome, nil
}

// tombstone persists the message as a done-and-ignored task so future syncs
// and the suppression learner can see it, without surfacing it to the
// caregiver.
func (p *MailPipeline) tombstone(ctx context.Context, src *domain.Source, msg *provider.Message, externalID, subject, sender, senderDomain, reason string, parsed *domain.ParsedRecord) (domain.Outcome, error) {
	taskType := domain.TaskGeneral
	if parsed != nil {
		taskType = parsed.Type
	}
	title := subject
	if title == "" {
		title = msg.Snippet
	}
	now := p.now()
	task := &domain.Task{
		CaregiverID:     src.CaregiverID,
		CareRecipientID: src.CareRecipientID,
		Type:            taskType,
		Status:          domain.StatusDone,
		ReviewState:     domain.ReviewIgnored,
		Title:           title,
		RawSnippet:      msg.Snippet,
		ExternalID:      externalID,
		SourceID:        src.ID,
		SourceLink:      messageLink(msg.ID),
		Provider:        src.Provider,
		Sender:          sender,
		SenderDomain:    senderDomain,
		IngestionDebug:  debugJSON(map[string]any{"tombstone_reason": reason}),
		SyncedAt:        &now,
	}
	if _, err := p.Tasks.Upsert(ctx, task); err != nil {
		return domain.OutcomeErrored, fmt.Errorf("upsert tombstone: %w", err)
	}
	p.recordIgnore(ctx, src.CaregiverID, src.Provider, senderDomain)
	return domain.OutcomeTombstoned, nil
}

// recordIgnore feeds an ignored-at-ingestion transition to the suppression
// learner. Learner failures never fail the message.
func (p *MailPipeline) recordIgnore(ctx context.Context, caregiverID string, prov domain.Provider, senderDomain string) {
	if p.Ignores == nil {
		return
	}
	if _, err := p.Ignores.RecordIgnore(ctx, caregiverID, prov, senderDomain); err != nil {
		log.Printf("[MailPipeline] suppression feedback failed for domain=%s: %v", senderDomain, err)
	}
}

func (p *MailPipeline) buildTask(src *domain.Source, msg *provider.Message, externalID, subject, sender, senderDomain, body string, parsed *domain.ParsedRecord, verdict classifier.Result, decision Decision, bulk bool) *domain.Task {
	title := subject
	if title == "" {
		title = msg.Snippet
	}
	description := body
	if verdict.Failed() && description == "" {
		description = msg.Snippet
	}
	if verdict.Failed() && description != "" {
		description = "[model failed] " + description
	}

	status := domain.StatusTodo
	if decision.TaskType == domain.TaskAppointment {
		status = domain.StatusScheduled
	}
	if decision.ReviewState == domain.ReviewIgnored {
		status = domain.StatusDone
	}

	now := p.now()
	task := &domain.Task{
		CaregiverID:     src.CaregiverID,
		CareRecipientID: src.CareRecipientID,
		Type:            decision.TaskType,
		Status:          status,
		ReviewState:     decision.ReviewState,
		Confidence:      roundConfidence(decision.Confidence),
		Title:           title,
		Description:     description,
		RawSnippet:      msg.Snippet,
		ExternalID:      externalID,
		SourceID:        src.ID,
		SourceLink:      messageLink(msg.ID),
		Provider:        src.Provider,
		Sender:          sender,
		SenderDomain:    senderDomain,
		IngestionDebug: debugJSON(map[string]any{
			"classifier": map[string]any{
				"label":      string(verdict.Label),
				"confidence": verdict.Confidence,
				"reason":     verdict.Reason,
				"error":      verdict.Err,
			},
			"bulk_signals": bulk,
			"marketing":    decision.Marketing,
			"has_evidence": decision.HasEvidence,
			"heuristic": map[string]any{
				"type":       string(parsed.Type),
				"confidence": parsed.Confidence,
			},
		}),
		SyncedAt: &now,
	}

	switch decision.TaskType {
	case domain.TaskAppointment:
		task.StartAt = parsed.StartAt
		task.EndAt = parsed.EndAt
		task.Location = parsed.Location
		task.Organizer = parsed.Organizer
	case domain.TaskBill:
		task.Amount = parsed.Amount
		task.Currency = parsed.Currency
		task.DueAt = parsed.DueAt
		task.Vendor = parsed.Vendor
		task.ReferenceNumber = parsed.ReferenceNumber
		task.StatementPeriod = parsed.StatementPeriod
	case domain.TaskMedication:
		task.MedicationName = parsed.MedicationName
		task.Dosage = parsed.Dosage
		task.Frequency = parsed.Frequency
		task.Route = parsed.Route
		task.PrescribingProvider = parsed.PrescribingProvider
	}
	return task
}

// signalsBlock renders the heuristic extraction as a preamble for the
// classifier prompt, so the model sees what the parser already found.
func signalsBlock(parsed *domain.ParsedRecord) string {
	var sb strings.Builder
	sb.WriteString("Extracted signals:\n")
	sb.WriteString(fmt.Sprintf("- heuristic type: %s (confidence %.2f)\n", parsed.Type, parsed.Confidence))
	if parsed.StartAt != nil {
		sb.WriteString("- start: " + parsed.StartAt.Format(time.RFC3339) + "\n")
	}
	if parsed.Location != "" {
		sb.WriteString("- location: " + parsed.Location + "\n")
	}
	if parsed.Organizer != "" {
		sb.WriteString("- organizer: " + parsed.Organizer + "\n")
	}
	if parsed.Amount != nil {
		sb.WriteString(fmt.Sprintf("- amount: %.2f %s\n", *parsed.Amount, parsed.Currency))
	}
	if parsed.DueAt != nil {
		sb.WriteString("- due: " + parsed.DueAt.Format("2006-01-02") + "\n")
	}
	if parsed.ReferenceNumber != "" {
		sb.WriteString("- reference: " + parsed.ReferenceNumber + "\n")
	}
	if parsed.MedicationName != "" {
		sb.WriteString("- medication: " + parsed.MedicationName + "\n")
	}
	if parsed.Dosage != "" {
		sb.WriteString("- dosage: " + parsed.Dosage + "\n")
	}
	if parsed.Frequency != "" {
		sb.WriteString("- frequency: " + parsed.Frequency + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

// externalIDFor prefers the RFC Message-ID header (angle brackets stripped)
// over the provider's volatile message id.
func externalIDFor(msg *provider.Message, headers map[string]string) string {
	if mid := strings.TrimSpace(headers["message-id"]); mid != "" {
		return strings.Trim(mid, "<>")
	}
	return msg.ID
}

func lowercaseHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func messageLink(id string) string {
	if id == "" {
		return ""
	}
	return "https://mail.google.com/mail/u/0/#inbox/" + id
}

func debugJSON(v map[string]any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func tally(result *domain.SyncResult, outcome domain.Outcome) {
	switch outcome {
	case domain.OutcomeCreated:
		result.Created++
	case domain.OutcomeUpdated, domain.OutcomeTombstoned:
		result.Updated++
	case domain.OutcomeErrored:
		result.Errors++
	default:
		result.Skipped++
	}
}

func (p *MailPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
