package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/provider"
)

// CalendarConfidence is the fixed confidence for tasks sourced from calendar
// events. Structured events need no model pass.
const CalendarConfidence = 0.9

// CalendarPipeline mirrors calendar events into appointment tasks with a
// sync-token incremental listing.
type CalendarPipeline struct {
	Tasks    TaskStore
	PageSize int64
	Now      func() time.Time
}

// Run lists changed events since the source's sync token and applies them.
// A rejected token triggers exactly one full re-listing; the returned result
// flags ResetSyncToken so the caller knows the cursor was rebuilt. The second
// return value is the token to persist.
func (p *CalendarPipeline) Run(ctx context.Context, client provider.CalendarClient, src *domain.Source) (domain.SyncResult, string, error) {
	var result domain.SyncResult

	pageSize := p.PageSize
	if pageSize == 0 {
		pageSize = 20
	}

	page, err := client.ListEvents(ctx, src.CalendarSyncToken, pageSize)
	if errors.Is(err, provider.ErrInvalidCursor) && src.CalendarSyncToken != "" {
		log.Printf("[CalendarPipeline] source=%s sync token rejected, re-listing from scratch", src.ID)
		result.ResetSyncToken = true
		page, err = client.ListEvents(ctx, "", pageSize)
	}
	if err != nil {
		return result, "", fmt.Errorf("list events: %w", err)
	}

	result.MessageCount = len(page.Events)
	for _, ev := range page.Events {
		outcome, err := p.applyEvent(ctx, src, ev)
		if err != nil {
			log.Printf("[CalendarPipeline] source=%s event=%s apply failed: %v", src.ID, ev.ID, err)
			result.Errors++
			continue
		}
		tally(&result, outcome)
	}
	return result, page.NextSyncToken, nil
}

func (p *CalendarPipeline) applyEvent(ctx context.Context, src *domain.Source, ev provider.Event) (domain.Outcome, error) {
	externalID := ev.ExternalID()

	// A cancelled event closes the task rather than deleting it, so the
	// caregiver keeps the record of what was scheduled. Both spellings show
	// up in the wild depending on the emitting API.
	if ev.Status == "cancelled" || ev.Status == "canceled" {
		found, err := p.Tasks.Tombstone(ctx, src.CaregiverID, externalID)
		if err != nil {
			return domain.OutcomeErrored, fmt.Errorf("tombstone cancelled event: %w", err)
		}
		if !found {
			return domain.OutcomeSkipped, nil
		}
		return domain.OutcomeTombstoned, nil
	}

	title := ev.Summary
	if title == "" {
		title = "(no title)"
	}
	now := p.now()
	task := &domain.Task{
		CaregiverID:     src.CaregiverID,
		CareRecipientID: src.CareRecipientID,
		Type:            domain.TaskAppointment,
		Status:          domain.StatusScheduled,
		ReviewState:     domain.ReviewApproved,
		Confidence:      CalendarConfidence,
		Title:           title,
		Description:     ev.Description,
		ExternalID:      externalID,
		SourceID:        src.ID,
		SourceLink:      ev.HTMLLink,
		Provider:        src.Provider,
		Organizer:       ev.Organizer,
		Location:        ev.Location,
		StartAt:         ev.Start,
		EndAt:           ev.End,
		SyncedAt:        &now,
	}
	outcome, err := p.Tasks.Upsert(ctx, task)
	if err != nil {
		return domain.OutcomeErrored, fmt.Errorf("upsert event task: %w", err)
	}
	return outcome, nil
}

func (p *CalendarPipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
