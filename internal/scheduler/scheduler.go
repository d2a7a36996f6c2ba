// Package scheduler owns when syncs run: it serializes runs per source,
// debounces push bursts, polls stale sources, and renews provider watches
// before they expire. The pipelines own what a run does.
package scheduler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/carebridge/inbox-triage/internal/config"
	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/pipeline"
	"github.com/carebridge/inbox-triage/internal/provider"
)

var (
	// ErrSourceDisconnected rejects syncs against a source the caregiver has
	// disconnected.
	ErrSourceDisconnected = errors.New("source is disconnected")

	// ErrSourceErrored rejects syncs against a source whose authorization was
	// revoked; it stays parked until the caregiver re-authenticates.
	ErrSourceErrored = errors.New("source requires re-authentication")

	// ErrNotOwner rejects a manual sync requested by a caregiver who does not
	// own the source.
	ErrNotOwner = errors.New("caller does not own this source")
)

// SourceStore is the source persistence surface the scheduler drives.
type SourceStore interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
	FindByAccountEmail(ctx context.Context, email string) (*domain.Source, error)
	FindByChannelID(ctx context.Context, channelID string) (*domain.Source, error)

	// ListStale returns syncable sources whose LastSyncAt is older than the
	// cutoff (or never set).
	ListStale(ctx context.Context, cutoff time.Time) ([]*domain.Source, error)

	// ListExpiringWatches returns syncable sources whose watch or channel
	// expires before the cutoff, or that have none registered yet.
	ListExpiringWatches(ctx context.Context, cutoff time.Time) ([]*domain.Source, error)

	// SaveSyncState persists cursor and watch fields after a run.
	SaveSyncState(ctx context.Context, src *domain.Source) error

	SetStatus(ctx context.Context, id string, status domain.SourceStatus, errMsg string) error
	TouchPush(ctx context.Context, id string, at time.Time) error
}

// EventStore records per-run audit rows.
type EventStore interface {
	Record(ctx context.Context, ev *domain.IngestionEvent) error
}

// ClientFactory builds authenticated provider clients for a source.
type ClientFactory interface {
	Mail(ctx context.Context, src *domain.Source) (provider.MailClient, error)
	Calendar(ctx context.Context, src *domain.Source) (provider.CalendarClient, error)
	Watch(ctx context.Context, src *domain.Source) (provider.WatchClient, error)
}

// Scheduler coordinates sync runs across sources.
type Scheduler struct {
	sources  SourceStore
	events   EventStore
	clients  ClientFactory
	mail     *pipeline.MailPipeline
	calendar *pipeline.CalendarPipeline

	locks    *sourceLocks
	debounce *debouncer
	cfg      config.SyncConfig
	google   config.GoogleConfig
	now      func() time.Time
}

// New builds a Scheduler around the two pipelines.
func New(sources SourceStore, events EventStore, clients ClientFactory, mail *pipeline.MailPipeline, calendar *pipeline.CalendarPipeline, cfg config.SyncConfig, google config.GoogleConfig) *Scheduler {
	return &Scheduler{
		sources:  sources,
		events:   events,
		clients:  clients,
		mail:     mail,
		calendar: calendar,
		locks:    newSourceLocks(),
		debounce: newDebouncer(cfg.Debounce()),
		cfg:      cfg,
		google:   google,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SyncSource runs one full sync (mail then calendar) for the source, holding
// its lock for the duration. callerID is checked for manual runs only; push
// and poll runs pass an empty caller.
func (s *Scheduler) SyncSource(ctx context.Context, sourceID, callerID string, reason domain.SyncReason) (domain.SyncResult, error) {
	lock := s.locks.get(sourceID)
	lock.Lock()
	defer lock.Unlock()

	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("load source: %w", err)
	}
	if src.Status == domain.SourceDisconnected {
		return domain.SyncResult{}, ErrSourceDisconnected
	}
	if !src.Syncable() {
		return domain.SyncResult{}, ErrSourceErrored
	}
	if reason == domain.ReasonManual && callerID != src.CaregiverID {
		return domain.SyncResult{}, ErrNotOwner
	}

	started := s.now()
	result, err := s.runPipelines(ctx, src)
	if err != nil {
		if errors.Is(err, provider.ErrAuthRevoked) {
			log.Printf("[Scheduler] source=%s auth revoked, marking errored", src.ID)
			if serr := s.sources.SetStatus(ctx, src.ID, domain.SourceErrored, "authorization revoked"); serr != nil {
				log.Printf("[Scheduler] source=%s status update failed: %v", src.ID, serr)
			}
		}
		return result, err
	}

	if result.Changed() || result.MessageCount > 0 {
		ev := &domain.IngestionEvent{
			SourceID:   src.ID,
			Reason:     reason,
			Created:    result.Created,
			Updated:    result.Updated,
			Skipped:    result.Skipped,
			Errors:     result.Errors,
			HistoryID:  result.HistoryID,
			DurationMs: s.now().Sub(started).Milliseconds(),
			StartedAt:  started,
		}
		if rerr := s.events.Record(ctx, ev); rerr != nil {
			log.Printf("[Scheduler] source=%s event record failed: %v", src.ID, rerr)
		}
	}

	log.Printf("[Scheduler] source=%s reason=%s created=%d updated=%d skipped=%d errors=%d",
		src.ID, reason, result.Created, result.Updated, result.Skipped, result.Errors)
	return result, nil
}

// runPipelines executes the mail and calendar flows and persists cursor state.
// A non-primary source still advances its cursors but writes no tasks.
func (s *Scheduler) runPipelines(ctx context.Context, src *domain.Source) (domain.SyncResult, error) {
	mailPipe := s.mail
	calPipe := s.calendar
	if !src.IsPrimary {
		mailPipe = silentMail(s.mail)
		calPipe = silentCalendar(s.calendar)
	}

	var total domain.SyncResult

	mailClient, err := s.clients.Mail(ctx, src)
	if err != nil {
		return total, fmt.Errorf("mail client: %w", err)
	}
	mailResult, err := mailPipe.Run(ctx, mailClient, src)
	accumulate(&total, mailResult)
	if err != nil {
		return total, fmt.Errorf("mail sync: %w", err)
	}
	if mailResult.HistoryID != "" {
		src.HistoryID = mailResult.HistoryID
	}

	calClient, err := s.clients.Calendar(ctx, src)
	if err != nil {
		return total, fmt.Errorf("calendar client: %w", err)
	}
	calResult, nextToken, err := calPipe.Run(ctx, calClient, src)
	total.ResetSyncToken = calResult.ResetSyncToken
	accumulate(&total, calResult)
	if err != nil {
		return total, fmt.Errorf("calendar sync: %w", err)
	}
	if nextToken != "" {
		src.CalendarSyncToken = nextToken
	}

	now := s.now()
	src.LastSyncAt = &now
	total.HistoryID = src.HistoryID
	if err := s.sources.SaveSyncState(ctx, src); err != nil {
		return total, fmt.Errorf("save sync state: %w", err)
	}
	return total, nil
}

// Kick schedules a debounced background sync for the source. Push handlers
// call this; the HTTP response never waits on the run.
func (s *Scheduler) Kick(sourceID string, reason domain.SyncReason) {
	s.debounce.trigger(sourceID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := s.SyncSource(ctx, sourceID, "", reason); err != nil {
			log.Printf("[Scheduler] source=%s %s sync failed: %v", sourceID, reason, err)
		}
	})
}

// NotifyMailPush resolves a mail push notification (keyed by mailbox address)
// to its source and kicks a sync. Unknown addresses are logged and dropped.
func (s *Scheduler) NotifyMailPush(ctx context.Context, accountEmail string) {
	src, err := s.sources.FindByAccountEmail(ctx, accountEmail)
	if err != nil {
		log.Printf("[Scheduler] push for unknown mailbox %s: %v", accountEmail, err)
		return
	}
	if err := s.sources.TouchPush(ctx, src.ID, s.now()); err != nil {
		log.Printf("[Scheduler] source=%s push mark failed: %v", src.ID, err)
	}
	s.Kick(src.ID, domain.ReasonPush)
}

// NotifyChannelPush resolves a calendar channel notification to its source and
// kicks a sync. Unknown channels are logged and dropped.
func (s *Scheduler) NotifyChannelPush(ctx context.Context, channelID string) {
	src, err := s.sources.FindByChannelID(ctx, channelID)
	if err != nil {
		log.Printf("[Scheduler] push for unknown channel %s: %v", channelID, err)
		return
	}
	if err := s.sources.TouchPush(ctx, src.ID, s.now()); err != nil {
		log.Printf("[Scheduler] source=%s push mark failed: %v", src.ID, err)
	}
	s.Kick(src.ID, domain.ReasonPush)
}

// VerifyChannelToken checks a calendar channel token against the expected
// HMAC for the source.
func (s *Scheduler) VerifyChannelToken(sourceID, token string) bool {
	expected := ChannelToken(sourceID, s.google.WebhookSecret)
	return hmac.Equal([]byte(expected), []byte(token))
}

// ChannelToken derives the calendar channel verification token for a source:
// base64url(HMAC-SHA256(sourceID, secret)).
func ChannelToken(sourceID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(sourceID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func accumulate(total *domain.SyncResult, r domain.SyncResult) {
	total.Created += r.Created
	total.Updated += r.Updated
	total.Skipped += r.Skipped
	total.Errors += r.Errors
	total.MessageCount += r.MessageCount
}

// silentMail clones the mail pipeline with a task store that drops writes, so
// non-primary sources advance cursors without creating tasks. Suppression
// feedback is dropped too, or a shared mailbox would count ignores twice.
func silentMail(p *pipeline.MailPipeline) *pipeline.MailPipeline {
	clone := *p
	clone.Tasks = discardTasks{}
	clone.Ignores = nil
	return &clone
}

func silentCalendar(p *pipeline.CalendarPipeline) *pipeline.CalendarPipeline {
	clone := *p
	clone.Tasks = discardTasks{}
	return &clone
}

// discardTasks satisfies pipeline.TaskStore with no-ops.
type discardTasks struct{}

func (discardTasks) Upsert(context.Context, *domain.Task) (domain.Outcome, error) {
	return domain.OutcomeSkipped, nil
}

func (discardTasks) Tombstone(context.Context, string, string) (bool, error) {
	return false, nil
}

func (discardTasks) IgnoredExternalIDs(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}
