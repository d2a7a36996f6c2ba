package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/carebridge/inbox-triage/internal/domain"
)

// Start launches the poll and renewal tickers. They run until ctx is
// cancelled; Wait on the returned WaitGroup for a clean shutdown.
func (s *Scheduler) Start(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pollLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.renewLoop(ctx)
	}()

	log.Printf("[Scheduler] started: poll=%s renew=%s debounce=%s",
		s.cfg.PollInterval(), s.cfg.RenewInterval(), s.cfg.Debounce())
	return &wg
}

// pollLoop is the safety net behind push delivery: any syncable source whose
// last sync is older than the stale window gets a poll run.
func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Scheduler] poll loop stopping")
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleAfter())
	stale, err := s.sources.ListStale(ctx, cutoff)
	if err != nil {
		log.Printf("[Scheduler] stale listing failed: %v", err)
		return
	}
	for _, src := range stale {
		if _, err := s.SyncSource(ctx, src.ID, "", domain.ReasonPoll); err != nil {
			log.Printf("[Scheduler] source=%s poll sync failed: %v", src.ID, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("[Scheduler] polled %d stale sources", len(stale))
	}
}

// renewLoop re-registers provider watches before they lapse. Watches that
// expire silently degrade the system to poll-only, so renewal runs well ahead
// of the provider's expiration.
func (s *Scheduler) renewLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RenewInterval())
	defer ticker.Stop()

	// One pass at startup so fresh deployments register watches immediately.
	s.renewOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Scheduler] renew loop stopping")
			return
		case <-ticker.C:
			s.renewOnce(ctx)
		}
	}
}

func (s *Scheduler) renewOnce(ctx context.Context) {
	cutoff := s.now().Add(s.cfg.RenewWithin())
	expiring, err := s.sources.ListExpiringWatches(ctx, cutoff)
	if err != nil {
		log.Printf("[Scheduler] expiring-watch listing failed: %v", err)
		return
	}
	for _, src := range expiring {
		if err := s.renewSource(ctx, src); err != nil {
			log.Printf("[Scheduler] source=%s watch renewal failed: %v", src.ID, err)
		}
	}
}

// renewSource registers a fresh mail watch and calendar channel for the
// source, stopping the old calendar channel when one exists. Channel ids
// rotate on every renewal; the channel token is derived from the source id so
// the webhook can verify it statelessly.
func (s *Scheduler) renewSource(ctx context.Context, src *domain.Source) error {
	lock := s.locks.get(src.ID)
	lock.Lock()
	defer lock.Unlock()

	client, err := s.clients.Watch(ctx, src)
	if err != nil {
		return err
	}

	watch, err := client.RegisterMailWatch(ctx, s.google.PubSubTopic)
	if err != nil {
		return err
	}
	src.WatchID = watch.ID
	src.WatchExpiration = &watch.Expiration

	if src.CalendarChannelID != "" {
		if err := client.StopCalendarChannel(ctx, src.CalendarChannelID, src.CalendarResourceID); err != nil {
			log.Printf("[Scheduler] source=%s old channel stop failed: %v", src.ID, err)
		}
	}
	address := s.google.WebhookBaseURL + "/webhooks/google/push"
	channel, err := client.RegisterCalendarChannel(ctx, address, ChannelToken(src.ID, s.google.WebhookSecret))
	if err != nil {
		return err
	}
	src.CalendarChannelID = channel.ID
	src.CalendarResourceID = channel.ResourceID

	if err := s.sources.SaveSyncState(ctx, src); err != nil {
		return err
	}
	log.Printf("[Scheduler] source=%s watches renewed: mail watch expires %s", src.ID, watch.Expiration.Format(time.RFC3339))
	return nil
}
