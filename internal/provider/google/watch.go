package google

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	calendarv3 "google.golang.org/api/calendar/v3"
	gmailv1 "google.golang.org/api/gmail/v1"

	"github.com/carebridge/inbox-triage/internal/provider"
)

type watchClient struct {
	gmail    *gmailv1.Service
	calendar *calendarv3.Service
	timeout  time.Duration
}

// RegisterMailWatch subscribes the mailbox's INBOX changes to the pub/sub
// topic. Gmail expires watches after about a week; the scheduler renews well
// before that.
func (c *watchClient) RegisterMailWatch(ctx context.Context, topic string) (provider.WatchRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.gmail.Users.Watch(gmailUser, &gmailv1.WatchRequest{
		TopicName: topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		return provider.WatchRegistration{}, fmt.Errorf("register mail watch: %w", mapAuthErr(err))
	}
	return provider.WatchRegistration{
		ID:         fmt.Sprintf("%d", resp.HistoryId),
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// RegisterCalendarChannel opens a web_hook channel for primary-calendar
// changes. The token travels back on every notification and is how the
// webhook authenticates calendar pushes.
func (c *watchClient) RegisterCalendarChannel(ctx context.Context, address, token string) (provider.WatchRegistration, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.calendar.Events.Watch(primaryCalendar, &calendarv3.Channel{
		Id:      uuid.New().String(),
		Type:    "web_hook",
		Address: address,
		Token:   token,
	}).Context(ctx).Do()
	if err != nil {
		return provider.WatchRegistration{}, fmt.Errorf("register calendar channel: %w", mapAuthErr(err))
	}
	return provider.WatchRegistration{
		ID:         resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopCalendarChannel closes a previously registered channel. Failures are
// tolerable; channels also lapse on their own expiration.
func (c *watchClient) StopCalendarChannel(ctx context.Context, channelID, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.calendar.Channels.Stop(&calendarv3.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("stop calendar channel: %w", mapAuthErr(err))
	}
	return nil
}
