package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/inbox-triage/internal/classifier"
	"github.com/carebridge/inbox-triage/internal/config"
	"github.com/carebridge/inbox-triage/internal/domain"
	"github.com/carebridge/inbox-triage/internal/mailparse"
	"github.com/carebridge/inbox-triage/internal/pipeline"
	"github.com/carebridge/inbox-triage/internal/provider"
)

type fakeSourceStore struct {
	src      *domain.Source
	saved    bool
	status   domain.SourceStatus
	stale    []*domain.Source
	expiring []*domain.Source
	touched  []string
}

func (s *fakeSourceStore) Get(context.Context, string) (*domain.Source, error) { return s.src, nil }
func (s *fakeSourceStore) FindByAccountEmail(context.Context, string) (*domain.Source, error) {
	return s.src, nil
}
func (s *fakeSourceStore) FindByChannelID(context.Context, string) (*domain.Source, error) {
	return s.src, nil
}
func (s *fakeSourceStore) ListStale(context.Context, time.Time) ([]*domain.Source, error) {
	return s.stale, nil
}
func (s *fakeSourceStore) ListExpiringWatches(context.Context, time.Time) ([]*domain.Source, error) {
	return s.expiring, nil
}
func (s *fakeSourceStore) SaveSyncState(_ context.Context, src *domain.Source) error {
	s.saved = true
	s.src = src
	return nil
}
func (s *fakeSourceStore) SetStatus(_ context.Context, _ string, status domain.SourceStatus, _ string) error {
	s.status = status
	return nil
}
func (s *fakeSourceStore) TouchPush(_ context.Context, id string, _ time.Time) error {
	s.touched = append(s.touched, id)
	return nil
}

type fakeEventStore struct {
	events []*domain.IngestionEvent
}

func (s *fakeEventStore) Record(_ context.Context, ev *domain.IngestionEvent) error {
	s.events = append(s.events, ev)
	return nil
}

type fakeTasks struct {
	upserts int32
}

func (s *fakeTasks) Upsert(context.Context, *domain.Task) (domain.Outcome, error) {
	atomic.AddInt32(&s.upserts, 1)
	return domain.OutcomeCreated, nil
}
func (s *fakeTasks) Tombstone(context.Context, string, string) (bool, error) { return false, nil }
func (s *fakeTasks) IgnoredExternalIDs(context.Context, string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type emptySuppression struct{}

func (emptySuppression) SuppressedDomains(context.Context, string, domain.Provider) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type fakeMail struct {
	err   error
	delta provider.HistoryDelta
	msgs  map[string]*provider.Message
}

func (c *fakeMail) ListHistory(context.Context, string, int64) (provider.HistoryDelta, error) {
	return c.delta, c.err
}
func (c *fakeMail) SearchMessages(context.Context, string, int64) ([]string, error) {
	return nil, nil
}
func (c *fakeMail) CurrentHistoryID(context.Context) (string, error) { return "head", nil }
func (c *fakeMail) GetMessage(_ context.Context, id string) (*provider.Message, error) {
	return c.msgs[id], nil
}

type fakeCalendar struct {
	page provider.EventsPage
}

func (c *fakeCalendar) ListEvents(context.Context, string, int64) (provider.EventsPage, error) {
	return c.page, nil
}

type fakeWatch struct {
	mailWatch  provider.WatchRegistration
	channel    provider.WatchRegistration
	stopped    []string
	channelTok string
}

func (c *fakeWatch) RegisterMailWatch(context.Context, string) (provider.WatchRegistration, error) {
	return c.mailWatch, nil
}
func (c *fakeWatch) RegisterCalendarChannel(_ context.Context, _ string, token string) (provider.WatchRegistration, error) {
	c.channelTok = token
	return c.channel, nil
}
func (c *fakeWatch) StopCalendarChannel(_ context.Context, channelID, _ string) error {
	c.stopped = append(c.stopped, channelID)
	return nil
}

type fakeFactory struct {
	mail  *fakeMail
	cal   *fakeCalendar
	watch *fakeWatch
}

func (f *fakeFactory) Mail(context.Context, *domain.Source) (provider.MailClient, error) {
	return f.mail, nil
}
func (f *fakeFactory) Calendar(context.Context, *domain.Source) (provider.CalendarClient, error) {
	return f.cal, nil
}
func (f *fakeFactory) Watch(context.Context, *domain.Source) (provider.WatchClient, error) {
	return f.watch, nil
}

func inboxMessage(id, subject string) *provider.Message {
	return &provider.Message{
		ID:           id,
		LabelIDs:     []string{"INBOX"},
		SizeEstimate: 1024,
		Snippet:      subject,
		Payload: mailparse.Part{
			Headers: map[string]string{"Subject": subject, "From": "office@clinic.example.com"},
			Parts:   []mailparse.Part{{MimeType: "text/plain", Body: "See you at your appointment."}},
		},
	}
}

func syncConfig() config.SyncConfig {
	return config.SyncConfig{
		DebounceMs:           5,
		PollIntervalSeconds:  300,
		RenewIntervalSeconds: 3600,
		StaleAfterSeconds:    360,
		RenewWithinHours:     24,
		MaxMessageBytes:      200_000,
		HistoryPageSize:      20,
	}
}

func newTestScheduler(sources *fakeSourceStore, events *fakeEventStore, factory *fakeFactory, tasks pipeline.TaskStore) *Scheduler {
	approve := classifier.Func(func(context.Context, classifier.Input) classifier.Result {
		return classifier.Result{Label: classifier.BucketAppointments, Confidence: 0.92}
	})
	mailPipe := &pipeline.MailPipeline{
		Tasks:           tasks,
		Suppression:     emptySuppression{},
		Classifier:      approve,
		MaxMessageBytes: 200_000,
		HistoryPageSize: 20,
	}
	calPipe := &pipeline.CalendarPipeline{Tasks: tasks}
	google := config.GoogleConfig{
		PubSubTopic:    "projects/p/topics/mail",
		WebhookSecret:  "secret",
		WebhookBaseURL: "https://api.example.com",
	}
	return New(sources, events, factory, mailPipe, calPipe, syncConfig(), google)
}

func activeSource() *domain.Source {
	return &domain.Source{
		ID:          "src-1",
		CaregiverID: "cg-1",
		Provider:    domain.ProviderGoogle,
		Status:      domain.SourceActive,
		IsPrimary:   true,
		HistoryID:   "100",
	}
}

func TestSyncSourcePersistsCursorsAndRecordsEvent(t *testing.T) {
	sources := &fakeSourceStore{src: activeSource()}
	events := &fakeEventStore{}
	tasks := &fakeTasks{}
	factory := &fakeFactory{
		mail: &fakeMail{
			delta: provider.HistoryDelta{MessageIDs: []string{"m1"}, NextHistoryID: "200"},
			msgs:  map[string]*provider.Message{"m1": inboxMessage("m1", "Appointment confirmed")},
		},
		cal: &fakeCalendar{page: provider.EventsPage{NextSyncToken: "tok-2"}},
	}
	s := newTestScheduler(sources, events, factory, tasks)

	result, err := s.SyncSource(context.Background(), "src-1", "", domain.ReasonPush)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.True(t, sources.saved)
	assert.Equal(t, "200", sources.src.HistoryID)
	assert.Equal(t, "tok-2", sources.src.CalendarSyncToken)
	require.NotNil(t, sources.src.LastSyncAt)
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.ReasonPush, events.events[0].Reason)
	assert.Equal(t, 1, events.events[0].Created)
}

func TestSyncSourceDisconnectedRejected(t *testing.T) {
	src := activeSource()
	src.Status = domain.SourceDisconnected
	s := newTestScheduler(&fakeSourceStore{src: src}, &fakeEventStore{}, &fakeFactory{}, &fakeTasks{})

	_, err := s.SyncSource(context.Background(), "src-1", "", domain.ReasonPoll)
	assert.ErrorIs(t, err, ErrSourceDisconnected)
}

func TestSyncSourceErroredParkedUntilReauth(t *testing.T) {
	src := activeSource()
	src.Status = domain.SourceErrored
	s := newTestScheduler(&fakeSourceStore{src: src}, &fakeEventStore{}, &fakeFactory{}, &fakeTasks{})

	_, err := s.SyncSource(context.Background(), "src-1", "", domain.ReasonPoll)
	assert.ErrorIs(t, err, ErrSourceErrored)

	_, err = s.SyncSource(context.Background(), "src-1", src.CaregiverID, domain.ReasonManual)
	assert.ErrorIs(t, err, ErrSourceErrored)
}

func TestSyncSourceManualNonOwnerRejected(t *testing.T) {
	s := newTestScheduler(&fakeSourceStore{src: activeSource()}, &fakeEventStore{}, &fakeFactory{}, &fakeTasks{})

	_, err := s.SyncSource(context.Background(), "src-1", "cg-other", domain.ReasonManual)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSyncSourceAuthRevokedMarksErrored(t *testing.T) {
	sources := &fakeSourceStore{src: activeSource()}
	factory := &fakeFactory{
		mail: &fakeMail{err: provider.ErrAuthRevoked},
		cal:  &fakeCalendar{},
	}
	s := newTestScheduler(sources, &fakeEventStore{}, factory, &fakeTasks{})

	_, err := s.SyncSource(context.Background(), "src-1", "", domain.ReasonPoll)
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAuthRevoked)
	assert.Equal(t, domain.SourceErrored, sources.status)
}

func TestSyncSourceNonPrimaryWritesNoTasks(t *testing.T) {
	src := activeSource()
	src.IsPrimary = false
	sources := &fakeSourceStore{src: src}
	tasks := &fakeTasks{}
	factory := &fakeFactory{
		mail: &fakeMail{
			delta: provider.HistoryDelta{MessageIDs: []string{"m1"}, NextHistoryID: "200"},
			msgs:  map[string]*provider.Message{"m1": inboxMessage("m1", "Appointment confirmed")},
		},
		cal: &fakeCalendar{page: provider.EventsPage{NextSyncToken: "tok-2"}},
	}
	s := newTestScheduler(sources, &fakeEventStore{}, factory, tasks)

	_, err := s.SyncSource(context.Background(), "src-1", "", domain.ReasonPoll)
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&tasks.upserts), "non-primary sources sync silently")
	assert.Equal(t, "200", sources.src.HistoryID, "cursors still advance")
	assert.Equal(t, "tok-2", sources.src.CalendarSyncToken)
}

type recordingIgnores struct{ calls int }

func (r *recordingIgnores) RecordIgnore(context.Context, string, domain.Provider, string) (*domain.SenderSuppression, error) {
	r.calls++
	return nil, nil
}

func TestSilentMailDropsSuppressionFeedback(t *testing.T) {
	p := &pipeline.MailPipeline{Ignores: &recordingIgnores{}}
	clone := silentMail(p)
	assert.Nil(t, clone.Ignores, "non-primary syncs must not count ignores")
	assert.NotNil(t, p.Ignores)
}

func TestNotifyMailPushKicksDebouncedSync(t *testing.T) {
	sources := &fakeSourceStore{src: activeSource()}
	factory := &fakeFactory{
		mail: &fakeMail{delta: provider.HistoryDelta{NextHistoryID: "150"}},
		cal:  &fakeCalendar{page: provider.EventsPage{NextSyncToken: "tok"}},
	}
	s := newTestScheduler(sources, &fakeEventStore{}, factory, &fakeTasks{})

	s.NotifyMailPush(context.Background(), "carer@example.com")
	assert.Equal(t, []string{"src-1"}, sources.touched)

	require.Eventually(t, func() bool { return sources.saved },
		time.Second, 10*time.Millisecond, "debounced sync should run")
}

func TestRenewSourceRotatesChannels(t *testing.T) {
	src := activeSource()
	src.CalendarChannelID = "old-channel"
	src.CalendarResourceID = "old-resource"
	sources := &fakeSourceStore{src: src}
	exp := time.Now().Add(7 * 24 * time.Hour).UTC()
	watch := &fakeWatch{
		mailWatch: provider.WatchRegistration{ID: "watch-2", Expiration: exp},
		channel:   provider.WatchRegistration{ID: "chan-2", ResourceID: "res-2"},
	}
	s := newTestScheduler(sources, &fakeEventStore{}, &fakeFactory{watch: watch}, &fakeTasks{})

	require.NoError(t, s.renewSource(context.Background(), src))
	assert.Equal(t, []string{"old-channel"}, watch.stopped)
	assert.Equal(t, "watch-2", src.WatchID)
	require.NotNil(t, src.WatchExpiration)
	assert.Equal(t, exp, *src.WatchExpiration)
	assert.Equal(t, "chan-2", src.CalendarChannelID)
	assert.Equal(t, ChannelToken("src-1", "secret"), watch.channelTok)
	assert.True(t, sources.saved)
}

func TestChannelTokenDeterministic(t *testing.T) {
	a := ChannelToken("src-1", "secret")
	b := ChannelToken("src-1", "secret")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ChannelToken("src-2", "secret"))
	assert.NotEqual(t, a, ChannelToken("src-1", "other"))
}

func TestVerifyChannelToken(t *testing.T) {
	s := newTestScheduler(&fakeSourceStore{src: activeSource()}, &fakeEventStore{}, &fakeFactory{}, &fakeTasks{})
	assert.True(t, s.VerifyChannelToken("src-1", ChannelToken("src-1", "secret")))
	assert.False(t, s.VerifyChannelToken("src-1", "forged"))
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var runs int32
	for i := 0; i < 5; i++ {
		d.trigger("k", func() { atomic.AddInt32(&runs, 1) })
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs), "a burst runs exactly once")
	assert.False(t, d.pending("k"))
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := newDebouncer(10 * time.Millisecond)
	var runs int32
	d.trigger("a", func() { atomic.AddInt32(&runs, 1) })
	d.trigger("b", func() { atomic.AddInt32(&runs, 1) })
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 },
		time.Second, 5*time.Millisecond)
}

func TestDebouncerContainsPanics(t *testing.T) {
	d := newDebouncer(5 * time.Millisecond)
	d.trigger("k", func() { panic("boom") })
	require.Eventually(t, func() bool { return !d.pending("k") },
		time.Second, 5*time.Millisecond)

	// The debouncer stays usable after a panic.
	var ran int32
	d.trigger("k", func() { atomic.AddInt32(&ran, 1) })
	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 },
		time.Second, 5*time.Millisecond)
}

func TestSourceLocksSameIDSameMutex(t *testing.T) {
	l := newSourceLocks()
	assert.Same(t, l.get("a"), l.get("a"))
	assert.NotSame(t, l.get("a"), l.get("b"))
}
