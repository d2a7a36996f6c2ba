package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/inbox-triage/internal/domain"
)

func TestTaskRepoUpsertCreates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepo(db)
	task := &domain.Task{
		CaregiverID: "cg-1",
		Type:        domain.TaskBill,
		Status:      domain.StatusTodo,
		ReviewState: domain.ReviewPending,
		Title:       "Invoice INV-10022",
		ExternalID:  "msg-1@example.com",
	}

	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	outcome, err := repo.Upsert(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	assert.NotEmpty(t, task.ID, "upsert assigns an id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoUpsertUpdatesOnConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepo(db)
	task := &domain.Task{CaregiverID: "cg-1", ExternalID: "msg-1@example.com", Type: domain.TaskBill}

	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(false))

	outcome, err := repo.Upsert(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoUpsertWithoutExternalIDAlwaysInserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepo(db)
	task := &domain.Task{CaregiverID: "cg-1", Type: domain.TaskGeneral}

	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome, err := repo.Upsert(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoTombstone(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepo(db)

	mock.ExpectExec("UPDATE tasks SET status = 'done', review_state = 'ignored'").
		WithArgs("cg-1", "uid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	found, err := repo.Tombstone(context.Background(), "cg-1", "uid-1")
	require.NoError(t, err)
	assert.True(t, found)

	mock.ExpectExec("UPDATE tasks SET status = 'done', review_state = 'ignored'").
		WithArgs("cg-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err = repo.Tombstone(context.Background(), "cg-1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepoIgnoredExternalIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewTaskRepo(db)

	mock.ExpectQuery("SELECT external_id FROM tasks").
		WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_id"}).
			AddRow("a@example.com").AddRow("b@example.com"))

	ids, err := repo.IgnoredExternalIDs(context.Background(), "cg-1")
	require.NoError(t, err)
	assert.Contains(t, ids, "a@example.com")
	assert.Contains(t, ids, "b@example.com")
	assert.Len(t, ids, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func suppressionRows(count int, suppressed bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "caregiver_id", "provider", "sender_domain",
		"ignore_count", "suppressed", "last_ignored_at", "created_at", "updated_at"}).
		AddRow("sup-1", "cg-1", "google", "spammy.com", count, suppressed, now, now, now)
}

func TestSuppressionRepoIncrementPromotes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("INSERT INTO sender_suppressions").
		WillReturnRows(suppressionRows(3, true))

	sup, err := repo.Increment(context.Background(), "cg-1", domain.ProviderGoogle, "spammy.com", 3)
	require.NoError(t, err)
	assert.True(t, sup.Suppressed)
	assert.Equal(t, 3, sup.IgnoreCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuppressionRepoListSuppressed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSuppressionRepo(db)

	mock.ExpectQuery("SELECT sender_domain FROM sender_suppressions").
		WithArgs("cg-1", "google").
		WillReturnRows(sqlmock.NewRows([]string{"sender_domain"}).AddRow("spammy.com"))

	domains, err := repo.ListSuppressed(context.Background(), "cg-1", domain.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, []string{"spammy.com"}, domains)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepoCreateAssignsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSourceRepo(db)
	src := &domain.Source{
		CaregiverID:  "cg-1",
		Provider:     domain.ProviderGoogle,
		AccountEmail: "carer@gmail.com",
		RefreshToken: "refresh-1",
		IsPrimary:    true,
	}

	mock.ExpectExec("INSERT INTO sources").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), src))
	assert.NotEmpty(t, src.ID, "create assigns an id")
	assert.Equal(t, domain.SourceActive, src.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepoSetStatusNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSourceRepo(db)

	mock.ExpectExec("UPDATE sources SET status").
		WithArgs("missing", "errored", "authorization revoked").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SetStatus(context.Background(), "missing", domain.SourceErrored, "authorization revoked")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepoRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewEventRepo(db)
	ev := &domain.IngestionEvent{
		SourceID:  "src-1",
		Reason:    domain.ReasonPush,
		Created:   2,
		StartedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO ingestion_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Record(context.Background(), ev))
	assert.NotEmpty(t, ev.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepoSaveSyncStateHoldsAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSourceRepo(db)
	now := time.Now().UTC()
	src := &domain.Source{
		ID:                "src-1",
		HistoryID:         "12345",
		CalendarSyncToken: "tok-9",
		LastSyncAt:        &now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("src-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sources SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveSyncState(context.Background(), src))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithSourceLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs("src-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var ran bool
	err = WithSourceLock(context.Background(), db, "src-1", func(tx *sql.Tx) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())
}
