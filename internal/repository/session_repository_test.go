package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedu/school-api/internal/models"
)

func newSessionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSessionRepositoryCreateWithTermsDeactivatesOthers(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	session := &models.Session{
		Label:     "2026/2027",
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.AddDate(0, 11, 0),
		IsActive:  true,
	}
	terms := []models.Term{
		{Label: "First Term", StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(0, 3, 0)},
		{Label: "Second Term", StartDate: now.AddDate(0, 4, 0), EndDate: now.AddDate(0, 7, 0)},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET is_active = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO terms")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO terms")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	detail, err := repo.CreateWithTerms(context.Background(), session, terms)
	require.NoError(t, err)
	require.Len(t, detail.Terms, 2)
	// The wall clock falls inside the first term's window only.
	require.True(t, detail.Terms[0].IsActive)
	require.False(t, detail.Terms[1].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryCreateWithTermsInactiveSkipsDeactivation(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	session := &models.Session{Label: "archived", StartDate: now, EndDate: now.AddDate(1, 0, 0)}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := repo.CreateWithTerms(context.Background(), session, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeleteWithTerms(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM terms WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE id = $1")).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteWithTerms(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryDeleteWithTermsRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM terms WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	require.Error(t, repo.DeleteWithTerms(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryReconcileTermStatus(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND end_date < $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE terms SET is_active = TRUE, updated_at = $1 WHERE is_active = FALSE AND start_date <= $1 AND end_date >= $1")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deactivated, activated, err := repo.ReconcileTermStatus(context.Background(), now)
	require.NoError(t, err)
	require.EqualValues(t, 2, deactivated)
	require.EqualValues(t, 1, activated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindActiveWithTerms(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	sessionRows := sqlmock.NewRows([]string{"id", "label", "start_date", "end_date", "is_active", "created_at", "updated_at"}).
		AddRow("sess-1", "2026/2027", now, now.AddDate(1, 0, 0), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, label, start_date, end_date, is_active, created_at, updated_at FROM sessions WHERE is_active = TRUE LIMIT 1")).
		WillReturnRows(sessionRows)

	detailRows := sqlmock.NewRows([]string{"id", "label", "start_date", "end_date", "is_active", "created_at", "updated_at"}).
		AddRow("sess-1", "2026/2027", now, now.AddDate(1, 0, 0), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, label, start_date, end_date, is_active, created_at, updated_at FROM sessions WHERE id = $1")).
		WithArgs("sess-1").
		WillReturnRows(detailRows)

	termRows := sqlmock.NewRows([]string{"id", "session_id", "label", "start_date", "end_date", "is_active", "created_at", "updated_at"}).
		AddRow("term-1", "sess-1", "First Term", now, now.AddDate(0, 4, 0), true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, session_id, label, start_date, end_date, is_active, created_at, updated_at FROM terms WHERE session_id = $1 ORDER BY start_date ASC")).
		WithArgs("sess-1").
		WillReturnRows(termRows)

	detail, err := repo.FindActiveWithTerms(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sess-1", detail.ID)
	require.Len(t, detail.Terms, 1)
	require.NotNil(t, detail.ActiveTerm())
	require.NoError(t, mock.ExpectationsWereMet())
}
