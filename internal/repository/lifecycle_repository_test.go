package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedu/school-api/internal/models"
)

func newLifecycleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestLifecycleRepositoryCreateEnrollment(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	enrollment := &models.StudentEnrollment{
		StudentID: "stu-1",
		ClassID:   "class-1",
		SectionID: "sec-1",
		SessionID: "sess-1",
		TermID:    "term-1",
	}
	require.NoError(t, repo.CreateEnrollment(context.Background(), enrollment))
	require.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	require.NotEmpty(t, enrollment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryCreateEnrollmentDuplicateGuard(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	enrollment := &models.StudentEnrollment{
		StudentID: "stu-1",
		ClassID:   "class-1",
		SectionID: "sec-1",
		SessionID: "sess-1",
		TermID:    "term-1",
	}
	err := repo.CreateEnrollment(context.Background(), enrollment)
	require.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryPromoteStudents(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", models.EnrollmentStatusPromoted, models.EnrollmentStatusEnrolled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promotion_histories")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	plans := []PromotionPlan{{
		StudentID:   "stu-1",
		FromClassID: "class-1",
		FromRowIDs:  []string{"enr-1"},
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
		SessionID:   "sess-2",
		TermID:      "term-3",
	}}
	require.NoError(t, repo.PromoteStudents(context.Background(), plans, "admin-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryPromoteStudentsRollsBackOnError(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", models.EnrollmentStatusPromoted, models.EnrollmentStatusEnrolled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promotion_histories")).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	plans := []PromotionPlan{{
		StudentID:   "stu-1",
		FromClassID: "class-1",
		FromRowIDs:  []string{"enr-1"},
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
		SessionID:   "sess-2",
		TermID:      "term-3",
	}}
	require.Error(t, repo.PromoteStudents(context.Background(), plans, "admin-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryPromoteStudentsLeftoverOpenRow(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", models.EnrollmentStatusPromoted, models.EnrollmentStatusEnrolled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promotion_histories")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	plans := []PromotionPlan{{
		StudentID:   "stu-1",
		FromClassID: "class-1",
		FromRowIDs:  []string{"enr-1"},
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
		SessionID:   "sess-2",
		TermID:      "term-3",
	}}
	err := repo.PromoteStudents(context.Background(), plans, "admin-1")
	require.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryTransferStudents(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3")).
		WithArgs("enr-1", models.EnrollmentStatusTransferred, models.EnrollmentStatusEnrolled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE")).
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_enrollments")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO student_transfers")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reason := "relocation"
	plans := []TransferPlan{{
		StudentID:    "stu-1",
		FromSchoolID: "school-1",
		FromRowIDs:   []string{"enr-1"},
		ToSchoolID:   "school-2",
		ToClassID:    "class-9",
		ToSectionID:  "sec-9",
		SessionID:    "sess-1",
		TermID:       "term-1",
		Reason:       &reason,
	}}
	require.NoError(t, repo.TransferStudents(context.Background(), plans, time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRepositoryFindCurrentEnrolled(t *testing.T) {
	db, mock, cleanup := newLifecycleRepoMock(t)
	defer cleanup()
	repo := NewLifecycleRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "class_id", "section_id", "session_id", "term_id", "status", "created_at"}).
		AddRow("enr-1", "stu-1", "class-1", "sec-1", "sess-1", "term-1", models.EnrollmentStatusEnrolled, time.Now())
	mock.ExpectQuery("SELECT id, student_id, class_id, section_id, session_id, term_id, status, created_at").
		WithArgs("stu-1", models.EnrollmentStatusEnrolled).
		WillReturnRows(rows)

	enrollments, err := repo.FindCurrentEnrolled(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}
