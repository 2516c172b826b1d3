package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nimbusedu/school-api/internal/models"
)

// LifecycleRepository handles the enrollment rows and their append-only
// promotion/transfer records. Every mutating operation is a single
// transaction so the lifecycle effects are all-or-nothing.
type LifecycleRepository struct {
	db *sqlx.DB
}

// NewLifecycleRepository constructs the repository.
func NewLifecycleRepository(db *sqlx.DB) *LifecycleRepository {
	return &LifecycleRepository{db: db}
}

func inPlaceholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

// FindCurrentEnrolled returns the student's open enrollment rows.
func (r *LifecycleRepository) FindCurrentEnrolled(ctx context.Context, studentID string) ([]models.StudentEnrollment, error) {
	const query = `SELECT id, student_id, class_id, section_id, session_id, term_id, status, created_at
        FROM student_enrollments WHERE student_id = $1 AND status = $2
        ORDER BY created_at DESC`
	var rows []models.StudentEnrollment
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("find current enrollments: %w", err)
	}
	return rows, nil
}

// FindLatestByStudentAndClass returns the student's most recent enrollment in
// a class, joined with the session start date for ordering checks.
func (r *LifecycleRepository) FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.EnrollmentWithSession, error) {
	const query = `SELECT e.id, e.student_id, e.class_id, e.section_id, e.session_id, e.term_id, e.status, e.created_at,
        s.start_date AS session_start_date
        FROM student_enrollments e
        JOIN sessions s ON s.id = e.session_id
        WHERE e.student_id = $1 AND e.class_id = $2
        ORDER BY e.created_at DESC LIMIT 1`
	var row models.EnrollmentWithSession
	if err := r.db.GetContext(ctx, &row, query, studentID, classID); err != nil {
		return nil, err
	}
	return &row, nil
}

// ListEnrolledByStudents returns the open enrollment rows for a batch of
// students, class links included so a school can be derived per row.
func (r *LifecycleRepository) ListEnrolledByStudents(ctx context.Context, studentIDs []string) ([]models.StudentEnrollment, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(studentIDs)+1)
	args = append(args, models.EnrollmentStatusEnrolled)
	for _, id := range studentIDs {
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT id, student_id, class_id, section_id, session_id, term_id, status, created_at
        FROM student_enrollments WHERE status = $1 AND student_id IN (%s)
        ORDER BY student_id, created_at DESC`, inPlaceholders(2, len(studentIDs)))
	var rows []models.StudentEnrollment
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list batch enrollments: %w", err)
	}
	return rows, nil
}

// HasOpenEnrollment reports whether a student holds any enrolled row,
// regardless of session. A stale open row from an earlier session blocks a
// new enrollment until it is promoted or transferred.
func (r *LifecycleRepository) HasOpenEnrollment(ctx context.Context, studentID string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1`,
		studentID, models.EnrollmentStatusEnrolled)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check open enrollment: %w", err)
	}
	return true, nil
}

// guardOpenEnrollment locks and rejects any remaining enrolled row for the
// student. Called inside the owning transaction right before a new enrolled
// row is inserted, so at most one open row per student can ever exist.
func guardOpenEnrollment(ctx context.Context, tx *sqlx.Tx, studentID string) error {
	var exists int
	err := tx.GetContext(ctx, &exists, `SELECT 1 FROM student_enrollments WHERE student_id = $1 AND status = $2 LIMIT 1 FOR UPDATE`,
		studentID, models.EnrollmentStatusEnrolled)
	if err == nil {
		return ErrDuplicateEnrollment
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("guard open enrollment: %w", err)
	}
	return nil
}

// CreateEnrollment inserts a new enrolled row. The open-row guard is
// re-checked inside the transaction so concurrent enrolls for the same
// student cannot both land.
func (r *LifecycleRepository) CreateEnrollment(ctx context.Context, enrollment *models.StudentEnrollment) (err error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.Status = models.EnrollmentStatusEnrolled
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enroll tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = guardOpenEnrollment(ctx, tx, enrollment.StudentID); err != nil {
		return err
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO student_enrollments (id, student_id, class_id, section_id, session_id, term_id, status, created_at)
        VALUES (:id, :student_id, :class_id, :section_id, :session_id, :term_id, :status, :created_at)`, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enroll tx: %w", err)
	}
	return nil
}

// ErrDuplicateEnrollment is returned when a student already holds an open
// enrolled row.
var ErrDuplicateEnrollment = fmt.Errorf("student already has an open enrollment")

// PromotionPlan describes one student's move in a promotion batch.
type PromotionPlan struct {
	StudentID   string
	FromClassID string
	FromRowIDs  []string
	ToClassID   string
	ToSectionID string
	SessionID   string
	TermID      string
}

// PromoteStudents applies a promotion batch in one transaction: the old rows
// are closed as promoted, a promotion history entry is appended and a fresh
// enrolled row is created per student.
func (r *LifecycleRepository) PromoteStudents(ctx context.Context, plans []PromotionPlan, promotedBy string) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, plan := range plans {
		for _, rowID := range plan.FromRowIDs {
			if _, err = tx.ExecContext(ctx, `UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3`,
				rowID, models.EnrollmentStatusPromoted, models.EnrollmentStatusEnrolled); err != nil {
				return fmt.Errorf("close promoted enrollment: %w", err)
			}
		}

		history := models.PromotionHistory{
			ID:          uuid.NewString(),
			StudentID:   plan.StudentID,
			FromClassID: plan.FromClassID,
			ToClassID:   plan.ToClassID,
			SessionID:   plan.SessionID,
			TermID:      plan.TermID,
			PromotedBy:  promotedBy,
			CreatedAt:   now,
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO promotion_histories (id, student_id, from_class_id, to_class_id, session_id, term_id, promoted_by, created_at)
            VALUES (:id, :student_id, :from_class_id, :to_class_id, :session_id, :term_id, :promoted_by, :created_at)`, &history); err != nil {
			return fmt.Errorf("create promotion history: %w", err)
		}

		if err = guardOpenEnrollment(ctx, tx, plan.StudentID); err != nil {
			return err
		}

		enrollment := models.StudentEnrollment{
			ID:        uuid.NewString(),
			StudentID: plan.StudentID,
			ClassID:   plan.ToClassID,
			SectionID: plan.ToSectionID,
			SessionID: plan.SessionID,
			TermID:    plan.TermID,
			Status:    models.EnrollmentStatusEnrolled,
			CreatedAt: now,
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO student_enrollments (id, student_id, class_id, section_id, session_id, term_id, status, created_at)
            VALUES (:id, :student_id, :class_id, :section_id, :session_id, :term_id, :status, :created_at)`, &enrollment); err != nil {
			return fmt.Errorf("create promoted enrollment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit promote tx: %w", err)
	}
	return nil
}

// TransferPlan describes one student's move in a transfer batch.
type TransferPlan struct {
	StudentID    string
	FromSchoolID string
	FromRowIDs   []string
	ToSchoolID   string
	ToClassID    string
	ToSectionID  string
	SessionID    string
	TermID       string
	Reason       *string
}

// TransferStudents applies a transfer batch in one transaction: old rows are
// closed as transferred, a fresh enrolled row is created at the destination
// and a transfer record is appended per student.
func (r *LifecycleRepository) TransferStudents(ctx context.Context, plans []TransferPlan, transferDate time.Time) (err error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, plan := range plans {
		for _, rowID := range plan.FromRowIDs {
			if _, err = tx.ExecContext(ctx, `UPDATE student_enrollments SET status = $2 WHERE id = $1 AND status = $3`,
				rowID, models.EnrollmentStatusTransferred, models.EnrollmentStatusEnrolled); err != nil {
				return fmt.Errorf("close transferred enrollment: %w", err)
			}
		}

		if err = guardOpenEnrollment(ctx, tx, plan.StudentID); err != nil {
			return err
		}

		enrollment := models.StudentEnrollment{
			ID:        uuid.NewString(),
			StudentID: plan.StudentID,
			ClassID:   plan.ToClassID,
			SectionID: plan.ToSectionID,
			SessionID: plan.SessionID,
			TermID:    plan.TermID,
			Status:    models.EnrollmentStatusEnrolled,
			CreatedAt: now,
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO student_enrollments (id, student_id, class_id, section_id, session_id, term_id, status, created_at)
            VALUES (:id, :student_id, :class_id, :section_id, :session_id, :term_id, :status, :created_at)`, &enrollment); err != nil {
			return fmt.Errorf("create transferred enrollment: %w", err)
		}

		record := models.StudentTransfer{
			ID:             uuid.NewString(),
			StudentID:      plan.StudentID,
			FromSchoolID:   plan.FromSchoolID,
			ToSchoolID:     plan.ToSchoolID,
			ToClassID:      plan.ToClassID,
			ToSectionID:    plan.ToSectionID,
			TransferReason: plan.Reason,
			TransferDate:   transferDate,
			CreatedAt:      now,
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO student_transfers (id, student_id, from_school_id, to_school_id, to_class_id, to_section_id, transfer_reason, transfer_date, created_at)
            VALUES (:id, :student_id, :from_school_id, :to_school_id, :to_class_id, :to_section_id, :transfer_reason, :transfer_date, :created_at)`, &record); err != nil {
			return fmt.Errorf("create transfer record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer tx: %w", err)
	}
	return nil
}

// ListTransfers returns transfer records touching a school, newest first.
func (r *LifecycleRepository) ListTransfers(ctx context.Context, filter models.TransferFilter) ([]models.StudentTransfer, int, error) {
	where := []string{"(from_school_id = $1 OR to_school_id = $1)"}
	args := []interface{}{filter.SchoolID}
	if filter.FromSchoolID != "" {
		args = append(args, filter.FromSchoolID)
		where = append(where, fmt.Sprintf("from_school_id = $%d", len(args)))
	}
	if filter.ToSchoolID != "" {
		args = append(args, filter.ToSchoolID)
		where = append(where, fmt.Sprintf("to_school_id = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM student_transfers WHERE `+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`SELECT id, student_id, from_school_id, to_school_id, to_class_id, to_section_id, transfer_reason, transfer_date, created_at
        FROM student_transfers WHERE %s ORDER BY transfer_date DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args))

	var records []models.StudentTransfer
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}
	return records, total, nil
}

// ListPromotionHistory returns a student's promotion records, newest first.
func (r *LifecycleRepository) ListPromotionHistory(ctx context.Context, studentID string) ([]models.PromotionHistory, error) {
	const query = `SELECT id, student_id, from_class_id, to_class_id, session_id, term_id, promoted_by, created_at
        FROM promotion_histories WHERE student_id = $1 ORDER BY created_at DESC`
	var records []models.PromotionHistory
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list promotion history: %w", err)
	}
	return records, nil
}
