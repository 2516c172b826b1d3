package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nimbusedu/school-api/internal/models"
)

// StudentRepository handles read access to student profiles and rosters.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Sortable roster columns. Anything else falls back to name.
var studentSortColumns = map[string]string{
	"name":             "st.name",
	"admission_number": "st.admission_number",
	"created_at":       "st.created_at",
}

// FindByID loads a student profile.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, user_id, name, admission_number, gender, birth_date, address, active, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByIDs loads a batch of student profiles.
func (r *StudentRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`SELECT id, user_id, name, admission_number, gender, birth_date, address, active, created_at, updated_at
        FROM students WHERE id IN (%s)`, strings.Join(placeholders, ","))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("find students: %w", err)
	}
	return students, nil
}

// ListBySchool returns the school's roster of currently enrolled students,
// with optional class/name/admission-number filters and a paging total.
func (r *StudentRepository) ListBySchool(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	where := []string{
		"e.status = $1",
		"sc.school_id = $2",
	}
	args := []interface{}{models.EnrollmentStatusEnrolled, filter.SchoolID}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		where = append(where, fmt.Sprintf("e.class_id = $%d", len(args)))
	}
	if filter.Name != "" {
		args = append(args, "%"+filter.Name+"%")
		where = append(where, fmt.Sprintf("st.name ILIKE $%d", len(args)))
	}
	if filter.AdmissionNumber != nil {
		args = append(args, *filter.AdmissionNumber)
		where = append(where, fmt.Sprintf("st.admission_number = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	countQuery := `SELECT COUNT(DISTINCT st.id)
        FROM students st
        JOIN student_enrollments e ON e.student_id = st.id
        JOIN school_classes sc ON sc.class_id = e.class_id
        WHERE ` + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count school roster: %w", err)
	}

	sortCol, ok := studentSortColumns[filter.SortBy]
	if !ok {
		sortCol = "st.name"
	}
	sortDir := "ASC"
	if strings.EqualFold(filter.SortOrder, "desc") {
		sortDir = "DESC"
	}
	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	args = append(args, pageSize, (page-1)*pageSize)

	query := fmt.Sprintf(`SELECT DISTINCT st.id, st.user_id, st.name, st.admission_number, st.gender, st.birth_date, st.address, st.active, st.created_at, st.updated_at
        FROM students st
        JOIN student_enrollments e ON e.student_id = st.id
        JOIN school_classes sc ON sc.class_id = e.class_id
        WHERE %s
        ORDER BY %s %s
        LIMIT $%d OFFSET $%d`, clause, sortCol, sortDir, len(args)-1, len(args))

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list school roster: %w", err)
	}
	return students, total, nil
}

// FindDetail loads a student with account fields and active placements.
func (r *StudentRepository) FindDetail(ctx context.Context, id string) (*models.StudentDetail, error) {
	const query = `SELECT st.id, st.user_id, st.name, st.admission_number, st.gender, st.birth_date, st.address, st.active, st.created_at, st.updated_at,
        u.email, u.username
        FROM students st
        JOIN users u ON u.id = st.user_id
        WHERE st.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}

	const placements = `SELECT e.id AS enrollment_id, c.label AS class_label, sec.label AS section_label, ses.label AS session_label, t.label AS term_label
        FROM student_enrollments e
        JOIN classes c ON c.id = e.class_id
        JOIN sections sec ON sec.id = e.section_id
        JOIN sessions ses ON ses.id = e.session_id
        JOIN terms t ON t.id = e.term_id
        WHERE e.student_id = $1 AND e.status = $2
        ORDER BY e.created_at DESC`
	if err := r.db.SelectContext(ctx, &detail.Enrollments, placements, id, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("load student placements: %w", err)
	}
	return &detail, nil
}

// RosterRow is the export shape of a roster entry.
type RosterRow struct {
	AdmissionNumber int    `db:"admission_number"`
	Name            string `db:"name"`
	Gender          string `db:"gender"`
	ClassLabel      string `db:"class_label"`
	SectionLabel    string `db:"section_label"`
	SessionLabel    string `db:"session_label"`
	TermLabel       string `db:"term_label"`
}

// ListRosterForExport streams the full roster of a school for CSV/PDF export.
func (r *StudentRepository) ListRosterForExport(ctx context.Context, schoolID string, maxRows int) ([]RosterRow, error) {
	const query = `SELECT st.admission_number, st.name, st.gender,
        c.label AS class_label, sec.label AS section_label, ses.label AS session_label, t.label AS term_label
        FROM students st
        JOIN student_enrollments e ON e.student_id = st.id AND e.status = $2
        JOIN classes c ON c.id = e.class_id
        JOIN sections sec ON sec.id = e.section_id
        JOIN sessions ses ON ses.id = e.session_id
        JOIN terms t ON t.id = e.term_id
        JOIN school_classes sc ON sc.class_id = e.class_id
        WHERE sc.school_id = $1
        ORDER BY c.label, sec.label, st.admission_number
        LIMIT $3`
	var rows []RosterRow
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, models.EnrollmentStatusEnrolled, maxRows); err != nil {
		return nil, fmt.Errorf("list roster export: %w", err)
	}
	return rows, nil
}
