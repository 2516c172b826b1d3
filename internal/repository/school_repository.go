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

// SchoolRepository handles persistence for tenant schools.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs the repository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// Create inserts a new school row.
func (r *SchoolRepository) Create(ctx context.Context, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = now
	const query = `INSERT INTO schools (id, name, email, phone, address, active, created_at, updated_at)
        VALUES (:id, :name, :email, :phone, :address, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// FindByID loads a school by identifier.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	const query = `SELECT id, name, email, phone, address, active, created_at, updated_at FROM schools WHERE id = $1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		return nil, err
	}
	return &school, nil
}

// ExistsByName checks for a duplicate school name.
func (r *SchoolRepository) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	query := `SELECT 1 FROM schools WHERE name = $1`
	args := []interface{}{name}
	if excludeID != "" {
		query += ` AND id <> $2`
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check school name: %w", err)
	}
	return true, nil
}

// FindActiveByIDs returns the active schools among the given ids.
func (r *SchoolRepository) FindActiveByIDs(ctx context.Context, ids []string) ([]models.School, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, name, email, phone, address, active, created_at, updated_at FROM schools WHERE active = TRUE AND id IN (%s)`,
		strings.Join(placeholders, ","))
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, args...); err != nil {
		return nil, fmt.Errorf("find schools: %w", err)
	}
	return schools, nil
}

// ListByUser returns schools the user is linked to.
func (r *SchoolRepository) ListByUser(ctx context.Context, userID string) ([]models.School, error) {
	const query = `SELECT s.id, s.name, s.email, s.phone, s.address, s.active, s.created_at, s.updated_at
        FROM schools s
        JOIN user_schools us ON us.school_id = s.id
        WHERE us.user_id = $1
        ORDER BY s.name ASC`
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, userID); err != nil {
		return nil, fmt.Errorf("list user schools: %w", err)
	}
	return schools, nil
}

// Update modifies mutable school fields.
func (r *SchoolRepository) Update(ctx context.Context, school *models.School) error {
	school.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schools SET name = :name, email = :email, phone = :phone, address = :address, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("update school: %w", err)
	}
	return nil
}

// CountClasses returns how many classes remain linked to the school.
func (r *SchoolRepository) CountClasses(ctx context.Context, id string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM school_classes WHERE school_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count school classes: %w", err)
	}
	return count, nil
}

// Delete removes a school and its user links atomically.
func (r *SchoolRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete school tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_schools WHERE school_id = $1`, id); err != nil {
		return fmt.Errorf("delete school user links: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM schools WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete school: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete school tx: %w", err)
	}
	return nil
}
