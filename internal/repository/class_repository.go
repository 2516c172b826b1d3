package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nimbusedu/school-api/internal/models"
)

// ClassRepository handles persistence for classes, sections and school links.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// ExistsByLabel checks for a duplicate class label.
func (r *ClassRepository) ExistsByLabel(ctx context.Context, label string, excludeID string) (bool, error) {
	query := `SELECT 1 FROM classes WHERE label = $1`
	args := []interface{}{label}
	if excludeID != "" {
		query += ` AND id <> $2`
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check class label: %w", err)
	}
	return true, nil
}

// CreateWithSections inserts a class, its sections and its school links in
// one transaction.
func (r *ClassRepository) CreateWithSections(ctx context.Context, class *models.Class, sectionLabels []string, schoolIDs []string) (detail *models.ClassDetail, err error) {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt, class.UpdatedAt = now, now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create class tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO classes (id, label, created_at, updated_at) VALUES (:id, :label, :created_at, :updated_at)`, class); err != nil {
		return nil, fmt.Errorf("create class: %w", err)
	}

	sections := make([]models.Section, 0, len(sectionLabels))
	for _, label := range sectionLabels {
		section := models.Section{ID: uuid.NewString(), ClassID: class.ID, Label: label}
		if _, err = tx.ExecContext(ctx, `INSERT INTO sections (id, class_id, label) VALUES ($1, $2, $3)`, section.ID, section.ClassID, section.Label); err != nil {
			return nil, fmt.Errorf("create section: %w", err)
		}
		sections = append(sections, section)
	}

	for _, schoolID := range schoolIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO school_classes (school_id, class_id) VALUES ($1, $2)`, schoolID, class.ID); err != nil {
			return nil, fmt.Errorf("link class school: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create class tx: %w", err)
	}
	return &models.ClassDetail{Class: *class, Sections: sections, SchoolIDs: schoolIDs}, nil
}

// FindWithSections loads a class with its sections and school links.
func (r *ClassRepository) FindWithSections(ctx context.Context, id string) (*models.ClassDetail, error) {
	const query = `SELECT id, label, created_at, updated_at FROM classes WHERE id = $1`
	var class models.Class
	if err := r.db.GetContext(ctx, &class, query, id); err != nil {
		return nil, err
	}

	detail := &models.ClassDetail{Class: class}
	if err := r.db.SelectContext(ctx, &detail.Sections, `SELECT id, class_id, label FROM sections WHERE class_id = $1 ORDER BY label ASC`, id); err != nil {
		return nil, fmt.Errorf("load class sections: %w", err)
	}
	if err := r.db.SelectContext(ctx, &detail.SchoolIDs, `SELECT school_id FROM school_classes WHERE class_id = $1`, id); err != nil {
		return nil, fmt.Errorf("load class schools: %w", err)
	}
	return detail, nil
}

// List returns all classes with their sections.
func (r *ClassRepository) List(ctx context.Context) ([]models.ClassDetail, error) {
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, `SELECT id, label, created_at, updated_at FROM classes ORDER BY label ASC`); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}

	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, `SELECT id, class_id, label FROM sections ORDER BY label ASC`); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	byClass := make(map[string][]models.Section, len(classes))
	for _, s := range sections {
		byClass[s.ClassID] = append(byClass[s.ClassID], s)
	}

	details := make([]models.ClassDetail, 0, len(classes))
	for _, c := range classes {
		details = append(details, models.ClassDetail{Class: c, Sections: byClass[c.ID]})
	}
	return details, nil
}

// UpdateLabel renames a class.
func (r *ClassRepository) UpdateLabel(ctx context.Context, id, label string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE classes SET label = $2, updated_at = $3 WHERE id = $1`, id, label, time.Now().UTC()); err != nil {
		return fmt.Errorf("update class label: %w", err)
	}
	return nil
}

// UpsertSections creates any missing sections for the class keyed by label.
func (r *ClassRepository) UpsertSections(ctx context.Context, classID string, labels []string) error {
	for _, label := range labels {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO sections (id, class_id, label) VALUES ($1, $2, $3)
            ON CONFLICT (class_id, label) DO NOTHING`, uuid.NewString(), classID, label); err != nil {
			return fmt.Errorf("upsert section: %w", err)
		}
	}
	return nil
}

// ReplaceSchoolLinks resets the class↔school associations.
func (r *ClassRepository) ReplaceSchoolLinks(ctx context.Context, classID string, schoolIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin class links tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM school_classes WHERE class_id = $1`, classID); err != nil {
		return fmt.Errorf("clear class school links: %w", err)
	}
	for _, schoolID := range schoolIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO school_classes (school_id, class_id) VALUES ($1, $2)`, schoolID, classID); err != nil {
			return fmt.Errorf("link class school: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit class links tx: %w", err)
	}
	return nil
}

// Delete removes a class cascading to its sections and school links.
func (r *ClassRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete class tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM sections WHERE class_id = $1`, id); err != nil {
		return fmt.Errorf("delete class sections: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM school_classes WHERE class_id = $1`, id); err != nil {
		return fmt.Errorf("delete class school links: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete class tx: %w", err)
	}
	return nil
}

// FindSchoolIDForClass resolves the school a class belongs to; when a class
// is shared across schools the lexically first link is returned, which is
// deterministic for the transfer derivation.
func (r *ClassRepository) FindSchoolIDForClass(ctx context.Context, classID string) (string, error) {
	var schoolID string
	if err := r.db.GetContext(ctx, &schoolID, `SELECT school_id FROM school_classes WHERE class_id = $1 ORDER BY school_id ASC LIMIT 1`, classID); err != nil {
		return "", err
	}
	return schoolID, nil
}
