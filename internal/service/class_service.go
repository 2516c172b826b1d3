package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type classRepository interface {
	ExistsByLabel(ctx context.Context, label string, excludeID string) (bool, error)
	CreateWithSections(ctx context.Context, class *models.Class, sectionLabels []string, schoolIDs []string) (*models.ClassDetail, error)
	FindWithSections(ctx context.Context, id string) (*models.ClassDetail, error)
	List(ctx context.Context) ([]models.ClassDetail, error)
	UpdateLabel(ctx context.Context, id, label string) error
	UpsertSections(ctx context.Context, classID string, labels []string) error
	ReplaceSchoolLinks(ctx context.Context, classID string, schoolIDs []string) error
	Delete(ctx context.Context, id string) error
}

type schoolVerifier interface {
	FindActiveByIDs(ctx context.Context, ids []string) ([]models.School, error)
}

// CreateClassRequest describes class creation input.
type CreateClassRequest struct {
	Label     string   `json:"label" validate:"required,min=1"`
	Sections  []string `json:"sections" validate:"required,min=1,dive,required"`
	SchoolIDs []string `json:"school_ids" validate:"required,min=1,dive,required"`
}

// UpdateClassRequest describes class update input. Sections are additive and
// school links are replaced.
type UpdateClassRequest struct {
	Label     string   `json:"label" validate:"required,min=1"`
	Sections  []string `json:"sections" validate:"omitempty,dive,required"`
	SchoolIDs []string `json:"school_ids" validate:"omitempty,dive,required"`
}

// ClassService manages classes, their sections and school links.
type ClassService struct {
	repo      classRepository
	schools   schoolVerifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewClassService constructs ClassService.
func NewClassService(repo classRepository, schools schoolVerifier, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, schools: schools, validator: validate, logger: logger}
}

// verifySchools ensures every referenced school exists and is active.
func (s *ClassService) verifySchools(ctx context.Context, ids []string) error {
	found, err := s.schools.FindActiveByIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify schools")
	}
	if len(found) != len(ids) {
		return appErrors.Clone(appErrors.ErrNotFound, "one or more schools not found or inactive")
	}
	return nil
}

// Create registers a class with its sections across one or more schools.
func (s *ClassService) Create(ctx context.Context, req CreateClassRequest) (*models.ClassDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	exists, err := s.repo.ExistsByLabel(ctx, req.Label, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class label")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "class label already exists")
	}

	if err := s.verifySchools(ctx, req.SchoolIDs); err != nil {
		return nil, err
	}

	class := &models.Class{Label: req.Label}
	detail, err := s.repo.CreateWithSections(ctx, class, req.Sections, req.SchoolIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create class")
	}
	return detail, nil
}

// Get loads a class with sections and school links.
func (s *ClassService) Get(ctx context.Context, id string) (*models.ClassDetail, error) {
	detail, err := s.repo.FindWithSections(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	return detail, nil
}

// List returns all classes with their sections.
func (s *ClassService) List(ctx context.Context) ([]models.ClassDetail, error) {
	details, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	return details, nil
}

// Update renames a class, adds any new sections and replaces school links.
func (s *ClassService) Update(ctx context.Context, id string, req UpdateClassRequest) (*models.ClassDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByLabel(ctx, req.Label, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class label")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "class label already exists")
	}

	if err := s.repo.UpdateLabel(ctx, id, req.Label); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class")
	}

	if len(req.Sections) > 0 {
		if err := s.repo.UpsertSections(ctx, id, req.Sections); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update sections")
		}
	}

	if len(req.SchoolIDs) > 0 {
		if err := s.verifySchools(ctx, req.SchoolIDs); err != nil {
			return nil, err
		}
		if err := s.repo.ReplaceSchoolLinks(ctx, id, req.SchoolIDs); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school links")
		}
	}

	return s.Get(ctx, id)
}

// Delete removes a class with its sections and links.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class")
	}
	return nil
}
