package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type schoolRepository interface {
	Create(ctx context.Context, school *models.School) error
	FindByID(ctx context.Context, id string) (*models.School, error)
	ExistsByName(ctx context.Context, name string, excludeID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.School, error)
	Update(ctx context.Context, school *models.School) error
	CountClasses(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

type schoolRoleAssigner interface {
	AssignSchoolRole(ctx context.Context, link *models.SchoolRole) error
	CountSchoolsForUser(ctx context.Context, userID string) (int, error)
}

// CreateSchoolRequest describes school registration input.
type CreateSchoolRequest struct {
	Name    string `json:"name" validate:"required,min=2"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// UpdateSchoolRequest describes mutable school fields.
type UpdateSchoolRequest struct {
	Name    string `json:"name" validate:"required,min=2"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"required"`
	Address string `json:"address" validate:"required"`
	Active  *bool  `json:"active"`
}

// SchoolService manages tenant school registration and administration.
type SchoolService struct {
	repo       schoolRepository
	roles      schoolRoleAssigner
	maxSchools int
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewSchoolService constructs SchoolService.
func NewSchoolService(repo schoolRepository, roles schoolRoleAssigner, maxSchools int, validate *validator.Validate, logger *zap.Logger) *SchoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSchools <= 0 {
		maxSchools = 3
	}
	return &SchoolService{repo: repo, roles: roles, maxSchools: maxSchools, validator: validate, logger: logger}
}

// Create registers a school and links the creator as its admin. A user may
// hold at most a capped number of school links.
func (s *SchoolService) Create(ctx context.Context, creatorID string, req CreateSchoolRequest) (*models.School, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}

	exists, err := s.repo.ExistsByName(ctx, req.Name, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check school name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "school name already registered")
	}

	count, err := s.roles.CountSchoolsForUser(ctx, creatorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count user schools")
	}
	if count >= s.maxSchools {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("user already manages %d schools", count))
	}

	school := &models.School{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Address: req.Address,
		Active:  true,
	}
	if err := s.repo.Create(ctx, school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create school")
	}

	link := &models.SchoolRole{UserID: creatorID, SchoolID: school.ID, Role: models.RoleAdmin}
	if err := s.roles.AssignSchoolRole(ctx, link); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link school admin")
	}

	return school, nil
}

// Get loads a school by id.
func (s *SchoolService) Get(ctx context.Context, id string) (*models.School, error) {
	school, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}

// ListForUser returns the schools a user is linked to.
func (s *SchoolService) ListForUser(ctx context.Context, userID string) ([]models.School, error) {
	schools, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schools")
	}
	return schools, nil
}

// Update modifies a school's details.
func (s *SchoolService) Update(ctx context.Context, id string, req UpdateSchoolRequest) (*models.School, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}

	school, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByName(ctx, req.Name, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check school name")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "school name already registered")
	}

	school.Name = req.Name
	school.Email = req.Email
	school.Phone = req.Phone
	school.Address = req.Address
	if req.Active != nil {
		school.Active = *req.Active
	}

	if err := s.repo.Update(ctx, school); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school")
	}
	return school, nil
}

// Delete removes a school. Schools with classes still linked cannot be
// deleted.
func (s *SchoolService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	classes, err := s.repo.CountClasses(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count school classes")
	}
	if classes > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "school still has classes linked")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete school")
	}
	return nil
}
