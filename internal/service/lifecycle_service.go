package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/internal/repository"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type lifecycleRepository interface {
	FindCurrentEnrolled(ctx context.Context, studentID string) ([]models.StudentEnrollment, error)
	FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.EnrollmentWithSession, error)
	ListEnrolledByStudents(ctx context.Context, studentIDs []string) ([]models.StudentEnrollment, error)
	HasOpenEnrollment(ctx context.Context, studentID string) (bool, error)
	CreateEnrollment(ctx context.Context, enrollment *models.StudentEnrollment) error
	PromoteStudents(ctx context.Context, plans []repository.PromotionPlan, promotedBy string) error
	TransferStudents(ctx context.Context, plans []repository.TransferPlan, transferDate time.Time) error
}

type activeSessionResolver interface {
	GetActive(ctx context.Context) (*models.SessionDetail, error)
}

type studentProfileReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Student, error)
}

type classDetailReader interface {
	FindWithSections(ctx context.Context, id string) (*models.ClassDetail, error)
	FindSchoolIDForClass(ctx context.Context, classID string) (string, error)
}

// EnrollRequest places a student into a class section for the active term.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// PromoteRequest moves a batch of students from one class to another.
type PromoteRequest struct {
	StudentIDs  []string `json:"student_ids" validate:"required,min=1,dive,required"`
	FromClassID string   `json:"from_class_id" validate:"required"`
	ToClassID   string   `json:"to_class_id" validate:"required"`
	ToSectionID string   `json:"to_section_id" validate:"required"`
}

// TransferRequest moves a batch of students to a class in another school.
type TransferRequest struct {
	StudentIDs  []string `json:"student_ids" validate:"required,min=1,dive,required"`
	ToSchoolID  string   `json:"to_school_id" validate:"required"`
	ToClassID   string   `json:"to_class_id" validate:"required"`
	ToSectionID string   `json:"to_section_id" validate:"required"`
	Reason      *string  `json:"reason"`
}

// LifecycleService drives the student lifecycle engine: enroll, promote and
// transfer. Preconditions are validated up front for the whole batch; the
// effects are applied in a single transaction per operation.
type LifecycleService struct {
	repo      lifecycleRepository
	sessions  activeSessionResolver
	students  studentProfileReader
	classes   classDetailReader
	schools   schoolVerifier
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewLifecycleService constructs LifecycleService.
func NewLifecycleService(repo lifecycleRepository, sessions activeSessionResolver, students studentProfileReader, classes classDetailReader, schools schoolVerifier, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *LifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{
		repo:      repo,
		sessions:  sessions,
		students:  students,
		classes:   classes,
		schools:   schools,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// activeContext resolves the active session and its active term, which every
// lifecycle operation requires.
func (s *LifecycleService) activeContext(ctx context.Context) (*models.SessionDetail, *models.Term, error) {
	detail, err := s.sessions.GetActive(ctx)
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) && appErr.Code == appErrors.ErrNotFound.Code {
			return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active session")
		}
		return nil, nil, err
	}
	term := detail.ActiveTerm()
	if term == nil {
		return nil, nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "active session has no active term")
	}
	return detail, term, nil
}

// classWithSection loads a class and checks the section belongs to it.
func (s *LifecycleService) classWithSection(ctx context.Context, classID, sectionID string) (*models.ClassDetail, error) {
	class, err := s.classes.FindWithSections(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !class.HasSection(sectionID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section does not belong to class")
	}
	return class, nil
}

// Enroll places a student into a class section for the active session and
// term. A student holds at most one enrollment per session.
func (s *LifecycleService) Enroll(ctx context.Context, actorID string, req EnrollRequest) (*models.StudentEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	session, term, err := s.activeContext(ctx)
	if err != nil {
		return nil, err
	}

	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	if _, err := s.classWithSection(ctx, req.ClassID, req.SectionID); err != nil {
		return nil, err
	}

	exists, err := s.repo.HasOpenEnrollment(ctx, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an open enrollment")
	}

	enrollment := &models.StudentEnrollment{
		StudentID: req.StudentID,
		ClassID:   req.ClassID,
		SectionID: req.SectionID,
		SessionID: session.ID,
		TermID:    term.ID,
	}
	// The repository re-checks the open-row guard inside the transaction.
	if err := s.repo.CreateEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already has an open enrollment")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}

	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionEnroll, "enrollment", enrollment.ID, req, "", "")
	}
	return enrollment, nil
}

// Promote moves a batch of students into a new class for the active session.
// Every student is validated before anything is written; one failing student
// fails the whole batch.
func (s *LifecycleService) Promote(ctx context.Context, actorID string, req PromoteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promotion payload")
	}
	if req.FromClassID == req.ToClassID {
		return appErrors.Clone(appErrors.ErrValidation, "source and destination class are the same")
	}

	session, term, err := s.activeContext(ctx)
	if err != nil {
		return err
	}

	toClass, err := s.classWithSection(ctx, req.ToClassID, req.ToSectionID)
	if err != nil {
		return err
	}
	fromClass, err := s.classes.FindWithSections(ctx, req.FromClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "source class not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load source class")
	}
	if !toClass.SharesSchoolWith(fromClass) {
		return appErrors.Clone(appErrors.ErrValidation, "source and destination class do not share a school")
	}

	students, err := s.students.FindByIDs(ctx, req.StudentIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	if len(students) != len(req.StudentIDs) {
		return appErrors.Clone(appErrors.ErrNotFound, "one or more students not found")
	}

	enrolled, err := s.repo.ListEnrolledByStudents(ctx, req.StudentIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	rowsByStudent := make(map[string][]models.StudentEnrollment, len(req.StudentIDs))
	for _, row := range enrolled {
		rowsByStudent[row.StudentID] = append(rowsByStudent[row.StudentID], row)
	}

	plans := make([]repository.PromotionPlan, 0, len(req.StudentIDs))
	for _, studentID := range req.StudentIDs {
		var fromRowIDs []string
		for _, row := range rowsByStudent[studentID] {
			if row.ClassID == req.FromClassID {
				fromRowIDs = append(fromRowIDs, row.ID)
			}
		}
		if len(fromRowIDs) == 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s is not enrolled in the source class", studentID))
		}

		latest, err := s.repo.FindLatestByStudentAndClass(ctx, studentID, req.FromClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s has no enrollment history in the source class", studentID))
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment history")
		}
		if !latest.SessionStartDate.Before(session.StartDate) {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s was enrolled in the source class during the current session", studentID))
		}

		plans = append(plans, repository.PromotionPlan{
			StudentID:   studentID,
			FromClassID: req.FromClassID,
			FromRowIDs:  fromRowIDs,
			ToClassID:   req.ToClassID,
			ToSectionID: req.ToSectionID,
			SessionID:   session.ID,
			TermID:      term.ID,
		})
	}

	if err := s.repo.PromoteStudents(ctx, plans, actorID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote students")
	}

	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionPromote, "enrollment", req.ToClassID, req, "", "")
	}
	s.logger.Sugar().Infow("students promoted", "count", len(plans), "from_class", req.FromClassID, "to_class", req.ToClassID)
	return nil
}

// Transfer moves a batch of students into a class of another school. The
// source school is derived from each student's open enrollment, never taken
// from the request.
func (s *LifecycleService) Transfer(ctx context.Context, actorID string, req TransferRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transfer payload")
	}

	session, term, err := s.activeContext(ctx)
	if err != nil {
		return err
	}

	schools, err := s.schools.FindActiveByIDs(ctx, []string{req.ToSchoolID})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify destination school")
	}
	if len(schools) != 1 {
		return appErrors.Clone(appErrors.ErrNotFound, "destination school not found or inactive")
	}

	toClass, err := s.classWithSection(ctx, req.ToClassID, req.ToSectionID)
	if err != nil {
		return err
	}
	linked := false
	for _, schoolID := range toClass.SchoolIDs {
		if schoolID == req.ToSchoolID {
			linked = true
			break
		}
	}
	if !linked {
		return appErrors.Clone(appErrors.ErrValidation, "destination class is not linked to the destination school")
	}

	students, err := s.students.FindByIDs(ctx, req.StudentIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	if len(students) != len(req.StudentIDs) {
		return appErrors.Clone(appErrors.ErrNotFound, "one or more students not found")
	}

	enrolled, err := s.repo.ListEnrolledByStudents(ctx, req.StudentIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	rowsByStudent := make(map[string][]models.StudentEnrollment, len(req.StudentIDs))
	for _, row := range enrolled {
		rowsByStudent[row.StudentID] = append(rowsByStudent[row.StudentID], row)
	}

	transferDate := s.now()
	plans := make([]repository.TransferPlan, 0, len(req.StudentIDs))
	for _, studentID := range req.StudentIDs {
		rows := rowsByStudent[studentID]
		if len(rows) == 0 {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s has no open enrollment", studentID))
		}

		// Derive the source school from the newest open row's class link.
		fromSchoolID, err := s.classes.FindSchoolIDForClass(ctx, rows[0].ClassID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("student %s enrollment has no school link", studentID))
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve source school")
		}
		if fromSchoolID == req.ToSchoolID {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student %s is already enrolled at the destination school", studentID))
		}

		rowIDs := make([]string, len(rows))
		for i, row := range rows {
			rowIDs[i] = row.ID
		}
		plans = append(plans, repository.TransferPlan{
			StudentID:    studentID,
			FromSchoolID: fromSchoolID,
			FromRowIDs:   rowIDs,
			ToSchoolID:   req.ToSchoolID,
			ToClassID:    req.ToClassID,
			ToSectionID:  req.ToSectionID,
			SessionID:    session.ID,
			TermID:       term.ID,
			Reason:       req.Reason,
		})
	}

	if err := s.repo.TransferStudents(ctx, plans, transferDate); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transfer students")
	}

	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionTransfer, "enrollment", req.ToSchoolID, req, "", "")
	}
	s.logger.Sugar().Infow("students transferred", "count", len(plans), "to_school", req.ToSchoolID)
	return nil
}
