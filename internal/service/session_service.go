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
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type sessionMetrics interface {
	RecordCacheLookup(hit bool)
	RecordReconcile(deactivated, activated int64)
}

type sessionRepository interface {
	CreateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (*models.SessionDetail, error)
	UpdateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (*models.SessionDetail, error)
	DeleteWithTerms(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.SessionDetail, error)
	FindActiveWithTerms(ctx context.Context) (*models.SessionDetail, error)
	FindTermByID(ctx context.Context, id string) (*models.Term, error)
	ListAll(ctx context.Context) ([]models.Session, error)
	ListTerms(ctx context.Context, sessionID string) ([]models.Term, error)
	ReconcileTermStatus(ctx context.Context, now time.Time) (int64, int64, error)
}

// TermInput describes one term in a session payload. Labels are stored as
// given and act as the natural key within the session.
type TermInput struct {
	Label     string    `json:"label" validate:"required"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// CreateSessionRequest describes session creation input.
type CreateSessionRequest struct {
	Label     string      `json:"label" validate:"required"`
	StartDate time.Time   `json:"start_date" validate:"required"`
	EndDate   time.Time   `json:"end_date" validate:"required"`
	IsActive  bool        `json:"is_active"`
	Terms     []TermInput `json:"terms" validate:"required,min=1,dive"`
}

// UpdateSessionRequest describes session update input. Every field is
// optional; omitted fields keep their stored values.
type UpdateSessionRequest struct {
	Label     *string     `json:"label" validate:"omitempty,min=1"`
	StartDate *time.Time  `json:"start_date"`
	EndDate   *time.Time  `json:"end_date"`
	IsActive  *bool       `json:"is_active"`
	Terms     []TermInput `json:"terms" validate:"omitempty,dive"`
}

// SessionService manages academic sessions, their terms and the
// single-active-session invariant. The resolved active session is cached
// and every write path invalidates that cache.
type SessionService struct {
	repo      sessionRepository
	cache     activeSessionCache
	audit     auditRecorder
	metrics   sessionMetrics
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs SessionService.
func NewSessionService(repo sessionRepository, cache activeSessionCache, audit auditRecorder, metrics sessionMetrics, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{repo: repo, cache: cache, audit: audit, metrics: metrics, validator: validate, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// validateWindows checks session and term date ordering and containment.
func validateWindows(start, end time.Time, terms []TermInput) error {
	if !start.Before(end) {
		return appErrors.Clone(appErrors.ErrValidation, "session start date must be before end date")
	}
	for _, t := range terms {
		if !t.StartDate.Before(t.EndDate) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term %q start date must be before end date", t.Label))
		}
		if t.StartDate.Before(start) || t.EndDate.After(end) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term %q must fall within the session window", t.Label))
		}
	}
	return nil
}

func termsFromInput(inputs []TermInput) []models.Term {
	terms := make([]models.Term, len(inputs))
	for i, t := range inputs {
		terms[i] = models.Term{Label: t.Label, StartDate: t.StartDate, EndDate: t.EndDate}
	}
	return terms
}

// Create registers a session with its terms. An active session deactivates
// all others atomically.
func (s *SessionService) Create(ctx context.Context, actorID string, req CreateSessionRequest) (*models.SessionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if err := validateWindows(req.StartDate, req.EndDate, req.Terms); err != nil {
		return nil, err
	}

	session := &models.Session{
		Label:     req.Label,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		IsActive:  req.IsActive,
	}
	detail, err := s.repo.CreateWithTerms(ctx, session, termsFromInput(req.Terms))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionSessionWrite, "session", detail.ID, map[string]string{"op": "create", "label": detail.Label}, "", "")
	}
	return detail, nil
}

// Get loads a session with its terms.
func (s *SessionService) Get(ctx context.Context, id string) (*models.SessionDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return detail, nil
}

// GetActive resolves the single active session, serving cached snapshots
// between writes.
func (s *SessionService) GetActive(ctx context.Context) (*models.SessionDetail, error) {
	if s.cache != nil {
		if detail, ok := s.cache.GetActive(ctx); ok {
			if s.metrics != nil {
				s.metrics.RecordCacheLookup(true)
			}
			return detail, nil
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(false)
		}
	}

	detail, err := s.repo.FindActiveWithTerms(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}

	if s.cache != nil {
		s.cache.SetActive(ctx, detail)
	}
	return detail, nil
}

// GetTerm loads a single term.
func (s *SessionService) GetTerm(ctx context.Context, id string) (*models.Term, error) {
	term, err := s.repo.FindTermByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	return term, nil
}

// List returns every session newest first.
func (s *SessionService) List(ctx context.Context) ([]models.Session, error) {
	sessions, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// ListTerms returns the terms of a session.
func (s *SessionService) ListTerms(ctx context.Context, sessionID string) ([]models.Term, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	terms, err := s.repo.ListTerms(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	return terms, nil
}

// Update applies a partial session update and upserts any supplied terms by
// label. Fields missing from the payload keep their stored values, and the
// window checks run against the merged dates.
func (s *SessionService) Update(ctx context.Context, actorID, id string, req UpdateSessionRequest) (*models.SessionDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		ID:        existing.ID,
		Label:     existing.Label,
		StartDate: existing.StartDate,
		EndDate:   existing.EndDate,
		IsActive:  existing.IsActive,
		CreatedAt: existing.CreatedAt,
	}
	if req.Label != nil {
		session.Label = *req.Label
	}
	if req.StartDate != nil {
		session.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		session.EndDate = *req.EndDate
	}
	if req.IsActive != nil {
		session.IsActive = *req.IsActive
	}
	if err := validateWindows(session.StartDate, session.EndDate, req.Terms); err != nil {
		return nil, err
	}

	detail, err := s.repo.UpdateWithTerms(ctx, session, termsFromInput(req.Terms))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}

	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionSessionWrite, "session", id, map[string]string{"op": "update", "label": session.Label}, "", "")
	}
	return detail, nil
}

// Delete removes a session with its terms. The active session cannot be
// deleted; deactivate or activate another session first.
func (s *SessionService) Delete(ctx context.Context, actorID, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsActive {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot delete the active session")
	}

	if err := s.repo.DeleteWithTerms(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}

	s.invalidate(ctx)
	if s.audit != nil {
		s.audit.Record(actorID, models.AuditActionSessionWrite, "session", id, map[string]string{"op": "delete"}, "", "")
	}
	return nil
}

// ReconcileTermStatus aligns term activation flags with the wall clock. The
// sweep is idempotent and safe to run on any cadence.
func (s *SessionService) ReconcileTermStatus(ctx context.Context) error {
	now := s.now()
	deactivated, activated, err := s.repo.ReconcileTermStatus(ctx, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reconcile term status")
	}
	if deactivated > 0 || activated > 0 {
		s.invalidate(ctx)
	}
	if s.metrics != nil {
		s.metrics.RecordReconcile(deactivated, activated)
	}
	s.logger.Sugar().Infow("term status reconciled", "deactivated", deactivated, "activated", activated, "at", now)
	return nil
}

func (s *SessionService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}
