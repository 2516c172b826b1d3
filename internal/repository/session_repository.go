package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nimbusedu/school-api/internal/models"
)

// SessionRepository handles persistence for academic sessions and terms.
// Session writes are transactional so the single-active-session invariant
// holds even under concurrent creates.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// termActive reports whether the wall clock falls inside the term window.
func termActive(start, end, now time.Time) bool {
	return !now.Before(start) && !now.After(end)
}

// CreateWithTerms inserts a session with its terms in one transaction. When
// the new session is active every other session is deactivated first, and
// each term's is_active flag is derived from the current time.
func (r *SessionRepository) CreateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (detail *models.SessionDetail, err error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt, session.UpdatedAt = now, now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create session tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if session.IsActive {
		if _, err = tx.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`, now); err != nil {
			return nil, fmt.Errorf("deactivate sessions: %w", err)
		}
	}

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO sessions (id, label, start_date, end_date, is_active, created_at, updated_at)
        VALUES (:id, :label, :start_date, :end_date, :is_active, :created_at, :updated_at)`, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for i := range terms {
		terms[i].ID = uuid.NewString()
		terms[i].SessionID = session.ID
		terms[i].IsActive = termActive(terms[i].StartDate, terms[i].EndDate, now)
		terms[i].CreatedAt, terms[i].UpdatedAt = now, now
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO terms (id, session_id, label, start_date, end_date, is_active, created_at, updated_at)
            VALUES (:id, :session_id, :label, :start_date, :end_date, :is_active, :created_at, :updated_at)`, &terms[i]); err != nil {
			return nil, fmt.Errorf("create term: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create session tx: %w", err)
	}
	return &models.SessionDetail{Session: *session, Terms: terms}, nil
}

// UpdateWithTerms rewrites session fields and upserts terms keyed by
// (session_id, label) in one transaction. Activating the session deactivates
// every other session in the same statement batch.
func (r *SessionRepository) UpdateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (detail *models.SessionDetail, err error) {
	now := time.Now().UTC()
	session.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update session tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if session.IsActive {
		if _, err = tx.ExecContext(ctx, `UPDATE sessions SET is_active = FALSE, updated_at = $2 WHERE is_active = TRUE AND id <> $1`, session.ID, now); err != nil {
			return nil, fmt.Errorf("deactivate sessions: %w", err)
		}
	}

	if _, err = tx.NamedExecContext(ctx, `UPDATE sessions SET label = :label, start_date = :start_date, end_date = :end_date, is_active = :is_active, updated_at = :updated_at
        WHERE id = :id`, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	for i := range terms {
		terms[i].SessionID = session.ID
		terms[i].IsActive = termActive(terms[i].StartDate, terms[i].EndDate, now)
		terms[i].UpdatedAt = now
		if terms[i].ID == "" {
			terms[i].ID = uuid.NewString()
		}
		if terms[i].CreatedAt.IsZero() {
			terms[i].CreatedAt = now
		}
		if _, err = tx.NamedExecContext(ctx, `INSERT INTO terms (id, session_id, label, start_date, end_date, is_active, created_at, updated_at)
            VALUES (:id, :session_id, :label, :start_date, :end_date, :is_active, :created_at, :updated_at)
            ON CONFLICT (session_id, label) DO UPDATE SET start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at`, &terms[i]); err != nil {
			return nil, fmt.Errorf("upsert term: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update session tx: %w", err)
	}

	return r.FindByID(ctx, session.ID)
}

// DeleteWithTerms removes a session and its terms atomically.
func (r *SessionRepository) DeleteWithTerms(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM terms WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session terms: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session tx: %w", err)
	}
	return nil
}

// FindByID loads a session with its terms ordered by start date.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, `SELECT id, label, start_date, end_date, is_active, created_at, updated_at FROM sessions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	detail := &models.SessionDetail{Session: session}
	if err := r.db.SelectContext(ctx, &detail.Terms, `SELECT id, session_id, label, start_date, end_date, is_active, created_at, updated_at FROM terms WHERE session_id = $1 ORDER BY start_date ASC`, id); err != nil {
		return nil, fmt.Errorf("load session terms: %w", err)
	}
	return detail, nil
}

// FindActiveWithTerms loads the single active session, if any.
func (r *SessionRepository) FindActiveWithTerms(ctx context.Context) (*models.SessionDetail, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, `SELECT id, label, start_date, end_date, is_active, created_at, updated_at FROM sessions WHERE is_active = TRUE LIMIT 1`); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, session.ID)
}

// ListAll returns every session newest first.
func (r *SessionRepository) ListAll(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, `SELECT id, label, start_date, end_date, is_active, created_at, updated_at FROM sessions ORDER BY start_date DESC`); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindTermByID loads a term.
func (r *SessionRepository) FindTermByID(ctx context.Context, id string) (*models.Term, error) {
	var term models.Term
	if err := r.db.GetContext(ctx, &term, `SELECT id, session_id, label, start_date, end_date, is_active, created_at, updated_at FROM terms WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// ListTerms returns the terms of a session ordered by start date.
func (r *SessionRepository) ListTerms(ctx context.Context, sessionID string) ([]models.Term, error) {
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, `SELECT id, session_id, label, start_date, end_date, is_active, created_at, updated_at FROM terms WHERE session_id = $1 ORDER BY start_date ASC`, sessionID); err != nil {
		return nil, fmt.Errorf("list session terms: %w", err)
	}
	return terms, nil
}

// ReconcileTermStatus aligns term flags with the wall clock in one
// transaction: terms past their end date are switched off and terms whose
// window contains now are switched on. Both statements are set-based so the
// sweep is idempotent.
func (r *SessionRepository) ReconcileTermStatus(ctx context.Context, now time.Time) (deactivated, activated int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE terms SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE AND end_date < $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("deactivate ended terms: %w", err)
	}
	deactivated, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `UPDATE terms SET is_active = TRUE, updated_at = $1 WHERE is_active = FALSE AND start_date <= $1 AND end_date >= $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("activate current terms: %w", err)
	}
	activated, _ = res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit reconcile tx: %w", err)
	}
	return deactivated, activated, nil
}
