package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedu/school-api/internal/models"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type mockSessionRepo struct {
	sessions    map[string]*models.SessionDetail
	activeID    string
	created     *models.SessionDetail
	deleted     []string
	reconciled  int
	deactivated int64
	activated   int64
}

func (m *mockSessionRepo) CreateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (*models.SessionDetail, error) {
	if session.ID == "" {
		session.ID = fmt.Sprintf("new-session-%d", len(m.sessions)+1)
	}
	detail := &models.SessionDetail{Session: *session, Terms: terms}
	if m.sessions == nil {
		m.sessions = make(map[string]*models.SessionDetail)
	}
	if session.IsActive {
		for _, d := range m.sessions {
			d.IsActive = false
		}
		m.activeID = session.ID
	}
	m.sessions[session.ID] = detail
	m.created = detail
	return detail, nil
}

func (m *mockSessionRepo) UpdateWithTerms(ctx context.Context, session *models.Session, terms []models.Term) (*models.SessionDetail, error) {
	detail := &models.SessionDetail{Session: *session, Terms: terms}
	m.sessions[session.ID] = detail
	if session.IsActive {
		m.activeID = session.ID
	}
	return detail, nil
}

func (m *mockSessionRepo) DeleteWithTerms(ctx context.Context, id string) error {
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.SessionDetail, error) {
	if d, ok := m.sessions[id]; ok {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindActiveWithTerms(ctx context.Context) (*models.SessionDetail, error) {
	if d, ok := m.sessions[m.activeID]; ok && d.IsActive {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindTermByID(ctx context.Context, id string) (*models.Term, error) {
	for _, d := range m.sessions {
		for i := range d.Terms {
			if d.Terms[i].ID == id {
				return &d.Terms[i], nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) ListAll(ctx context.Context) ([]models.Session, error) {
	var out []models.Session
	for _, d := range m.sessions {
		out = append(out, d.Session)
	}
	return out, nil
}

func (m *mockSessionRepo) ListTerms(ctx context.Context, sessionID string) ([]models.Term, error) {
	if d, ok := m.sessions[sessionID]; ok {
		return d.Terms, nil
	}
	return nil, nil
}

func (m *mockSessionRepo) ReconcileTermStatus(ctx context.Context, now time.Time) (int64, int64, error) {
	m.reconciled++
	return m.deactivated, m.activated, nil
}

type mockSessionCache struct {
	stored       *models.SessionDetail
	invalidated  int
	hits, misses int
}

func (m *mockSessionCache) GetActive(ctx context.Context) (*models.SessionDetail, bool) {
	if m.stored != nil {
		m.hits++
		return m.stored, true
	}
	m.misses++
	return nil, false
}

func (m *mockSessionCache) SetActive(ctx context.Context, detail *models.SessionDetail) {
	m.stored = detail
}

func (m *mockSessionCache) Invalidate(ctx context.Context) {
	m.stored = nil
	m.invalidated++
}

func sessionWindow() (time.Time, time.Time) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 10, 0)
}

func TestSessionServiceCreateRejectsTermOutsideWindow(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	start, end := sessionWindow()
	_, err := svc.Create(context.Background(), "admin-1", CreateSessionRequest{
		Label:     "2026/2027",
		StartDate: start,
		EndDate:   end,
		Terms: []TermInput{
			{Label: "First Term", StartDate: start.AddDate(0, -1, 0), EndDate: start.AddDate(0, 3, 0)},
		},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Nil(t, repo.created)
}

func TestSessionServiceCreateRejectsInvertedDates(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	start, end := sessionWindow()
	_, err := svc.Create(context.Background(), "admin-1", CreateSessionRequest{
		Label:     "2026/2027",
		StartDate: end,
		EndDate:   start,
		Terms: []TermInput{
			{Label: "First Term", StartDate: start, EndDate: end},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceCreateInvalidatesCache(t *testing.T) {
	repo := &mockSessionRepo{}
	cache := &mockSessionCache{stored: &models.SessionDetail{}}
	svc := NewSessionService(repo, cache, nil, nil, nil, nil)

	start, end := sessionWindow()
	detail, err := svc.Create(context.Background(), "admin-1", CreateSessionRequest{
		Label:     "2026/2027",
		StartDate: start,
		EndDate:   end,
		IsActive:  true,
		Terms: []TermInput{
			{Label: "First Term", StartDate: start, EndDate: start.AddDate(0, 3, 0)},
		},
	})
	require.NoError(t, err)
	assert.True(t, detail.IsActive)
	assert.Equal(t, 1, cache.invalidated)
}

func TestSessionServiceSingleActiveInvariant(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	start, end := sessionWindow()
	first, err := svc.Create(context.Background(), "admin-1", CreateSessionRequest{
		Label: "2025/2026", StartDate: start.AddDate(-1, 0, 0), EndDate: end.AddDate(-1, 0, 0), IsActive: true,
		Terms: []TermInput{{Label: "First Term", StartDate: start.AddDate(-1, 0, 0), EndDate: start.AddDate(-1, 3, 0)}},
	})
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), "admin-1", CreateSessionRequest{
		Label: "2026/2027", StartDate: start, EndDate: end, IsActive: true,
		Terms: []TermInput{{Label: "First Term", StartDate: start, EndDate: start.AddDate(0, 3, 0)}},
	})
	require.NoError(t, err)

	active := 0
	for _, d := range repo.sessions {
		if d.IsActive {
			active++
			assert.Equal(t, second.ID, d.ID)
		}
	}
	assert.Equal(t, 1, active)
	assert.False(t, repo.sessions[first.ID].IsActive)
}

func TestSessionServiceUpdateActiveFlagOnly(t *testing.T) {
	start, end := sessionWindow()
	cache := &mockSessionCache{stored: &models.SessionDetail{}}
	repo := &mockSessionRepo{sessions: map[string]*models.SessionDetail{
		"sess-1": {Session: models.Session{ID: "sess-1", Label: "2026/2027", StartDate: start, EndDate: end}},
	}}
	svc := NewSessionService(repo, cache, nil, nil, nil, nil)

	active := true
	detail, err := svc.Update(context.Background(), "admin-1", "sess-1", UpdateSessionRequest{IsActive: &active})
	require.NoError(t, err)
	assert.True(t, detail.IsActive)
	assert.Equal(t, "2026/2027", detail.Label)
	assert.Equal(t, start, detail.StartDate)
	assert.Equal(t, end, detail.EndDate)
	assert.Equal(t, 1, cache.invalidated)
}

func TestSessionServiceUpdateValidatesMergedWindow(t *testing.T) {
	start, end := sessionWindow()
	repo := &mockSessionRepo{sessions: map[string]*models.SessionDetail{
		"sess-1": {Session: models.Session{ID: "sess-1", Label: "2026/2027", StartDate: start, EndDate: end}},
	}}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	// Moving only the end date before the stored start must fail.
	badEnd := start.AddDate(0, -1, 0)
	_, err := svc.Update(context.Background(), "admin-1", "sess-1", UpdateSessionRequest{EndDate: &badEnd})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Equal(t, end, repo.sessions["sess-1"].EndDate)
}

func TestSessionServiceDeleteActiveFailsPrecondition(t *testing.T) {
	repo := &mockSessionRepo{sessions: map[string]*models.SessionDetail{
		"sess-1": {Session: models.Session{ID: "sess-1", IsActive: true}},
	}, activeID: "sess-1"}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	err := svc.Delete(context.Background(), "admin-1", "sess-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}

func TestSessionServiceDeleteInactive(t *testing.T) {
	cache := &mockSessionCache{}
	repo := &mockSessionRepo{sessions: map[string]*models.SessionDetail{
		"sess-1": {Session: models.Session{ID: "sess-1"}},
	}}
	svc := NewSessionService(repo, cache, nil, nil, nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "admin-1", "sess-1"))
	assert.Equal(t, []string{"sess-1"}, repo.deleted)
	assert.Equal(t, 1, cache.invalidated)
}

func TestSessionServiceGetActiveReadThrough(t *testing.T) {
	cache := &mockSessionCache{}
	repo := &mockSessionRepo{sessions: map[string]*models.SessionDetail{
		"sess-1": {Session: models.Session{ID: "sess-1", IsActive: true}},
	}, activeID: "sess-1"}
	svc := NewSessionService(repo, cache, nil, nil, nil, nil)

	detail, err := svc.GetActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", detail.ID)
	assert.Equal(t, 1, cache.misses)

	// Second read is served from the cache.
	_, err = svc.GetActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
}

func TestSessionServiceGetActiveNoneFound(t *testing.T) {
	repo := &mockSessionRepo{}
	svc := NewSessionService(repo, nil, nil, nil, nil, nil)

	_, err := svc.GetActive(context.Background())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSessionServiceReconcileInvalidatesCacheOnFlips(t *testing.T) {
	cache := &mockSessionCache{stored: &models.SessionDetail{}}
	repo := &mockSessionRepo{deactivated: 1}
	svc := NewSessionService(repo, cache, nil, nil, nil, nil)

	require.NoError(t, svc.ReconcileTermStatus(context.Background()))
	assert.Equal(t, 1, repo.reconciled)
	assert.Equal(t, 1, cache.invalidated)

	// No flips, no invalidation.
	repo.deactivated = 0
	require.NoError(t, svc.ReconcileTermStatus(context.Background()))
	assert.Equal(t, 1, cache.invalidated)
}
