package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedu/school-api/internal/models"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type mockSchoolRepo struct {
	schools    map[string]*models.School
	names      map[string]string
	classCount map[string]int
	deleted    []string
}

func newMockSchoolRepo() *mockSchoolRepo {
	return &mockSchoolRepo{
		schools:    map[string]*models.School{},
		names:      map[string]string{},
		classCount: map[string]int{},
	}
}

func (m *mockSchoolRepo) Create(ctx context.Context, school *models.School) error {
	school.ID = "school-" + school.Name
	m.schools[school.ID] = school
	m.names[school.Name] = school.ID
	return nil
}

func (m *mockSchoolRepo) FindByID(ctx context.Context, id string) (*models.School, error) {
	if s, ok := m.schools[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSchoolRepo) ExistsByName(ctx context.Context, name string, excludeID string) (bool, error) {
	id, ok := m.names[name]
	return ok && id != excludeID, nil
}

func (m *mockSchoolRepo) ListByUser(ctx context.Context, userID string) ([]models.School, error) {
	var out []models.School
	for _, s := range m.schools {
		out = append(out, *s)
	}
	return out, nil
}

func (m *mockSchoolRepo) Update(ctx context.Context, school *models.School) error {
	m.schools[school.ID] = school
	return nil
}

func (m *mockSchoolRepo) CountClasses(ctx context.Context, id string) (int, error) {
	return m.classCount[id], nil
}

func (m *mockSchoolRepo) Delete(ctx context.Context, id string) error {
	delete(m.schools, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockRoleAssigner struct {
	links []models.SchoolRole
	count int
}

func (m *mockRoleAssigner) AssignSchoolRole(ctx context.Context, link *models.SchoolRole) error {
	m.links = append(m.links, *link)
	return nil
}

func (m *mockRoleAssigner) CountSchoolsForUser(ctx context.Context, userID string) (int, error) {
	return m.count, nil
}

func validSchoolRequest(name string) CreateSchoolRequest {
	return CreateSchoolRequest{
		Name:    name,
		Email:   "office@greenfield.edu",
		Phone:   "+2348000000000",
		Address: "12 College Road",
	}
}

func TestSchoolServiceCreateLinksCreatorAsAdmin(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	school, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.NoError(t, err)
	assert.True(t, school.Active)
	require.Len(t, roles.links, 1)
	assert.Equal(t, "user-1", roles.links[0].UserID)
	assert.Equal(t, school.ID, roles.links[0].SchoolID)
	assert.Equal(t, models.RoleAdmin, roles.links[0].Role)
}

func TestSchoolServiceCreateRejectsDuplicateName(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	_, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "user-2", validSchoolRequest("Greenfield"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSchoolServiceCreateEnforcesCap(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{count: 3}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	_, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.schools)
}

func TestSchoolServiceUpdateAllowsKeepingOwnName(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	school, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.NoError(t, err)

	inactive := false
	updated, err := svc.Update(context.Background(), school.ID, UpdateSchoolRequest{
		Name:    "Greenfield",
		Email:   "office@greenfield.edu",
		Phone:   "+2348000000001",
		Address: "14 College Road",
		Active:  &inactive,
	})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "14 College Road", updated.Address)
}

func TestSchoolServiceDeleteFailsWithLinkedClasses(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	school, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.NoError(t, err)
	repo.classCount[school.ID] = 2

	err = svc.Delete(context.Background(), school.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}

func TestSchoolServiceDeleteWithoutClasses(t *testing.T) {
	repo := newMockSchoolRepo()
	roles := &mockRoleAssigner{}
	svc := NewSchoolService(repo, roles, 3, nil, nil)

	school, err := svc.Create(context.Background(), "user-1", validSchoolRequest("Greenfield"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), school.ID))
	assert.Equal(t, []string{school.ID}, repo.deleted)
}
