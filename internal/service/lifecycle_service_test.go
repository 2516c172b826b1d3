package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/internal/repository"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
)

type mockLifecycleRepo struct {
	enrolled      map[string][]models.StudentEnrollment
	latestByClass map[string]*models.EnrollmentWithSession
	created       *models.StudentEnrollment
	promotions    []repository.PromotionPlan
	transfers     []repository.TransferPlan
}

func (m *mockLifecycleRepo) hasOpenRow(studentID string) bool {
	for _, row := range m.enrolled[studentID] {
		if row.Status == models.EnrollmentStatusEnrolled {
			return true
		}
	}
	return false
}

func (m *mockLifecycleRepo) FindCurrentEnrolled(ctx context.Context, studentID string) ([]models.StudentEnrollment, error) {
	return m.enrolled[studentID], nil
}

func (m *mockLifecycleRepo) FindLatestByStudentAndClass(ctx context.Context, studentID, classID string) (*models.EnrollmentWithSession, error) {
	if e, ok := m.latestByClass[studentID+"/"+classID]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockLifecycleRepo) ListEnrolledByStudents(ctx context.Context, studentIDs []string) ([]models.StudentEnrollment, error) {
	var out []models.StudentEnrollment
	for _, id := range studentIDs {
		out = append(out, m.enrolled[id]...)
	}
	return out, nil
}

func (m *mockLifecycleRepo) HasOpenEnrollment(ctx context.Context, studentID string) (bool, error) {
	return m.hasOpenRow(studentID), nil
}

func (m *mockLifecycleRepo) CreateEnrollment(ctx context.Context, enrollment *models.StudentEnrollment) error {
	if m.hasOpenRow(enrollment.StudentID) {
		return repository.ErrDuplicateEnrollment
	}
	enrollment.ID = "new-enrollment"
	m.created = enrollment
	return nil
}

func (m *mockLifecycleRepo) PromoteStudents(ctx context.Context, plans []repository.PromotionPlan, promotedBy string) error {
	m.promotions = append(m.promotions, plans...)
	return nil
}

func (m *mockLifecycleRepo) TransferStudents(ctx context.Context, plans []repository.TransferPlan, transferDate time.Time) error {
	m.transfers = append(m.transfers, plans...)
	return nil
}

type mockActiveSessionResolver struct {
	detail *models.SessionDetail
}

func (m *mockActiveSessionResolver) GetActive(ctx context.Context) (*models.SessionDetail, error) {
	if m.detail == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active session")
	}
	return m.detail, nil
}

type mockStudentProfiles struct {
	students map[string]*models.Student
}

func (m *mockStudentProfiles) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudentProfiles) FindByIDs(ctx context.Context, ids []string) ([]models.Student, error) {
	var out []models.Student
	for _, id := range ids {
		if s, ok := m.students[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

type mockClassDetails struct {
	classes map[string]*models.ClassDetail
	schools map[string]string
}

func (m *mockClassDetails) FindWithSections(ctx context.Context, id string) (*models.ClassDetail, error) {
	if c, ok := m.classes[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockClassDetails) FindSchoolIDForClass(ctx context.Context, classID string) (string, error) {
	if s, ok := m.schools[classID]; ok {
		return s, nil
	}
	return "", sql.ErrNoRows
}

type mockSchoolVerifier struct {
	active map[string]bool
}

func (m *mockSchoolVerifier) FindActiveByIDs(ctx context.Context, ids []string) ([]models.School, error) {
	var out []models.School
	for _, id := range ids {
		if m.active[id] {
			out = append(out, models.School{ID: id, Active: true})
		}
	}
	return out, nil
}

func activeSession() *models.SessionDetail {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return &models.SessionDetail{
		Session: models.Session{ID: "sess-2", Label: "2026/2027", StartDate: start, EndDate: start.AddDate(0, 10, 0), IsActive: true},
		Terms: []models.Term{
			{ID: "term-1", SessionID: "sess-2", Label: "First Term", IsActive: true},
		},
	}
}

func classWithSection(classID, sectionID string, schoolIDs ...string) *models.ClassDetail {
	return &models.ClassDetail{
		Class:     models.Class{ID: classID, Label: classID},
		Sections:  []models.Section{{ID: sectionID, ClassID: classID, Label: "A"}},
		SchoolIDs: schoolIDs,
	}
}

func newLifecycleFixture() (*mockLifecycleRepo, *mockActiveSessionResolver, *mockStudentProfiles, *mockClassDetails, *mockSchoolVerifier) {
	repo := &mockLifecycleRepo{
		enrolled:      map[string][]models.StudentEnrollment{},
		latestByClass: map[string]*models.EnrollmentWithSession{},
	}
	sessions := &mockActiveSessionResolver{detail: activeSession()}
	students := &mockStudentProfiles{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", Name: "Ada", Active: true},
		"stu-2": {ID: "stu-2", Name: "Femi", Active: true},
	}}
	classes := &mockClassDetails{
		classes: map[string]*models.ClassDetail{
			"class-1": classWithSection("class-1", "sec-1", "school-1"),
			"class-2": classWithSection("class-2", "sec-2", "school-1"),
			"class-9": classWithSection("class-9", "sec-9", "school-2"),
		},
		schools: map[string]string{"class-1": "school-1", "class-2": "school-1", "class-9": "school-2"},
	}
	schools := &mockSchoolVerifier{active: map[string]bool{"school-1": true, "school-2": true}}
	return repo, sessions, students, classes, schools
}

func TestLifecycleServiceEnroll(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	enrollment, err := svc.Enroll(context.Background(), "admin-1", EnrollRequest{
		StudentID: "stu-1", ClassID: "class-1", SectionID: "sec-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-2", enrollment.SessionID)
	assert.Equal(t, "term-1", enrollment.TermID)
	require.NotNil(t, repo.created)
}

func TestLifecycleServiceEnrollDuplicateConflict(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-1", StudentID: "stu-1", ClassID: "class-1", SessionID: "sess-2", Status: models.EnrollmentStatusEnrolled},
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollRequest{
		StudentID: "stu-1", ClassID: "class-1", SectionID: "sec-1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestLifecycleServiceEnrollRejectsOpenRowFromEarlierSession(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	// The open row predates the active session; it still blocks a new
	// enrollment until it is promoted or transferred.
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-old", StudentID: "stu-1", ClassID: "class-1", SessionID: "sess-1", Status: models.EnrollmentStatusEnrolled},
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollRequest{
		StudentID: "stu-1", ClassID: "class-2", SectionID: "sec-2",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestLifecycleServiceEnrollNoActiveSession(t *testing.T) {
	repo, _, students, classes, schools := newLifecycleFixture()
	sessions := &mockActiveSessionResolver{}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollRequest{
		StudentID: "stu-1", ClassID: "class-1", SectionID: "sec-1",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestLifecycleServiceEnrollSectionMismatch(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	_, err := svc.Enroll(context.Background(), "admin-1", EnrollRequest{
		StudentID: "stu-1", ClassID: "class-1", SectionID: "sec-9",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLifecycleServicePromote(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	oldStart := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"stu-1", "stu-2"} {
		repo.enrolled[id] = []models.StudentEnrollment{
			{ID: "enr-" + id, StudentID: id, ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
		}
		repo.latestByClass[id+"/class-1"] = &models.EnrollmentWithSession{
			StudentEnrollment: models.StudentEnrollment{ID: "enr-" + id, StudentID: id, ClassID: "class-1"},
			SessionStartDate:  oldStart,
		}
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Promote(context.Background(), "admin-1", PromoteRequest{
		StudentIDs:  []string{"stu-1", "stu-2"},
		FromClassID: "class-1",
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
	})
	require.NoError(t, err)
	require.Len(t, repo.promotions, 2)
	assert.Equal(t, "class-2", repo.promotions[0].ToClassID)
}

func TestLifecycleServicePromoteRejectsDisjointSchools(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	// class-1 is linked to school-1, class-9 to school-2 only.
	err := svc.Promote(context.Background(), "admin-1", PromoteRequest{
		StudentIDs:  []string{"stu-1"},
		FromClassID: "class-1",
		ToClassID:   "class-9",
		ToSectionID: "sec-9",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.promotions)
}

func TestLifecycleServicePromoteFailsWholeBatchWhenOneStudentInvalid(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	oldStart := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	// Only stu-1 is enrolled in the source class.
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-stu-1", StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
	}
	repo.latestByClass["stu-1/class-1"] = &models.EnrollmentWithSession{
		StudentEnrollment: models.StudentEnrollment{ID: "enr-stu-1", StudentID: "stu-1", ClassID: "class-1"},
		SessionStartDate:  oldStart,
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Promote(context.Background(), "admin-1", PromoteRequest{
		StudentIDs:  []string{"stu-1", "stu-2"},
		FromClassID: "class-1",
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.promotions)
}

func TestLifecycleServicePromoteRejectsSameSessionEnrollment(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	currentStart := activeSession().StartDate
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-stu-1", StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
	}
	repo.latestByClass["stu-1/class-1"] = &models.EnrollmentWithSession{
		StudentEnrollment: models.StudentEnrollment{ID: "enr-stu-1", StudentID: "stu-1", ClassID: "class-1"},
		SessionStartDate:  currentStart,
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Promote(context.Background(), "admin-1", PromoteRequest{
		StudentIDs:  []string{"stu-1"},
		FromClassID: "class-1",
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.promotions)
}

func TestLifecycleServiceTransferDerivesSourceSchool(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-1", StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Transfer(context.Background(), "admin-1", TransferRequest{
		StudentIDs:  []string{"stu-1"},
		ToSchoolID:  "school-2",
		ToClassID:   "class-9",
		ToSectionID: "sec-9",
	})
	require.NoError(t, err)
	require.Len(t, repo.transfers, 1)
	assert.Equal(t, "school-1", repo.transfers[0].FromSchoolID)
	assert.Equal(t, []string{"enr-1"}, repo.transfers[0].FromRowIDs)
}

func TestLifecycleServiceTransferRejectsSameSchool(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-1", StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
	}
	// Destination class lives in the student's current school.
	classes.classes["class-2"] = classWithSection("class-2", "sec-2", "school-1")
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Transfer(context.Background(), "admin-1", TransferRequest{
		StudentIDs:  []string{"stu-1"},
		ToSchoolID:  "school-1",
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.transfers)
}

func TestLifecycleServiceTransferRejectsUnlinkedClass(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	repo.enrolled["stu-1"] = []models.StudentEnrollment{
		{ID: "enr-1", StudentID: "stu-1", ClassID: "class-1", Status: models.EnrollmentStatusEnrolled},
	}
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	// class-2 is linked to school-1, not school-2.
	err := svc.Transfer(context.Background(), "admin-1", TransferRequest{
		StudentIDs:  []string{"stu-1"},
		ToSchoolID:  "school-2",
		ToClassID:   "class-2",
		ToSectionID: "sec-2",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestLifecycleServiceTransferFailsWhenStudentHasNoOpenEnrollment(t *testing.T) {
	repo, sessions, students, classes, schools := newLifecycleFixture()
	svc := NewLifecycleService(repo, sessions, students, classes, schools, nil, nil, nil)

	err := svc.Transfer(context.Background(), "admin-1", TransferRequest{
		StudentIDs:  []string{"stu-1"},
		ToSchoolID:  "school-2",
		ToClassID:   "class-9",
		ToSectionID: "sec-9",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.transfers)
}
