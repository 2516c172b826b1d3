package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/internal/repository"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
	"github.com/nimbusedu/school-api/pkg/export"
)

type studentRosterRepository interface {
	FindDetail(ctx context.Context, id string) (*models.StudentDetail, error)
	ListBySchool(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	ListRosterForExport(ctx context.Context, schoolID string, maxRows int) ([]repository.RosterRow, error)
}

type lifecycleRecordReader interface {
	ListTransfers(ctx context.Context, filter models.TransferFilter) ([]models.StudentTransfer, int, error)
	ListPromotionHistory(ctx context.Context, studentID string) ([]models.PromotionHistory, error)
}

type schoolReader interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

// ExportFormat enumerates supported roster export encodings.
type ExportFormat string

// Supported export formats.
const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// ExportResult carries rendered export bytes with their content type.
type ExportResult struct {
	ContentType string
	Filename    string
	Data        []byte
}

// StudentService serves student details, school rosters, transfer records
// and roster exports.
type StudentService struct {
	repo           studentRosterRepository
	records        lifecycleRecordReader
	schools        schoolReader
	csv            *export.CSVExporter
	pdf            *export.PDFExporter
	exportsEnabled bool
	exportMaxRows  int
	logger         *zap.Logger
}

// NewStudentService constructs StudentService.
func NewStudentService(repo studentRosterRepository, records lifecycleRecordReader, schools schoolReader, exportsEnabled bool, exportMaxRows int, logger *zap.Logger) *StudentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exportMaxRows <= 0 {
		exportMaxRows = 5000
	}
	return &StudentService{
		repo:           repo,
		records:        records,
		schools:        schools,
		csv:            export.NewCSVExporter(),
		pdf:            export.NewPDFExporter(),
		exportsEnabled: exportsEnabled,
		exportMaxRows:  exportMaxRows,
		logger:         logger,
	}
}

// GetDetail loads a student with account info and active placements.
func (s *StudentService) GetDetail(ctx context.Context, id string) (*models.StudentDetail, error) {
	detail, err := s.repo.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return detail, nil
}

// ListBySchool returns the school's roster with pagination metadata.
func (s *StudentService) ListBySchool(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	if _, err := s.schools.FindByID(ctx, filter.SchoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	students, total, err := s.repo.ListBySchool(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return students, pagination, nil
}

// ListTransfers returns transfer records touching a school.
func (s *StudentService) ListTransfers(ctx context.Context, filter models.TransferFilter) ([]models.StudentTransfer, *models.Pagination, error) {
	records, total, err := s.records.ListTransfers(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list transfers")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return records, pagination, nil
}

// ListPromotions returns a student's promotion history, newest first.
func (s *StudentService) ListPromotions(ctx context.Context, studentID string) ([]models.PromotionHistory, error) {
	if _, err := s.GetDetail(ctx, studentID); err != nil {
		return nil, err
	}
	history, err := s.records.ListPromotionHistory(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list promotions")
	}
	return history, nil
}

var rosterExportHeaders = []string{"Admission No", "Name", "Gender", "Class", "Section", "Session", "Term"}

// ExportRoster renders a school's full roster as CSV or PDF.
func (s *StudentService) ExportRoster(ctx context.Context, schoolID string, format ExportFormat) (*ExportResult, error) {
	if !s.exportsEnabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exports are disabled")
	}

	school, err := s.schools.FindByID(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	rows, err := s.repo.ListRosterForExport(ctx, schoolID, s.exportMaxRows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	dataset := export.Dataset{Headers: rosterExportHeaders, Rows: make([]map[string]string, 0, len(rows))}
	for _, row := range rows {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Admission No": strconv.Itoa(row.AdmissionNumber),
			"Name":         row.Name,
			"Gender":       row.Gender,
			"Class":        row.ClassLabel,
			"Section":      row.SectionLabel,
			"Session":      row.SessionLabel,
			"Term":         row.TermLabel,
		})
	}

	switch format {
	case ExportCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("roster-%s.csv", schoolID),
			Data:        data,
		}, nil
	case ExportPDF:
		data, err := s.pdf.Render(dataset, fmt.Sprintf("%s roster", school.Name))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("roster-%s.pdf", schoolID),
			Data:        data,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
