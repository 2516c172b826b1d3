package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nimbusedu/school-api/internal/models"
	"github.com/nimbusedu/school-api/internal/service"
	appErrors "github.com/nimbusedu/school-api/pkg/errors"
	"github.com/nimbusedu/school-api/pkg/response"
)

// StudentHandler exposes the student lifecycle and roster endpoints.
type StudentHandler struct {
	lifecycle *service.LifecycleService
	students  *service.StudentService
	metrics   *service.MetricsService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(lifecycle *service.LifecycleService, students *service.StudentService, metrics *service.MetricsService) *StudentHandler {
	return &StudentHandler{lifecycle: lifecycle, students: students, metrics: metrics}
}

// Enroll godoc
// @Summary Enroll a student into the active session
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /students/enroll [post]
func (h *StudentHandler) Enroll(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := h.lifecycle.Enroll(c.Request.Context(), claims.UserID, req)
	h.metrics.RecordLifecycleOperation("enroll", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Promote godoc
// @Summary Promote a batch of students to a new class
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.PromoteRequest true "Promotion payload"
// @Success 200 {object} response.Envelope
// @Router /students/promote [put]
func (h *StudentHandler) Promote(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	err := h.lifecycle.Promote(c.Request.Context(), claims.UserID, req)
	h.metrics.RecordLifecycleOperation("promote", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"promoted": len(req.StudentIDs)}, nil)
}

// Transfer godoc
// @Summary Transfer a batch of students to another school
// @Tags Students
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.TransferRequest true "Transfer payload"
// @Success 200 {object} response.Envelope
// @Router /students/transfer [put]
func (h *StudentHandler) Transfer(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	err := h.lifecycle.Transfer(c.Request.Context(), claims.UserID, req)
	h.metrics.RecordLifecycleOperation("transfer", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"transferred": len(req.StudentIDs)}, nil)
}

// Get godoc
// @Summary Get a student with active placements
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	detail, err := h.students.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// ListPromotions godoc
// @Summary List a student's promotion history
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/promotions [get]
func (h *StudentHandler) ListPromotions(c *gin.Context) {
	history, err := h.students.ListPromotions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// ListBySchool godoc
// @Summary List a school's enrolled students
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param classId query string false "Filter by class"
// @Param name query string false "Filter by name"
// @Param admissionNumber query int false "Filter by admission number"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "Sort column"
// @Param order query string false "Sort order"
// @Success 200 {object} response.Envelope
// @Router /students/school/{schoolId} [get]
func (h *StudentHandler) ListBySchool(c *gin.Context) {
	filter := models.StudentFilter{
		SchoolID: c.Param("schoolId"),
		ClassID:  c.Query("classId"),
		Name:     c.Query("name"),
	}
	if raw := c.Query("admissionNumber"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.AdmissionNumber = &n
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	students, pagination, err := h.students.ListBySchool(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// ListTransfers godoc
// @Summary List transfer records touching a school
// @Tags Students
// @Produce json
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param fromSchoolId query string false "Filter by source school"
// @Param toSchoolId query string false "Filter by destination school"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students/school/{schoolId}/transfers [get]
func (h *StudentHandler) ListTransfers(c *gin.Context) {
	filter := models.TransferFilter{
		SchoolID:     c.Param("schoolId"),
		FromSchoolID: c.Query("fromSchoolId"),
		ToSchoolID:   c.Query("toSchoolId"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	records, pagination, err := h.students.ListTransfers(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// ExportRoster godoc
// @Summary Export a school's roster as CSV or PDF
// @Tags Students
// @Produce octet-stream
// @Security BearerAuth
// @Param schoolId path string true "School ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /students/school/{schoolId}/export [get]
func (h *StudentHandler) ExportRoster(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	result, err := h.students.ExportRoster(c.Request.Context(), c.Param("schoolId"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}
