package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

type RegistrationHandler struct {
	BaseHandler
	registrationService services.RegistrationService
	validator           *validator.Validator
}

func NewRegistrationHandler(registrationService services.RegistrationService, v *validator.Validator, logger utils.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		BaseHandler:         NewBaseHandler(logger),
		registrationService: registrationService,
		validator:           v,
	}
}

// CreateRegistration enrolls a student for a published paper.
func (h *RegistrationHandler) CreateRegistration(c *gin.Context) {
	var req validator.RegistrationCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Creating registration", "paper_id", req.PaperID, "student_id", req.StudentID)

	registration, err := h.registrationService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, registration)
}

// GetRegistration returns one registration.
func (h *RegistrationHandler) GetRegistration(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	registration, err := h.registrationService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, registration)
}

// GetRegistrationStatus returns the derived exam status for a
// registration, including whether the session may be started now.
func (h *RegistrationHandler) GetRegistrationStatus(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	status, err := h.registrationService.GetStatus(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListRegistrations lists registrations, filterable by paper and status.
func (h *RegistrationHandler) ListRegistrations(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	filters := buildRegistrationFilters(c)

	registrations, err := h.registrationService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, registrations)
}

// ListMyRegistrations lists the caller's own registrations.
func (h *RegistrationHandler) ListMyRegistrations(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	filters := buildRegistrationFilters(c)

	registrations, err := h.registrationService.GetByStudent(c.Request.Context(), userID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, registrations)
}

// VerifyKey checks the enrollment key ahead of a session start.
func (h *RegistrationHandler) VerifyKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req validator.VerifyKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.registrationService.VerifyKey(c.Request.Context(), id, userID, req.Key); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verified": true})
}

// CancelRegistration cancels a registration that has not started.
func (h *RegistrationHandler) CancelRegistration(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.registrationService.Cancel(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func buildRegistrationFilters(c *gin.Context) repositories.RegistrationFilters {
	filters := repositories.RegistrationFilters{
		Limit:     parseQueryInt(c, "limit", 20),
		Offset:    parseQueryInt(c, "offset", 0),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if paperID := uint(parseQueryInt(c, "paper_id", 0)); paperID != 0 {
		filters.PaperID = &paperID
	}
	if status := c.Query("status"); status != "" {
		s := models.RegistrationStatus(status)
		filters.Status = &s
	}
	if studentID := c.Query("student_id"); studentID != "" {
		filters.StudentID = &studentID
	}
	return filters
}
