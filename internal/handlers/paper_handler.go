package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

type PaperHandler struct {
	BaseHandler
	paperService services.PaperService
	validator    *validator.Validator
}

func NewPaperHandler(paperService services.PaperService, v *validator.Validator, logger utils.Logger) *PaperHandler {
	return &PaperHandler{
		BaseHandler:  NewBaseHandler(logger),
		paperService: paperService,
		validator:    v,
	}
}

// CreatePaper creates a new exam paper in draft state.
func (h *PaperHandler) CreatePaper(c *gin.Context) {
	h.LogRequest(c, "Creating exam paper")

	var req validator.PaperCreateRequest
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

	paper, err := h.paperService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, paper)
}

// GetPaper returns a paper without its question tree.
func (h *PaperHandler) GetPaper(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	paper, err := h.paperService.GetByID(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, paper)
}

// GetPaperStructure returns a paper with parts, questions and options.
// The answer key is visible here; this route is staff-only.
func (h *PaperHandler) GetPaperStructure(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	paper, err := h.paperService.GetByIDWithStructure(c.Request.Context(), id, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, paper)
}

// UpdatePaper updates draft paper metadata.
func (h *PaperHandler) UpdatePaper(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req validator.PaperUpdateRequest
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

	paper, err := h.paperService.Update(c.Request.Context(), id, &req, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, paper)
}

// ReplacePaperParts swaps the whole part and question tree of a draft paper.
func (h *PaperHandler) ReplacePaperParts(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var parts []validator.PaperPartRequest
	if err := c.ShouldBindJSON(&parts); err != nil {
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

	paper, err := h.paperService.ReplaceParts(c.Request.Context(), id, parts, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, paper)
}

// DeletePaper removes a paper that has no registrations.
func (h *PaperHandler) DeletePaper(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.paperService.Delete(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPapers lists papers with filters and pagination.
func (h *PaperHandler) ListPapers(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	filters := repositories.PaperFilters{
		Limit:     parseQueryInt(c, "limit", 20),
		Offset:    parseQueryInt(c, "offset", 0),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if status := c.Query("status"); status != "" {
		s := models.PaperStatus(status)
		filters.Status = &s
	}
	if mode := c.Query("delivery_mode"); mode != "" {
		m := models.DeliveryMode(mode)
		filters.DeliveryMode = &m
	}
	if creator := c.Query("created_by"); creator != "" {
		filters.CreatedBy = &creator
	}

	papers, err := h.paperService.List(c.Request.Context(), filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, papers)
}

// PublishPaper makes a draft paper available for registration.
func (h *PaperHandler) PublishPaper(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.paperService.Publish(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(models.PaperPublished)})
}

// ArchivePaper retires a paper.
func (h *PaperHandler) ArchivePaper(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.paperService.Archive(c.Request.Context(), id, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(models.PaperArchived)})
}

func parseQueryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
