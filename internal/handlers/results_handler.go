package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

// ResultsHandler covers marking and result reporting for staff.
type ResultsHandler struct {
	BaseHandler
	markingService services.MarkingService
	resultsService services.ResultsService
	validator      *validator.Validator
}

func NewResultsHandler(markingService services.MarkingService, resultsService services.ResultsService, v *validator.Validator, logger utils.Logger) *ResultsHandler {
	return &ResultsHandler{
		BaseHandler:    NewBaseHandler(logger),
		markingService: markingService,
		resultsService: resultsService,
		validator:      v,
	}
}

// GetPendingMarking lists answers awaiting a manual mark for a paper.
func (h *ResultsHandler) GetPendingMarking(c *gin.Context) {
	paperID := h.parseIDParam(c, "id")
	if paperID == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	filters := repositories.AnswerFilters{
		Limit:  parseQueryInt(c, "limit", 50),
		Offset: parseQueryInt(c, "offset", 0),
	}
	if questionID := uint(parseQueryInt(c, "question_id", 0)); questionID != 0 {
		filters.QuestionID = &questionID
	}

	pending, err := h.markingService.GetPendingMarking(c.Request.Context(), paperID, filters, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pending)
}

// ApplyMarks records a batch of manual marks.
func (h *ResultsHandler) ApplyMarks(c *gin.Context) {
	paperID := h.parseIDParam(c, "id")
	if paperID == 0 {
		return
	}

	var reqs []services.MarkAnswerRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "No marks provided",
		})
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Applying manual marks", "paper_id", paperID, "count", len(reqs))

	if err := h.markingService.ApplyMarks(c.Request.Context(), paperID, reqs, userID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": len(reqs)})
}

// GetMarkingStats returns marking progress counters for a paper.
func (h *ResultsHandler) GetMarkingStats(c *gin.Context) {
	paperID := h.parseIDParam(c, "id")
	if paperID == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	stats, err := h.markingService.GetMarkingStats(c.Request.Context(), paperID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetPaperResults returns the result sheet for a paper.
func (h *ResultsHandler) GetPaperResults(c *gin.Context) {
	paperID := h.parseIDParam(c, "id")
	if paperID == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	results, err := h.resultsService.GetPaperResults(c.Request.Context(), paperID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// ExportPaperResults streams the result sheet as an xlsx workbook.
func (h *ResultsHandler) ExportPaperResults(c *gin.Context) {
	paperID := h.parseIDParam(c, "id")
	if paperID == 0 {
		return
	}

	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Exporting paper results", "paper_id", paperID)

	data, filename, err := h.resultsService.ExportPaperResults(c.Request.Context(), paperID, userID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
