package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

// SessionHandler exposes the live exam session surface. Every route
// operates on the caller's own registration; the timer and submission
// state live server-side.
type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	validator      *validator.Validator
}

func NewSessionHandler(sessionService services.SessionService, v *validator.Validator, logger utils.Logger) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		validator:      v,
	}
}

// StartSession begins the timed session for a registration. Starting an
// already running session behaves like a resume.
func (h *SessionHandler) StartSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Starting exam session", "registration_id", id)

	session, err := h.sessionService.Start(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// ResumeSession rebuilds the session view after a reconnect.
func (h *SessionHandler) ResumeSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Resume(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetSessionStatus returns the server-computed countdown and state.
func (h *SessionHandler) GetSessionStatus(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	status, err := h.sessionService.GetStatus(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// Heartbeat records liveness and returns the authoritative remaining time.
func (h *SessionHandler) Heartbeat(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	beat, err := h.sessionService.Heartbeat(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, beat)
}

// SaveAnswer stores one answer draft. The latest edit wins regardless of
// request arrival order.
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	var req services.SaveAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	saved, err := h.sessionService.SaveAnswer(c.Request.Context(), id, studentID, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

// ClearAnswer removes the draft for one question.
func (h *SessionHandler) ClearAnswer(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	questionID := h.parseIDParam(c, "question_id")
	if questionID == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if err := h.sessionService.ClearAnswer(c.Request.Context(), id, studentID, questionID); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SubmitSession finalizes the exam. A second submit returns a conflict,
// never a second submission.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	studentID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	h.LogRequest(c, "Submitting exam session", "registration_id", id)

	result, err := h.sessionService.Submit(c.Request.Context(), id, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
