package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

// ErrorResponse is the wire format for every error.
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps data responses that carry no natural top level.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// BaseHandler carries the pieces every handler needs.
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// LogRequest logs an incoming request with the request-scoped logger.
func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.FromContext(c, h.logger).Info(msg, args...)
}

// parseIDParam reads a uint path parameter; responds 400 and returns 0 when
// it is missing or malformed.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: raw,
		})
		return 0
	}
	return uint(id)
}

// currentUserID returns the authenticated user id; responds 401 otherwise.
func (h *BaseHandler) currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	id, ok := userID.(string)
	if !ok || id == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return "", false
	}
	return id, true
}

// handleServiceError maps service errors to HTTP statuses.
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrs,
		})
		return
	}

	if services.IsPermissionError(err) {
		c.JSON(http.StatusForbidden, ErrorResponse{Message: err.Error()})
		return
	}

	if services.IsBusinessRuleError(err) {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})
		return
	}

	switch {
	case errors.Is(err, services.ErrPaperNotFound),
		errors.Is(err, services.ErrRegistrationNotFound),
		errors.Is(err, services.ErrAnswerNotFound),
		errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Message: err.Error()})

	case errors.Is(err, services.ErrAlreadySubmitted),
		errors.Is(err, services.ErrSubmitInFlight),
		errors.Is(err, services.ErrDuplicateRegistration),
		errors.Is(err, services.ErrDuplicateTitle),
		errors.Is(err, services.ErrActiveSessionExists),
		errors.Is(err, services.ErrPaperInUse):
		c.JSON(http.StatusConflict, ErrorResponse{Message: err.Error()})

	case errors.Is(err, services.ErrSessionExpired):
		c.JSON(http.StatusGone, ErrorResponse{Message: err.Error()})

	case errors.Is(err, services.ErrInvalidEnrollmentKey),
		errors.Is(err, services.ErrKeyNotVerified):
		c.JSON(http.StatusForbidden, ErrorResponse{Message: err.Error()})

	case errors.Is(err, services.ErrSessionNotActive),
		errors.Is(err, services.ErrOutsideStartWindow),
		errors.Is(err, services.ErrPaperNotDraft),
		errors.Is(err, services.ErrPaperNotPublished),
		errors.Is(err, services.ErrQuestionNotInPaper),
		errors.Is(err, services.ErrMarksOutOfRange):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Message: err.Error()})

	default:
		utils.FromContext(c, h.logger).Error("Unhandled service error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
