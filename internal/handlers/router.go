package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-exams/exam-service/internal/config"
	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/services"
	"github.com/campus-exams/exam-service/internal/utils"
	"github.com/campus-exams/exam-service/internal/validator"
)

// HandlerManager aggregates all HTTP handlers and the auth middleware.
type HandlerManager struct {
	serviceManager services.ServiceManager
	logger         utils.Logger

	paperHandler        *PaperHandler
	sessionHandler      *SessionHandler
	registrationHandler *RegistrationHandler
	resultsHandler      *ResultsHandler

	authMiddleware *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	v *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	return &HandlerManager{
		serviceManager:      serviceManager,
		logger:              logger,
		paperHandler:        NewPaperHandler(serviceManager.Paper(), v, logger),
		sessionHandler:      NewSessionHandler(serviceManager.Session(), v, logger),
		registrationHandler: NewRegistrationHandler(serviceManager.Registration(), v, logger),
		resultsHandler:      NewResultsHandler(serviceManager.Marking(), serviceManager.Results(), v, logger),
		authMiddleware:      NewCasdoorAuthMiddleware(casdoorConfig, userRepo),
	}
}

// SetupRoutes registers all API routes.
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())

	staffOnly := hm.authMiddleware.RequireRoleMiddleware(models.RoleFaculty, models.RoleCoordinator)

	papers := v1.Group("/papers")
	{
		papers.POST("", staffOnly, hm.paperHandler.CreatePaper)
		papers.GET("", hm.paperHandler.ListPapers)
		papers.GET("/:id", hm.paperHandler.GetPaper)
		papers.GET("/:id/structure", staffOnly, hm.paperHandler.GetPaperStructure)
		papers.PUT("/:id", staffOnly, hm.paperHandler.UpdatePaper)
		papers.PUT("/:id/parts", staffOnly, hm.paperHandler.ReplacePaperParts)
		papers.DELETE("/:id", staffOnly, hm.paperHandler.DeletePaper)
		papers.POST("/:id/publish", staffOnly, hm.paperHandler.PublishPaper)
		papers.POST("/:id/archive", staffOnly, hm.paperHandler.ArchivePaper)

		papers.GET("/:id/marking", staffOnly, hm.resultsHandler.GetPendingMarking)
		papers.POST("/:id/marking", staffOnly, hm.resultsHandler.ApplyMarks)
		papers.GET("/:id/marking/stats", staffOnly, hm.resultsHandler.GetMarkingStats)
		papers.GET("/:id/results", staffOnly, hm.resultsHandler.GetPaperResults)
		papers.GET("/:id/results/export", staffOnly, hm.resultsHandler.ExportPaperResults)
	}

	registrations := v1.Group("/registrations")
	{
		registrations.POST("", staffOnly, hm.registrationHandler.CreateRegistration)
		registrations.GET("", staffOnly, hm.registrationHandler.ListRegistrations)
		registrations.GET("/mine", hm.registrationHandler.ListMyRegistrations)
		registrations.GET("/:id", hm.registrationHandler.GetRegistration)
		registrations.GET("/:id/status", hm.registrationHandler.GetRegistrationStatus)
		registrations.POST("/:id/verify-key", hm.registrationHandler.VerifyKey)
		registrations.DELETE("/:id", hm.registrationHandler.CancelRegistration)

		// Live session routes. Ownership is enforced in the service,
		// so students can only touch their own registration.
		registrations.POST("/:id/session/start", hm.sessionHandler.StartSession)
		registrations.POST("/:id/session/resume", hm.sessionHandler.ResumeSession)
		registrations.GET("/:id/session/status", hm.sessionHandler.GetSessionStatus)
		registrations.POST("/:id/session/heartbeat", hm.sessionHandler.Heartbeat)
		registrations.PUT("/:id/session/answers", hm.sessionHandler.SaveAnswer)
		registrations.DELETE("/:id/session/answers/:question_id", hm.sessionHandler.ClearAnswer)
		registrations.POST("/:id/session/submit", hm.sessionHandler.SubmitSession)
	}
}

func (hm *HandlerManager) healthCheck(c *gin.Context) {
	if err := hm.serviceManager.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
