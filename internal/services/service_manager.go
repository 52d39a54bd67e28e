package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/cache"
	"github.com/campus-exams/exam-service/internal/events"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	HeartbeatInterval  time.Duration
	AutoSubmitRetry    time.Duration
	SessionGracePeriod time.Duration

	DefaultTimeout time.Duration
}

// serviceManager implements the ServiceManager interface
type serviceManager struct {
	db        *gorm.DB
	repo      repositories.Repository
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	config    ServiceManagerConfig

	// Service instances
	paperService        PaperService
	registrationService RegistrationService
	sessionService      SessionService
	markingService      MarkingService
	resultsService      ResultsService

	initialized bool
}

// NewServiceManager wires all services over the shared dependencies.
func NewServiceManager(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	cacheManager *cache.CacheManager,
	config ServiceManagerConfig,
) ServiceManager {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}

	m := &serviceManager{
		db:        db,
		repo:      repo,
		logger:    logger,
		validator: v,
		publisher: publisher,
		config:    config,
	}

	m.paperService = NewPaperService(repo, db, logger, v)
	m.registrationService = NewRegistrationService(repo, db, logger, v)
	m.markingService = NewMarkingService(repo, db, logger, v)
	m.resultsService = NewResultsService(repo, db, logger)
	m.sessionService = NewSessionService(repo, db, logger, v, publisher, cacheManager, SessionServiceConfig{
		HeartbeatInterval: config.HeartbeatInterval,
		AutoSubmitRetry:   config.AutoSubmitRetry,
		GracePeriod:       config.SessionGracePeriod,
	})

	// Choice questions are marked as soon as the submission lands.
	if ss, ok := m.sessionService.(*sessionService); ok {
		ss.postSubmit = func(ctx context.Context, registrationID uint) {
			if _, err := m.markingService.AutoMarkRegistration(ctx, registrationID); err != nil {
				logger.Error("Auto-marking after submission failed",
					"registration_id", registrationID,
					"error", err)
			}
		}
	}

	return m
}

func (m *serviceManager) Paper() PaperService               { return m.paperService }
func (m *serviceManager) Registration() RegistrationService { return m.registrationService }
func (m *serviceManager) Session() SessionService           { return m.sessionService }
func (m *serviceManager) Marking() MarkingService           { return m.markingService }
func (m *serviceManager) Results() ResultsService           { return m.resultsService }

// Initialize finishes any session left over from a previous process before
// the server starts taking traffic.
func (m *serviceManager) Initialize(ctx context.Context) error {
	if m.initialized {
		return nil
	}

	if err := m.sessionService.RecoverSessions(ctx); err != nil {
		return fmt.Errorf("session recovery failed: %w", err)
	}

	m.initialized = true
	m.logger.Info("Service manager initialized")
	return nil
}

func (m *serviceManager) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.DefaultTimeout)
	defer cancel()

	if err := m.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}
	return nil
}

func (m *serviceManager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down service manager")

	if err := m.sessionService.Shutdown(ctx); err != nil {
		m.logger.Error("Session service shutdown failed", "error", err)
	}

	if err := m.publisher.Close(); err != nil {
		m.logger.Error("Event publisher close failed", "error", err)
	}

	return nil
}
