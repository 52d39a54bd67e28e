package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

type registrationService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewRegistrationService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) RegistrationService {
	return &registrationService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

func (s *registrationService) Create(ctx context.Context, req *validator.RegistrationCreateRequest, creatorID string) (*RegistrationResponse, error) {
	s.logger.Info("Creating registration",
		"paper_id", req.PaperID,
		"student_id", req.StudentID,
		"creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	paper, err := s.repo.Paper().GetByID(ctx, nil, req.PaperID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	if paper.Status != models.PaperPublished {
		return nil, ErrPaperNotPublished
	}

	exists, err := s.repo.Registration().ExistsByStudentAndPaper(ctx, nil, req.StudentID, req.PaperID)
	if err != nil {
		return nil, fmt.Errorf("failed to check registration: %w", err)
	}
	if exists {
		return nil, ErrDuplicateRegistration
	}

	if _, err := s.repo.User().GetByID(ctx, req.StudentID); err != nil {
		return nil, ErrUserNotFound
	}

	registration := &models.Registration{
		PaperID:       req.PaperID,
		StudentID:     req.StudentID,
		Status:        models.RegistrationRegistered,
		EnrollmentKey: req.EnrollmentKey,
		KeyVerified:   req.EnrollmentKey == "",
		WindowStart:   req.WindowStart,
		WindowEnd:     req.WindowEnd,
	}

	if err := s.repo.Registration().Create(ctx, nil, registration); err != nil {
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}

	s.logger.Info("Registration created", "registration_id", registration.ID)
	return s.toResponse(registration, paper), nil
}

func (s *registrationService) GetByID(ctx context.Context, id uint, userID string) (*RegistrationResponse, error) {
	registration, err := s.repo.Registration().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}

	if registration.StudentID != userID {
		// Staff may look at any registration.
		user, uerr := s.repo.User().GetByID(ctx, userID)
		if uerr != nil || !user.Role.CanMark() {
			return nil, NewPermissionError(userID, "view", "registration")
		}
	}

	paper, _ := s.repo.Paper().GetByID(ctx, nil, registration.PaperID)
	return s.toResponse(registration, paper), nil
}

// GetStatus reports the derived exam status a client polls before and
// after a session; during a session the session controller answers this.
func (s *registrationService) GetStatus(ctx context.Context, id uint, studentID string) (*models.ExamStatus, error) {
	registration, err := s.repo.Registration().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	if registration.StudentID != studentID {
		return nil, NewPermissionError(studentID, "view", "registration")
	}

	paper, err := s.repo.Paper().GetByID(ctx, nil, registration.PaperID)
	if err != nil {
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	answered, err := s.repo.Answer().CountByRegistration(ctx, nil, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count answers: %w", err)
	}

	now := time.Now()
	canStart := registration.Status == models.RegistrationRegistered &&
		registration.InStartWindow(now) &&
		registration.KeyVerified &&
		paper.Status == models.PaperPublished

	return &models.ExamStatus{
		RegistrationID:       registration.ID,
		Status:               registration.Status,
		ExamStartTime:        registration.ExamStartTime,
		ExamEndTime:          registration.ExamEndTime,
		TimeRemainingSeconds: registration.TimeRemaining(now),
		CanStart:             canStart,
		DeliveryMode:         paper.DeliveryMode,
		AnsweredCount:        int(answered),
	}, nil
}

func (s *registrationService) List(ctx context.Context, filters repositories.RegistrationFilters, userID string) (*RegistrationListResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.Role.CanMark() {
		return nil, NewPermissionError(userID, "list", "registrations")
	}

	registrations, total, err := s.repo.Registration().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}

	return s.toListResponse(registrations, total, filters), nil
}

func (s *registrationService) GetByStudent(ctx context.Context, studentID string, filters repositories.RegistrationFilters) (*RegistrationListResponse, error) {
	registrations, total, err := s.repo.Registration().GetByStudent(ctx, nil, studentID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	return s.toListResponse(registrations, total, filters), nil
}

// VerifyKey checks the enrollment key a student typed. Comparison is
// constant time; success is persisted so later starts skip the prompt.
func (s *registrationService) VerifyKey(ctx context.Context, id uint, studentID string, key string) error {
	registration, err := s.repo.Registration().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrRegistrationNotFound
		}
		return fmt.Errorf("failed to get registration: %w", err)
	}
	if registration.StudentID != studentID {
		return NewPermissionError(studentID, "verify key for", "registration")
	}
	if registration.KeyVerified {
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(registration.EnrollmentKey), []byte(key)) != 1 {
		s.logger.Warn("Enrollment key rejected",
			"registration_id", id,
			"student_id", studentID)
		return ErrInvalidEnrollmentKey
	}

	if err := s.repo.Registration().SetKeyVerified(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to persist key verification: %w", err)
	}

	s.logger.Info("Enrollment key verified", "registration_id", id)
	return nil
}

func (s *registrationService) Cancel(ctx context.Context, id uint, userID string) error {
	registration, err := s.repo.Registration().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrRegistrationNotFound
		}
		return fmt.Errorf("failed to get registration: %w", err)
	}

	if registration.StudentID != userID {
		user, uerr := s.repo.User().GetByID(ctx, userID)
		if uerr != nil || !user.Role.CanMark() {
			return NewPermissionError(userID, "cancel", "registration")
		}
	}

	if registration.Status != models.RegistrationRegistered {
		return NewBusinessRuleError("registration_cancel", "only registrations that have not started can be cancelled")
	}

	registration.Status = models.RegistrationCancelled
	if err := s.repo.Registration().Update(ctx, nil, registration); err != nil {
		return fmt.Errorf("failed to cancel registration: %w", err)
	}

	s.logger.Info("Registration cancelled", "registration_id", id, "by", userID)
	return nil
}

// ===== HELPERS =====

func (s *registrationService) toResponse(registration *models.Registration, paper *models.ExamPaper) *RegistrationResponse {
	resp := &RegistrationResponse{Registration: registration}
	if paper != nil {
		resp.PaperTitle = paper.Title
		resp.DeliveryMode = paper.DeliveryMode
	}
	return resp
}

func (s *registrationService) toListResponse(registrations []*models.Registration, total int64, filters repositories.RegistrationFilters) *RegistrationListResponse {
	responses := make([]*RegistrationResponse, 0, len(registrations))
	for _, registration := range registrations {
		responses = append(responses, &RegistrationResponse{Registration: registration})
	}
	return &RegistrationListResponse{
		Registrations: responses,
		Total:         total,
		Limit:         filters.Limit,
		Offset:        filters.Offset,
	}
}
