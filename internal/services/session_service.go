package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/cache"
	"github.com/campus-exams/exam-service/internal/events"
	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

// liveSession couples a runtime with the paper data its requests validate
// against.
type liveSession struct {
	runtime   *sessionRuntime
	paper     *models.ExamPaper // sanitized, no answer keys
	questions map[uint]*models.Question
}

type sessionService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
	publisher events.EventPublisher
	cache     *cache.CacheManager

	runtimeConfig runtimeConfig
	gracePeriod   time.Duration

	// postSubmit runs after a submission is stored, e.g. auto-marking.
	postSubmit func(ctx context.Context, registrationID uint)

	mu       sync.Mutex
	sessions map[uint]*liveSession
}

// SessionServiceConfig carries the timing knobs of the session controller.
type SessionServiceConfig struct {
	HeartbeatInterval time.Duration
	AutoSubmitRetry   time.Duration
	GracePeriod       time.Duration
}

func NewSessionService(
	repo repositories.Repository,
	db *gorm.DB,
	logger *slog.Logger,
	v *validator.Validator,
	publisher events.EventPublisher,
	cacheManager *cache.CacheManager,
	cfg SessionServiceConfig,
) SessionService {
	return &sessionService{
		repo:          repo,
		db:            db,
		logger:        logger,
		validator:     v,
		publisher:     publisher,
		cache:         cacheManager,
		runtimeConfig: defaultRuntimeConfig(cfg.HeartbeatInterval, cfg.AutoSubmitRetry),
		gracePeriod:   cfg.GracePeriod,
		sessions:      make(map[uint]*liveSession),
	}
}

// ===== SESSION LIFECYCLE =====

func (s *sessionService) Start(ctx context.Context, registrationID uint, studentID string) (*SessionResponse, error) {
	s.logger.Info("Starting exam session",
		"registration_id", registrationID,
		"student_id", studentID)

	registration, err := s.repo.Registration().GetByIDWithPaper(ctx, nil, registrationID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}

	if registration.StudentID != studentID {
		return nil, NewPermissionError(studentID, "start", "exam session")
	}

	// An in_progress registration with a live runtime is a resume, not an
	// error; page reloads land here.
	if registration.Status == models.RegistrationInProgress {
		return s.Resume(ctx, registrationID, studentID)
	}

	now := time.Now()
	if verrs := s.validator.ValidateSessionStart(registration, &registration.Paper, now); len(verrs) > 0 {
		return nil, startValidationError(verrs)
	}

	// One running session per student; a second paper has to wait.
	active, err := s.repo.Registration().HasActiveSession(ctx, nil, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active sessions: %w", err)
	}
	if active {
		return nil, ErrActiveSessionExists
	}

	// Grace covers request latency so the student sees the full duration.
	startTime := now
	endTime := startTime.Add(time.Duration(registration.Paper.Duration)*time.Minute + s.gracePeriod)

	if err := s.repo.Registration().MarkStarted(ctx, nil, registrationID, startTime, endTime); err != nil {
		if repositories.IsNotFoundError(err) {
			// Lost the race against another start of the same registration.
			return s.Resume(ctx, registrationID, studentID)
		}
		return nil, fmt.Errorf("failed to mark session started: %w", err)
	}

	registration.Status = models.RegistrationInProgress
	registration.ExamStartTime = &startTime
	registration.ExamEndTime = &endTime

	session := s.installRuntime(registration)

	s.publishSessionEvent(ctx, events.TypeSessionStarted, registration, "", 0, nil)

	s.logger.Info("Exam session started",
		"registration_id", registrationID,
		"paper_id", registration.PaperID,
		"ends_at", endTime)

	return s.buildSessionResponse(registration, session, now), nil
}

func (s *sessionService) Resume(ctx context.Context, registrationID uint, studentID string) (*SessionResponse, error) {
	session, err := s.getSession(registrationID, studentID)
	if err == nil {
		registration, rerr := s.repo.Registration().GetByID(ctx, nil, registrationID)
		if rerr != nil {
			return nil, fmt.Errorf("failed to get registration: %w", rerr)
		}
		return s.buildSessionResponse(registration, session, time.Now()), nil
	}

	// No live runtime; rebuild from storage.
	registration, err := s.repo.Registration().GetByIDWithPaper(ctx, nil, registrationID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	if registration.StudentID != studentID {
		return nil, NewPermissionError(studentID, "resume", "exam session")
	}
	if registration.IsSubmitted() {
		return nil, ErrAlreadySubmitted
	}
	if registration.Status != models.RegistrationInProgress && registration.Status != models.RegistrationExpired {
		return nil, ErrSessionNotActive
	}

	stored, err := s.repo.Answer().GetByRegistration(ctx, nil, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored answers: %w", err)
	}

	session = s.installRuntime(registration)
	session.runtime.seedAnswers(stored)

	s.logger.Info("Exam session resumed",
		"registration_id", registrationID,
		"stored_answers", len(stored))

	return s.buildSessionResponse(registration, session, time.Now()), nil
}

// installRuntime creates, registers and starts the runtime for a
// registration. An existing live session for the same registration wins.
func (s *sessionService) installRuntime(registration *models.Registration) *liveSession {
	sanitized := sanitizePaper(&registration.Paper)

	session := &liveSession{
		runtime:   newSessionRuntime(registration, s, s.logger, s.runtimeConfig),
		paper:     sanitized,
		questions: indexQuestions(sanitized),
	}

	s.mu.Lock()
	if existing, ok := s.sessions[registration.ID]; ok {
		s.mu.Unlock()
		return existing
	}
	s.sessions[registration.ID] = session
	s.mu.Unlock()

	session.runtime.start()
	return session
}

// removeSession evicts a finished session so the map does not grow for the
// life of the process. The runtime's loops are stopped along the way.
func (s *sessionService) removeSession(registrationID uint) {
	s.mu.Lock()
	session, ok := s.sessions[registrationID]
	if ok {
		delete(s.sessions, registrationID)
	}
	s.mu.Unlock()

	if ok {
		session.runtime.stop()
	}
}

func (s *sessionService) getSession(registrationID uint, studentID string) (*liveSession, error) {
	s.mu.Lock()
	session, ok := s.sessions[registrationID]
	s.mu.Unlock()

	if !ok {
		return nil, ErrSessionNotActive
	}
	if session.runtime.studentID != studentID {
		return nil, NewPermissionError(studentID, "access", "exam session")
	}
	return session, nil
}

func (s *sessionService) buildSessionResponse(registration *models.Registration, session *liveSession, now time.Time) *SessionResponse {
	status := session.runtime.snapshot(now)
	status.DeliveryMode = session.paper.DeliveryMode

	return &SessionResponse{
		Registration: registration,
		Paper:        session.paper,
		Status:       status,
		Answers:      session.runtime.answerSnapshots(),
	}
}

// ===== STATUS AND HEARTBEAT =====

func (s *sessionService) GetStatus(ctx context.Context, registrationID uint, studentID string) (*models.ExamStatus, error) {
	session, err := s.getSession(registrationID, studentID)
	if err == nil {
		status := session.runtime.snapshot(time.Now())
		status.DeliveryMode = session.paper.DeliveryMode
		return &status, nil
	}

	// No live runtime; derive from storage.
	registration, rerr := s.repo.Registration().GetByID(ctx, nil, registrationID)
	if rerr != nil {
		if repositories.IsNotFoundError(rerr) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration: %w", rerr)
	}
	if registration.StudentID != studentID {
		return nil, NewPermissionError(studentID, "view", "exam session")
	}

	answered, cerr := s.repo.Answer().CountByRegistration(ctx, nil, registrationID)
	if cerr != nil {
		return nil, fmt.Errorf("failed to count answers: %w", cerr)
	}

	now := time.Now()
	return &models.ExamStatus{
		RegistrationID:       registration.ID,
		Status:               registration.Status,
		ExamStartTime:        registration.ExamStartTime,
		ExamEndTime:          registration.ExamEndTime,
		TimeRemainingSeconds: registration.TimeRemaining(now),
		CanStart:             registration.Status == models.RegistrationRegistered && registration.InStartWindow(now),
		AnsweredCount:        int(answered),
	}, nil
}

func (s *sessionService) Heartbeat(ctx context.Context, registrationID uint, studentID string) (*HeartbeatResponse, error) {
	session, err := s.getSession(registrationID, studentID)
	if err != nil {
		return nil, err
	}

	s.recordHeartbeat(ctx, registrationID)

	now := time.Now()
	status := session.runtime.snapshot(now)
	return &HeartbeatResponse{
		RegistrationID:       registrationID,
		TimeRemainingSeconds: status.TimeRemainingSeconds,
		ServerTime:           now,
	}, nil
}

// ===== ANSWERS =====

func (s *sessionService) SaveAnswer(ctx context.Context, registrationID uint, studentID string, req *SaveAnswerRequest) (*SaveAnswerResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	session, err := s.getSession(registrationID, studentID)
	if err != nil {
		return nil, err
	}

	question, ok := session.questions[req.QuestionID]
	if !ok {
		return nil, ErrQuestionNotInPaper
	}
	if verrs := s.validator.ValidateAnswerType(question, req.Type); len(verrs) > 0 {
		return nil, verrs
	}

	resp, err := session.runtime.recordAnswer(req.QuestionID, req.Type, req.Value, req.Payload)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Answer recorded",
		"registration_id", registrationID,
		"question_id", req.QuestionID,
		"revision", resp.Revision)

	return resp, nil
}

func (s *sessionService) ClearAnswer(ctx context.Context, registrationID uint, studentID string, questionID uint) error {
	session, err := s.getSession(registrationID, studentID)
	if err != nil {
		return err
	}

	if _, ok := session.questions[questionID]; !ok {
		return ErrQuestionNotInPaper
	}

	return session.runtime.clearAnswer(questionID)
}

// ===== SUBMISSION =====

func (s *sessionService) Submit(ctx context.Context, registrationID uint, studentID string) (*SubmitResponse, error) {
	session, err := s.getSession(registrationID, studentID)
	if err != nil {
		// A submission that just won evicts the runtime; a repeat submit
		// lands here and should read as a duplicate, not a missing session.
		if errors.Is(err, ErrSessionNotActive) {
			registration, rerr := s.repo.Registration().GetByID(ctx, nil, registrationID)
			if rerr == nil && registration.StudentID == studentID && registration.IsSubmitted() {
				return nil, ErrAlreadySubmitted
			}
		}
		return nil, err
	}

	if err := session.runtime.submit(ctx, models.SubmitReasonManual); err != nil {
		return nil, err
	}

	registration, err := s.repo.Registration().GetByID(ctx, nil, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload registration: %w", err)
	}

	resp := &SubmitResponse{
		RegistrationID: registrationID,
		Status:         registration.Status,
		Reason:         models.SubmitReasonManual,
		AnswerCount:    session.runtime.answeredCount(),
	}
	if registration.ActualSubmitTime != nil {
		resp.SubmitTime = *registration.ActualSubmitTime
	}
	if registration.SubmitReason != nil {
		resp.Reason = *registration.SubmitReason
	}
	return resp, nil
}

// ===== BACKEND (called by runtimes) =====

func (s *sessionService) persistAnswer(ctx context.Context, answer *models.StudentAnswer) error {
	return s.repo.Answer().Upsert(ctx, nil, answer)
}

func (s *sessionService) finalizeSubmission(ctx context.Context, registrationID uint, reason string, answers []*models.StudentAnswer, submitTime time.Time) error {
	var won bool
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Answer().ReplaceForRegistration(ctx, nil, registrationID, answers); err != nil {
			return fmt.Errorf("failed to store final answers: %w", err)
		}

		var err error
		won, err = txRepo.Registration().MarkSubmitted(ctx, nil, registrationID, submitTime, reason)
		if err != nil {
			return fmt.Errorf("failed to mark submitted: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadySubmitted
	}

	s.dropLiveness(ctx, registrationID)
	s.removeSession(registrationID)

	registration, rerr := s.repo.Registration().GetByID(ctx, nil, registrationID)
	if rerr == nil {
		eventType := events.TypeSubmitted
		if reason == models.SubmitReasonTimeout {
			eventType = events.TypeExpired
		}
		s.publishSessionEvent(ctx, eventType, registration, reason, len(answers), nil)
	}

	s.logger.Info("Exam session submitted",
		"registration_id", registrationID,
		"reason", reason,
		"answer_count", len(answers))

	if s.postSubmit != nil {
		go func() {
			hookCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			s.postSubmit(hookCtx, registrationID)
		}()
	}

	return nil
}

func (s *sessionService) freezeExpired(ctx context.Context, registrationID uint, cause error) {
	if err := s.repo.Registration().MarkExpired(ctx, nil, registrationID); err != nil {
		s.logger.Error("Failed to freeze expired session",
			"registration_id", registrationID,
			"error", err)
	}

	registration, err := s.repo.Registration().GetByID(ctx, nil, registrationID)
	if err == nil {
		s.publishSessionEvent(ctx, events.TypeSubmitFailed, registration, models.SubmitReasonTimeout, 0, cause)
	}
}

func (s *sessionService) recordHeartbeat(ctx context.Context, registrationID uint) {
	key := strconv.FormatUint(uint64(registrationID), 10)
	if err := s.cache.Liveness.SetString(ctx, key, time.Now().UTC().Format(time.RFC3339), cache.LivenessCacheConfig.TTL); err != nil {
		s.logger.Debug("Liveness write failed", "registration_id", registrationID, "error", err)
	}

	if err := s.repo.Registration().UpdateActivity(ctx, nil, registrationID, time.Now()); err != nil {
		s.logger.Debug("Activity update failed", "registration_id", registrationID, "error", err)
	}
}

func (s *sessionService) dropLiveness(ctx context.Context, registrationID uint) {
	key := strconv.FormatUint(uint64(registrationID), 10)
	_ = s.cache.Liveness.Delete(ctx, key)
}

// ===== RECOVERY AND SHUTDOWN =====

// RecoverSessions finishes sessions whose deadline passed while no process
// owned a runtime for them, typically after a restart.
func (s *sessionService) RecoverSessions(ctx context.Context) error {
	overdue, err := s.repo.Registration().GetOverdueInProgress(ctx, nil, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list overdue sessions: %w", err)
	}

	recovered := 0
	for _, registration := range overdue {
		answers, err := s.repo.Answer().GetByRegistration(ctx, nil, registration.ID)
		if err != nil {
			s.logger.Error("Recovery: failed to load answers",
				"registration_id", registration.ID,
				"error", err)
			continue
		}

		// Submission time is the deadline the student actually had.
		submitTime := time.Now()
		if registration.ExamEndTime != nil {
			submitTime = *registration.ExamEndTime
		}

		err = s.finalizeSubmission(ctx, registration.ID, models.SubmitReasonTimeout, answers, submitTime)
		if err != nil && !errors.Is(err, ErrAlreadySubmitted) {
			s.logger.Error("Recovery: failed to submit overdue session",
				"registration_id", registration.ID,
				"error", err)
			continue
		}
		recovered++
	}

	if len(overdue) > 0 {
		s.logger.Info("Session recovery finished",
			"overdue", len(overdue),
			"recovered", recovered)
	}
	return nil
}

func (s *sessionService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*liveSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[uint]*liveSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.runtime.stop()
	}

	s.logger.Info("Session service stopped", "live_sessions", len(sessions))
	return nil
}

// ===== HELPERS =====

func (s *sessionService) publishSessionEvent(ctx context.Context, eventType string, registration *models.Registration, reason string, answerCount int, cause error) {
	payload := events.SessionEvent{
		RegistrationID: registration.ID,
		PaperID:        registration.PaperID,
		StudentID:      registration.StudentID,
		Reason:         reason,
		AnswerCount:    answerCount,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	if err := s.publisher.Publish(ctx, events.NewEvent(eventType, payload)); err != nil {
		s.logger.Error("Failed to publish session event",
			"event_type", eventType,
			"registration_id", registration.ID,
			"error", err)
	}
}

// startValidationError maps start-eligibility failures onto the sentinels
// the transport layer tells apart, falling back to the raw validation
// errors for anything else.
func startValidationError(verrs validator.ValidationErrors) error {
	for _, verr := range verrs {
		switch verr.Field {
		case "paper_status":
			return ErrPaperNotPublished
		case "window":
			return ErrOutsideStartWindow
		case "enrollment_key":
			return ErrKeyNotVerified
		}
	}
	return verrs
}

// indexQuestions flattens a paper's question tree, sub-questions included.
func indexQuestions(paper *models.ExamPaper) map[uint]*models.Question {
	index := make(map[uint]*models.Question)
	for pi := range paper.Parts {
		part := &paper.Parts[pi]
		for qi := range part.Questions {
			question := &part.Questions[qi]
			index[question.ID] = question
			for si := range question.SubQuestions {
				sub := &question.SubQuestions[si]
				index[sub.ID] = sub
			}
		}
	}
	return index
}
