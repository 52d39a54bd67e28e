package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

type markingService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewMarkingService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) MarkingService {
	return &markingService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

// AutoMarkRegistration marks every choice answer of a submitted
// registration against the stored answer key. Free-text answers stay
// pending for manual marking. Returns how many answers were marked.
func (s *markingService) AutoMarkRegistration(ctx context.Context, registrationID uint) (int, error) {
	registration, err := s.repo.Registration().GetByID(ctx, nil, registrationID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, ErrRegistrationNotFound
		}
		return 0, fmt.Errorf("failed to get registration: %w", err)
	}
	if !registration.IsSubmitted() {
		return 0, NewBusinessRuleError("marking", "cannot mark a session that has not been submitted")
	}

	questions, err := s.repo.Paper().GetQuestionsByPaper(ctx, nil, registration.PaperID)
	if err != nil {
		return 0, fmt.Errorf("failed to load questions: %w", err)
	}
	questionIndex := make(map[uint]*models.Question, len(questions))
	for _, question := range questions {
		questionIndex[question.ID] = question
	}

	answers, err := s.repo.Answer().GetByRegistration(ctx, nil, registrationID)
	if err != nil {
		return 0, fmt.Errorf("failed to load answers: %w", err)
	}

	marked := 0
	for _, answer := range answers {
		question, ok := questionIndex[answer.QuestionID]
		if !ok || !question.Type.IsChoice() || answer.MarksAwarded != nil {
			continue
		}

		correct := s.isChoiceCorrect(question, answer)
		marks := 0.0
		if correct {
			marks = float64(question.Marks)
		}

		if err := s.repo.Answer().ApplyAutoMark(ctx, nil, answer.ID, marks, correct); err != nil {
			s.logger.Error("Failed to auto-mark answer",
				"answer_id", answer.ID,
				"question_id", answer.QuestionID,
				"error", err)
			continue
		}
		marked++
	}

	s.logger.Info("Auto-marking finished",
		"registration_id", registrationID,
		"marked", marked)
	return marked, nil
}

// isChoiceCorrect compares a stored choice answer, which carries the
// selected option id as text, against the answer key.
func (s *markingService) isChoiceCorrect(question *models.Question, answer *models.StudentAnswer) bool {
	selected, err := strconv.ParseUint(answer.Value, 10, 64)
	if err != nil {
		return false
	}
	for _, option := range question.Options {
		if option.ID == uint(selected) {
			return option.IsCorrect
		}
	}
	return false
}

// ApplyMarks records a batch of manual marks from a faculty member.
func (s *markingService) ApplyMarks(ctx context.Context, paperID uint, reqs []MarkAnswerRequest, markerID string) error {
	user, err := s.repo.User().GetByID(ctx, markerID)
	if err != nil {
		return ErrUserNotFound
	}
	if !user.Role.CanMark() {
		return NewPermissionError(markerID, "mark", "answers")
	}

	questions, err := s.repo.Paper().GetQuestionsByPaper(ctx, nil, paperID)
	if err != nil {
		return fmt.Errorf("failed to load questions: %w", err)
	}
	maxMarks := make(map[uint]int, len(questions))
	for _, question := range questions {
		maxMarks[question.ID] = question.Marks
	}

	marks := make([]repositories.AnswerMark, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if err := s.validator.Validate(req); err != nil {
			return err
		}

		answer, err := s.repo.Answer().GetByID(ctx, nil, req.AnswerID)
		if err != nil {
			if repositories.IsNotFoundError(err) {
				return ErrAnswerNotFound
			}
			return fmt.Errorf("failed to get answer: %w", err)
		}

		limit, ok := maxMarks[answer.QuestionID]
		if !ok {
			return ErrQuestionNotInPaper
		}
		if req.Marks > float64(limit) {
			return ErrMarksOutOfRange
		}

		marks = append(marks, repositories.AnswerMark{
			ID:       req.AnswerID,
			Marks:    req.Marks,
			Feedback: req.Feedback,
			MarkerID: markerID,
		})
	}

	if err := s.repo.Answer().ApplyMarkBatch(ctx, nil, marks); err != nil {
		return fmt.Errorf("failed to apply marks: %w", err)
	}

	s.logger.Info("Manual marks applied",
		"paper_id", paperID,
		"marker_id", markerID,
		"count", len(marks))
	return nil
}

func (s *markingService) GetPendingMarking(ctx context.Context, paperID uint, filters repositories.AnswerFilters, userID string) (*PendingMarkingResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.Role.CanMark() {
		return nil, NewPermissionError(userID, "view", "pending marking")
	}

	answers, total, err := s.repo.Answer().GetPendingMarking(ctx, nil, paperID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending marking: %w", err)
	}

	return &PendingMarkingResponse{Answers: answers, Total: total}, nil
}

func (s *markingService) GetMarkingStats(ctx context.Context, paperID uint, userID string) (*repositories.MarkingStats, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.Role.CanMark() {
		return nil, NewPermissionError(userID, "view", "marking stats")
	}

	stats, err := s.repo.Answer().GetMarkingStats(ctx, nil, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marking stats: %w", err)
	}
	return stats, nil
}
