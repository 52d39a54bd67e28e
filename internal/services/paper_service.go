package services

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
	"github.com/campus-exams/exam-service/internal/validator"
)

type paperService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewPaperService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, v *validator.Validator) PaperService {
	return &paperService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: v,
	}
}

// ===== CRUD =====

func (s *paperService) Create(ctx context.Context, req *validator.PaperCreateRequest, creatorID string) (*PaperResponse, error) {
	s.logger.Info("Creating exam paper", "title", req.Title, "creator_id", creatorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	exists, err := s.repo.Paper().ExistsByTitle(ctx, nil, req.Title, creatorID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to check title: %w", err)
	}
	if exists {
		return nil, ErrDuplicateTitle
	}

	paper := &models.ExamPaper{
		Title:        req.Title,
		Instructions: req.Instructions,
		Duration:     req.Duration,
		TotalMarks:   req.TotalMarks,
		DeliveryMode: req.DeliveryMode,
		Status:       models.PaperDraft,
		CreatedBy:    creatorID,
		Parts:        buildParts(req.Parts),
	}
	if paper.DeliveryMode == "" {
		paper.DeliveryMode = models.DeliveryOnline
	}

	if err := s.repo.Paper().Create(ctx, nil, paper); err != nil {
		return nil, fmt.Errorf("failed to create paper: %w", err)
	}

	s.logger.Info("Exam paper created", "paper_id", paper.ID)
	return s.toResponse(paper, creatorID), nil
}

func (s *paperService) GetByID(ctx context.Context, id uint, userID string) (*PaperResponse, error) {
	paper, err := s.repo.Paper().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	return s.toResponse(paper, userID), nil
}

func (s *paperService) GetByIDWithStructure(ctx context.Context, id uint, userID string) (*PaperResponse, error) {
	paper, err := s.repo.Paper().GetByIDWithStructure(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper structure: %w", err)
	}
	return s.toResponse(paper, userID), nil
}

func (s *paperService) Update(ctx context.Context, id uint, req *validator.PaperUpdateRequest, userID string) (*PaperResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	paper, err := s.repo.Paper().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	if paper.CreatedBy != userID {
		return nil, NewPermissionError(userID, "update", "exam paper")
	}
	if paper.Status != models.PaperDraft {
		return nil, ErrPaperNotDraft
	}

	if req.Title != nil {
		paper.Title = *req.Title
	}
	if req.Instructions != nil {
		paper.Instructions = req.Instructions
	}
	if req.Duration != nil {
		paper.Duration = *req.Duration
	}
	if req.TotalMarks != nil {
		paper.TotalMarks = *req.TotalMarks
	}
	if req.DeliveryMode != nil {
		paper.DeliveryMode = *req.DeliveryMode
	}

	if err := s.repo.Paper().Update(ctx, nil, paper); err != nil {
		return nil, fmt.Errorf("failed to update paper: %w", err)
	}

	s.logger.Info("Exam paper updated", "paper_id", id)
	return s.toResponse(paper, userID), nil
}

func (s *paperService) ReplaceParts(ctx context.Context, id uint, parts []validator.PaperPartRequest, userID string) (*PaperResponse, error) {
	for i := range parts {
		if err := s.validator.Validate(&parts[i]); err != nil {
			return nil, err
		}
	}

	paper, err := s.repo.Paper().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	if paper.CreatedBy != userID {
		return nil, NewPermissionError(userID, "update", "exam paper")
	}
	if paper.Status != models.PaperDraft {
		return nil, ErrPaperNotDraft
	}

	if err := s.repo.Paper().ReplaceParts(ctx, nil, id, buildParts(parts)); err != nil {
		return nil, fmt.Errorf("failed to replace parts: %w", err)
	}

	return s.GetByIDWithStructure(ctx, id, userID)
}

func (s *paperService) Delete(ctx context.Context, id uint, userID string) error {
	paper, err := s.repo.Paper().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrPaperNotFound
		}
		return fmt.Errorf("failed to get paper: %w", err)
	}

	if paper.CreatedBy != userID {
		return NewPermissionError(userID, "delete", "exam paper")
	}

	inUse, err := s.repo.Paper().HasRegistrations(ctx, nil, id)
	if err != nil {
		return fmt.Errorf("failed to check registrations: %w", err)
	}
	if inUse {
		return ErrPaperInUse
	}

	if err := s.repo.Paper().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete paper: %w", err)
	}

	s.logger.Info("Exam paper deleted", "paper_id", id)
	return nil
}

func (s *paperService) List(ctx context.Context, filters repositories.PaperFilters, userID string) (*PaperListResponse, error) {
	papers, total, err := s.repo.Paper().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}

	responses := make([]*PaperResponse, 0, len(papers))
	for _, paper := range papers {
		responses = append(responses, s.toResponse(paper, userID))
	}

	return &PaperListResponse{
		Papers: responses,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

// ===== STATUS TRANSITIONS =====

func (s *paperService) Publish(ctx context.Context, id uint, userID string) error {
	paper, err := s.repo.Paper().GetByIDWithStructure(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrPaperNotFound
		}
		return fmt.Errorf("failed to get paper: %w", err)
	}

	if paper.CreatedBy != userID {
		return NewPermissionError(userID, "publish", "exam paper")
	}
	if paper.Status != models.PaperDraft {
		return ErrPaperNotDraft
	}
	if len(paper.Parts) == 0 {
		return NewBusinessRuleError("paper_structure", "a paper needs at least one part with questions before publishing")
	}
	for _, part := range paper.Parts {
		if len(part.Questions) == 0 {
			return NewBusinessRuleError("paper_structure", fmt.Sprintf("part %s has no questions", part.Label))
		}
	}

	if err := s.repo.Paper().UpdateStatus(ctx, nil, id, models.PaperPublished); err != nil {
		return fmt.Errorf("failed to publish paper: %w", err)
	}

	s.logger.Info("Exam paper published", "paper_id", id)
	return nil
}

func (s *paperService) Archive(ctx context.Context, id uint, userID string) error {
	paper, err := s.repo.Paper().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrPaperNotFound
		}
		return fmt.Errorf("failed to get paper: %w", err)
	}

	if paper.CreatedBy != userID {
		return NewPermissionError(userID, "archive", "exam paper")
	}

	if err := s.repo.Paper().UpdateStatus(ctx, nil, id, models.PaperArchived); err != nil {
		return fmt.Errorf("failed to archive paper: %w", err)
	}

	s.logger.Info("Exam paper archived", "paper_id", id)
	return nil
}

// ===== SESSION DELIVERY =====

// GetForSession returns the published paper with the answer key stripped.
func (s *paperService) GetForSession(ctx context.Context, id uint) (*models.ExamPaper, error) {
	paper, err := s.repo.Paper().GetByIDWithStructure(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}
	if paper.Status != models.PaperPublished {
		return nil, ErrPaperNotPublished
	}
	return sanitizePaper(paper), nil
}

// ===== HELPERS =====

func (s *paperService) toResponse(paper *models.ExamPaper, userID string) *PaperResponse {
	owner := paper.CreatedBy == userID
	return &PaperResponse{
		ExamPaper:  paper,
		CanEdit:    owner && paper.Status == models.PaperDraft,
		CanPublish: owner && paper.Status == models.PaperDraft,
		CanDelete:  owner,
	}
}

func buildParts(reqs []validator.PaperPartRequest) []models.PaperPart {
	parts := make([]models.PaperPart, 0, len(reqs))
	for _, pr := range reqs {
		part := models.PaperPart{
			Label:             pr.Label,
			Title:             pr.Title,
			Order:             pr.Order,
			OptionalQuestions: pr.OptionalQuestions,
			MinRequired:       pr.MinRequired,
			Questions:         buildQuestions(pr.Questions, nil),
		}
		parts = append(parts, part)
	}
	return parts
}

func buildQuestions(reqs []validator.QuestionRequest, parentID *uint) []models.Question {
	questions := make([]models.Question, 0, len(reqs))
	for _, qr := range reqs {
		question := models.Question{
			ParentID: parentID,
			Label:    qr.Label,
			Text:     qr.Text,
			Type:     qr.Type,
			Marks:    qr.Marks,
			Order:    qr.Order,
		}
		for _, or := range qr.Options {
			question.Options = append(question.Options, models.QuestionOption{
				Text:      or.Text,
				Order:     or.Order,
				IsCorrect: or.IsCorrect,
			})
		}
		question.SubQuestions = buildQuestions(qr.SubQuestions, nil)
		questions = append(questions, question)
	}
	return questions
}

// sanitizePaper deep-copies a paper and removes everything a student must
// not see while the session runs, which today is the IsCorrect flag on
// options.
func sanitizePaper(paper *models.ExamPaper) *models.ExamPaper {
	clean := *paper
	clean.Parts = make([]models.PaperPart, len(paper.Parts))
	for pi, part := range paper.Parts {
		cleanPart := part
		cleanPart.Questions = sanitizeQuestions(part.Questions)
		clean.Parts[pi] = cleanPart
	}
	return &clean
}

func sanitizeQuestions(questions []models.Question) []models.Question {
	cleaned := make([]models.Question, len(questions))
	for qi, question := range questions {
		cleanQuestion := question
		cleanQuestion.Options = make([]models.QuestionOption, len(question.Options))
		for oi, option := range question.Options {
			cleanOption := option
			cleanOption.IsCorrect = false
			cleanQuestion.Options[oi] = cleanOption
		}
		cleanQuestion.SubQuestions = sanitizeQuestions(question.SubQuestions)
		cleaned[qi] = cleanQuestion
	}
	return cleaned
}
