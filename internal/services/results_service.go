package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/repositories"
)

type resultsService struct {
	repo   repositories.Repository
	db     *gorm.DB
	logger *slog.Logger
}

func NewResultsService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger) ResultsService {
	return &resultsService{
		repo:   repo,
		db:     db,
		logger: logger,
	}
}

func (s *resultsService) GetPaperResults(ctx context.Context, paperID uint, userID string) (*PaperResultsResponse, error) {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.Role.CanMark() {
		return nil, NewPermissionError(userID, "view", "paper results")
	}

	paper, err := s.repo.Paper().GetByID(ctx, nil, paperID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrPaperNotFound
		}
		return nil, fmt.Errorf("failed to get paper: %w", err)
	}

	registrations, _, err := s.repo.Registration().GetByPaper(ctx, nil, paperID, repositories.RegistrationFilters{
		SortBy:    "created_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}

	regIDs := make([]uint, 0, len(registrations))
	studentIDs := make([]string, 0, len(registrations))
	for _, registration := range registrations {
		regIDs = append(regIDs, registration.ID)
		studentIDs = append(studentIDs, registration.StudentID)
	}

	totals, err := s.repo.Answer().SumMarksByRegistrations(ctx, nil, regIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum marks: %w", err)
	}

	names := make(map[string]string)
	if users, err := s.repo.User().GetByIDs(ctx, studentIDs); err == nil {
		for _, u := range users {
			names[u.ID] = u.FullName
		}
	}

	results := make([]*StudentResult, 0, len(registrations))
	for _, registration := range registrations {
		answered, err := s.repo.Answer().CountByRegistration(ctx, nil, registration.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count answers: %w", err)
		}

		results = append(results, &StudentResult{
			RegistrationID: registration.ID,
			StudentID:      registration.StudentID,
			StudentName:    names[registration.StudentID],
			Status:         registration.Status,
			SubmitTime:     registration.ActualSubmitTime,
			SubmitReason:   registration.SubmitReason,
			AnsweredCount:  int(answered),
			TotalMarks:     totals[registration.ID],
			MaxMarks:       paper.TotalMarks,
		})
	}

	stats, err := s.repo.Paper().GetPaperStats(ctx, nil, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to load paper stats: %w", err)
	}
	markingStats, err := s.repo.Answer().GetMarkingStats(ctx, nil, paperID)
	if err != nil {
		return nil, fmt.Errorf("failed to load marking stats: %w", err)
	}

	return &PaperResultsResponse{
		PaperID:      paperID,
		PaperTitle:   paper.Title,
		Results:      results,
		Stats:        stats,
		MarkingStats: markingStats,
	}, nil
}

// ExportPaperResults renders the result sheet as an xlsx workbook and
// returns the bytes together with a suggested filename.
func (s *resultsService) ExportPaperResults(ctx context.Context, paperID uint, userID string) ([]byte, string, error) {
	response, err := s.GetPaperResults(ctx, paperID, userID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "Results"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Registration ID", "Student ID", "Student Name", "Status", "Submit Time", "Submit Reason", "Answered", "Marks", "Max Marks"}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, result := range response.Results {
		values := []interface{}{
			result.RegistrationID,
			result.StudentID,
			result.StudentName,
			string(result.Status),
			formatTime(result.SubmitTime),
			derefString(result.SubmitReason),
			result.AnsweredCount,
			result.TotalMarks,
			result.MaxMarks,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	// Summary sheet with aggregate numbers.
	summary := "Summary"
	if _, err := f.NewSheet(summary); err == nil {
		rows := [][]interface{}{
			{"Paper", response.PaperTitle},
			{"Total registrations", response.Stats.TotalRegistrations},
			{"Submitted", response.Stats.SubmittedCount},
			{"In progress", response.Stats.InProgressCount},
			{"Expired", response.Stats.ExpiredCount},
			{"Completion rate", response.Stats.CompletionRate},
			{"Average marks", response.Stats.AverageMarks},
			{"Answers pending marking", response.MarkingStats.PendingAnswers},
		}
		for ri, row := range rows {
			for ci, value := range row {
				cell, _ := excelize.CoordinatesToCellName(ci+1, ri+1)
				f.SetCellValue(summary, cell, value)
			}
		}
	}

	buffer, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("failed to render workbook: %w", err)
	}

	filename := fmt.Sprintf("paper_%d_results_%s.xlsx", paperID, time.Now().Format("20060102_150405"))

	s.logger.Info("Results exported",
		"paper_id", paperID,
		"rows", len(response.Results),
		"filename", filename)

	return buffer.Bytes(), filename, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
