package repositories

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
)

// IsNotFoundError reports whether an error means the record does not exist.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ===== SHARED FILTER STRUCTS =====

type PaperFilters struct {
	Status       *models.PaperStatus  `json:"status"`
	DeliveryMode *models.DeliveryMode `json:"delivery_mode"`
	CreatedBy    *string              `json:"created_by"`
	DateFrom     *time.Time           `json:"date_from"`
	DateTo       *time.Time           `json:"date_to"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
	SortBy       string               `json:"sort_by"`    // "created_at", "title", "status"
	SortOrder    string               `json:"sort_order"` // "asc", "desc"
}

type RegistrationFilters struct {
	Status    *models.RegistrationStatus `json:"status"`
	PaperID   *uint                      `json:"paper_id"`
	StudentID *string                    `json:"student_id"`
	DateFrom  *time.Time                 `json:"date_from"`
	DateTo    *time.Time                 `json:"date_to"`
	Limit     int                        `json:"limit"`
	Offset    int                        `json:"offset"`
	SortBy    string                     `json:"sort_by"`
	SortOrder string                     `json:"sort_order"`
}

type AnswerFilters struct {
	QuestionID *uint      `json:"question_id"`
	IsMarked   *bool      `json:"is_marked"`
	MarkedBy   *string    `json:"marked_by"`
	DateFrom   *time.Time `json:"date_from"`
	DateTo     *time.Time `json:"date_to"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// ===== SHARED HELPER STRUCTS =====

// AnswerMark carries one manual marking decision.
type AnswerMark struct {
	ID       uint    `json:"answer_id"`
	Marks    float64 `json:"marks"`
	Feedback *string `json:"feedback"`
	MarkerID string  `json:"marker_id"`
}

// ===== SHARED STATISTICS STRUCTS =====

type PaperStats struct {
	TotalRegistrations int     `json:"total_registrations"`
	SubmittedCount     int     `json:"submitted_count"`
	InProgressCount    int     `json:"in_progress_count"`
	ExpiredCount       int     `json:"expired_count"`
	AverageMarks       float64 `json:"average_marks"`
	CompletionRate     float64 `json:"completion_rate"`
}

type MarkingStats struct {
	TotalAnswers   int     `json:"total_answers"`
	MarkedAnswers  int     `json:"marked_answers"`
	PendingAnswers int     `json:"pending_answers"`
	AutoMarked     int     `json:"auto_marked"`
	ManualMarked   int     `json:"manual_marked"`
	AverageMarks   float64 `json:"average_marks"`
}
