package validator

import (
	"time"

	"github.com/campus-exams/exam-service/internal/models"
)

// PaperCreateRequest is the coordinator-facing payload for authoring a paper.
type PaperCreateRequest struct {
	Title        string              `json:"title" validate:"required,min=1,max=200"`
	Instructions *string             `json:"instructions" validate:"omitempty,max=5000"`
	Duration     int                 `json:"duration" validate:"required,paper_duration"`
	TotalMarks   int                 `json:"total_marks" validate:"required,min=1"`
	DeliveryMode models.DeliveryMode `json:"delivery_mode" validate:"omitempty,oneof=online paper"`
	Parts        []PaperPartRequest  `json:"parts" validate:"omitempty,dive"`
}

type PaperUpdateRequest struct {
	Title        *string              `json:"title" validate:"omitempty,min=1,max=200"`
	Instructions *string              `json:"instructions" validate:"omitempty,max=5000"`
	Duration     *int                 `json:"duration" validate:"omitempty,paper_duration"`
	TotalMarks   *int                 `json:"total_marks" validate:"omitempty,min=1"`
	DeliveryMode *models.DeliveryMode `json:"delivery_mode" validate:"omitempty,oneof=online paper"`
}

type PaperPartRequest struct {
	Label             string            `json:"label" validate:"required,max=20"`
	Title             string            `json:"title" validate:"omitempty,max=200"`
	Order             int               `json:"order" validate:"min=0"`
	OptionalQuestions bool              `json:"optional_questions"`
	MinRequired       int               `json:"min_required" validate:"min=0"`
	Questions         []QuestionRequest `json:"questions" validate:"omitempty,dive"`
}

type QuestionRequest struct {
	Label        string              `json:"label" validate:"omitempty,max=20"`
	Text         string              `json:"text" validate:"required,max=5000"`
	Type         models.QuestionType `json:"type" validate:"required,oneof=multiple_choice true_false short_answer long_answer fill_blank structured essay"`
	Marks        int                 `json:"marks" validate:"min=0,max=100"`
	Order        int                 `json:"order" validate:"min=0"`
	Options      []OptionRequest     `json:"options" validate:"omitempty,max=10,dive"`
	SubQuestions []QuestionRequest   `json:"sub_questions" validate:"omitempty,dive"`
}

type OptionRequest struct {
	Text      string `json:"text" validate:"required,max=1000"`
	Order     int    `json:"order" validate:"min=0"`
	IsCorrect bool   `json:"is_correct"`
}

// RegistrationCreateRequest enrolls a student into an exam session.
type RegistrationCreateRequest struct {
	PaperID       uint      `json:"paper_id" validate:"required"`
	StudentID     string    `json:"student_id" validate:"required"`
	WindowStart   time.Time `json:"window_start" validate:"required"`
	WindowEnd     time.Time `json:"window_end" validate:"required,gtfield=WindowStart"`
	EnrollmentKey string    `json:"enrollment_key" validate:"omitempty,min=4,max=64"`
}

// VerifyKeyRequest carries the enrollment key a student types in.
type VerifyKeyRequest struct {
	Key string `json:"key" validate:"required,min=4,max=64"`
}
