package models

import (
	"time"

	"gorm.io/gorm"
)

type DeliveryMode string

const (
	DeliveryOnline DeliveryMode = "online"
	DeliveryPaper  DeliveryMode = "paper"
)

type PaperStatus string

const (
	PaperDraft     PaperStatus = "Draft"
	PaperPublished PaperStatus = "Published"
	PaperArchived  PaperStatus = "Archived"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	ShortAnswer    QuestionType = "short_answer"
	LongAnswer     QuestionType = "long_answer"
	FillBlank      QuestionType = "fill_blank"
	Structured     QuestionType = "structured"
	Essay          QuestionType = "essay"
)

// IsChoice reports whether answers for this type are option selections
// rather than free text.
func (t QuestionType) IsChoice() bool {
	return t == MultipleChoice || t == TrueFalse
}

// ExamPaper is the structured exam document: parts, questions, options.
// Immutable for the lifetime of a session once fetched.
type ExamPaper struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	Title        string       `json:"title" gorm:"not null;size:200;index" validate:"required,min=1,max=200"`
	Instructions *string      `json:"instructions" gorm:"type:text" validate:"omitempty,max=5000"`
	Duration     int          `json:"duration" gorm:"not null" validate:"required,min=5,max=300"` // minutes
	TotalMarks   int          `json:"total_marks" gorm:"not null" validate:"required,min=1"`
	DeliveryMode DeliveryMode `json:"delivery_mode" gorm:"default:online;index" validate:"omitempty,oneof=online paper"`
	Status       PaperStatus  `json:"status" gorm:"default:Draft;index" validate:"omitempty,oneof=Draft Published Archived"`

	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Parts         []PaperPart    `json:"parts" gorm:"foreignKey:PaperID"`
	Registrations []Registration `json:"-" gorm:"foreignKey:PaperID"`
	Creator       User           `json:"-" gorm:"foreignKey:CreatedBy"`
}

// PaperPart groups questions; an optional part lets students answer
// MinRequired of its questions.
type PaperPart struct {
	ID      uint   `json:"id" gorm:"primaryKey"`
	PaperID uint   `json:"paper_id" gorm:"not null;index"`
	Label   string `json:"label" gorm:"not null;size:20" validate:"required,max=20"` // "A", "B", ...
	Title   string `json:"title" gorm:"size:200" validate:"omitempty,max=200"`
	Order   int    `json:"order" gorm:"not null;default:0"`

	OptionalQuestions bool `json:"optional_questions" gorm:"default:false"`
	MinRequired       int  `json:"min_required" gorm:"default:0"` // answer N of M when optional

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []Question `json:"questions" gorm:"foreignKey:PartID"`
}

// Question may carry nested sub-questions one level deep via ParentID.
// Numbering is 1-based in declared part -> question order; sub-questions
// are labeled within their parent.
type Question struct {
	ID       uint         `json:"id" gorm:"primaryKey"`
	PartID   uint         `json:"part_id" gorm:"not null;index"`
	ParentID *uint        `json:"parent_id" gorm:"index"`
	Label    string       `json:"label" gorm:"size:20"` // "1", "2a", ...
	Text     string       `json:"text" gorm:"type:text;not null" validate:"required,max=5000"`
	Type     QuestionType `json:"type" gorm:"not null;index" validate:"required,oneof=multiple_choice true_false short_answer long_answer fill_blank structured essay"`
	Marks    int          `json:"marks" gorm:"not null;default:1" validate:"min=0,max=100"`
	Order    int          `json:"order" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Options      []QuestionOption `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
	SubQuestions []Question       `json:"sub_questions,omitempty" gorm:"foreignKey:ParentID"`
}

// QuestionOption belongs to a choice-type question. IsCorrect is answer-key
// data and must never reach a student while their session is in progress.
type QuestionOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	QuestionID uint   `json:"question_id" gorm:"not null;index"`
	Text       string `json:"text" gorm:"type:text;not null" validate:"required,max=1000"`
	Order      int    `json:"order" gorm:"not null;default:0"`
	IsCorrect  bool   `json:"is_correct,omitempty" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
}

func (ExamPaper) TableName() string {
	return "exam_papers"
}

func (PaperPart) TableName() string {
	return "paper_parts"
}
