package models

import (
	"time"

	"gorm.io/datatypes"
)

// StudentAnswer is the persisted value for one question in one registration.
// Value holds a selected option id for choice types, raw text for free-text
// types, or a JSON payload for structured/fill-blank responses. Revision is a
// per-question edit counter: a save carrying an older revision must never
// overwrite a newer one (last write wins by edit order, not network order).
type StudentAnswer struct {
	ID             uint `json:"id" gorm:"primaryKey"`
	RegistrationID uint `json:"registration_id" gorm:"not null;index:idx_registration_question,unique"`
	QuestionID     uint `json:"question_id" gorm:"not null;index:idx_registration_question,unique"`

	Type     QuestionType   `json:"type" gorm:"not null"`
	Value    string         `json:"value" gorm:"type:text"`
	Payload  datatypes.JSON `json:"payload,omitempty" gorm:"type:jsonb"` // structured / fill-blank values
	Revision int64          `json:"revision" gorm:"not null;default:0"`
	SavedAt  time.Time      `json:"saved_at"`

	// Marking (never exposed while the session is in progress)
	MarksAwarded *float64   `json:"marks_awarded,omitempty"`
	IsCorrect    *bool      `json:"is_correct,omitempty"` // nil for manually marked types
	MarkedBy     *string    `json:"marked_by,omitempty" gorm:"size:255"`
	MarkedAt     *time.Time `json:"marked_at,omitempty"`
	Feedback     *string    `json:"feedback,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Registration Registration `json:"-" gorm:"foreignKey:RegistrationID"`
	Question     Question     `json:"-" gorm:"foreignKey:QuestionID"`
}

// IsEmpty reports whether the answer carries no student input.
func (a *StudentAnswer) IsEmpty() bool {
	return a.Value == "" && len(a.Payload) == 0
}
