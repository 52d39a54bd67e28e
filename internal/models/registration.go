package models

import (
	"time"

	"gorm.io/gorm"
)

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationInProgress RegistrationStatus = "in_progress"
	RegistrationSubmitted  RegistrationStatus = "submitted"
	RegistrationExpired    RegistrationStatus = "expired"
	RegistrationCancelled  RegistrationStatus = "cancelled"
)

const (
	SubmitReasonManual  = "manual"
	SubmitReasonTimeout = "time_out"
)

// Registration links a student to one exam session. Once ActualSubmitTime is
// set, no further answer mutation or timer activity is permitted.
type Registration struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	PaperID   uint   `json:"paper_id" gorm:"not null;index"`
	StudentID string `json:"student_id" gorm:"not null;index;size:255"`

	Status        RegistrationStatus `json:"status" gorm:"default:registered;index"`
	EnrollmentKey string             `json:"-" gorm:"size:64"`
	KeyVerified   bool               `json:"key_verified" gorm:"default:false"`

	// Eligible start window
	WindowStart time.Time `json:"window_start" gorm:"not null"`
	WindowEnd   time.Time `json:"window_end" gorm:"not null"`

	// Session timing
	ExamStartTime    *time.Time `json:"exam_start_time"`
	ExamEndTime      *time.Time `json:"exam_end_time"`
	ActualSubmitTime *time.Time `json:"actual_submit_time"`
	LastActivityAt   *time.Time `json:"last_activity_at"`
	SubmitReason     *string    `json:"submit_reason" gorm:"size:20"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Paper   ExamPaper       `json:"-" gorm:"foreignKey:PaperID"`
	Student User            `json:"-" gorm:"foreignKey:StudentID"`
	Answers []StudentAnswer `json:"-" gorm:"foreignKey:RegistrationID"`
}

// IsSubmitted reports whether a submission has been recorded.
func (r *Registration) IsSubmitted() bool {
	return r.ActualSubmitTime != nil
}

// TimeRemaining returns whole seconds until the exam end, clamped at zero.
func (r *Registration) TimeRemaining(now time.Time) int {
	if r.ExamEndTime == nil {
		return 0
	}
	remaining := int(r.ExamEndTime.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// InStartWindow reports whether the session may start at the given time.
func (r *Registration) InStartWindow(now time.Time) bool {
	return !now.Before(r.WindowStart) && !now.After(r.WindowEnd)
}

// ExamStatus is the server-derived session state read by clients. Read-only
// from the session controller's perspective.
type ExamStatus struct {
	RegistrationID       uint               `json:"registration_id"`
	Status               RegistrationStatus `json:"status"`
	ExamStartTime        *time.Time         `json:"exam_start_time"`
	ExamEndTime          *time.Time         `json:"exam_end_time"`
	TimeRemainingSeconds int                `json:"time_remaining_seconds"`
	CanStart             bool               `json:"can_start"`
	DeliveryMode         DeliveryMode       `json:"delivery_mode"`
	AnsweredCount        int                `json:"answered_count"`
}
