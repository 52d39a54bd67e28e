package services

import (
	"errors"
	"fmt"
)

// ===== SENTINEL ERRORS =====

var (
	// Paper domain
	ErrPaperNotFound     = errors.New("exam paper not found")
	ErrPaperNotDraft     = errors.New("exam paper is not in draft state")
	ErrPaperNotPublished = errors.New("exam paper is not published")
	ErrPaperInUse        = errors.New("exam paper has registrations and cannot be deleted")
	ErrDuplicateTitle    = errors.New("exam paper with this title already exists")

	// Registration domain
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrDuplicateRegistration = errors.New("student is already registered for this paper")
	ErrInvalidEnrollmentKey  = errors.New("enrollment key is invalid")
	ErrKeyNotVerified        = errors.New("enrollment key has not been verified")
	ErrOutsideStartWindow    = errors.New("current time is outside the eligible start window")
	ErrActiveSessionExists   = errors.New("student already has a session in progress")

	// Session domain
	ErrSessionNotActive   = errors.New("session is not in progress")
	ErrSessionExpired     = errors.New("session time has expired")
	ErrAlreadySubmitted   = errors.New("session has already been submitted")
	ErrSubmitInFlight     = errors.New("a submission is already being processed")
	ErrQuestionNotInPaper = errors.New("question does not belong to this paper")

	// Marking domain
	ErrAnswerNotFound  = errors.New("answer not found")
	ErrMarksOutOfRange = errors.New("awarded marks exceed the question's maximum")

	// User domain
	ErrUserNotFound = errors.New("user not found")
)

// ===== TYPED ERRORS =====

// PermissionError signals that the caller lacks the right to perform an
// operation on a resource.
type PermissionError struct {
	UserID   string
	Action   string
	Resource string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s %s", e.UserID, e.Action, e.Resource)
}

func NewPermissionError(userID, action, resource string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action, Resource: resource}
}

// BusinessRuleError signals a domain rule violation that is not a plain
// validation failure.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

// IsPermissionError reports whether err is a permission failure.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsBusinessRuleError reports whether err is a business rule violation.
func IsBusinessRuleError(err error) bool {
	var be *BusinessRuleError
	return errors.As(err, &be)
}
