package validator

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campus-exams/exam-service/internal/models"
)

// ValidationError represents a single field failure.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Validator wraps go-playground/validator with exam-domain rules.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with the custom domain rules registered.
func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerDomainRules()

	return v
}

// Validate validates a struct; returns nil when all rules pass.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	return ToValidationErrors(err)
}

// ToValidationErrors converts validator.ValidationErrors into the domain type.
func ToValidationErrors(err error) ValidationErrors {
	var errors ValidationErrors
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return ValidationErrors{{Field: "request", Message: err.Error()}}
	}
	for _, fe := range fieldErrors {
		errors = append(errors, ValidationError{
			Field:   fe.Field(),
			Message: messageFor(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return errors
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "paper_duration":
		return "must be between 5 and 300 minutes"
	case "future_time":
		return "must be in the future"
	default:
		return fmt.Sprintf("failed rule %q", fe.Tag())
	}
}

func (v *Validator) registerDomainRules() {
	_ = v.validate.RegisterValidation("paper_duration", func(fl validator.FieldLevel) bool {
		d := fl.Field().Int()
		return d >= 5 && d <= 300
	})

	_ = v.validate.RegisterValidation("future_time", func(fl validator.FieldLevel) bool {
		t, ok := fl.Field().Interface().(time.Time)
		if !ok {
			return false
		}
		return t.After(time.Now())
	})
}

// ValidateSessionStart checks that a registration may transition into a
// running session at the given time.
func (v *Validator) ValidateSessionStart(reg *models.Registration, paper *models.ExamPaper, now time.Time) ValidationErrors {
	var errors ValidationErrors

	if paper.Status != models.PaperPublished {
		errors = append(errors, ValidationError{
			Field:   "paper_status",
			Message: "paper is not published",
			Value:   paper.Status,
			Rule:    "business_logic",
		})
	}

	if reg.Status != models.RegistrationRegistered {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: "registration is not eligible to start",
			Value:   reg.Status,
			Rule:    "business_logic",
		})
	}

	if !reg.InStartWindow(now) {
		errors = append(errors, ValidationError{
			Field:   "window",
			Message: "current time is outside the eligible start window",
			Rule:    "business_logic",
		})
	}

	if reg.EnrollmentKey != "" && !reg.KeyVerified {
		errors = append(errors, ValidationError{
			Field:   "enrollment_key",
			Message: "enrollment key has not been verified",
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateAnswerType checks that a submitted answer fits the question's type:
// choice questions take an option selection, free-text questions take text.
func (v *Validator) ValidateAnswerType(question *models.Question, answerType models.QuestionType) ValidationErrors {
	var errors ValidationErrors

	if question.Type != answerType {
		errors = append(errors, ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("answer type %q does not match question type %q", answerType, question.Type),
			Value:   answerType,
			Rule:    "business_logic",
		})
	}

	return errors
}
