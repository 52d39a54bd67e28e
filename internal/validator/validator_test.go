package validator

import (
	"testing"
	"time"

	"github.com/campus-exams/exam-service/internal/models"
)

func TestValidator_PaperCreateRequest(t *testing.T) {
	v := New()

	t.Run("valid request", func(t *testing.T) {
		req := &PaperCreateRequest{
			Title:      "Physics Final",
			Duration:   120,
			TotalMarks: 100,
		}
		if err := v.Validate(req); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("missing title", func(t *testing.T) {
		req := &PaperCreateRequest{Duration: 120, TotalMarks: 100}
		if err := v.Validate(req); err == nil {
			t.Error("Validate accepted a request without a title")
		}
	})

	t.Run("duration out of range", func(t *testing.T) {
		req := &PaperCreateRequest{Title: "Quiz", Duration: 2, TotalMarks: 10}
		err := v.Validate(req)
		if err == nil {
			t.Fatal("Validate accepted a 2 minute duration")
		}
		errs, ok := err.(ValidationErrors)
		if !ok || len(errs) == 0 {
			t.Fatalf("err = %T, want ValidationErrors", err)
		}
	})
}

func TestValidator_ValidateSessionStart(t *testing.T) {
	v := New()
	now := time.Now()

	paper := &models.ExamPaper{Status: models.PaperPublished, Duration: 90}
	base := models.Registration{
		Status:      models.RegistrationRegistered,
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now.Add(time.Hour),
	}

	t.Run("eligible registration", func(t *testing.T) {
		reg := base
		if errs := v.ValidateSessionStart(&reg, paper, now); len(errs) != 0 {
			t.Errorf("errors = %v, want none", errs)
		}
	})

	t.Run("unpublished paper", func(t *testing.T) {
		reg := base
		draft := &models.ExamPaper{Status: models.PaperDraft, Duration: 90}
		if errs := v.ValidateSessionStart(&reg, draft, now); len(errs) == 0 {
			t.Error("start allowed against a draft paper")
		}
	})

	t.Run("outside the window", func(t *testing.T) {
		reg := base
		if errs := v.ValidateSessionStart(&reg, paper, now.Add(2*time.Hour)); len(errs) == 0 {
			t.Error("start allowed outside the window")
		}
	})

	t.Run("unverified enrollment key", func(t *testing.T) {
		reg := base
		reg.EnrollmentKey = "secret"
		if errs := v.ValidateSessionStart(&reg, paper, now); len(errs) == 0 {
			t.Error("start allowed with an unverified key")
		}
	})

	t.Run("verified key passes", func(t *testing.T) {
		reg := base
		reg.EnrollmentKey = "secret"
		reg.KeyVerified = true
		if errs := v.ValidateSessionStart(&reg, paper, now); len(errs) != 0 {
			t.Errorf("errors = %v, want none", errs)
		}
	})

	t.Run("already started", func(t *testing.T) {
		reg := base
		reg.Status = models.RegistrationInProgress
		if errs := v.ValidateSessionStart(&reg, paper, now); len(errs) == 0 {
			t.Error("start allowed for an in-progress registration")
		}
	})
}

func TestValidator_ValidateAnswerType(t *testing.T) {
	v := New()
	question := &models.Question{Type: models.MultipleChoice}

	if errs := v.ValidateAnswerType(question, models.MultipleChoice); len(errs) != 0 {
		t.Errorf("matching type rejected: %v", errs)
	}
	if errs := v.ValidateAnswerType(question, models.Essay); len(errs) == 0 {
		t.Error("mismatched answer type accepted")
	}
}
