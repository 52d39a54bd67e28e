package services

import (
	"errors"
	"testing"
	"time"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/validator"
)

func TestIndexQuestions(t *testing.T) {
	paper := &models.ExamPaper{
		Parts: []models.PaperPart{
			{
				Label: "A",
				Questions: []models.Question{
					{ID: 1, Type: models.MultipleChoice},
					{
						ID:   2,
						Type: models.Structured,
						SubQuestions: []models.Question{
							{ID: 3, Type: models.ShortAnswer},
							{ID: 4, Type: models.TrueFalse},
						},
					},
				},
			},
			{
				Label: "B",
				Questions: []models.Question{
					{ID: 5, Type: models.Essay},
				},
			},
		},
	}

	index := indexQuestions(paper)

	if len(index) != 5 {
		t.Fatalf("indexed %d questions, want 5", len(index))
	}
	for _, id := range []uint{1, 2, 3, 4, 5} {
		if _, ok := index[id]; !ok {
			t.Errorf("question %d missing from index", id)
		}
	}
	if index[3].Type != models.ShortAnswer {
		t.Errorf("sub-question 3 type = %q", index[3].Type)
	}
	if _, ok := index[99]; ok {
		t.Error("unknown id present in index")
	}
}

func TestSessionService_RemoveSession(t *testing.T) {
	start := time.Now()
	end := start.Add(time.Hour)
	rt := testRuntime(t, &fakeBackend{}, start, end)

	s := &sessionService{
		logger:   testLogger(),
		sessions: map[uint]*liveSession{rt.registrationID: {runtime: rt}},
	}

	t.Run("evicts the entry and stops the runtime", func(t *testing.T) {
		s.removeSession(rt.registrationID)

		s.mu.Lock()
		_, ok := s.sessions[rt.registrationID]
		s.mu.Unlock()
		if ok {
			t.Error("session still present after removal")
		}

		select {
		case <-rt.stopCh:
		default:
			t.Error("runtime not stopped after removal")
		}
	})

	t.Run("unknown registration is a no-op", func(t *testing.T) {
		s.removeSession(999)
	})
}

func TestStartValidationError(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  error
	}{
		{"unpublished paper", "paper_status", ErrPaperNotPublished},
		{"outside the start window", "window", ErrOutsideStartWindow},
		{"unverified enrollment key", "enrollment_key", ErrKeyNotVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verrs := validator.ValidationErrors{{Field: tt.field, Rule: "business_logic"}}
			if err := startValidationError(verrs); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("other failures keep the validation errors", func(t *testing.T) {
		verrs := validator.ValidationErrors{{Field: "status", Rule: "business_logic"}}
		err := startValidationError(verrs)
		var got validator.ValidationErrors
		if !errors.As(err, &got) || len(got) != 1 {
			t.Errorf("err = %v, want the original validation errors", err)
		}
	})
}
