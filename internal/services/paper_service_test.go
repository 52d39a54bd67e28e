package services

import (
	"testing"

	"github.com/campus-exams/exam-service/internal/models"
)

func TestSanitizePaper(t *testing.T) {
	paper := &models.ExamPaper{
		Title:    "Biology Midterm",
		Duration: 90,
		Status:   models.PaperPublished,
		Parts: []models.PaperPart{
			{
				Label: "A",
				Questions: []models.Question{
					{
						ID:   1,
						Type: models.MultipleChoice,
						Text: "Which organelle performs photosynthesis?",
						Options: []models.QuestionOption{
							{ID: 10, Text: "Chloroplast", IsCorrect: true},
							{ID: 11, Text: "Mitochondrion", IsCorrect: false},
						},
					},
					{
						ID:   2,
						Type: models.Structured,
						Text: "Cell biology",
						SubQuestions: []models.Question{
							{
								ID:   3,
								Type: models.TrueFalse,
								Options: []models.QuestionOption{
									{ID: 12, Text: "True", IsCorrect: true},
									{ID: 13, Text: "False", IsCorrect: false},
								},
							},
						},
					},
				},
			},
		},
	}

	clean := sanitizePaper(paper)

	t.Run("answer key is stripped everywhere", func(t *testing.T) {
		for _, part := range clean.Parts {
			for _, question := range part.Questions {
				for _, option := range question.Options {
					if option.IsCorrect {
						t.Errorf("option %d still marked correct", option.ID)
					}
				}
				for _, sub := range question.SubQuestions {
					for _, option := range sub.Options {
						if option.IsCorrect {
							t.Errorf("sub-question option %d still marked correct", option.ID)
						}
					}
				}
			}
		}
	})

	t.Run("original paper is untouched", func(t *testing.T) {
		if !paper.Parts[0].Questions[0].Options[0].IsCorrect {
			t.Error("sanitizing mutated the source paper")
		}
		if !paper.Parts[0].Questions[1].SubQuestions[0].Options[0].IsCorrect {
			t.Error("sanitizing mutated a source sub-question")
		}
	})

	t.Run("question content survives", func(t *testing.T) {
		if clean.Parts[0].Questions[0].Text != "Which organelle performs photosynthesis?" {
			t.Error("question text lost during sanitizing")
		}
		if len(clean.Parts[0].Questions[0].Options) != 2 {
			t.Error("options lost during sanitizing")
		}
	})
}

func TestMarkingService_IsChoiceCorrect(t *testing.T) {
	s := &markingService{}
	question := &models.Question{
		ID:    1,
		Type:  models.MultipleChoice,
		Marks: 2,
		Options: []models.QuestionOption{
			{ID: 10, Text: "Chloroplast", IsCorrect: true},
			{ID: 11, Text: "Mitochondrion", IsCorrect: false},
		},
	}

	cases := []struct {
		name  string
		value string
		want  bool
	}{
		{"correct option", "10", true},
		{"wrong option", "11", false},
		{"unknown option", "99", false},
		{"non-numeric value", "chloroplast", false},
		{"empty value", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer := &models.StudentAnswer{QuestionID: 1, Value: tc.value}
			if got := s.isChoiceCorrect(question, answer); got != tc.want {
				t.Errorf("isChoiceCorrect(%q) = %v, want %v", tc.value, got, tc.want)
			}
		})
	}
}
