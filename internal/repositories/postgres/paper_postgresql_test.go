package postgres

import (
	"testing"

	"github.com/campus-exams/exam-service/internal/models"
)

func TestSubQuestionPartFixups(t *testing.T) {
	parentID := uint(20)

	structured := models.Question{
		Type: models.Structured,
		SubQuestions: []models.Question{
			{Type: models.TrueFalse, ParentID: &parentID},
			{Type: models.ShortAnswer, ParentID: &parentID},
		},
	}
	structured.ID = 20
	structured.PartID = 7
	structured.SubQuestions[0].ID = 21
	structured.SubQuestions[1].ID = 22

	plain := models.Question{Type: models.MultipleChoice}
	plain.ID = 30
	plain.PartID = 8

	parts := []models.PaperPart{
		{Questions: []models.Question{structured}},
		{Questions: []models.Question{plain}},
	}
	parts[0].ID = 7
	parts[1].ID = 8

	fixups := subQuestionPartFixups(parts)

	t.Run("sub-questions are stamped with their part", func(t *testing.T) {
		ids := fixups[7]
		if len(ids) != 2 {
			t.Fatalf("fixups for part 7 = %v, want ids 21 and 22", ids)
		}
		for _, sub := range parts[0].Questions[0].SubQuestions {
			if sub.PartID != 7 {
				t.Errorf("sub-question %d part = %d, want 7", sub.ID, sub.PartID)
			}
		}
	})

	t.Run("questions already carrying part_id are untouched", func(t *testing.T) {
		if _, ok := fixups[8]; ok {
			t.Errorf("fixups for part 8 = %v, want none", fixups[8])
		}
	})
}
