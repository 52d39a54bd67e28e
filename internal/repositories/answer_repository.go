package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
)

// AnswerRepository interface for student answer operations
type AnswerRepository interface {
	// Upsert persists one answer keyed by (registration, question). A row
	// carrying an older revision than the stored one is silently dropped, so
	// out-of-order saves cannot roll an answer back.
	Upsert(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error
	UpsertBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error

	// ReplaceForRegistration replaces the stored answer set at submission:
	// rows absent from the new set are removed, present ones upserted.
	ReplaceForRegistration(ctx context.Context, tx *gorm.DB, registrationID uint, answers []*models.StudentAnswer) error

	// Query operations
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentAnswer, error)
	GetByRegistration(ctx context.Context, tx *gorm.DB, registrationID uint) ([]*models.StudentAnswer, error)
	GetByRegistrationAndQuestion(ctx context.Context, tx *gorm.DB, registrationID, questionID uint) (*models.StudentAnswer, error)
	GetByQuestion(ctx context.Context, tx *gorm.DB, questionID uint, filters AnswerFilters) ([]*models.StudentAnswer, int64, error)
	CountByRegistration(ctx context.Context, tx *gorm.DB, registrationID uint) (int64, error)

	// Marking operations
	ApplyMark(ctx context.Context, tx *gorm.DB, mark AnswerMark) error
	ApplyMarkBatch(ctx context.Context, tx *gorm.DB, marks []AnswerMark) error
	ApplyAutoMark(ctx context.Context, tx *gorm.DB, answerID uint, marks float64, isCorrect bool) error
	GetPendingMarking(ctx context.Context, tx *gorm.DB, paperID uint, filters AnswerFilters) ([]*models.StudentAnswer, int64, error)

	// Statistics
	SumMarksByRegistrations(ctx context.Context, tx *gorm.DB, registrationIDs []uint) (map[uint]float64, error)
	GetMarkingStats(ctx context.Context, tx *gorm.DB, paperID uint) (*MarkingStats, error)
}
