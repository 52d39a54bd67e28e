package repositories

import (
	"context"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
)

// PaperRepository interface for exam paper operations
type PaperRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, paper *models.ExamPaper) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamPaper, error)
	GetByIDWithStructure(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamPaper, error) // Include parts, questions, options
	Update(ctx context.Context, tx *gorm.DB, paper *models.ExamPaper) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Structure management
	ReplaceParts(ctx context.Context, tx *gorm.DB, paperID uint, parts []models.PaperPart) error
	GetQuestionsByPaper(ctx context.Context, tx *gorm.DB, paperID uint) ([]*models.Question, error)

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters PaperFilters) ([]*models.ExamPaper, int64, error)
	GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters PaperFilters) ([]*models.ExamPaper, int64, error)

	// Status management
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.PaperStatus) error

	// Validation and checks
	ExistsByTitle(ctx context.Context, tx *gorm.DB, title string, creatorID string, excludeID *uint) (bool, error)
	HasRegistrations(ctx context.Context, tx *gorm.DB, id uint) (bool, error)

	// Statistics
	GetPaperStats(ctx context.Context, tx *gorm.DB, id uint) (*PaperStats, error)
}
