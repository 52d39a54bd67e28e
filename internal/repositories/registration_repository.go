package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
)

// RegistrationRepository interface for exam registration operations
type RegistrationRepository interface {
	// Basic CRUD operations
	Create(ctx context.Context, tx *gorm.DB, registration *models.Registration) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Registration, error)
	GetByIDWithPaper(ctx context.Context, tx *gorm.DB, id uint) (*models.Registration, error) // Include full paper structure
	Update(ctx context.Context, tx *gorm.DB, registration *models.Registration) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error

	// Query operations
	List(ctx context.Context, tx *gorm.DB, filters RegistrationFilters) ([]*models.Registration, int64, error)
	GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters RegistrationFilters) ([]*models.Registration, int64, error)
	GetByPaper(ctx context.Context, tx *gorm.DB, paperID uint, filters RegistrationFilters) ([]*models.Registration, int64, error)
	GetByStudentAndPaper(ctx context.Context, tx *gorm.DB, studentID string, paperID uint) (*models.Registration, error)

	// Session transitions. MarkSubmitted only touches rows whose submit time
	// is still unset and reports whether this call won the write, which gives
	// the exactly-once guarantee at the storage layer.
	MarkStarted(ctx context.Context, tx *gorm.DB, id uint, startTime, endTime time.Time) error
	MarkSubmitted(ctx context.Context, tx *gorm.DB, id uint, submitTime time.Time, reason string) (bool, error)
	MarkExpired(ctx context.Context, tx *gorm.DB, id uint) error
	UpdateActivity(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error
	SetKeyVerified(ctx context.Context, tx *gorm.DB, id uint) error

	// Recovery: sessions whose deadline passed while no process owned them
	GetOverdueInProgress(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Registration, error)

	// Validation and checks
	ExistsByStudentAndPaper(ctx context.Context, tx *gorm.DB, studentID string, paperID uint) (bool, error)
	HasActiveSession(ctx context.Context, tx *gorm.DB, studentID string) (bool, error)

	// Statistics
	CountByPaper(ctx context.Context, tx *gorm.DB, paperID uint) (int64, error)
	GetStatusBreakdown(ctx context.Context, tx *gorm.DB, paperID uint) (map[models.RegistrationStatus]int, error)
}
