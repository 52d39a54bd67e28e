package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/cache"
	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
)

// RegistrationPostgreSQL implements RegistrationRepository. Session
// transitions are plain UPDATEs guarded by WHERE clauses so that two
// concurrent callers cannot both win the same transition.
type RegistrationPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	helpers      *SharedHelpers
}

func NewRegistrationPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.RegistrationRepository {
	return &RegistrationPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
		helpers:      NewSharedHelpers(db),
	}
}

func (r *RegistrationPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *RegistrationPostgreSQL) invalidate(ctx context.Context, id uint) {
	_ = r.cacheManager.Registration.Delete(ctx, fmt.Sprintf("id:%d", id))
}

// ===== BASIC CRUD =====

func (r *RegistrationPostgreSQL) Create(ctx context.Context, tx *gorm.DB, registration *models.Registration) error {
	db := r.getDB(tx)
	return db.WithContext(ctx).Create(registration).Error
}

func (r *RegistrationPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Registration, error) {
	db := r.getDB(tx)

	var registration models.Registration
	err := db.WithContext(ctx).First(&registration, id).Error
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

func (r *RegistrationPostgreSQL) GetByIDWithPaper(ctx context.Context, tx *gorm.DB, id uint) (*models.Registration, error) {
	db := r.getDB(tx)

	var registration models.Registration
	err := db.WithContext(ctx).
		Preload("Paper").
		Preload("Paper.Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("paper_parts.order ASC")
		}).
		Preload("Paper.Parts.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Where("parent_id IS NULL").Order("questions.order ASC")
		}).
		Preload("Paper.Parts.Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_options.order ASC")
		}).
		Preload("Paper.Parts.Questions.SubQuestions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.order ASC")
		}).
		Preload("Paper.Parts.Questions.SubQuestions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_options.order ASC")
		}).
		First(&registration, id).Error
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

func (r *RegistrationPostgreSQL) Update(ctx context.Context, tx *gorm.DB, registration *models.Registration) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Save(registration).Error; err != nil {
		return err
	}
	r.invalidate(ctx, registration.ID)
	return nil
}

func (r *RegistrationPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)
	if err := db.WithContext(ctx).Delete(&models.Registration{}, id).Error; err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// ===== QUERY OPERATIONS =====

func (r *RegistrationPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.RegistrationFilters) ([]*models.Registration, int64, error) {
	db := r.getDB(tx)

	query := db.WithContext(ctx).Model(&models.Registration{})
	query = r.helpers.ApplyRegistrationFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var registrations []*models.Registration
	query = r.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&registrations).Error; err != nil {
		return nil, 0, err
	}

	return registrations, total, nil
}

func (r *RegistrationPostgreSQL) GetByStudent(ctx context.Context, tx *gorm.DB, studentID string, filters repositories.RegistrationFilters) ([]*models.Registration, int64, error) {
	filters.StudentID = &studentID
	return r.List(ctx, tx, filters)
}

func (r *RegistrationPostgreSQL) GetByPaper(ctx context.Context, tx *gorm.DB, paperID uint, filters repositories.RegistrationFilters) ([]*models.Registration, int64, error) {
	filters.PaperID = &paperID
	return r.List(ctx, tx, filters)
}

func (r *RegistrationPostgreSQL) GetByStudentAndPaper(ctx context.Context, tx *gorm.DB, studentID string, paperID uint) (*models.Registration, error) {
	db := r.getDB(tx)

	var registration models.Registration
	err := db.WithContext(ctx).
		Where("student_id = ? AND paper_id = ?", studentID, paperID).
		First(&registration).Error
	if err != nil {
		return nil, err
	}
	return &registration, nil
}

// ===== SESSION TRANSITIONS =====

// MarkStarted moves a registration into in_progress. Only rows still in
// registered state transition, so a double start is a no-op reported as
// not found.
func (r *RegistrationPostgreSQL) MarkStarted(ctx context.Context, tx *gorm.DB, id uint, startTime, endTime time.Time) error {
	db := r.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND status = ?", id, models.RegistrationRegistered).
		Updates(map[string]interface{}{
			"status":           models.RegistrationInProgress,
			"exam_start_time":  startTime,
			"exam_end_time":    endTime,
			"last_activity_at": startTime,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	r.invalidate(ctx, id)
	return nil
}

// MarkSubmitted records the submission timestamp exactly once. The WHERE
// clause only matches rows whose submit time is unset; the bool result
// tells the caller whether this call was the one that won.
func (r *RegistrationPostgreSQL) MarkSubmitted(ctx context.Context, tx *gorm.DB, id uint, submitTime time.Time, reason string) (bool, error) {
	db := r.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND actual_submit_time IS NULL", id).
		Updates(map[string]interface{}{
			"status":             models.RegistrationSubmitted,
			"actual_submit_time": submitTime,
			"submit_reason":      reason,
		})
	if result.Error != nil {
		return false, result.Error
	}

	r.invalidate(ctx, id)
	return result.RowsAffected > 0, nil
}

// MarkExpired freezes a session whose deadline passed but whose submission
// could not be stored. The row stays out of in_progress so no further
// answer writes are accepted while submission is retried.
func (r *RegistrationPostgreSQL) MarkExpired(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ? AND status = ?", id, models.RegistrationInProgress).
		Update("status", models.RegistrationExpired)
	if result.Error != nil {
		return result.Error
	}

	r.invalidate(ctx, id)
	return nil
}

func (r *RegistrationPostgreSQL) UpdateActivity(ctx context.Context, tx *gorm.DB, id uint, at time.Time) error {
	db := r.getDB(tx)

	return db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ?", id).
		Update("last_activity_at", at).Error
}

func (r *RegistrationPostgreSQL) SetKeyVerified(ctx context.Context, tx *gorm.DB, id uint) error {
	db := r.getDB(tx)

	if err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("id = ?", id).
		Update("key_verified", true).Error; err != nil {
		return err
	}

	r.invalidate(ctx, id)
	return nil
}

// ===== RECOVERY =====

// GetOverdueInProgress finds sessions whose deadline passed without a
// submission, typically after a process restart dropped their runtimes.
func (r *RegistrationPostgreSQL) GetOverdueInProgress(ctx context.Context, tx *gorm.DB, now time.Time) ([]*models.Registration, error) {
	db := r.getDB(tx)

	var registrations []*models.Registration
	err := db.WithContext(ctx).
		Where("status IN ? AND exam_end_time IS NOT NULL AND exam_end_time < ?",
			[]models.RegistrationStatus{models.RegistrationInProgress, models.RegistrationExpired}, now).
		Find(&registrations).Error
	if err != nil {
		return nil, err
	}
	return registrations, nil
}

// ===== VALIDATION AND CHECKS =====

func (r *RegistrationPostgreSQL) ExistsByStudentAndPaper(ctx context.Context, tx *gorm.DB, studentID string, paperID uint) (bool, error) {
	db := r.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("student_id = ? AND paper_id = ?", studentID, paperID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RegistrationPostgreSQL) HasActiveSession(ctx context.Context, tx *gorm.DB, studentID string) (bool, error) {
	db := r.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("student_id = ? AND status = ?", studentID, models.RegistrationInProgress).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ===== STATISTICS =====

func (r *RegistrationPostgreSQL) CountByPaper(ctx context.Context, tx *gorm.DB, paperID uint) (int64, error) {
	db := r.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("paper_id = ?", paperID).
		Count(&count).Error
	return count, err
}

func (r *RegistrationPostgreSQL) GetStatusBreakdown(ctx context.Context, tx *gorm.DB, paperID uint) (map[models.RegistrationStatus]int, error) {
	db := r.getDB(tx)

	type statusCount struct {
		Status models.RegistrationStatus
		Count  int
	}
	var rows []statusCount
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Select("status, COUNT(*) as count").
		Where("paper_id = ?", paperID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	breakdown := make(map[models.RegistrationStatus]int, len(rows))
	for _, row := range rows {
		breakdown[row.Status] = row.Count
	}
	return breakdown, nil
}
