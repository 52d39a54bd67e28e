package postgres

import (
	"context"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campus-exams/exam-service/internal/cache"
	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
)

// AnswerPostgreSQL implements AnswerRepository. The upsert carries the
// revision guard that enforces last-write-wins by edit order: an UPDATE
// only fires when the incoming revision is newer than the stored one.
type AnswerPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	helpers      *SharedHelpers
}

func NewAnswerPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AnswerRepository {
	return &AnswerPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
		helpers:      NewSharedHelpers(db),
	}
}

func (a *AnswerPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

// ===== UPSERT =====

var answerConflictClause = clause.OnConflict{
	Columns: []clause.Column{{Name: "registration_id"}, {Name: "question_id"}},
	DoUpdates: clause.Assignments(map[string]interface{}{
		"type":     gorm.Expr("excluded.type"),
		"value":    gorm.Expr("excluded.value"),
		"payload":  gorm.Expr("excluded.payload"),
		"revision": gorm.Expr("excluded.revision"),
		"saved_at": gorm.Expr("excluded.saved_at"),
	}),
	Where: clause.Where{
		Exprs: []clause.Expression{
			gorm.Expr("student_answers.revision < excluded.revision"),
		},
	},
}

func (a *AnswerPostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, answer *models.StudentAnswer) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Clauses(answerConflictClause).Create(answer).Error
}

func (a *AnswerPostgreSQL) UpsertBatch(ctx context.Context, tx *gorm.DB, answers []*models.StudentAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	db := a.getDB(tx)
	return db.WithContext(ctx).Clauses(answerConflictClause).Create(&answers).Error
}

// ReplaceForRegistration makes the stored set match the submitted set.
// Cleared answers are the ones missing from the payload; their rows go away.
func (a *AnswerPostgreSQL) ReplaceForRegistration(ctx context.Context, tx *gorm.DB, registrationID uint, answers []*models.StudentAnswer) error {
	db := a.getDB(tx)

	return db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		keepIDs := make([]uint, 0, len(answers))
		for _, answer := range answers {
			answer.RegistrationID = registrationID
			keepIDs = append(keepIDs, answer.QuestionID)
		}

		cleanup := inner.Where("registration_id = ?", registrationID)
		if len(keepIDs) > 0 {
			cleanup = cleanup.Where("question_id NOT IN ?", keepIDs)
		}
		if err := cleanup.Delete(&models.StudentAnswer{}).Error; err != nil {
			return err
		}

		if len(answers) == 0 {
			return nil
		}
		return inner.Clauses(answerConflictClause).Create(&answers).Error
	})
}

// ===== QUERY OPERATIONS =====

func (a *AnswerPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.StudentAnswer, error) {
	db := a.getDB(tx)

	var answer models.StudentAnswer
	err := db.WithContext(ctx).First(&answer, id).Error
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) GetByRegistration(ctx context.Context, tx *gorm.DB, registrationID uint) ([]*models.StudentAnswer, error) {
	db := a.getDB(tx)

	var answers []*models.StudentAnswer
	err := db.WithContext(ctx).
		Where("registration_id = ?", registrationID).
		Order("question_id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	return answers, nil
}

func (a *AnswerPostgreSQL) GetByRegistrationAndQuestion(ctx context.Context, tx *gorm.DB, registrationID, questionID uint) (*models.StudentAnswer, error) {
	db := a.getDB(tx)

	var answer models.StudentAnswer
	err := db.WithContext(ctx).
		Where("registration_id = ? AND question_id = ?", registrationID, questionID).
		First(&answer).Error
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *AnswerPostgreSQL) GetByQuestion(ctx context.Context, tx *gorm.DB, questionID uint, filters repositories.AnswerFilters) ([]*models.StudentAnswer, int64, error) {
	db := a.getDB(tx)

	query := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("question_id = ?", questionID)
	query = a.helpers.ApplyAnswerFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var answers []*models.StudentAnswer
	query = a.helpers.ApplyPaginationAndSort(query, "saved_at", "asc", filters.Limit, filters.Offset)
	if err := query.Find(&answers).Error; err != nil {
		return nil, 0, err
	}

	return answers, total, nil
}

func (a *AnswerPostgreSQL) CountByRegistration(ctx context.Context, tx *gorm.DB, registrationID uint) (int64, error) {
	db := a.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("registration_id = ?", registrationID).
		Count(&count).Error
	return count, err
}

// ===== MARKING OPERATIONS =====

func (a *AnswerPostgreSQL) ApplyMark(ctx context.Context, tx *gorm.DB, mark repositories.AnswerMark) error {
	db := a.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("id = ?", mark.ID).
		Updates(map[string]interface{}{
			"marks_awarded": mark.Marks,
			"marked_by":     mark.MarkerID,
			"marked_at":     gorm.Expr("NOW()"),
			"feedback":      mark.Feedback,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (a *AnswerPostgreSQL) ApplyMarkBatch(ctx context.Context, tx *gorm.DB, marks []repositories.AnswerMark) error {
	if len(marks) == 0 {
		return nil
	}
	db := a.getDB(tx)

	return db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		for _, mark := range marks {
			if err := a.ApplyMark(ctx, inner, mark); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyAutoMark records a machine decision for a choice answer. No marker
// identity is stored; a NULL marked_by distinguishes auto from manual marks.
func (a *AnswerPostgreSQL) ApplyAutoMark(ctx context.Context, tx *gorm.DB, answerID uint, marks float64, isCorrect bool) error {
	db := a.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Where("id = ?", answerID).
		Updates(map[string]interface{}{
			"marks_awarded": marks,
			"is_correct":    isCorrect,
			"marked_at":     gorm.Expr("NOW()"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (a *AnswerPostgreSQL) GetPendingMarking(ctx context.Context, tx *gorm.DB, paperID uint, filters repositories.AnswerFilters) ([]*models.StudentAnswer, int64, error) {
	db := a.getDB(tx)

	query := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Joins("JOIN registrations ON registrations.id = student_answers.registration_id").
		Where("registrations.paper_id = ? AND registrations.status = ?", paperID, models.RegistrationSubmitted).
		Where("student_answers.marks_awarded IS NULL")
	query = a.helpers.ApplyAnswerFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var answers []*models.StudentAnswer
	query = query.Preload("Question").Order("student_answers.registration_id ASC, student_answers.question_id ASC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}
	if err := query.Find(&answers).Error; err != nil {
		return nil, 0, err
	}

	return answers, total, nil
}

// ===== STATISTICS =====

func (a *AnswerPostgreSQL) SumMarksByRegistrations(ctx context.Context, tx *gorm.DB, registrationIDs []uint) (map[uint]float64, error) {
	totals := make(map[uint]float64, len(registrationIDs))
	if len(registrationIDs) == 0 {
		return totals, nil
	}

	db := a.getDB(tx)

	type regTotal struct {
		RegistrationID uint
		Total          float64
	}
	var rows []regTotal
	err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Select("registration_id, COALESCE(SUM(marks_awarded), 0) as total").
		Where("registration_id IN ? AND marks_awarded IS NOT NULL", registrationIDs).
		Group("registration_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		totals[row.RegistrationID] = row.Total
	}
	return totals, nil
}

func (a *AnswerPostgreSQL) GetMarkingStats(ctx context.Context, tx *gorm.DB, paperID uint) (*repositories.MarkingStats, error) {
	db := a.getDB(tx)

	type statsRow struct {
		Total        int
		Marked       int
		AutoMarked   int
		ManualMarked int
		AverageMarks *float64
	}
	var row statsRow
	err := db.WithContext(ctx).
		Model(&models.StudentAnswer{}).
		Joins("JOIN registrations ON registrations.id = student_answers.registration_id").
		Where("registrations.paper_id = ?", paperID).
		Select(`COUNT(*) as total,
			COUNT(marks_awarded) as marked,
			COUNT(*) FILTER (WHERE marks_awarded IS NOT NULL AND marked_by IS NULL) as auto_marked,
			COUNT(*) FILTER (WHERE marked_by IS NOT NULL) as manual_marked,
			AVG(marks_awarded) as average_marks`).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &repositories.MarkingStats{
		TotalAnswers:   row.Total,
		MarkedAnswers:  row.Marked,
		PendingAnswers: row.Total - row.Marked,
		AutoMarked:     row.AutoMarked,
		ManualMarked:   row.ManualMarked,
	}
	if row.AverageMarks != nil {
		stats.AverageMarks = *row.AverageMarks
	}
	return stats, nil
}
