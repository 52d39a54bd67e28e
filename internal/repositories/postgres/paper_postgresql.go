package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/cache"
	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
)

// PaperPostgreSQL implements PaperRepository with Redis caching for the
// paper structure reads the session controller issues on every start.
type PaperPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
	helpers      *SharedHelpers
}

func NewPaperPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.PaperRepository {
	return &PaperPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
		helpers:      NewSharedHelpers(db),
	}
}

func (p *PaperPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return p.db
}

func (p *PaperPostgreSQL) structureCacheKey(id uint) string {
	return fmt.Sprintf("structure:%d", id)
}

func (p *PaperPostgreSQL) invalidate(ctx context.Context, id uint) {
	_ = p.cacheManager.Paper.Delete(ctx, p.structureCacheKey(id))
}

// ===== BASIC CRUD =====

func (p *PaperPostgreSQL) Create(ctx context.Context, tx *gorm.DB, paper *models.ExamPaper) error {
	db := p.getDB(tx)
	return db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		if err := inner.Create(paper).Error; err != nil {
			return err
		}
		return stampSubQuestionParts(inner, paper.Parts)
	})
}

func (p *PaperPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamPaper, error) {
	db := p.getDB(tx)

	var paper models.ExamPaper
	err := db.WithContext(ctx).First(&paper, id).Error
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

// GetByIDWithStructure loads the full paper tree: parts, questions with
// sub-questions, and options. Served from cache when possible; readers in a
// transaction bypass the cache for consistency.
func (p *PaperPostgreSQL) GetByIDWithStructure(ctx context.Context, tx *gorm.DB, id uint) (*models.ExamPaper, error) {
	if tx == nil {
		var cached models.ExamPaper
		err := p.cacheManager.Paper.CacheOrExecute(ctx, p.structureCacheKey(id), &cached, cache.PaperCacheConfig.TTL, func() (interface{}, error) {
			return p.loadStructure(ctx, p.db, id)
		})
		if err == nil {
			return &cached, nil
		}
		if repositories.IsNotFoundError(err) {
			return nil, err
		}
		// Cache trouble falls through to the database.
	}

	return p.loadStructure(ctx, p.getDB(tx), id)
}

func (p *PaperPostgreSQL) loadStructure(ctx context.Context, db *gorm.DB, id uint) (*models.ExamPaper, error) {
	var paper models.ExamPaper
	err := db.WithContext(ctx).
		Preload("Parts", func(db *gorm.DB) *gorm.DB {
			return db.Order("paper_parts.order ASC")
		}).
		Preload("Parts.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Where("parent_id IS NULL").Order("questions.order ASC")
		}).
		Preload("Parts.Questions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_options.order ASC")
		}).
		Preload("Parts.Questions.SubQuestions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.order ASC")
		}).
		Preload("Parts.Questions.SubQuestions.Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("question_options.order ASC")
		}).
		First(&paper, id).Error
	if err != nil {
		return nil, err
	}
	return &paper, nil
}

func (p *PaperPostgreSQL) Update(ctx context.Context, tx *gorm.DB, paper *models.ExamPaper) error {
	db := p.getDB(tx)
	if err := db.WithContext(ctx).Save(paper).Error; err != nil {
		return err
	}
	p.invalidate(ctx, paper.ID)
	return nil
}

func (p *PaperPostgreSQL) Delete(ctx context.Context, tx *gorm.DB, id uint) error {
	db := p.getDB(tx)
	if err := db.WithContext(ctx).Delete(&models.ExamPaper{}, id).Error; err != nil {
		return err
	}
	p.invalidate(ctx, id)
	return nil
}

// ===== STRUCTURE MANAGEMENT =====

// ReplaceParts swaps the whole part/question tree of a draft paper.
func (p *PaperPostgreSQL) ReplaceParts(ctx context.Context, tx *gorm.DB, paperID uint, parts []models.PaperPart) error {
	db := p.getDB(tx)

	err := db.WithContext(ctx).Transaction(func(inner *gorm.DB) error {
		var partIDs []uint
		if err := inner.Model(&models.PaperPart{}).
			Where("paper_id = ?", paperID).
			Pluck("id", &partIDs).Error; err != nil {
			return err
		}

		if len(partIDs) > 0 {
			var questionIDs []uint
			if err := inner.Model(&models.Question{}).
				Where("part_id IN ?", partIDs).
				Pluck("id", &questionIDs).Error; err != nil {
				return err
			}
			// Expand through parent_id so sub-question rows are caught even
			// when their part_id was never written.
			frontier := questionIDs
			for len(frontier) > 0 {
				var children []uint
				if err := inner.Model(&models.Question{}).
					Where("parent_id IN ? AND id NOT IN ?", frontier, questionIDs).
					Pluck("id", &children).Error; err != nil {
					return err
				}
				questionIDs = append(questionIDs, children...)
				frontier = children
			}
			if len(questionIDs) > 0 {
				if err := inner.Where("question_id IN ?", questionIDs).
					Delete(&models.QuestionOption{}).Error; err != nil {
					return err
				}
				if err := inner.Where("id IN ?", questionIDs).
					Delete(&models.Question{}).Error; err != nil {
					return err
				}
			}
			if err := inner.Where("paper_id = ?", paperID).
				Delete(&models.PaperPart{}).Error; err != nil {
				return err
			}
		}

		for i := range parts {
			parts[i].ID = 0
			parts[i].PaperID = paperID
		}
		if len(parts) > 0 {
			if err := inner.Create(&parts).Error; err != nil {
				return err
			}
		}
		return stampSubQuestionParts(inner, parts)
	})
	if err != nil {
		return err
	}

	p.invalidate(ctx, paperID)
	return nil
}

// stampSubQuestionParts writes part_id onto sub-question rows. The
// SubQuestions association fills parent_id on insert but leaves part_id
// zero, which would hide sub-questions from every part_id scoped read.
// The in-memory structs are updated alongside the rows.
func stampSubQuestionParts(db *gorm.DB, parts []models.PaperPart) error {
	for partID, ids := range subQuestionPartFixups(parts) {
		if err := db.Model(&models.Question{}).
			Where("id IN ?", ids).
			Update("part_id", partID).Error; err != nil {
			return err
		}
	}
	return nil
}

// subQuestionPartFixups collects, per part, the sub-question ids whose
// part_id does not match the part they were inserted under, fixing the
// structs as it walks.
func subQuestionPartFixups(parts []models.PaperPart) map[uint][]uint {
	fixups := make(map[uint][]uint)
	for pi := range parts {
		part := &parts[pi]
		for qi := range part.Questions {
			collectSubQuestionFixups(part.ID, &part.Questions[qi], fixups)
		}
	}
	return fixups
}

func collectSubQuestionFixups(partID uint, question *models.Question, fixups map[uint][]uint) {
	for si := range question.SubQuestions {
		sub := &question.SubQuestions[si]
		if sub.PartID != partID {
			sub.PartID = partID
			fixups[partID] = append(fixups[partID], sub.ID)
		}
		collectSubQuestionFixups(partID, sub, fixups)
	}
}

// GetQuestionsByPaper returns every question of a paper, sub-questions
// included, keyed for answer validation and marking.
func (p *PaperPostgreSQL) GetQuestionsByPaper(ctx context.Context, tx *gorm.DB, paperID uint) ([]*models.Question, error) {
	db := p.getDB(tx)

	var questions []*models.Question
	err := db.WithContext(ctx).
		Joins("JOIN paper_parts ON paper_parts.id = questions.part_id").
		Where("paper_parts.paper_id = ?", paperID).
		Preload("Options").
		Find(&questions).Error
	if err != nil {
		return nil, err
	}
	return questions, nil
}

// ===== QUERY OPERATIONS =====

func (p *PaperPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.PaperFilters) ([]*models.ExamPaper, int64, error) {
	db := p.getDB(tx)

	query := db.WithContext(ctx).Model(&models.ExamPaper{})
	query = p.helpers.ApplyPaperFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var papers []*models.ExamPaper
	query = p.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)
	if err := query.Find(&papers).Error; err != nil {
		return nil, 0, err
	}

	return papers, total, nil
}

func (p *PaperPostgreSQL) GetByCreator(ctx context.Context, tx *gorm.DB, creatorID string, filters repositories.PaperFilters) ([]*models.ExamPaper, int64, error) {
	filters.CreatedBy = &creatorID
	return p.List(ctx, tx, filters)
}

// ===== STATUS MANAGEMENT =====

func (p *PaperPostgreSQL) UpdateStatus(ctx context.Context, tx *gorm.DB, id uint, status models.PaperStatus) error {
	db := p.getDB(tx)

	result := db.WithContext(ctx).
		Model(&models.ExamPaper{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	p.invalidate(ctx, id)
	return nil
}

// ===== VALIDATION AND CHECKS =====

func (p *PaperPostgreSQL) ExistsByTitle(ctx context.Context, tx *gorm.DB, title string, creatorID string, excludeID *uint) (bool, error) {
	db := p.getDB(tx)

	query := db.WithContext(ctx).
		Model(&models.ExamPaper{}).
		Where("title = ? AND created_by = ?", title, creatorID)
	if excludeID != nil {
		query = query.Where("id <> ?", *excludeID)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (p *PaperPostgreSQL) HasRegistrations(ctx context.Context, tx *gorm.DB, id uint) (bool, error) {
	db := p.getDB(tx)

	var count int64
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("paper_id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ===== STATISTICS =====

func (p *PaperPostgreSQL) GetPaperStats(ctx context.Context, tx *gorm.DB, id uint) (*repositories.PaperStats, error) {
	db := p.getDB(tx)

	stats := &repositories.PaperStats{}

	type statusCount struct {
		Status models.RegistrationStatus
		Count  int
	}
	var rows []statusCount
	err := db.WithContext(ctx).
		Model(&models.Registration{}).
		Select("status, COUNT(*) as count").
		Where("paper_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		stats.TotalRegistrations += row.Count
		switch row.Status {
		case models.RegistrationSubmitted:
			stats.SubmittedCount = row.Count
		case models.RegistrationInProgress:
			stats.InProgressCount = row.Count
		case models.RegistrationExpired:
			stats.ExpiredCount = row.Count
		}
	}

	if stats.TotalRegistrations > 0 {
		stats.CompletionRate = float64(stats.SubmittedCount) / float64(stats.TotalRegistrations)
	}

	totals := db.Model(&models.StudentAnswer{}).
		Select("registration_id, SUM(marks_awarded) AS marks").
		Joins("JOIN registrations ON registrations.id = student_answers.registration_id").
		Where("registrations.paper_id = ? AND marks_awarded IS NOT NULL", id).
		Group("registration_id")

	var avg *float64
	err = db.WithContext(ctx).
		Table("(?) AS totals", totals).
		Select("AVG(totals.marks)").
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AverageMarks = *avg
	}

	return stats, nil
}
