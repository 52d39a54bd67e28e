package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/campus-exams/exam-service/internal/models"
	"github.com/campus-exams/exam-service/internal/repositories"
)

// SharedHelpers contains common database operations
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// ApplyPaperFilters applies common filters to paper queries
func (h *SharedHelpers) ApplyPaperFilters(query *gorm.DB, filters repositories.PaperFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.DeliveryMode != nil {
		query = query.Where("delivery_mode = ?", *filters.DeliveryMode)
	}
	if filters.CreatedBy != nil {
		query = query.Where("created_by = ?", *filters.CreatedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyRegistrationFilters applies common filters to registration queries
func (h *SharedHelpers) ApplyRegistrationFilters(query *gorm.DB, filters repositories.RegistrationFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.PaperID != nil {
		query = query.Where("paper_id = ?", *filters.PaperID)
	}
	if filters.StudentID != nil {
		query = query.Where("student_id = ?", *filters.StudentID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyAnswerFilters applies common filters to answer queries
func (h *SharedHelpers) ApplyAnswerFilters(query *gorm.DB, filters repositories.AnswerFilters) *gorm.DB {
	if filters.QuestionID != nil {
		query = query.Where("question_id = ?", *filters.QuestionID)
	}
	if filters.IsMarked != nil {
		if *filters.IsMarked {
			query = query.Where("marks_awarded IS NOT NULL")
		} else {
			query = query.Where("marks_awarded IS NULL")
		}
	}
	if filters.MarkedBy != nil {
		query = query.Where("marked_by = ?", *filters.MarkedBy)
	}
	if filters.DateFrom != nil {
		query = query.Where("saved_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("saved_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with SQL injection protection
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	// Whitelist allowed sort columns
	allowedSortColumns := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"id":           true,
		"title":        true,
		"status":       true,
		"window_start": true,
		"saved_at":     true,
	}

	// Validate and set sort column
	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	// Validate and set sort order
	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}

// CountRegistrationsByStatus counts registrations for a paper in one status
func (h *SharedHelpers) CountRegistrationsByStatus(ctx context.Context, paperID uint, status models.RegistrationStatus) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&models.Registration{}).
		Where("paper_id = ? AND status = ?", paperID, status).
		Count(&count).Error
	return count, err
}
