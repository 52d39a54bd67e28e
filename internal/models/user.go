package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleStudent     UserRole = "student"
	RoleFaculty     UserRole = "faculty"
	RoleCoordinator UserRole = "coordinator"
	RoleAdmin       UserRole = "admin"
)

// User is owned by the auth provider; the exam service keeps a read-mostly
// mirror for role scoping and display names.
type User struct {
	ID       string   `json:"id" gorm:"primaryKey;size:255"`
	FullName string   `json:"full_name" gorm:"not null;size:100"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Role     UserRole `json:"role" gorm:"-"`

	AvatarURL *string `json:"avatar_url" gorm:"size:500"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// CanMark reports whether the role may enter or view marks.
func (r UserRole) CanMark() bool {
	return r == RoleFaculty || r == RoleCoordinator || r == RoleAdmin
}
