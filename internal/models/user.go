package models

import (
	"time"
)

type User struct {
	ID           uint      `gorm:"primaryKey;column:user_id" json:"user_id"`
	Email        string    `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string    `gorm:"not null;type:varchar(255)" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}

// Study access roles.
const (
	RoleOwner  = "Owner"
	RoleEditor = "Editor"
	RoleViewer = "Viewer"
)

// StudyUserRole ties a user to a study in the access-control sense. A study
// with no roles is invisible; soft-deleting a study removes its roles.
type StudyUserRole struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	UserID  uint   `gorm:"not null;index:idx_study_user,unique" json:"user_id"`
	StudyID uint   `gorm:"not null;index:idx_study_user,unique" json:"study_id"`
	Role    string `gorm:"not null;type:varchar(50)" json:"role"`

	User  User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Study Study `gorm:"foreignKey:StudyID" json:"study,omitempty"`
}

func (StudyUserRole) TableName() string {
	return "study_user_role"
}
