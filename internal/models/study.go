package models

import (
	"time"
)

// Study design types. Within-subject studies expose every factor to every
// participant; between-subject studies fix a single factor per session.
const (
	DesignWithin  = "Within"
	DesignBetween = "Between"
)

type Study struct {
	ID                   uint      `gorm:"primaryKey;column:study_id" json:"study_id"`
	Name                 string    `gorm:"not null;type:varchar(255)" json:"study_name"`
	Description          string    `gorm:"type:text" json:"study_description"`
	DesignType           string    `gorm:"not null;type:varchar(50);default:'Within'" json:"study_design_type"`
	ExpectedParticipants int       `gorm:"default:0" json:"expected_participants"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Tasks    []Task               `gorm:"foreignKey:StudyID" json:"tasks,omitempty"`
	Factors  []Factor             `gorm:"foreignKey:StudyID" json:"factors,omitempty"`
	Sessions []ParticipantSession `gorm:"foreignKey:StudyID" json:"sessions,omitempty"`
}

func (Study) TableName() string {
	return "study"
}

// DeletedStudy holds a copy of a soft-deleted study. Studies are never hard
// removed; deleting copies the row here and strips the access roles.
type DeletedStudy struct {
	ID                   uint      `gorm:"primaryKey;column:deleted_study_id" json:"deleted_study_id"`
	StudyID              uint      `gorm:"not null;index" json:"study_id"`
	Name                 string    `gorm:"not null;type:varchar(255)" json:"study_name"`
	Description          string    `gorm:"type:text" json:"study_description"`
	DesignType           string    `gorm:"not null;type:varchar(50)" json:"study_design_type"`
	ExpectedParticipants int       `json:"expected_participants"`
	DeletedByUserID      uint      `gorm:"index" json:"deleted_by_user_id"`
	DeletedAt            time.Time `gorm:"not null" json:"deleted_at"`
}

func (DeletedStudy) TableName() string {
	return "deleted_study"
}

type Factor struct {
	ID          uint   `gorm:"primaryKey;column:factor_id" json:"factor_id"`
	StudyID     uint   `gorm:"not null;index" json:"study_id"`
	Name        string `gorm:"not null;type:varchar(255)" json:"factor_name"`
	Description string `gorm:"type:text" json:"factor_description"`

	Study Study `gorm:"foreignKey:StudyID" json:"study,omitempty"`
}

func (Factor) TableName() string {
	return "factor"
}
