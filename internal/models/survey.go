package models

import (
	"time"
)

// ConsentForm is the per-study consent PDF stored on disk.
type ConsentForm struct {
	ID        uint      `gorm:"primaryKey;column:consent_form_id" json:"consent_form_id"`
	StudyID   uint      `gorm:"uniqueIndex;not null" json:"study_id"`
	FilePath  string    `gorm:"not null;type:varchar(1000)" json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
}

func (ConsentForm) TableName() string {
	return "consent_form"
}

// ConsentAck records a participant session's agreement to a consent form.
type ConsentAck struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	ConsentFormID        uint      `gorm:"not null;index:idx_consent_session,unique" json:"consent_form_id"`
	ParticipantSessionID uint      `gorm:"not null;index:idx_consent_session,unique" json:"participant_session_id"`
	CreatedAt            time.Time `json:"created_at"`
}

func (ConsentAck) TableName() string {
	return "consent_ack"
}

// Survey form types.
const (
	SurveyPre  = "pre"
	SurveyPost = "post"
)

type SurveyForm struct {
	ID        uint      `gorm:"primaryKey;column:survey_form_id" json:"survey_form_id"`
	StudyID   uint      `gorm:"not null;index:idx_survey_study_type,unique" json:"study_id"`
	FormType  string    `gorm:"not null;type:varchar(20);index:idx_survey_study_type,unique" json:"form_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (SurveyForm) TableName() string {
	return "survey_form"
}

// SurveyResult points at one session's answers for one survey form, stored
// as JSON on disk next to the session's artifacts.
type SurveyResult struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	SurveyFormID         uint      `gorm:"not null;index:idx_result_form_session,unique" json:"survey_form_id"`
	ParticipantSessionID uint      `gorm:"not null;index:idx_result_form_session,unique" json:"participant_session_id"`
	FilePath             string    `gorm:"not null;type:varchar(1000)" json:"file_path"`
	CreatedAt            time.Time `json:"created_at"`
}

func (SurveyResult) TableName() string {
	return "survey_results"
}
