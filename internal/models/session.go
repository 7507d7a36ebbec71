package models

import (
	"time"
)

type Participant struct {
	ID             uint   `gorm:"primaryKey;column:participant_id" json:"participant_id"`
	Age            int    `gorm:"default:0" json:"age"`
	Gender         string `gorm:"type:varchar(100)" json:"gender"`
	Education      string `gorm:"type:varchar(255)" json:"highest_education"`
	TechCompetence int    `gorm:"default:0" json:"technology_competence"`

	Ethnicities []ParticipantEthnicity `gorm:"foreignKey:ParticipantID" json:"ethnicities,omitempty"`
}

func (Participant) TableName() string {
	return "participant"
}

type ParticipantEthnicity struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	ParticipantID uint   `gorm:"not null;index" json:"participant_id"`
	Ethnicity     string `gorm:"not null;type:varchar(255)" json:"ethnicity"`
}

func (ParticipantEthnicity) TableName() string {
	return "participant_ethnicity"
}

// ParticipantSession is one participant's run through a trial sequence.
// EndedAt is set when the facilitator closes the session normally.
type ParticipantSession struct {
	ID            uint       `gorm:"primaryKey;column:participant_session_id" json:"participant_session_id"`
	StudyID       uint       `gorm:"not null;index" json:"study_id"`
	ParticipantID uint       `gorm:"not null;index" json:"participant_id"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	EndedAt       *time.Time `json:"ended_at"`
	IsValid       bool       `gorm:"default:true" json:"is_valid"`
	Comments      string     `gorm:"type:text" json:"comments"`

	Study       Study       `gorm:"foreignKey:StudyID" json:"study,omitempty"`
	Participant Participant `gorm:"foreignKey:ParticipantID" json:"participant,omitempty"`
	Trials      []Trial     `gorm:"foreignKey:ParticipantSessionID" json:"trials,omitempty"`
}

func (ParticipantSession) TableName() string {
	return "participant_session"
}

// Trial is one (task, factor) execution within a session. Trials within a
// session are strictly ordered by StartedAt.
type Trial struct {
	ID                   uint       `gorm:"primaryKey;column:trial_id" json:"trial_id"`
	ParticipantSessionID uint       `gorm:"not null;index" json:"participant_session_id"`
	TaskID               uint       `gorm:"not null;index" json:"task_id"`
	FactorID             uint       `gorm:"not null;index" json:"factor_id"`
	StartedAt            time.Time  `gorm:"not null" json:"started_at"`
	EndedAt              *time.Time `json:"ended_at"`

	Session   ParticipantSession    `gorm:"foreignKey:ParticipantSessionID" json:"session,omitempty"`
	Task      Task                  `gorm:"foreignKey:TaskID" json:"task,omitempty"`
	Factor    Factor                `gorm:"foreignKey:FactorID" json:"factor,omitempty"`
	Instances []SessionDataInstance `gorm:"foreignKey:TrialID" json:"instances,omitempty"`
}

func (Trial) TableName() string {
	return "trial"
}

// SessionDataInstance points at one artifact on disk for one (trial,
// measurement) pair. The row owns its ResultsPath; deleting the row orphans
// the file.
type SessionDataInstance struct {
	ID                   uint      `gorm:"primaryKey;column:session_data_instance_id" json:"session_data_instance_id"`
	TrialID              uint      `gorm:"not null;index" json:"trial_id"`
	ParticipantSessionID uint      `gorm:"not null;index" json:"participant_session_id"`
	TaskID               uint      `gorm:"not null;index" json:"task_id"`
	FactorID             uint      `gorm:"not null;index" json:"factor_id"`
	MeasurementOptionID  uint      `gorm:"not null;index" json:"measurement_option_id"`
	ResultsPath          string    `gorm:"type:varchar(1000)" json:"results_path"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`

	Trial             Trial             `gorm:"foreignKey:TrialID" json:"trial,omitempty"`
	MeasurementOption MeasurementOption `gorm:"foreignKey:MeasurementOptionID" json:"measurement_option,omitempty"`
}

func (SessionDataInstance) TableName() string {
	return "session_data_instance"
}
