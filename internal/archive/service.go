package archive

import (
	"context"
	"fmt"

	"fulcrum/internal/models"

	"gorm.io/gorm"
)

// Service resolves export scopes against the relational store. Exports join
// instance rows with session/trial ordinals computed over the whole study so
// the emitted tree is stable regardless of scope.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Export is the fully-resolved input for WriteZip plus an archive filename
// suggestion for download headers.
type Export struct {
	Records  []Record
	Surveys  []SurveyRecord
	Filename string
}

// instanceRow mirrors the join the export queries run.
type instanceRow struct {
	InstanceID      uint
	SessionID       uint
	TrialID         uint
	TaskName        string
	FactorName      string
	MeasurementName string
	ResultsPath     string
}

func (s *Service) instanceQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.SessionDataInstance{}).
		Select(`session_data_instance.session_data_instance_id AS instance_id,
			session_data_instance.participant_session_id AS session_id,
			session_data_instance.trial_id,
			task.name AS task_name,
			factor.name AS factor_name,
			measurement_option.name AS measurement_name,
			session_data_instance.results_path`).
		Joins("JOIN trial ON trial.trial_id = session_data_instance.trial_id").
		Joins("JOIN task ON task.task_id = session_data_instance.task_id").
		Joins("JOIN factor ON factor.factor_id = session_data_instance.factor_id").
		Joins("JOIN measurement_option ON measurement_option.measurement_option_id = session_data_instance.measurement_option_id").
		Joins("JOIN participant_session ps ON ps.participant_session_id = session_data_instance.participant_session_id")
}

// ordinals computes the 1-based session and trial ordinals for a study.
// Sessions are ordered by created_at ascending, trials within a session by
// started_at ascending.
func (s *Service) ordinals(ctx context.Context, studyID uint) (map[uint]int, map[uint]int, error) {
	var sessions []models.ParticipantSession
	if err := s.db.WithContext(ctx).
		Where("study_id = ?", studyID).
		Order("created_at ASC, participant_session_id ASC").
		Find(&sessions).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	sessionOrdinals := make(map[uint]int, len(sessions))
	for i, session := range sessions {
		sessionOrdinals[session.ID] = i + 1
	}

	trialOrdinals := make(map[uint]int)
	for _, session := range sessions {
		var trials []models.Trial
		if err := s.db.WithContext(ctx).
			Where("participant_session_id = ?", session.ID).
			Order("started_at ASC, trial_id ASC").
			Find(&trials).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to load trials: %w", err)
		}
		for i, trial := range trials {
			trialOrdinals[trial.ID] = i + 1
		}
	}

	return sessionOrdinals, trialOrdinals, nil
}

func (s *Service) buildRecords(ctx context.Context, studyID uint, studyName string, rows []instanceRow) ([]Record, error) {
	sessionOrdinals, trialOrdinals, err := s.ordinals(ctx, studyID)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, Record{
			InstanceID:      row.InstanceID,
			SessionID:       row.SessionID,
			TrialID:         row.TrialID,
			StudyName:       studyName,
			TaskName:        row.TaskName,
			FactorName:      row.FactorName,
			MeasurementName: row.MeasurementName,
			ResultsPath:     row.ResultsPath,
			SessionOrdinal:  sessionOrdinals[row.SessionID],
			TrialOrdinal:    trialOrdinals[row.TrialID],
		})
	}
	return records, nil
}

func (s *Service) studyForSession(ctx context.Context, sessionID uint) (*models.Study, error) {
	var session models.ParticipantSession
	if err := s.db.WithContext(ctx).First(&session, "participant_session_id = ?", sessionID).Error; err != nil {
		return nil, fmt.Errorf("session %d not found: %w", sessionID, err)
	}
	var study models.Study
	if err := s.db.WithContext(ctx).First(&study, "study_id = ?", session.StudyID).Error; err != nil {
		return nil, fmt.Errorf("study %d not found: %w", session.StudyID, err)
	}
	return &study, nil
}

// OneInstance scopes an export to a single artifact.
func (s *Service) OneInstance(ctx context.Context, instanceID uint) (*Export, error) {
	var instance models.SessionDataInstance
	if err := s.db.WithContext(ctx).First(&instance, "session_data_instance_id = ?", instanceID).Error; err != nil {
		return nil, fmt.Errorf("instance %d not found: %w", instanceID, err)
	}

	study, err := s.studyForSession(ctx, instance.ParticipantSessionID)
	if err != nil {
		return nil, err
	}

	var rows []instanceRow
	if err := s.instanceQuery(ctx).
		Where("session_data_instance.session_data_instance_id = ?", instanceID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}

	records, err := s.buildRecords(ctx, study.ID, study.Name, rows)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("session_data_instance_%d.zip", instanceID)
	return &Export{Records: records, Filename: filename}, nil
}

// Trial scopes an export to every artifact of one trial.
func (s *Service) Trial(ctx context.Context, trialID uint) (*Export, error) {
	var trial models.Trial
	if err := s.db.WithContext(ctx).First(&trial, "trial_id = ?", trialID).Error; err != nil {
		return nil, fmt.Errorf("trial %d not found: %w", trialID, err)
	}

	study, err := s.studyForSession(ctx, trial.ParticipantSessionID)
	if err != nil {
		return nil, err
	}

	var rows []instanceRow
	if err := s.instanceQuery(ctx).
		Where("session_data_instance.trial_id = ?", trialID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load trial instances: %w", err)
	}

	records, err := s.buildRecords(ctx, study.ID, study.Name, rows)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("trial_%d.zip", trialID)
	if len(records) > 0 {
		filename = fmt.Sprintf("%s_%s_trial_%d.zip",
			stripSpace(records[0].TaskName), stripSpace(records[0].FactorName), records[0].TrialOrdinal)
	}
	return &Export{Records: records, Filename: filename}, nil
}

// Session scopes an export to one participant session, including its survey
// artifacts.
func (s *Service) Session(ctx context.Context, sessionID uint) (*Export, error) {
	study, err := s.studyForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var rows []instanceRow
	if err := s.instanceQuery(ctx).
		Where("session_data_instance.participant_session_id = ?", sessionID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load session instances: %w", err)
	}

	records, err := s.buildRecords(ctx, study.ID, study.Name, rows)
	if err != nil {
		return nil, err
	}

	surveys, err := s.surveyRecords(ctx, study, []uint{sessionID})
	if err != nil {
		return nil, err
	}

	ordinal := 0
	if len(records) > 0 {
		ordinal = records[0].SessionOrdinal
	}
	filename := fmt.Sprintf("%d_participant_session.zip", ordinal)
	return &Export{Records: records, Surveys: surveys, Filename: filename}, nil
}

// Study scopes an export to every session of a study.
func (s *Service) Study(ctx context.Context, studyID uint) (*Export, error) {
	var study models.Study
	if err := s.db.WithContext(ctx).First(&study, "study_id = ?", studyID).Error; err != nil {
		return nil, fmt.Errorf("study %d not found: %w", studyID, err)
	}

	var rows []instanceRow
	if err := s.instanceQuery(ctx).
		Where("ps.study_id = ?", studyID).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load study instances: %w", err)
	}

	records, err := s.buildRecords(ctx, study.ID, study.Name, rows)
	if err != nil {
		return nil, err
	}

	var sessionIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.ParticipantSession{}).
		Where("study_id = ?", studyID).
		Pluck("participant_session_id", &sessionIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to load study sessions: %w", err)
	}

	surveys, err := s.surveyRecords(ctx, &study, sessionIDs)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s.zip", stripSpace(study.Name))
	return &Export{Records: records, Surveys: surveys, Filename: filename}, nil
}

func (s *Service) surveyRecords(ctx context.Context, study *models.Study, sessionIDs []uint) ([]SurveyRecord, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	type surveyRow struct {
		ParticipantSessionID uint
		FormType             string
		FilePath             string
	}
	var rows []surveyRow
	if err := s.db.WithContext(ctx).Model(&models.SurveyResult{}).
		Select("survey_results.participant_session_id, survey_form.form_type, survey_results.file_path").
		Joins("JOIN survey_form ON survey_form.survey_form_id = survey_results.survey_form_id").
		Where("survey_results.participant_session_id IN ?", sessionIDs).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load survey results: %w", err)
	}

	sessionOrdinals, _, err := s.ordinals(ctx, study.ID)
	if err != nil {
		return nil, err
	}

	surveys := make([]SurveyRecord, 0, len(rows))
	for _, row := range rows {
		surveys = append(surveys, SurveyRecord{
			SessionID:      row.ParticipantSessionID,
			SessionOrdinal: sessionOrdinals[row.ParticipantSessionID],
			StudyName:      study.Name,
			FormType:       row.FormType,
			FilePath:       row.FilePath,
		})
	}
	return surveys, nil
}
