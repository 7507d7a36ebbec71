package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrDuplicateArtifact is returned when an artifact write would overwrite an
// existing file. Artifacts are write-once; duplicates are a hard error so
// provenance is never silently lost.
var ErrDuplicateArtifact = errors.New("artifact already exists")

// Storage lays out artifact blobs under a results root:
//
//	<root>/<study_id>_study_id/<session_id>_participant_session_id/<instance_id>_session_data_instance_id/<instance_id>.csv
//
// Consent forms live directly under the study directory, survey results under
// the session directory.
type Storage struct {
	basePath string
}

func NewStorage(basePath string) (*Storage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &Storage{basePath: basePath}, nil
}

func (s *Storage) BasePath() string {
	return s.basePath
}

func (s *Storage) studyDir(studyID uint) string {
	return filepath.Join(s.basePath, fmt.Sprintf("%d_study_id", studyID))
}

func (s *Storage) sessionDir(studyID, sessionID uint) string {
	return filepath.Join(s.studyDir(studyID), fmt.Sprintf("%d_participant_session_id", sessionID))
}

// InstancePath returns the canonical absolute path for an instance artifact.
func (s *Storage) InstancePath(studyID, sessionID, instanceID uint, ext string) string {
	dir := filepath.Join(s.sessionDir(studyID, sessionID), fmt.Sprintf("%d_session_data_instance_id", instanceID))
	return filepath.Join(dir, fmt.Sprintf("%d%s", instanceID, ext))
}

// SaveInstance writes one artifact payload to its canonical path. Writing
// over an existing artifact fails with ErrDuplicateArtifact and leaves the
// original untouched.
func (s *Storage) SaveInstance(studyID, sessionID, instanceID uint, ext string, reader io.Reader) (string, error) {
	path := s.InstancePath(studyID, sessionID, instanceID, ext)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDuplicateArtifact, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create instance directory: %w", err)
	}

	// O_EXCL closes the stat/create race: a concurrent duplicate write loses.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateArtifact, path)
		}
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	return path, nil
}

// SaveConsentForm stores a study's consent PDF. Re-uploading replaces the
// prior form; consent forms are study metadata, not session artifacts.
func (s *Storage) SaveConsentForm(studyID uint, reader io.Reader) (string, error) {
	dir := s.studyDir(studyID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create study directory: %w", err)
	}

	path := filepath.Join(dir, "consent_form.pdf")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create consent form: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write consent form: %w", err)
	}

	return path, nil
}

// ConsentFormPath returns the path to a study's consent form, or an error if
// none has been uploaded.
func (s *Storage) ConsentFormPath(studyID uint) (string, error) {
	path := filepath.Join(s.studyDir(studyID), "consent_form.pdf")
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("consent form not found for study %d: %w", studyID, err)
	}
	return path, nil
}

// SaveSurveyResults writes one session's survey answers as pretty-printed
// JSON under the session directory, named by form type.
func (s *Storage) SaveSurveyResults(studyID, sessionID uint, formType string, results any) (string, error) {
	dir := s.sessionDir(studyID, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_survey_results.json", formType))
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode survey results: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write survey results: %w", err)
	}

	return path, nil
}
