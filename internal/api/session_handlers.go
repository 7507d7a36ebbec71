package api

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fulcrum/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type participantSubmission struct {
	Age            int      `json:"participantAge"`
	Gender         string   `json:"participantGender"`
	EducationLevel string   `json:"participantEducationLv"`
	TechCompetency int      `json:"participantTechCompetency"`
	RaceEthnicity  []string `json:"participantRaceEthnicity"`
}

// CreateParticipantSession records a participant's demographics and opens a
// session for them. The returned id is what the tracker stamps on every
// artifact it uploads.
func (h *Handler) CreateParticipantSession(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	var sub participantSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var session models.ParticipantSession
	err := h.db.Transaction(func(tx *gorm.DB) error {
		participant := models.Participant{
			Age:            sub.Age,
			Gender:         sub.Gender,
			Education:      sub.EducationLevel,
			TechCompetence: sub.TechCompetency,
		}
		if err := tx.Create(&participant).Error; err != nil {
			return fmt.Errorf("failed to create participant: %w", err)
		}

		for _, ethnicity := range sub.RaceEthnicity {
			row := models.ParticipantEthnicity{
				ParticipantID: participant.ID,
				Ethnicity:     ethnicity,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to record ethnicity: %w", err)
			}
		}

		session = models.ParticipantSession{
			StudyID:       studyID,
			ParticipantID: participant.ID,
			IsValid:       true,
		}
		if err := tx.Create(&session).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"participant_session_id": session.ID})
}

type trialSubmission struct {
	TaskID    uint      `json:"taskID"`
	FactorID  uint      `json:"factorID"`
	StartedAt time.Time `json:"startedAt"`
}

type sessionPackage struct {
	ParticipantSessID uint              `json:"participantSessId"`
	StudyID           uint              `json:"study_id"`
	Trials            []trialSubmission `json:"trials"`
}

// SaveParticipantSession ingests a full session package: a ZIP of per-trial
// artifact folders plus the result JSON describing the trial order. Each
// trial row is created with its startedAt timestamp and every artifact in the
// matching trial folder becomes a SessionDataInstance.
func (h *Handler) SaveParticipantSession(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no zip file received"})
		return
	}

	jsonData := c.PostForm("json")
	if jsonData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no session data received"})
		return
	}

	var pkg sessionPackage
	if err := json.Unmarshal([]byte(jsonData), &pkg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	if pkg.ParticipantSessID == 0 || len(pkg.Trials) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session data or no trials found"})
		return
	}
	if !h.requireStudyAccess(c, pkg.StudyID) {
		return
	}

	tempDir, err := os.MkdirTemp("", "fulcrum-ingest-*")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer os.RemoveAll(tempDir)

	zipPath := filepath.Join(tempDir, "session.zip")
	if err := c.SaveUploadedFile(fileHeader, zipPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := extractZip(zipPath, tempDir); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable zip: " + err.Error()})
		return
	}

	optionIDs, err := h.measurementOptionIDs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	taskNames, factorNames, err := h.studyNames(pkg.StudyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		for i, t := range pkg.Trials {
			if t.TaskID == 0 || t.FactorID == 0 || t.StartedAt.IsZero() {
				return fmt.Errorf("improper trial info at position %d", i+1)
			}

			trial := models.Trial{
				ParticipantSessionID: pkg.ParticipantSessID,
				TaskID:               t.TaskID,
				FactorID:             t.FactorID,
				StartedAt:            t.StartedAt,
			}
			// A trial runs until the next one starts; the last trial's end
			// is only known once the facilitator closes the session.
			if i+1 < len(pkg.Trials) {
				end := pkg.Trials[i+1].StartedAt
				trial.EndedAt = &end
			}
			if err := tx.Create(&trial).Error; err != nil {
				return fmt.Errorf("failed to create trial: %w", err)
			}

			// Tracker folders are numbered per (task, factor) pairing, not
			// by position in the session.
			ordinal := 1
			for j := 0; j < i; j++ {
				if pkg.Trials[j].TaskID == t.TaskID && pkg.Trials[j].FactorID == t.FactorID {
					ordinal++
				}
			}
			dirName := fmt.Sprintf("%s_%s_trial_%d",
				stripSpaces(taskNames[t.TaskID]), stripSpaces(factorNames[t.FactorID]), ordinal)

			trialDir, err := findTrialDir(tempDir, dirName, i+1)
			if err != nil {
				return err
			}
			if err := h.ingestTrialDir(tx, &pkg, &trial, trialDir, optionIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.perms.InvalidateUsed(c.Request.Context(), pkg.StudyID)
	c.JSON(http.StatusOK, gin.H{"message": "participant session saved successfully"})
}

// findTrialDir locates the extracted folder for a trial. Tracker folders are
// named <Task>_<Factor>_trial_<n>; packages built by older trackers may use
// other names, so a _trial_<position> suffix match stands in when the exact
// name is absent.
func findTrialDir(root, dirName string, position int) (string, error) {
	var exact, bySuffix string
	suffix := fmt.Sprintf("_trial_%d", position)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == dirName {
			exact = path
			return filepath.SkipAll
		}
		if bySuffix == "" && strings.HasSuffix(d.Name(), suffix) {
			bySuffix = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan session package: %w", err)
	}
	if exact != "" {
		return exact, nil
	}
	if bySuffix != "" {
		return bySuffix, nil
	}
	return "", fmt.Errorf("no trial folder found for %s", dirName)
}

// studyNames loads the study's task and factor names keyed by id.
func (h *Handler) studyNames(studyID uint) (map[uint]string, map[uint]string, error) {
	var tasks []models.Task
	if err := h.db.Where("study_id = ?", studyID).Find(&tasks).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	var factors []models.Factor
	if err := h.db.Where("study_id = ?", studyID).Find(&factors).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load factors: %w", err)
	}

	taskNames := make(map[uint]string, len(tasks))
	for _, t := range tasks {
		taskNames[t.ID] = t.Name
	}
	factorNames := make(map[uint]string, len(factors))
	for _, f := range factors {
		factorNames[f.ID] = f.Name
	}
	return taskNames, factorNames, nil
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// ingestTrialDir stores every recognised artifact in a trial folder and
// creates its SessionDataInstance row. Unrecognised files are ignored.
func (h *Handler) ingestTrialDir(tx *gorm.DB, pkg *sessionPackage, trial *models.Trial, dir string, optionIDs map[string]uint) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read trial folder: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".csv" && ext != ".mp4" && ext != ".png" {
			continue
		}

		optionID, ok := measurementForFile(entry.Name(), optionIDs)
		if !ok {
			continue
		}

		instance := models.SessionDataInstance{
			TrialID:              trial.ID,
			ParticipantSessionID: pkg.ParticipantSessID,
			TaskID:               trial.TaskID,
			FactorID:             trial.FactorID,
			MeasurementOptionID:  optionID,
		}
		if err := tx.Create(&instance).Error; err != nil {
			return fmt.Errorf("failed to create data instance: %w", err)
		}

		src, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to open artifact: %w", err)
		}
		path, err := h.storage.SaveInstance(pkg.StudyID, pkg.ParticipantSessID, instance.ID, ext, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("failed to store artifact: %w", err)
		}

		if err := tx.Model(&instance).Update("results_path", path).Error; err != nil {
			return fmt.Errorf("failed to record artifact path: %w", err)
		}
	}
	return nil
}

// measurementForFile maps a tracker artifact filename to a measurement
// option. Tracker names end with the space-stripped measurement, e.g.
// 12_TaskA_FactorB_MouseMovement_data.csv or ..._ScreenRecording.mp4.
func measurementForFile(name string, optionIDs map[string]uint) (uint, bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimSuffix(base, "_data")
	for stripped, id := range optionIDs {
		if strings.HasSuffix(base, stripped) {
			return id, true
		}
	}
	return 0, false
}

// measurementOptionIDs returns the seeded options keyed by their
// space-stripped name.
func (h *Handler) measurementOptionIDs() (map[string]uint, error) {
	var options []models.MeasurementOption
	if err := h.db.Find(&options).Error; err != nil {
		return nil, fmt.Errorf("failed to load measurement options: %w", err)
	}
	ids := make(map[string]uint, len(options))
	for _, opt := range options {
		ids[stripSpaces(opt.Name)] = opt.ID
	}
	return ids, nil
}

// extractZip unpacks a session package, refusing entries that escape the
// destination directory.
func extractZip(zipPath, dest string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dest, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path %q", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// SaveSessionNotes records the facilitator's validity flag and comments and
// stamps the session's end time.
func (h *Handler) SaveSessionNotes(c *gin.Context) {
	sessionID, ok := paramUint(c, "session_id")
	if !ok {
		return
	}

	var req struct {
		IsValid  *bool  `json:"is_valid" binding:"required"`
		Comments string `json:"comments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing parameters for saving session notes"})
		return
	}

	studyID, ok := h.studyIDForSession(c, sessionID)
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	now := time.Now()
	err := h.db.Model(&models.ParticipantSession{}).
		Where("participant_session_id = ?", sessionID).
		Updates(map[string]any{
			"ended_at": now,
			"is_valid": *req.IsValid,
			"comments": req.Comments,
		}).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "facilitator notes saved successfully"})
}

// SaveSurveyResults stores a pre or post survey's answers next to the
// session's artifacts and records the pointer row.
func (h *Handler) SaveSurveyResults(c *gin.Context) {
	sessionID, ok := paramUint(c, "session_id")
	if !ok {
		return
	}

	var req struct {
		SurveyType string         `json:"survey_type" binding:"required"`
		Results    map[string]any `json:"results" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing necessary parameters for saving survey results"})
		return
	}
	if req.SurveyType != models.SurveyPre && req.SurveyType != models.SurveyPost {
		c.JSON(http.StatusBadRequest, gin.H{"error": "survey_type must be pre or post"})
		return
	}

	studyID, ok := h.studyIDForSession(c, sessionID)
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	path, err := h.storage.SaveSurveyResults(studyID, sessionID, req.SurveyType, req.Results)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		form := models.SurveyForm{StudyID: studyID, FormType: req.SurveyType}
		if err := tx.Where("study_id = ? AND form_type = ?", studyID, req.SurveyType).
			FirstOrCreate(&form).Error; err != nil {
			return fmt.Errorf("failed to resolve survey form: %w", err)
		}

		result := models.SurveyResult{
			SurveyFormID:         form.ID,
			ParticipantSessionID: sessionID,
			FilePath:             path,
		}
		if err := tx.Where("survey_form_id = ? AND participant_session_id = ?", form.ID, sessionID).
			Assign(models.SurveyResult{FilePath: path}).
			FirstOrCreate(&result).Error; err != nil {
			return fmt.Errorf("failed to record survey result: %w", err)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "survey results saved successfully"})
}

// SaveConsentAck records a participant session's agreement to the study's
// consent form. Repeat acknowledgements are accepted silently.
func (h *Handler) SaveConsentAck(c *gin.Context) {
	sessionID, ok := paramUint(c, "session_id")
	if !ok {
		return
	}

	studyID, ok := h.studyIDForSession(c, sessionID)
	if !ok {
		return
	}

	var form models.ConsentForm
	if err := h.db.First(&form, "study_id = ?", studyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no consent form for study"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ack := models.ConsentAck{
		ConsentFormID:        form.ID,
		ParticipantSessionID: sessionID,
	}
	err := h.db.Where("consent_form_id = ? AND participant_session_id = ?", form.ID, sessionID).
		FirstOrCreate(&ack).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "participant consent saved successfully"})
}

// GetAllSessionInfo returns per-session facilitator info for the study
// panel: ordinal, date, validity and comments.
func (h *Handler) GetAllSessionInfo(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	var sessions []models.ParticipantSession
	err := h.db.Where("study_id = ?", studyID).
		Order("created_at ASC, participant_session_id ASC").
		Find(&sessions).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type sessionInfo struct {
		ParticipantSessionID uint       `json:"participant_session_id"`
		SessionName          string     `json:"session_name"`
		DateConducted        time.Time  `json:"date_conducted"`
		Status               string     `json:"status"`
		Comments             string     `json:"comments"`
		EndedAt              *time.Time `json:"ended_at"`
	}

	infos := make([]sessionInfo, 0, len(sessions))
	for i, s := range sessions {
		status := "Valid"
		if !s.IsValid {
			status = "Invalid"
		}
		infos = append(infos, sessionInfo{
			ParticipantSessionID: s.ID,
			SessionName:          fmt.Sprintf("%d_participant_session", i+1),
			DateConducted:        s.CreatedAt,
			Status:               status,
			Comments:             s.Comments,
			EndedAt:              s.EndedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"sessions": infos})
}
