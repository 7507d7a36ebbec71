package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fulcrum/internal/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// durationMinutes accepts a task duration as a number of minutes or the
// string "None" for untimed tasks, and stores seconds.
type durationMinutes struct {
	Seconds *float64
}

func (d *durationMinutes) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" || strings.EqualFold(s, "none") {
			return nil
		}
		minutes, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid task duration %q", s)
		}
		seconds := minutes * 60
		d.Seconds = &seconds
		return nil
	}
	var minutes float64
	if err := json.Unmarshal(data, &minutes); err != nil {
		return fmt.Errorf("invalid task duration: %w", err)
	}
	seconds := minutes * 60
	d.Seconds = &seconds
	return nil
}

type taskSubmission struct {
	TaskName           string          `json:"taskName" binding:"required"`
	TaskDirections     string          `json:"taskDirections"`
	TaskDuration       durationMinutes `json:"taskDuration"`
	MeasurementOptions []string        `json:"measurementOptions"`
}

type factorSubmission struct {
	FactorName        string `json:"factorName" binding:"required"`
	FactorDescription string `json:"factorDescription"`
}

type studySubmission struct {
	StudyName            string             `json:"studyName" binding:"required"`
	StudyDescription     string             `json:"studyDescription"`
	StudyDesignType      string             `json:"studyDesignType"`
	ExpectedParticipants int                `json:"expectedParticipants"`
	Tasks                []taskSubmission   `json:"tasks" binding:"required"`
	Factors              []factorSubmission `json:"factors" binding:"required"`
}

// CreateStudy creates a study with its tasks, factors and measurement
// bindings, and grants the caller the owner role.
func (h *Handler) CreateStudy(c *gin.Context) {
	var sub studySubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	design := sub.StudyDesignType
	if design == "" {
		design = models.DesignWithin
	}
	if design != models.DesignWithin && design != models.DesignBetween {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown study design type"})
		return
	}

	study := models.Study{
		Name:                 sub.StudyName,
		Description:          sub.StudyDescription,
		DesignType:           design,
		ExpectedParticipants: sub.ExpectedParticipants,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&study).Error; err != nil {
			return fmt.Errorf("failed to create study: %w", err)
		}

		for _, t := range sub.Tasks {
			task := models.Task{
				StudyID:    study.ID,
				Name:       t.TaskName,
				Directions: t.TaskDirections,
				Duration:   t.TaskDuration.Seconds,
			}
			if err := tx.Create(&task).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
			for _, name := range t.MeasurementOptions {
				var opt models.MeasurementOption
				if err := tx.First(&opt, "name = ?", name).Error; err != nil {
					return fmt.Errorf("unknown measurement option %q: %w", name, err)
				}
				if err := tx.Model(&task).Association("Measurements").Append(&opt); err != nil {
					return fmt.Errorf("failed to bind measurement: %w", err)
				}
			}
		}

		for _, f := range sub.Factors {
			factor := models.Factor{
				StudyID:     study.ID,
				Name:        f.FactorName,
				Description: f.FactorDescription,
			}
			if err := tx.Create(&factor).Error; err != nil {
				return fmt.Errorf("failed to create factor: %w", err)
			}
		}

		role := models.StudyUserRole{
			UserID:  currentUserID(c),
			StudyID: study.ID,
			Role:    models.RoleOwner,
		}
		if err := tx.Create(&role).Error; err != nil {
			return fmt.Errorf("failed to grant owner role: %w", err)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"study_id": study.ID})
}

// ListStudies returns the caller's studies with their role and completed
// session count.
func (h *Handler) ListStudies(c *gin.Context) {
	type studyRow struct {
		StudyID              uint      `json:"study_id"`
		StudyName            string    `json:"study_name"`
		StudyDescription     string    `json:"study_description"`
		CreatedAt            time.Time `json:"created_at"`
		ExpectedParticipants int       `json:"expected_participants"`
		CompletedSessions    int       `json:"completed_sessions"`
		Role                 string    `json:"role"`
	}

	var rows []studyRow
	err := h.db.Table("study").
		Select(`study.study_id, study.name AS study_name, study.description AS study_description,
			study.created_at, study.expected_participants,
			COUNT(ps.participant_session_id) AS completed_sessions,
			study_user_role.role`).
		Joins("JOIN study_user_role ON study_user_role.study_id = study.study_id").
		Joins("LEFT JOIN participant_session ps ON ps.study_id = study.study_id").
		Where("study_user_role.user_id = ?", currentUserID(c)).
		Group("study.study_id, study.name, study.description, study.created_at, study.expected_participants, study_user_role.role").
		Order("study.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"studies": rows})
}

// GetStudy returns the full study definition, tasks and factors included.
func (h *Handler) GetStudy(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	var study models.Study
	err := h.db.Preload("Tasks.Measurements").Preload("Factors").
		First(&study, "study_id = ?", studyID).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
		return
	}

	c.JSON(http.StatusOK, study)
}

// DeleteStudy soft-deletes a study: the row is copied to deleted_study and
// the access roles are removed, which makes the study invisible. Session
// data stays on disk and in the live tables.
func (h *Handler) DeleteStudy(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}

	canEdit, err := h.auth.CanEditStudy(currentUserID(c), studyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !canEdit {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to study"})
		return
	}

	var study models.Study
	if err := h.db.First(&study, "study_id = ?", studyID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "study not found"})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		deleted := models.DeletedStudy{
			StudyID:              study.ID,
			Name:                 study.Name,
			Description:          study.Description,
			DesignType:           study.DesignType,
			ExpectedParticipants: study.ExpectedParticipants,
			DeletedByUserID:      currentUserID(c),
			DeletedAt:            time.Now(),
		}
		if err := tx.Create(&deleted).Error; err != nil {
			return fmt.Errorf("failed to record deleted study: %w", err)
		}
		if err := tx.Where("study_id = ?", study.ID).Delete(&models.StudyUserRole{}).Error; err != nil {
			return fmt.Errorf("failed to remove study roles: %w", err)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "study deleted"})
}

// UploadConsentForm stores the study's consent PDF, replacing any previous
// version.
func (h *Handler) UploadConsentForm(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part in the request"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, only PDF files are allowed"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	path, err := h.storage.SaveConsentForm(studyID, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	form := models.ConsentForm{StudyID: studyID, FilePath: path}
	err = h.db.Where("study_id = ?", studyID).
		Assign(models.ConsentForm{FilePath: path}).
		FirstOrCreate(&form).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "consent form saved"})
}

// DownloadConsentForm streams the study's consent PDF.
func (h *Handler) DownloadConsentForm(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	path, err := h.storage.ConsentFormPath(studyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no consent form for study"})
		return
	}

	c.FileAttachment(path, "consent_form.pdf")
}
