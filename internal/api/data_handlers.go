package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fulcrum/internal/archive"
	"fulcrum/internal/models"
	"fulcrum/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SaveSessionDataInstance ingests one CSV artifact uploaded directly by the
// tracker. The artifact is attached to the session's current trial for the
// (task, factor) pair; a trial is opened if none exists yet.
func (h *Handler) SaveSessionDataInstance(c *gin.Context) {
	sessionID, ok := paramUint(c, "session_id")
	if !ok {
		return
	}
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	taskID, ok := paramUint(c, "task_id")
	if !ok {
		return
	}
	measurementID, ok := paramUint(c, "measurement_option_id")
	if !ok {
		return
	}
	factorID, ok := paramUint(c, "factor_id")
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("input_csv")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file part in the request"})
		return
	}
	if fileHeader.Header.Get("Content-Type") != "text/csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file type, only CSV files are allowed"})
		return
	}

	var instanceID uint
	err = h.db.Transaction(func(tx *gorm.DB) error {
		trial, err := currentTrial(tx, sessionID, taskID, factorID)
		if err != nil {
			return err
		}

		// A trial holds at most one artifact per measurement.
		var existing int64
		if err := tx.Model(&models.SessionDataInstance{}).
			Where("trial_id = ? AND measurement_option_id = ?", trial.ID, measurementID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check for existing instance: %w", err)
		}
		if existing > 0 {
			return storage.ErrDuplicateArtifact
		}

		instance := models.SessionDataInstance{
			TrialID:              trial.ID,
			ParticipantSessionID: sessionID,
			TaskID:               taskID,
			FactorID:             factorID,
			MeasurementOptionID:  measurementID,
		}
		if err := tx.Create(&instance).Error; err != nil {
			return fmt.Errorf("failed to create data instance: %w", err)
		}
		instanceID = instance.ID

		src, err := fileHeader.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer src.Close()

		path, err := h.storage.SaveInstance(studyID, sessionID, instance.ID, ".csv", src)
		if err != nil {
			return err
		}
		return tx.Model(&instance).Update("results_path", path).Error
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateArtifact) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error_type":    "Duplicate session_data_instance",
				"error_message": "CSV with same name already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":                  "CSV saved successfully",
		"session_data_instance_id": instanceID,
	})
}

// currentTrial returns the most recent trial of the session for the (task,
// factor) pair, opening one when the tracker uploads before the session
// package arrives.
func currentTrial(tx *gorm.DB, sessionID, taskID, factorID uint) (*models.Trial, error) {
	var trial models.Trial
	err := tx.Where("participant_session_id = ? AND task_id = ? AND factor_id = ?",
		sessionID, taskID, factorID).
		Order("started_at DESC").
		First(&trial).Error
	if err == nil {
		return &trial, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up trial: %w", err)
	}

	trial = models.Trial{
		ParticipantSessionID: sessionID,
		TaskID:               taskID,
		FactorID:             factorID,
		StartedAt:            time.Now(),
	}
	if err := tx.Create(&trial).Error; err != nil {
		return nil, fmt.Errorf("failed to open trial: %w", err)
	}
	return &trial, nil
}

// GetOneInstanceZip streams a single-artifact ZIP.
func (h *Handler) GetOneInstanceZip(c *gin.Context) {
	instanceID, ok := paramUint(c, "instance_id")
	if !ok {
		return
	}

	export, err := h.archive.OneInstance(c.Request.Context(), instanceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.writeExport(c, export)
}

// GetTrialZip streams every artifact of one trial as a ZIP.
func (h *Handler) GetTrialZip(c *gin.Context) {
	trialID, ok := paramUint(c, "trial_id")
	if !ok {
		return
	}

	export, err := h.archive.Trial(c.Request.Context(), trialID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.writeExport(c, export)
}

// GetSessionZip streams a session-scoped ZIP, surveys included.
func (h *Handler) GetSessionZip(c *gin.Context) {
	sessionID, ok := paramUint(c, "session_id")
	if !ok {
		return
	}

	studyID, ok := h.studyIDForSession(c, sessionID)
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	export, err := h.archive.Session(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.writeExport(c, export)
}

// GetStudyZip streams a study-scoped ZIP.
func (h *Handler) GetStudyZip(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	export, err := h.archive.Study(c.Request.Context(), studyID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.writeExport(c, export)
}

func (h *Handler) writeExport(c *gin.Context, export *archive.Export) {
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Status(http.StatusOK)

	if err := archive.WriteZip(c.Writer, export.Records, export.Surveys); err != nil {
		// Headers are already out, all we can do is cut the stream short.
		c.Error(err) //nolint:errcheck
	}
}

// StreamSessionData streams a study's CSV rows as newline-delimited JSON.
func (h *Handler) StreamSessionData(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	chunkRows, _ := strconv.Atoi(c.DefaultQuery("chunk_size", "0"))

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	if err := h.archive.StreamStudy(c.Request.Context(), studyID, c.Writer, chunkRows); err != nil {
		c.Error(err) //nolint:errcheck
	}
}
