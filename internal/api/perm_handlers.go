package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetNewTrialsPerm returns an unused trial sequence for the study's next
// session, falling back per the permutation service's status tags when the
// space is exhausted or the search times out.
func (h *Handler) GetNewTrialsPerm(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	trialCount, err := strconv.Atoi(c.Query("trial_count"))
	if err != nil || trialCount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trial_count must be a positive integer"})
		return
	}

	result, err := h.perms.NewPerm(c.Request.Context(), studyID, trialCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetPreviousSessionLength returns the trial count of the study's most
// recent session, or null when there is none.
func (h *Handler) GetPreviousSessionLength(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	length, err := h.perms.PreviousSessionLength(c.Request.Context(), studyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prev_length": length})
}

// GetTrialOccurrences returns how many times each (task, factor) pair has
// been run across the study.
func (h *Handler) GetTrialOccurrences(c *gin.Context) {
	studyID, ok := paramUint(c, "study_id")
	if !ok {
		return
	}
	if !h.requireStudyAccess(c, studyID) {
		return
	}

	matrix, err := h.perms.TrialOccurrences(c.Request.Context(), studyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"matrix": matrix})
}
