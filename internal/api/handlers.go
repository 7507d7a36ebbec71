package api

import (
	"net/http"
	"strconv"

	"fulcrum/internal/archive"
	"fulcrum/internal/auth"
	"fulcrum/internal/permutation"
	"fulcrum/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler implements the archival and permutation service endpoints
type Handler struct {
	db      *gorm.DB
	auth    *auth.Service
	storage *storage.Storage
	archive *archive.Service
	perms   *permutation.Service
}

// NewHandler creates a new API handler
func NewHandler(db *gorm.DB, authSvc *auth.Service, s *storage.Storage, a *archive.Service, p *permutation.Service) *Handler {
	return &Handler{
		db:      db,
		auth:    authSvc,
		storage: s,
		archive: a,
		perms:   p,
	}
}

// paramUint parses a numeric path parameter. On failure it writes a 400 and
// reports false.
func paramUint(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

// requireStudyAccess checks the caller's role on a study and writes the
// error response itself when access is denied.
func (h *Handler) requireStudyAccess(c *gin.Context, studyID uint) bool {
	ok, err := h.auth.CanAccessStudy(currentUserID(c), studyID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to study"})
		return false
	}
	return true
}

// studyIDForSession resolves a session's owning study, writing a 404 when the
// session does not exist.
func (h *Handler) studyIDForSession(c *gin.Context, sessionID uint) (uint, bool) {
	var studyID uint
	err := h.db.Table("participant_session").
		Where("participant_session_id = ?", sessionID).
		Pluck("study_id", &studyID).Error
	if err != nil || studyID == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return 0, false
	}
	return studyID, true
}
