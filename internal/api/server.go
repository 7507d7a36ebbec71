package api

import (
	"fmt"
	"net/http"
	"strings"

	"fulcrum/internal/archive"
	"fulcrum/internal/auth"
	"fulcrum/internal/permutation"
	"fulcrum/internal/storage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Server wraps the REST API server
type Server struct {
	handler *Handler
	router  *gin.Engine
}

// NewServer creates a new API server
func NewServer(db *gorm.DB, authSvc *auth.Service, store *storage.Storage, archiveSvc *archive.Service, permSvc *permutation.Service) *Server {
	handler := NewHandler(db, authSvc, store, archiveSvc, permSvc)

	// Use gin.New() instead of gin.Default() to avoid default logging
	// We'll add a custom logger that skips verbose endpoints
	router := gin.New()

	// Custom logger that skips the streaming export endpoint (long-lived
	// requests would flood the log with latency outliers)
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if strings.Contains(param.Path, "/stream_session_data/") {
			return ""
		}
		return fmt.Sprintf("[%s] %s %s %d %s %s \"%s\" %s\n",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.ClientIP,
			param.Method,
			param.StatusCode,
			param.Latency,
			param.Path,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// API routes
	api := router.Group("/api/v1")
	{
		// Public auth endpoints (no authentication required)
		api.POST("/auth/login", handler.Login)

		// Protected endpoints (require authentication)
		protected := api.Group("")
		protected.Use(AuthMiddleware(authSvc))
		{
			protected.GET("/auth/me", handler.GetCurrentUser)

			// Studies
			protected.POST("/studies", handler.CreateStudy)
			protected.GET("/studies", handler.ListStudies)
			protected.GET("/studies/:study_id", handler.GetStudy)
			protected.DELETE("/studies/:study_id", handler.DeleteStudy)
			protected.POST("/studies/:study_id/consent_form", handler.UploadConsentForm)
			protected.GET("/studies/:study_id/consent_form", handler.DownloadConsentForm)

			// Sessions
			protected.POST("/create_participant_session/:study_id", handler.CreateParticipantSession)
			protected.POST("/save_participant_session", handler.SaveParticipantSession)
			protected.POST("/sessions/:session_id/notes", handler.SaveSessionNotes)
			protected.POST("/sessions/:session_id/surveys", handler.SaveSurveyResults)
			protected.POST("/sessions/:session_id/consent", handler.SaveConsentAck)
			protected.GET("/get_all_session_info/:study_id", handler.GetAllSessionInfo)

			// Artifact ingest and export
			protected.POST("/save_session_data_instance/:session_id/:study_id/:task_id/:measurement_option_id/:factor_id", handler.SaveSessionDataInstance)
			protected.GET("/get_one_session_data_instance_zip/:instance_id", handler.GetOneInstanceZip)
			protected.GET("/get_all_session_data_instance_for_a_trial_zip/:trial_id", handler.GetTrialZip)
			protected.GET("/get_all_session_data_instance_from_participant_session_zip/:session_id", handler.GetSessionZip)
			protected.GET("/get_all_session_data_instance_zip/:study_id", handler.GetStudyZip)
			protected.GET("/stream_session_data/:study_id", handler.StreamSessionData)

			// Permutations
			protected.GET("/get_new_trials_perm/:study_id", handler.GetNewTrialsPerm)
			protected.GET("/previous_session_length/:study_id", handler.GetPreviousSessionLength)
			protected.GET("/get_trial_occurrences/:study_id", handler.GetTrialOccurrences)
		}
	}

	return &Server{
		handler: handler,
		router:  router,
	}
}

// GetRouter returns the router
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
