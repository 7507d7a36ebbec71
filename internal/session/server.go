package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// shutdownAuthKey must accompany a shutdown request. The control server
// only listens on loopback; the key guards against stray local posts.
const shutdownAuthKey = "shutdownOK"

// Server is the local control surface for the tracker. Study-authoring
// clients on the same machine use it to launch sessions, poll progress and
// collect results.
type Server struct {
	controller   *Controller
	hub          *Hub
	router       *gin.Engine
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewServer(controller *Controller, hub *Hub) *Server {
	s := &Server{
		controller: controller,
		hub:        hub,
		shutdown:   make(chan struct{}),
	}

	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		if strings.Contains(param.Path, "/check_local_tracking_running") {
			return ""
		}
		return fmt.Sprintf("[TRACKER] %s | %3d | %13v | %s %s\n",
			param.TimeStamp.Format("2006/01/02 15:04:05"),
			param.StatusCode,
			param.Latency,
			param.Method,
			param.Path,
		)
	}))
	router.Use(gin.Recovery())

	router.POST("/run_study", s.runStudy)
	router.GET("/get_session_zip_results", s.getSessionZipResults)
	router.GET("/get_session_json_results", s.getSessionJSONResults)
	router.GET("/check_local_tracking_running", s.checkRunning)
	router.POST("/shutdown_local_tracking", s.shutdownTracking)
	router.GET("/ws/status", HandleStatusSocket(hub))

	router.POST("/session/next", s.nextTrial)
	router.POST("/session/pause", s.pauseSession)
	router.POST("/session/resume", s.resumeSession)
	router.POST("/session/quit", s.quitSession)

	s.router = router
	return s
}

// ShutdownRequested is closed once an authorized shutdown request has been
// handled.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

// Run serves on the loopback interface until the process exits.
func (s *Server) Run(port int) error {
	return s.router.Run(fmt.Sprintf("127.0.0.1:%d", port))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) runStudy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}
	desc, err := ParseDescriptor(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.Start(desc); err != nil {
		if errors.Is(err, ErrSessionRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "A session is already in progress"})
			return
		}
		log.Printf("Error starting session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session started", "participant_session_id": desc.ParticipantSessID})
}

func (s *Server) getSessionZipResults(c *gin.Context) {
	_, zipPath, err := s.controller.Results()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No finished session results available"})
		return
	}
	c.FileAttachment(zipPath, filepath.Base(zipPath))
}

func (s *Server) getSessionJSONResults(c *gin.Context) {
	result, _, err := s.controller.Results()
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No finished session results available"})
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

func (s *Server) checkRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.controller.Running()})
}

func (s *Server) shutdownTracking(c *gin.Context) {
	var req struct {
		AuthKey string `json:"auth_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.AuthKey != shutdownAuthKey {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid shutdown authorization"})
		return
	}
	if err := s.controller.Shutdown(); err != nil {
		log.Printf("Error finalizing session during shutdown: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to finalize session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Shutting down"})
	s.shutdownOnce.Do(func() { close(s.shutdown) })
}

func (s *Server) nextTrial(c *gin.Context) {
	if err := s.controller.NextTrial(); err != nil {
		switch {
		case errors.Is(err, ErrTrialTimed):
			c.JSON(http.StatusConflict, gin.H{"error": "Trial timer has not elapsed"})
		case errors.Is(err, ErrNoSession):
			c.JSON(http.StatusConflict, gin.H{"error": "No session in progress"})
		default:
			log.Printf("Error advancing trial: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to advance trial"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) pauseSession(c *gin.Context) {
	if err := s.controller.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No running trial to pause"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) resumeSession(c *gin.Context) {
	if err := s.controller.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "No paused trial to resume"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) quitSession(c *gin.Context) {
	if err := s.controller.Quit(); err != nil {
		if errors.Is(err, ErrNoSession) {
			c.JSON(http.StatusConflict, gin.H{"error": "No session in progress"})
			return
		}
		log.Printf("Error quitting session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to quit session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
