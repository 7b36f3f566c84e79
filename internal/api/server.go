// Package api exposes the exam platform over HTTP: question management,
// violation logs, device checks, and the speech-verification endpoint that
// fronts the detection pipeline.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vigilabs/vigil-core/internal/config"
	"github.com/vigilabs/vigil-core/internal/pipeline"
	"github.com/vigilabs/vigil-core/internal/protocol"
	"github.com/vigilabs/vigil-core/internal/store"
)

// SpeechDetector is the pipeline surface the speech endpoint needs.
type SpeechDetector interface {
	Detect(ctx context.Context, clip pipeline.Clip) (pipeline.Result, error)
	Available() bool
}

// ViolationPublisher pushes proctoring events onto the bus. Publishing is
// best effort and never affects the HTTP response.
type ViolationPublisher interface {
	PublishViolation(evt protocol.ViolationEvent)
}

type Server struct {
	cfg       config.Config
	log       *slog.Logger
	store     *store.Store
	detector  SpeechDetector
	publisher ViolationPublisher
	engine    *gin.Engine
}

func NewServer(cfg config.Config, logger *slog.Logger, st *store.Store, detector SpeechDetector, publisher ViolationPublisher, metrics http.Handler) *Server {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		log:       logger,
		store:     st,
		detector:  detector,
		publisher: publisher,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.corsMiddleware())
	engine.MaxMultipartMemory = cfg.HTTP.MaxUploadBytes

	if metrics != nil {
		engine.GET("/metrics", gin.WrapH(metrics))
	}

	api := engine.Group("/api")
	{
		api.GET("/", s.handleRoot)
		api.GET("/status", s.handleListStatus)
		api.POST("/status", s.handleCreateStatus)
		api.POST("/admin/login", s.handleAdminLogin)
		api.GET("/questions", s.handlePublicQuestions)
		api.POST("/exam/logs", s.handleCreateExamLog)
		api.POST("/device/check", s.handleCreateDeviceCheck)
		api.POST("/speech/check", s.handleSpeechCheck)

		admin := api.Group("/admin", s.authMiddleware())
		{
			admin.POST("/questions", s.handleCreateQuestion)
			admin.GET("/questions", s.handleListQuestions)
			admin.DELETE("/questions/:id", s.handleDeleteQuestion)
			admin.GET("/logs", s.handleListExamLogs)
			admin.GET("/device-checks", s.handleListDeviceChecks)
		}
	}

	s.engine = engine
	return s
}

// Handler returns the router for mounting in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware validates the bearer token against admin_sessions.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		ok, err := s.store.SessionValid(c.Request.Context(), token)
		if err != nil {
			s.log.Error("session lookup failed", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}
		c.Next()
	}
}
