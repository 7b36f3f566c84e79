package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vigilabs/vigil-core/internal/store"
)

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Secure Exam Platform API",
		"service": s.cfg.ServiceName,
	})
}

type statusRequest struct {
	ClientName string `json:"client_name" binding:"required"`
}

func (s *Server) handleCreateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	check := &store.StatusCheck{ClientName: req.ClientName}
	if err := s.store.CreateStatusCheck(c.Request.Context(), check); err != nil {
		s.log.Error("status check insert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record status check"})
		return
	}
	c.JSON(http.StatusOK, check)
}

func (s *Server) handleListStatus(c *gin.Context) {
	checks, err := s.store.ListStatusChecks(c.Request.Context(), 0)
	if err != nil {
		s.log.Error("status check list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list status checks"})
		return
	}
	if checks == nil {
		checks = []store.StatusCheck{}
	}
	c.JSON(http.StatusOK, checks)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleAdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	adminID, err := s.store.AuthenticateAdmin(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		s.log.Error("admin authentication failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
		return
	}
	token, err := s.store.CreateAdminSession(c.Request.Context(), adminID)
	if err != nil {
		s.log.Error("session create failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "message": "login successful"})
}

type questionRequest struct {
	QuestionText  string `json:"question_text" binding:"required"`
	OptionA       string `json:"option_a" binding:"required"`
	OptionB       string `json:"option_b" binding:"required"`
	OptionC       string `json:"option_c" binding:"required"`
	OptionD       string `json:"option_d" binding:"required"`
	CorrectAnswer string `json:"correct_answer" binding:"required"`
}

func (s *Server) handleCreateQuestion(c *gin.Context) {
	var req questionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := &store.Question{
		QuestionText:  req.QuestionText,
		OptionA:       req.OptionA,
		OptionB:       req.OptionB,
		OptionC:       req.OptionC,
		OptionD:       req.OptionD,
		CorrectAnswer: req.CorrectAnswer,
	}
	if err := s.store.CreateQuestion(c.Request.Context(), q); err != nil {
		s.log.Error("question insert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create question"})
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (s *Server) handleListQuestions(c *gin.Context) {
	questions, err := s.store.ListQuestions(c.Request.Context())
	if err != nil {
		s.log.Error("question list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list questions"})
		return
	}
	if questions == nil {
		questions = []store.Question{}
	}
	c.JSON(http.StatusOK, questions)
}

func (s *Server) handleDeleteQuestion(c *gin.Context) {
	id := c.Param("id")
	err := s.store.DeleteQuestion(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
		return
	}
	if err != nil {
		s.log.Error("question delete failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete question"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "question deleted"})
}

// handlePublicQuestions serves the exam-taker view: a random sample with
// the correct answers absent from the payload type itself.
func (s *Server) handlePublicQuestions(c *gin.Context) {
	questions, err := s.store.SampleQuestions(c.Request.Context(), s.cfg.Exam.QuestionSampleSize)
	if err != nil {
		s.log.Error("question sample failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sample questions"})
		return
	}
	public := make([]store.PublicQuestion, 0, len(questions))
	for _, q := range questions {
		public = append(public, q.Public())
	}
	c.JSON(http.StatusOK, public)
}

type examLogRequest struct {
	LogID         string `json:"log_id" binding:"required"`
	VideoURL      string `json:"video_url"`
	Reason        string `json:"reason" binding:"required"`
	StudentID     string `json:"student_id"`
	ExamSessionID string `json:"exam_session_id"`
}

func (s *Server) handleCreateExamLog(c *gin.Context) {
	var req examLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry := &store.ExamLog{
		LogID:         req.LogID,
		VideoURL:      req.VideoURL,
		Reason:        req.Reason,
		StudentID:     req.StudentID,
		ExamSessionID: req.ExamSessionID,
	}
	if err := s.store.CreateExamLog(c.Request.Context(), entry); err != nil {
		s.log.Error("exam log insert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record exam log"})
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleListExamLogs(c *gin.Context) {
	logs, err := s.store.ListExamLogs(c.Request.Context(), 0)
	if err != nil {
		s.log.Error("exam log list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list exam logs"})
		return
	}
	if logs == nil {
		logs = []store.ExamLog{}
	}
	c.JSON(http.StatusOK, logs)
}

type deviceCheckRequest struct {
	HasMultipleKeyboards bool     `json:"has_multiple_keyboards"`
	HasExternalMonitors  bool     `json:"has_external_monitors"`
	KeyboardCount        int      `json:"keyboard_count"`
	MonitorCount         int      `json:"monitor_count"`
	DetectedDevices      []string `json:"detected_devices"`
}

func (s *Server) handleCreateDeviceCheck(c *gin.Context) {
	var req deviceCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DetectedDevices == nil {
		req.DetectedDevices = []string{}
	}
	check := &store.DeviceCheck{
		HasMultipleKeyboards: req.HasMultipleKeyboards,
		HasExternalMonitors:  req.HasExternalMonitors,
		KeyboardCount:        req.KeyboardCount,
		MonitorCount:         req.MonitorCount,
		DetectedDevices:      req.DetectedDevices,
	}
	if err := s.store.CreateDeviceCheck(c.Request.Context(), check); err != nil {
		s.log.Error("device check insert failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record device check"})
		return
	}
	c.JSON(http.StatusCreated, check)
}

func (s *Server) handleListDeviceChecks(c *gin.Context) {
	checks, err := s.store.ListDeviceChecks(c.Request.Context(), 0)
	if err != nil {
		s.log.Error("device check list failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list device checks"})
		return
	}
	if checks == nil {
		checks = []store.DeviceCheck{}
	}
	c.JSON(http.StatusOK, checks)
}
