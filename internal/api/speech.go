package api

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vigilabs/vigil-core/internal/pipeline"
	"github.com/vigilabs/vigil-core/internal/protocol"
	"github.com/vigilabs/vigil-core/internal/store"
)

// handleSpeechCheck runs a recorded clip through the detection pipeline and,
// on a positive verdict, records a violation and publishes a bus event. A
// pipeline failure is always surfaced as a 5xx status, never as a quiet
// "no speech" verdict.
func (s *Server) handleSpeechCheck(c *gin.Context) {
	header, err := s.audioFormFile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	if header.Size > s.cfg.HTTP.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open audio file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.HTTP.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read audio file"})
		return
	}
	if int64(len(data)) > s.cfg.HTTP.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
		return
	}

	mimeType := c.PostForm("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}
	studentID := c.PostForm("student_id")
	sessionID := c.PostForm("exam_session_id")

	result, err := s.detector.Detect(c.Request.Context(), pipeline.Clip{Data: data, MIMEType: mimeType})
	if err != nil {
		s.respondDetectError(c, err)
		return
	}

	if result.SpeechDetected {
		s.recordViolation(c, result, studentID, sessionID)
	}
	c.JSON(http.StatusOK, result)
}

// audioFormFile accepts the canonical field name plus the aliases older
// exam clients send.
func (s *Server) audioFormFile(c *gin.Context) (*multipart.FileHeader, error) {
	for _, field := range []string{"audio", "audio_file", "file"} {
		if header, err := c.FormFile(field); err == nil {
			return header, nil
		}
	}
	return nil, errors.New("no audio field in form")
}

func (s *Server) respondDetectError(c *gin.Context, err error) {
	var decodeErr *pipeline.DecodeError
	switch {
	case errors.Is(err, pipeline.ErrModelUnavailable):
		s.log.Error("speech check rejected, model unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "voice-activity model unavailable"})
	case errors.Is(err, pipeline.ErrBudgetExceeded):
		s.log.Warn("speech check exceeded detection budget")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "detection budget exceeded"})
	case errors.As(err, &decodeErr):
		s.log.Error("speech check decode failed", slog.String("error", decodeErr.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to decode audio: " + decodeErr.Reason})
	default:
		s.log.Error("speech check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "speech check failed"})
	}
}

func (s *Server) recordViolation(c *gin.Context, result pipeline.Result, studentID, sessionID string) {
	entry := &store.ExamLog{
		LogID:         uuid.NewString(),
		Timestamp:     result.Timestamp,
		Reason:        result.Message,
		StudentID:     studentID,
		ExamSessionID: sessionID,
	}
	if err := s.store.CreateExamLog(c.Request.Context(), entry); err != nil {
		// the verdict still stands, but the missing log entry matters
		s.log.Error("violation log insert failed", slog.String("error", err.Error()))
	}
	if s.publisher != nil {
		s.publisher.PublishViolation(protocol.ViolationEvent{
			LogID:         entry.LogID,
			StudentID:     studentID,
			ExamSessionID: sessionID,
			Reason:        result.Message,
			Timestamp:     result.Timestamp,
		})
	}
	s.log.Info("speech violation recorded",
		slog.String("log_id", entry.LogID),
		slog.String("student_id", studentID),
		slog.String("exam_session_id", sessionID))
}
