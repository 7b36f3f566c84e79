package protocol

import "time"

// ViolationEvent is broadcast when the speech pipeline confirms talking
// during an exam session. Consumers (dashboards, recorders) subscribe to
// SubjectSpeechViolation.
type ViolationEvent struct {
	LogID         string    `json:"log_id"`
	StudentID     string    `json:"student_id,omitempty"`
	ExamSessionID string    `json:"exam_session_id,omitempty"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// OperatorAlert signals a degraded detection path that needs human
// attention, e.g. the voice-activity model failing to load.
type OperatorAlert struct {
	Severity  string    `json:"severity"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeechViolation = "proctor.violation.speech"
	SubjectOperatorAlert   = "proctor.alert.operator"
)
