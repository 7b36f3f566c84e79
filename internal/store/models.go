package store

import "time"

// Question is the full internal record, including the correct answer.
// Student-facing code must go through Public(); the two projections are
// separate types so the serialization boundary enforces the split.
type Question struct {
	ID            string    `json:"id"`
	QuestionText  string    `json:"question_text"`
	OptionA       string    `json:"option_a"`
	OptionB       string    `json:"option_b"`
	OptionC       string    `json:"option_c"`
	OptionD       string    `json:"option_d"`
	CorrectAnswer string    `json:"correct_answer"`
	CreatedAt     time.Time `json:"created_at"`
}

// PublicQuestion is the exam-taker view. The correct answer is absent from
// the type itself, not stripped at runtime.
type PublicQuestion struct {
	ID           string    `json:"id"`
	QuestionText string    `json:"question_text"`
	OptionA      string    `json:"option_a"`
	OptionB      string    `json:"option_b"`
	OptionC      string    `json:"option_c"`
	OptionD      string    `json:"option_d"`
	CreatedAt    time.Time `json:"created_at"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:           q.ID,
		QuestionText: q.QuestionText,
		OptionA:      q.OptionA,
		OptionB:      q.OptionB,
		OptionC:      q.OptionC,
		OptionD:      q.OptionD,
		CreatedAt:    q.CreatedAt,
	}
}

type Admin struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExamLog is one recorded proctoring violation.
type ExamLog struct {
	ID            string    `json:"id"`
	LogID         string    `json:"log_id"`
	Timestamp     time.Time `json:"timestamp"`
	VideoURL      string    `json:"video_url,omitempty"`
	Reason        string    `json:"reason"`
	StudentID     string    `json:"student_id,omitempty"`
	ExamSessionID string    `json:"exam_session_id,omitempty"`
}

// DeviceCheck is the result of the client-side hardware scan run before an
// exam starts.
type DeviceCheck struct {
	ID                   string    `json:"id"`
	HasMultipleKeyboards bool      `json:"has_multiple_keyboards"`
	HasExternalMonitors  bool      `json:"has_external_monitors"`
	KeyboardCount        int       `json:"keyboard_count"`
	MonitorCount         int       `json:"monitor_count"`
	DetectedDevices      []string  `json:"detected_devices"`
	CheckTimestamp       time.Time `json:"check_timestamp"`
}

type StatusCheck struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	Timestamp  time.Time `json:"timestamp"`
}
