// Package store persists the exam platform's records in SQLite: the
// question bank, admin accounts and sessions, violation logs, device
// checks, and status checks. The speech pipeline itself never writes here;
// its callers do.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/vigilabs/vigil-core/internal/config"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store and its schema according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS questions (
    id TEXT PRIMARY KEY,
    question_text TEXT NOT NULL,
    option_a TEXT NOT NULL,
    option_b TEXT NOT NULL,
    option_c TEXT NOT NULL,
    option_d TEXT NOT NULL,
    correct_answer TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS admins (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS admin_sessions (
    token TEXT PRIMARY KEY,
    admin_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(admin_id) REFERENCES admins(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS exam_logs (
    id TEXT PRIMARY KEY,
    log_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    video_url TEXT,
    reason TEXT NOT NULL,
    student_id TEXT,
    exam_session_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_exam_logs_timestamp ON exam_logs(timestamp);
CREATE TABLE IF NOT EXISTS device_checks (
    id TEXT PRIMARY KEY,
    has_multiple_keyboards INTEGER NOT NULL,
    has_external_monitors INTEGER NOT NULL,
    keyboard_count INTEGER NOT NULL,
    monitor_count INTEGER NOT NULL,
    detected_devices TEXT NOT NULL,
    check_timestamp TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS status_checks (
    id TEXT PRIMARY KEY,
    client_name TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// HashPassword mirrors the platform's original credential scheme.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// EnsureDefaultAdmin seeds the configured admin account when none exists.
func (s *Store) EnsureDefaultAdmin(ctx context.Context, username, password string) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE username = ?`, username).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins(id, username, password_hash, created_at) VALUES(?, ?, ?, ?)`,
		uuid.NewString(), username, HashPassword(password), s.clock().UTC())
	if err != nil {
		return err
	}
	s.log.Info("default admin created", slog.String("username", username))
	return nil
}

// AuthenticateAdmin checks credentials and returns the admin ID.
func (s *Store) AuthenticateAdmin(ctx context.Context, username, password string) (string, error) {
	admin, err := s.getAdminByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if admin.PasswordHash != HashPassword(password) {
		return "", ErrInvalidCredentials
	}
	return admin.ID, nil
}

func (s *Store) getAdminByUsername(ctx context.Context, username string) (*Admin, error) {
	var a Admin
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM admins WHERE username = ?`, username).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTimestamp(created)
	return &a, nil
}

// CreateAdminSession issues an opaque bearer token for the admin.
func (s *Store) CreateAdminSession(ctx context.Context, adminID string) (string, error) {
	token := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_sessions(token, admin_id, created_at) VALUES(?, ?, ?)`,
		token, adminID, s.clock().UTC())
	if err != nil {
		return "", err
	}
	return token, nil
}

// SessionValid reports whether a bearer token belongs to an admin session.
func (s *Store) SessionValid(ctx context.Context, token string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_sessions WHERE token = ?`, token).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateQuestion inserts a question, assigning ID and timestamp when unset.
func (s *Store) CreateQuestion(ctx context.Context, q *Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO questions(id, question_text, option_a, option_b, option_c, option_d, correct_answer, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.QuestionText, q.OptionA, q.OptionB, q.OptionC, q.OptionD, q.CorrectAnswer, q.CreatedAt)
	return err
}

// ListQuestions returns all questions, full records, newest last.
func (s *Store) ListQuestions(ctx context.Context) ([]Question, error) {
	return s.queryQuestions(ctx,
		`SELECT id, question_text, option_a, option_b, option_c, option_d, correct_answer, created_at
		 FROM questions ORDER BY created_at ASC`)
}

// SampleQuestions returns up to n random questions for an exam sitting.
func (s *Store) SampleQuestions(ctx context.Context, n int) ([]Question, error) {
	return s.queryQuestions(ctx,
		`SELECT id, question_text, option_a, option_b, option_c, option_d, correct_answer, created_at
		 FROM questions ORDER BY RANDOM() LIMIT ?`, n)
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		var created string
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.OptionA, &q.OptionB, &q.OptionC, &q.OptionD, &q.CorrectAnswer, &created); err != nil {
			return nil, err
		}
		q.CreatedAt = parseTimestamp(created)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// DeleteQuestion removes a question by ID.
func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateExamLog records a proctoring violation.
func (s *Store) CreateExamLog(ctx context.Context, l *ExamLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_logs(id, log_id, timestamp, video_url, reason, student_id, exam_session_id)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.LogID, l.Timestamp, l.VideoURL, l.Reason, l.StudentID, l.ExamSessionID)
	return err
}

// ListExamLogs returns up to limit violations, newest first.
func (s *Store) ListExamLogs(ctx context.Context, limit int) ([]ExamLog, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, log_id, timestamp, video_url, reason, student_id, exam_session_id
		 FROM exam_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ExamLog
	for rows.Next() {
		var l ExamLog
		var ts string
		var videoURL, studentID, sessionID sql.NullString
		if err := rows.Scan(&l.ID, &l.LogID, &ts, &videoURL, &l.Reason, &studentID, &sessionID); err != nil {
			return nil, err
		}
		l.Timestamp = parseTimestamp(ts)
		l.VideoURL = videoURL.String
		l.StudentID = studentID.String
		l.ExamSessionID = sessionID.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CreateDeviceCheck stores a client hardware scan result.
func (s *Store) CreateDeviceCheck(ctx context.Context, d *DeviceCheck) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CheckTimestamp.IsZero() {
		d.CheckTimestamp = s.clock().UTC()
	}
	devices, err := json.Marshal(d.DetectedDevices)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO device_checks(id, has_multiple_keyboards, has_external_monitors, keyboard_count, monitor_count, detected_devices, check_timestamp)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.HasMultipleKeyboards, d.HasExternalMonitors, d.KeyboardCount, d.MonitorCount, string(devices), d.CheckTimestamp)
	return err
}

// ListDeviceChecks returns up to limit scans, newest first.
func (s *Store) ListDeviceChecks(ctx context.Context, limit int) ([]DeviceCheck, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, has_multiple_keyboards, has_external_monitors, keyboard_count, monitor_count, detected_devices, check_timestamp
		 FROM device_checks ORDER BY check_timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []DeviceCheck
	for rows.Next() {
		var d DeviceCheck
		var ts, devices string
		if err := rows.Scan(&d.ID, &d.HasMultipleKeyboards, &d.HasExternalMonitors, &d.KeyboardCount, &d.MonitorCount, &devices, &ts); err != nil {
			return nil, err
		}
		d.CheckTimestamp = parseTimestamp(ts)
		if err := json.Unmarshal([]byte(devices), &d.DetectedDevices); err != nil {
			return nil, fmt.Errorf("decode detected devices: %w", err)
		}
		checks = append(checks, d)
	}
	return checks, rows.Err()
}

// CreateStatusCheck records a client liveness ping.
func (s *Store) CreateStatusCheck(ctx context.Context, c *StatusCheck) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_checks(id, client_name, timestamp) VALUES(?, ?, ?)`,
		c.ID, c.ClientName, c.Timestamp)
	return err
}

// ListStatusChecks returns up to limit pings, oldest first.
func (s *Store) ListStatusChecks(ctx context.Context, limit int) ([]StatusCheck, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_name, timestamp FROM status_checks ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []StatusCheck
	for rows.Next() {
		var c StatusCheck
		var ts string
		if err := rows.Scan(&c.ID, &c.ClientName, &ts); err != nil {
			return nil, err
		}
		c.Timestamp = parseTimestamp(ts)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

func parseTimestamp(value string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts
	}
	return time.Time{}
}
