package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/analytics/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed metrics store.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: every :memory: connection is its own database, and
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analytics_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instance_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		total_attempts INTEGER NOT NULL DEFAULT 0,
		total_time_seconds INTEGER NOT NULL DEFAULT 0,
		average_time_per_attempt REAL NOT NULL DEFAULT 0,
		number_of_correct_answers INTEGER NOT NULL DEFAULT 0,
		final_score REAL NOT NULL DEFAULT 0,
		activity_success INTEGER NOT NULL DEFAULT 0,
		answer_rationale TEXT NOT NULL DEFAULT '[]',
		calculated_at TEXT NOT NULL,
		UNIQUE (instance_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_contracts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		saved_at DATETIME NOT NULL,
		body TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const metricsColumns = `instance_id, student_id, total_attempts, total_time_seconds,
	average_time_per_attempt, number_of_correct_answers, final_score,
	activity_success, answer_rationale, calculated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMetrics(r rowScanner) (model.AnalyticsMetrics, error) {
	var (
		m         model.AnalyticsMetrics
		rationale string
	)
	err := r.Scan(
		&m.InstanceID, &m.StudentID,
		&m.Metrics.TotalAttempts, &m.Metrics.TotalTimeSeconds,
		&m.Metrics.AverageTimePerAttempt, &m.Metrics.NumberOfCorrectAnswers,
		&m.Metrics.FinalScore, &m.Metrics.ActivitySuccess,
		&rationale, &m.CalculatedAt,
	)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(rationale), &m.Qualitative.AnswerRationale); err != nil {
		return m, fmt.Errorf("decode rationale for %s/%s: %w", m.InstanceID, m.StudentID, err)
	}
	if m.Qualitative.AnswerRationale == nil {
		m.Qualitative.AnswerRationale = []string{}
	}
	return m, nil
}

// GetMetrics returns the cached metrics for a student in an instance, or nil
// if none have been computed yet.
func (s *Store) GetMetrics(ctx context.Context, instanceID, studentID string) (*model.AnalyticsMetrics, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+metricsColumns+` FROM analytics_metrics WHERE instance_id = ? AND student_id = ?`,
		instanceID, studentID,
	)
	m, err := scanMetrics(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMetrics returns every cached row of an instance in first-write order.
func (s *Store) ListMetrics(ctx context.Context, instanceID string) ([]model.AnalyticsMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricsColumns+` FROM analytics_metrics WHERE instance_id = ? ORDER BY id`, instanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []model.AnalyticsMetrics{}
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// UpsertMetrics inserts the row or fully replaces the existing one for the
// same (instance, student).
func (s *Store) UpsertMetrics(ctx context.Context, m model.AnalyticsMetrics) error {
	rationale := m.Qualitative.AnswerRationale
	if rationale == nil {
		rationale = []string{}
	}
	encoded, err := json.Marshal(rationale)
	if err != nil {
		return fmt.Errorf("encode rationale: %w", err)
	}
	q := m.Metrics
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analytics_metrics (`+metricsColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(instance_id, student_id) DO UPDATE SET
			total_attempts = excluded.total_attempts,
			total_time_seconds = excluded.total_time_seconds,
			average_time_per_attempt = excluded.average_time_per_attempt,
			number_of_correct_answers = excluded.number_of_correct_answers,
			final_score = excluded.final_score,
			activity_success = excluded.activity_success,
			answer_rationale = excluded.answer_rationale,
			calculated_at = excluded.calculated_at`,
		m.InstanceID, m.StudentID,
		q.TotalAttempts, q.TotalTimeSeconds, q.AverageTimePerAttempt,
		q.NumberOfCorrectAnswers, q.FinalScore, q.ActivitySuccess,
		string(encoded), m.CalculatedAt,
	)
	return err
}

// DeleteMetrics drops a cached row. It reports whether a row existed.
func (s *Store) DeleteMetrics(ctx context.Context, instanceID, studentID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM analytics_metrics WHERE instance_id = ? AND student_id = ?`, instanceID, studentID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
