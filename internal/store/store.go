// Package store records saved grades in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradewise/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a grade does not exist.
var ErrNotFound = errors.New("grade not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		paper_name TEXT NOT NULL DEFAULT '',
		sheet_name TEXT NOT NULL DEFAULT '',
		question_id TEXT NOT NULL,
		question_text TEXT NOT NULL DEFAULT '',
		max_marks REAL NOT NULL,
		similarity_score REAL NOT NULL,
		ai_score INTEGER NOT NULL,
		ai_feedback TEXT NOT NULL DEFAULT '',
		justification TEXT NOT NULL DEFAULT '',
		extracted_text TEXT NOT NULL DEFAULT '',
		final_score INTEGER NOT NULL,
		final_feedback TEXT NOT NULL DEFAULT '',
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS grades_subject ON grades(subject);

	CREATE TABLE IF NOT EXISTS grader_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const gradeColumns = `id, session_id, subject, paper_name, sheet_name, question_id, question_text,
	max_marks, similarity_score, ai_score, ai_feedback, justification, extracted_text,
	final_score, final_feedback, recorded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanGrade(row scanner) (model.GradeRecord, error) {
	var g model.GradeRecord
	err := row.Scan(&g.ID, &g.SessionID, &g.Subject, &g.PaperName, &g.SheetName, &g.QuestionID, &g.QuestionText,
		&g.MaxMarks, &g.SimilarityScore, &g.AIScore, &g.AIFeedback, &g.Justification, &g.ExtractedText,
		&g.FinalScore, &g.FinalFeedback, &g.RecordedAt)
	return g, err
}

// RecordGrade stores a saved grade. It satisfies the workflow recorder.
func (s *Store) RecordGrade(ctx context.Context, g model.GradeRecord) error {
	_, err := s.InsertGrade(ctx, g)
	return err
}

// InsertGrade stores a grade and returns its id.
func (s *Store) InsertGrade(ctx context.Context, g model.GradeRecord) (int64, error) {
	if g.RecordedAt.IsZero() {
		g.RecordedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO grades (session_id, subject, paper_name, sheet_name, question_id, question_text,
			max_marks, similarity_score, ai_score, ai_feedback, justification, extracted_text,
			final_score, final_feedback, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.SessionID, g.Subject, g.PaperName, g.SheetName, g.QuestionID, g.QuestionText,
		g.MaxMarks, g.SimilarityScore, g.AIScore, g.AIFeedback, g.Justification, g.ExtractedText,
		g.FinalScore, g.FinalFeedback, g.RecordedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetGrade returns a grade by ID.
func (s *Store) GetGrade(ctx context.Context, id int64) (model.GradeRecord, error) {
	g, err := scanGrade(s.db.QueryRowContext(ctx, `SELECT `+gradeColumns+` FROM grades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.GradeRecord{}, fmt.Errorf("grade %d: %w", id, ErrNotFound)
	}
	return g, err
}

// ListGrades returns grades in the order they were recorded.
// An empty subject means no filtering.
func (s *Store) ListGrades(ctx context.Context, subject string) ([]model.GradeRecord, error) {
	query := `SELECT ` + gradeColumns + ` FROM grades WHERE 1=1`
	var args []any
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grades []model.GradeRecord
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// ListSessionGrades returns the grades saved by one grading session.
func (s *Store) ListSessionGrades(ctx context.Context, sessionID string) ([]model.GradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+gradeColumns+` FROM grades WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grades []model.GradeRecord
	for rows.Next() {
		g, err := scanGrade(rows)
		if err != nil {
			return nil, err
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}

// GradeCount returns the number of recorded grades.
func (s *Store) GradeCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM grades`).Scan(&count)
	return count, err
}
