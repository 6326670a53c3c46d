package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/gradewise/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testGrade(sessionID, subject, questionID string, final int) model.GradeRecord {
	return model.GradeRecord{
		SessionID:       sessionID,
		Subject:         subject,
		PaperName:       "paper.pdf",
		SheetName:       "sheet-" + questionID + ".jpg",
		QuestionID:      questionID,
		QuestionText:    "text for " + questionID,
		MaxMarks:        10,
		SimilarityScore: 0.8,
		AIScore:         8,
		AIFeedback:      "ai feedback",
		Justification:   "covers the key points",
		ExtractedText:   "student answer",
		FinalScore:      final,
		FinalFeedback:   "final feedback",
		RecordedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewUnopenablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "grades.db")
	if s, err := New(path); err == nil {
		s.Close()
		t.Fatal("expected error for a database in a missing directory")
	}
}

func TestGradeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty DB should return zero count and empty list.
	count, err := s.GradeCount(ctx)
	if err != nil {
		t.Fatalf("GradeCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 grades, got %d", count)
	}
	list, err := s.ListGrades(ctx, "")
	if err != nil {
		t.Fatalf("ListGrades: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	// Insert and retrieve.
	want := testGrade("s1", "physics", "Q1b", 9)
	id, err := s.InsertGrade(ctx, want)
	if err != nil {
		t.Fatalf("InsertGrade: %v", err)
	}
	got, err := s.GetGrade(ctx, id)
	if err != nil {
		t.Fatalf("GetGrade: %v", err)
	}
	if got.ID != id {
		t.Errorf("expected id %d, got %d", id, got.ID)
	}
	if got.QuestionID != "Q1b" || got.SessionID != "s1" || got.Subject != "physics" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.FinalScore != 9 || got.AIScore != 8 {
		t.Errorf("expected final 9 ai 8, got final %d ai %d", got.FinalScore, got.AIScore)
	}
	if got.SimilarityScore != 0.8 || got.MaxMarks != 10 {
		t.Errorf("expected similarity 0.8 max 10, got %v %v", got.SimilarityScore, got.MaxMarks)
	}
	if got.FinalFeedback != "final feedback" || got.AIFeedback != "ai feedback" {
		t.Errorf("unexpected feedback: %q / %q", got.FinalFeedback, got.AIFeedback)
	}
	if !got.RecordedAt.Equal(want.RecordedAt) {
		t.Errorf("expected recorded_at %v, got %v", want.RecordedAt, got.RecordedAt)
	}

	// Not found.
	_, err = s.GetGrade(ctx, 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordGradeDefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := testGrade("s1", "", "Q1", 3)
	g.RecordedAt = time.Time{}
	if err := s.RecordGrade(ctx, g); err != nil {
		t.Fatalf("RecordGrade: %v", err)
	}
	list, err := s.ListGrades(ctx, "")
	if err != nil {
		t.Fatalf("ListGrades: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 grade, got %d", len(list))
	}
	if list[0].RecordedAt.IsZero() {
		t.Error("expected recorded_at to be set")
	}
}

func TestListGradesFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, g := range []model.GradeRecord{
		testGrade("s1", "physics", "Q1a", 4),
		testGrade("s1", "physics", "Q1b", 8),
		testGrade("s2", "history", "Q2", 6),
	} {
		if err := s.RecordGrade(ctx, g); err != nil {
			t.Fatalf("RecordGrade: %v", err)
		}
	}

	tests := []struct {
		subject string
		want    []string
	}{
		{"", []string{"Q1a", "Q1b", "Q2"}},
		{"physics", []string{"Q1a", "Q1b"}},
		{"history", []string{"Q2"}},
		{"chemistry", nil},
	}
	for _, tt := range tests {
		t.Run("subject="+tt.subject, func(t *testing.T) {
			list, err := s.ListGrades(ctx, tt.subject)
			if err != nil {
				t.Fatalf("ListGrades: %v", err)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("expected %d grades, got %d", len(tt.want), len(list))
			}
			for i, g := range list {
				if g.QuestionID != tt.want[i] {
					t.Errorf("grade %d: expected %s, got %s", i, tt.want[i], g.QuestionID)
				}
			}
		})
	}

	session, err := s.ListSessionGrades(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSessionGrades: %v", err)
	}
	if len(session) != 2 {
		t.Errorf("expected 2 grades for s1, got %d", len(session))
	}

	count, err := s.GradeCount(ctx)
	if err != nil {
		t.Fatalf("GradeCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 grades, got %d", count)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing key returns empty string.
	v, err := s.GetMetadata(ctx, "provider")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	// Upsert overwrites.
	if err := s.SetMetadata(ctx, "provider", "openai"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata(ctx, "provider", "gemini"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	v, err = s.GetMetadata(ctx, "provider")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "gemini" {
		t.Errorf("expected gemini, got %q", v)
	}

	info := model.GraderInfo{Provider: "openai", Model: "gpt-4o-mini", ScoreVariant: "strict"}
	if err := s.SetGraderInfo(ctx, info); err != nil {
		t.Fatalf("SetGraderInfo: %v", err)
	}
	got, err := s.GetGraderInfo(ctx)
	if err != nil {
		t.Fatalf("GetGraderInfo: %v", err)
	}
	if got != info {
		t.Errorf("expected %+v, got %+v", info, got)
	}
}

func TestExportGrades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty export has a non-nil grade list.
	exp, err := s.ExportGrades(ctx, "")
	if err != nil {
		t.Fatalf("ExportGrades: %v", err)
	}
	if exp.Count != 0 || exp.Grades == nil {
		t.Errorf("expected empty non-nil grades, got count %d grades %v", exp.Count, exp.Grades)
	}

	if err := s.SetGraderInfo(ctx, model.GraderInfo{Provider: "gemini", ScoreVariant: "standard"}); err != nil {
		t.Fatalf("SetGraderInfo: %v", err)
	}
	for _, g := range []model.GradeRecord{
		testGrade("s1", "physics", "Q1a", 4),
		testGrade("s2", "history", "Q2", 6),
	} {
		if err := s.RecordGrade(ctx, g); err != nil {
			t.Fatalf("RecordGrade: %v", err)
		}
	}

	exp, err = s.ExportGrades(ctx, "physics")
	if err != nil {
		t.Fatalf("ExportGrades: %v", err)
	}
	if exp.Count != 1 || len(exp.Grades) != 1 {
		t.Fatalf("expected 1 physics grade, got %d", exp.Count)
	}
	if exp.Subject != "physics" {
		t.Errorf("expected subject physics, got %q", exp.Subject)
	}
	if exp.Grader.Provider != "gemini" {
		t.Errorf("expected provider gemini, got %q", exp.Grader.Provider)
	}
	if exp.ExportedAt.IsZero() {
		t.Error("expected exported_at to be set")
	}
}
