package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/gradewise/internal/model"
)

// ExportGrades builds the export document for recorded grades.
// An empty subject exports everything.
func (s *Store) ExportGrades(ctx context.Context, subject string) (model.GradeExport, error) {
	grades, err := s.ListGrades(ctx, subject)
	if err != nil {
		return model.GradeExport{}, fmt.Errorf("list grades: %w", err)
	}
	info, err := s.GetGraderInfo(ctx)
	if err != nil {
		return model.GradeExport{}, fmt.Errorf("grader info: %w", err)
	}
	if grades == nil {
		grades = []model.GradeRecord{}
	}
	return model.GradeExport{
		ExportedAt: time.Now().UTC(),
		Subject:    subject,
		Grader:     info,
		Count:      len(grades),
		Grades:     grades,
	}, nil
}
