package workflow

import (
	"context"
	"log/slog"

	"github.com/pavelanni/gradewise/internal/model"
)

// LogRecorder records grades to the default logger.
type LogRecorder struct{}

func (LogRecorder) RecordGrade(_ context.Context, rec model.GradeRecord) error {
	slog.Info("grade saved",
		"session", rec.SessionID,
		"question_id", rec.QuestionID,
		"final_score", rec.FinalScore,
		"max_marks", rec.MaxMarks,
		"ai_score", rec.AIScore,
		"similarity", rec.SimilarityScore)
	return nil
}
