// Package workflow drives a grading session through its states.
//
// The transition functions in this file are pure: they take a session value
// and return the next one. Stage runs are split into a Begin step, which
// validates the session and tags an attempt, and a Complete step, which
// applies the result only while the session still holds that attempt.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/grading"
	"github.com/pavelanni/gradewise/internal/model"
)

// Validation failures. Each is returned before any inference call is issued.
var (
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	ErrNoDocument        = errors.New("a non-empty document is required")
	ErrNoActiveQuestion  = errors.New("no question selected")
	ErrUnknownQuestion   = errors.New("question not found in the extraction result")
	ErrAttemptInFlight   = errors.New("a grading attempt is already in progress")
	ErrInvalidGrade      = errors.New("score must be a whole number between 0 and the question's max marks")
)

// ErrStaleAttempt reports a completion for an attempt the session no longer holds.
var ErrStaleAttempt = errors.New("stale attempt")

// NewSession returns an idle session.
func NewSession(id string) model.Session {
	return model.Session{
		ID:    id,
		Epoch: uuid.NewString(),
		State: model.StateIdle,
	}
}

func invalid(s model.Session, action string) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, s.State)
}

func tag(s *model.Session, questionID string) model.Attempt {
	s.Seq++
	a := model.Attempt{Epoch: s.Epoch, QuestionID: questionID, Seq: s.Seq}
	s.InFlight = &a
	return a
}

// Holds reports whether a is the session's in-flight attempt.
func Holds(s model.Session, a model.Attempt) bool {
	return s.InFlight != nil && *s.InFlight == a
}

func clearStudent(s *model.Session) {
	s.Sheet = nil
	s.Assessment = nil
	s.Final = nil
}

// BeginAnalysis moves an idle session to PaperAnalyzing.
func BeginAnalysis(s model.Session, paper model.Document, subject string) (model.Session, model.Attempt, error) {
	if s.State != model.StateIdle {
		return s, model.Attempt{}, invalid(s, "submit a paper")
	}
	if paper.Empty() {
		return s, model.Attempt{}, ErrNoDocument
	}
	s.State = model.StateAnalyzing
	s.Paper = &paper
	s.Subject = subject
	s.LastFailure = nil
	a := tag(&s, "")
	return s, a, nil
}

// CompleteAnalysis applies the extraction outcome. An empty result or a
// failure returns the session to Idle with LastFailure set.
func CompleteAnalysis(s model.Session, a model.Attempt, res model.ExtractionResult, stageErr error) (model.Session, error) {
	if !Holds(s, a) || s.State != model.StateAnalyzing {
		return s, ErrStaleAttempt
	}
	s.InFlight = nil
	if stageErr != nil {
		f := FailureFrom(stageErr)
		s.State = model.StateIdle
		s.Paper = nil
		s.Extraction = nil
		s.LastFailure = &f
		return s, nil
	}
	s.State = model.StateQuestionsReady
	s.Extraction = &res
	s.ActiveQuestionID = ""
	clearStudent(&s)
	return s, nil
}

// SelectQuestion swaps the active question and discards any staged
// student document and results.
func SelectQuestion(s model.Session, id string) (model.Session, error) {
	if s.State != model.StateQuestionsReady {
		return s, invalid(s, "select a question")
	}
	if s.Extraction == nil {
		return s, ErrUnknownQuestion
	}
	if _, ok := s.Extraction.Find(id); !ok {
		return s, fmt.Errorf("%w: %q", ErrUnknownQuestion, id)
	}
	s.ActiveQuestionID = id
	s.LastFailure = nil
	clearStudent(&s)
	return s, nil
}

// BeginGrading moves the session to Grading for the active question.
func BeginGrading(s model.Session, sheet model.Document) (model.Session, model.Attempt, error) {
	switch s.State {
	case model.StateQuestionsReady:
	case model.StateGrading:
		return s, model.Attempt{}, ErrAttemptInFlight
	default:
		return s, model.Attempt{}, invalid(s, "submit a student sheet")
	}
	if _, ok := s.ActiveQuestion(); !ok {
		return s, model.Attempt{}, ErrNoActiveQuestion
	}
	if sheet.Empty() {
		return s, model.Attempt{}, ErrNoDocument
	}
	s.State = model.StateGrading
	clearStudent(&s)
	s.Sheet = &sheet
	s.LastFailure = nil
	a := tag(&s, s.ActiveQuestionID)
	return s, a, nil
}

// CompleteGrading applies a grading outcome. Success derives the final
// grade and moves to Reviewing. Failure returns to QuestionsReady with the
// same active question and no student fields.
func CompleteGrading(s model.Session, a model.Attempt, assessment model.Assessment, stageErr error) (model.Session, error) {
	if !Holds(s, a) || s.State != model.StateGrading || s.ActiveQuestionID != a.QuestionID {
		return s, ErrStaleAttempt
	}
	q, ok := s.ActiveQuestion()
	if !ok {
		return s, ErrStaleAttempt
	}
	s.InFlight = nil
	if stageErr != nil {
		f := FailureFrom(stageErr)
		s.State = model.StateQuestionsReady
		clearStudent(&s)
		s.LastFailure = &f
		return s, nil
	}
	final := grading.DeriveGrade(assessment, q.MaxMarks)
	s.State = model.StateReviewing
	s.Assessment = &assessment
	s.Final = &final
	return s, nil
}

// AbandonGrading gives up on the in-flight grading attempt. Its result,
// if it ever arrives, is discarded.
func AbandonGrading(s model.Session) (model.Session, error) {
	if s.State != model.StateGrading {
		return s, invalid(s, "abandon grading")
	}
	s.State = model.StateQuestionsReady
	s.InFlight = nil
	clearStudent(&s)
	return s, nil
}

// EditGrade overrides the final grade while reviewing.
func EditGrade(s model.Session, score int, feedback string) (model.Session, error) {
	if s.State != model.StateReviewing || s.Final == nil {
		return s, invalid(s, "edit the grade")
	}
	q, ok := s.ActiveQuestion()
	if !ok {
		return s, ErrNoActiveQuestion
	}
	if score < 0 || float64(score) > q.MaxMarks {
		return s, fmt.Errorf("%w: got %d, max %g", ErrInvalidGrade, score, q.MaxMarks)
	}
	s.Final = &model.FinalGrade{Score: score, Feedback: feedback}
	return s, nil
}

// Save commits the reviewed grade. It returns the record to hand to the
// recorder and a session with no active question.
func Save(s model.Session, now time.Time) (model.Session, model.GradeRecord, error) {
	if s.State != model.StateReviewing || s.Final == nil || s.Assessment == nil {
		return s, model.GradeRecord{}, invalid(s, "save")
	}
	q, ok := s.ActiveQuestion()
	if !ok {
		return s, model.GradeRecord{}, ErrNoActiveQuestion
	}
	rec := model.GradeRecord{
		SessionID:       s.ID,
		Subject:         s.Subject,
		QuestionID:      q.ID,
		QuestionText:    q.Text,
		MaxMarks:        q.MaxMarks,
		SimilarityScore: s.Assessment.SimilarityScore,
		AIScore:         grading.DeriveScore(s.Assessment.SimilarityScore, q.MaxMarks),
		AIFeedback:      s.Assessment.Feedback,
		Justification:   s.Assessment.Justification,
		ExtractedText:   s.Assessment.ExtractedText,
		FinalScore:      s.Final.Score,
		FinalFeedback:   s.Final.Feedback,
		RecordedAt:      now.UTC(),
	}
	if s.Paper != nil {
		rec.PaperName = s.Paper.Name
	}
	if s.Sheet != nil {
		rec.SheetName = s.Sheet.Name
	}
	s.State = model.StateQuestionsReady
	s.ActiveQuestionID = ""
	clearStudent(&s)
	return s, rec, nil
}

// GradeAnother discards the reviewed answer and keeps the active question
// so another sheet can be graded against it.
func GradeAnother(s model.Session) (model.Session, error) {
	if s.State != model.StateReviewing {
		return s, invalid(s, "grade another answer")
	}
	s.State = model.StateQuestionsReady
	s.LastFailure = nil
	clearStudent(&s)
	return s, nil
}

// Reset returns the session to Idle from any state. The new epoch makes
// every outstanding attempt stale.
func Reset(s model.Session) model.Session {
	return NewSession(s.ID)
}

// FailureFrom converts a stage or validation error into the displayable
// failure kept on the session.
func FailureFrom(err error) model.Failure {
	if errors.Is(err, grading.ErrNoQuestions) {
		return model.Failure{Kind: model.FailureEmptyResult, Message: err.Error()}
	}
	var ce *capability.Error
	if errors.As(err, &ce) {
		return model.Failure{Kind: model.FailureCapability, Capability: string(ce.Capability), Message: ce.Err.Error()}
	}
	var se *grading.StageError
	if errors.As(err, &se) {
		return model.Failure{Kind: model.FailureCapability, Capability: string(se.Step), Message: se.Err.Error()}
	}
	return model.Failure{Kind: model.FailureValidation, Message: err.Error()}
}
