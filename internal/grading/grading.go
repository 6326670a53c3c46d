// Package grading holds the two pipeline stages and the score derivation.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/model"
)

// ErrNoQuestions is the Empty-Result outcome: extraction succeeded but found nothing.
var ErrNoQuestions = errors.New("no questions found in the document")

// Capabilities is the set of inference calls the stages depend on.
type Capabilities interface {
	ExtractQuestions(ctx context.Context, req capability.ExtractQuestionsRequest) (model.ExtractionResult, error)
	ExtractText(ctx context.Context, req capability.ExtractTextRequest) (string, error)
	ScoreSimilarity(ctx context.Context, req capability.AnswerRequest) (model.SimilarityResult, error)
	GenerateFeedback(ctx context.Context, req capability.AnswerRequest) (model.FeedbackResult, error)
}

// StageGrading names the grading stage in a StageError.
const StageGrading = "grading"

// StageError is a stage failure naming the sub-call that failed.
type StageError struct {
	Stage string
	Step  capability.Name
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Stage, e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline runs the extraction and grading stages.
type Pipeline struct {
	caps Capabilities
}

// NewPipeline creates a Pipeline.
func NewPipeline(caps Capabilities) *Pipeline {
	return &Pipeline{caps: caps}
}

// ExtractQuestions runs the Question Extraction Stage. The result order is
// the order returned by the capability. Capability failures are returned
// unchanged; an empty result is ErrNoQuestions.
func (p *Pipeline) ExtractQuestions(ctx context.Context, paper model.Document, subject string) (model.ExtractionResult, error) {
	start := time.Now()
	res, err := p.caps.ExtractQuestions(ctx, capability.ExtractQuestionsRequest{Document: paper, Subject: subject})
	if err != nil {
		return model.ExtractionResult{}, err
	}
	if len(res.Questions) == 0 {
		slog.Info("paper analysis found no questions", "paper", paper.Name, "elapsed", time.Since(start))
		return model.ExtractionResult{}, ErrNoQuestions
	}
	slog.Info("paper analyzed", "paper", paper.Name, "questions", len(res.Questions), "elapsed", time.Since(start))
	return res, nil
}

// Grade runs the Grading Stage: OCR first, then similarity scoring and
// feedback generation concurrently. Both concurrent calls always settle
// before Grade returns.
func (p *Pipeline) Grade(ctx context.Context, q model.Question, sheet model.Document) (model.Assessment, error) {
	start := time.Now()
	text, err := p.caps.ExtractText(ctx, capability.ExtractTextRequest{Document: sheet})
	if err != nil {
		return model.Assessment{}, &StageError{Stage: StageGrading, Step: capability.ExtractText, Err: err}
	}

	req := capability.AnswerRequest{
		StudentAnswer: text,
		ModelAnswer:   q.ModelAnswer,
		Question:      q.Text,
		Rubric:        q.Rubric.String(),
	}

	var (
		g   errgroup.Group
		sim model.SimilarityResult
		fb  model.FeedbackResult
	)
	g.Go(func() error {
		r, err := p.caps.ScoreSimilarity(ctx, req)
		if err != nil {
			return &StageError{Stage: StageGrading, Step: capability.ScoreSimilarity, Err: err}
		}
		sim = r
		return nil
	})
	g.Go(func() error {
		r, err := p.caps.GenerateFeedback(ctx, req)
		if err != nil {
			return &StageError{Stage: StageGrading, Step: capability.GenerateFeedback, Err: err}
		}
		fb = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.Assessment{}, err
	}

	slog.Info("answer graded",
		"question_id", q.ID,
		"similarity", sim.SimilarityScore,
		"elapsed", time.Since(start))

	return model.Assessment{
		ExtractedText:   text,
		SimilarityScore: sim.SimilarityScore,
		Justification:   sim.Justification,
		Feedback:        fb.Feedback,
	}, nil
}

// DeriveScore maps a similarity in [0,1] onto an integer mark:
// round(similarity * maxMarks), never above the largest whole mark.
func DeriveScore(similarity, maxMarks float64) int {
	score := math.Min(math.Round(similarity*maxMarks), math.Floor(maxMarks))
	if score < 0 || math.IsNaN(score) {
		return 0
	}
	return int(score)
}

// DeriveGrade seeds the final grade from an assessment.
func DeriveGrade(a model.Assessment, maxMarks float64) model.FinalGrade {
	return model.FinalGrade{
		Score:    DeriveScore(a.SimilarityScore, maxMarks),
		Feedback: a.Feedback,
	}
}
