package grading

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/model"
)

type fakeCaps struct {
	extraction model.ExtractionResult
	text       string
	similarity model.SimilarityResult
	feedback   model.FeedbackResult
	errs       map[capability.Name]error
	delays     map[capability.Name]time.Duration

	mu       sync.Mutex
	counts   map[capability.Name]int
	answers  []capability.AnswerRequest
	finished atomic.Int32
}

func (f *fakeCaps) record(name capability.Name) error {
	f.mu.Lock()
	if f.counts == nil {
		f.counts = map[capability.Name]int{}
	}
	f.counts[name]++
	f.mu.Unlock()
	if d := f.delays[name]; d > 0 {
		time.Sleep(d)
	}
	return f.errs[name]
}

func (f *fakeCaps) count(name capability.Name) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

func (f *fakeCaps) ExtractQuestions(_ context.Context, _ capability.ExtractQuestionsRequest) (model.ExtractionResult, error) {
	if err := f.record(capability.ExtractQuestions); err != nil {
		return model.ExtractionResult{}, err
	}
	return f.extraction, nil
}

func (f *fakeCaps) ExtractText(_ context.Context, _ capability.ExtractTextRequest) (string, error) {
	if err := f.record(capability.ExtractText); err != nil {
		return "", err
	}
	return f.text, nil
}

func (f *fakeCaps) ScoreSimilarity(_ context.Context, req capability.AnswerRequest) (model.SimilarityResult, error) {
	f.mu.Lock()
	f.answers = append(f.answers, req)
	f.mu.Unlock()
	defer f.finished.Add(1)
	if err := f.record(capability.ScoreSimilarity); err != nil {
		return model.SimilarityResult{}, err
	}
	return f.similarity, nil
}

func (f *fakeCaps) GenerateFeedback(_ context.Context, req capability.AnswerRequest) (model.FeedbackResult, error) {
	f.mu.Lock()
	f.answers = append(f.answers, req)
	f.mu.Unlock()
	defer f.finished.Add(1)
	if err := f.record(capability.GenerateFeedback); err != nil {
		return model.FeedbackResult{}, err
	}
	return f.feedback, nil
}

var (
	paper = model.Document{Name: "paper.pdf", MediaType: "application/pdf", Data: []byte("%PDF")}
	sheet = model.Document{Name: "sheet.jpg", MediaType: "image/jpeg", Data: []byte{0xff, 0xd8}}

	q1a = model.Question{ID: "Q1a", Text: "Define force.", MaxMarks: 5, ModelAnswer: "F = ma",
		Rubric: model.Rubric{Keywords: []string{"mass", "acceleration"}}}
	q1b = model.Question{ID: "Q1b", Text: "State Newton's third law.", MaxMarks: 10, ModelAnswer: "Equal and opposite reaction."}
)

func TestExtractQuestionsKeepsOrder(t *testing.T) {
	caps := &fakeCaps{extraction: model.ExtractionResult{Questions: []model.Question{q1a, q1b}}}
	res, err := NewPipeline(caps).ExtractQuestions(context.Background(), paper, "physics")
	require.NoError(t, err)
	require.Len(t, res.Questions, 2)
	assert.Equal(t, "Q1a", res.Questions[0].ID)
	assert.Equal(t, "Q1b", res.Questions[1].ID)
	assert.Equal(t, 5.0, res.Questions[0].MaxMarks)
	assert.Equal(t, 10.0, res.Questions[1].MaxMarks)
}

func TestExtractQuestionsEmpty(t *testing.T) {
	caps := &fakeCaps{}
	_, err := NewPipeline(caps).ExtractQuestions(context.Background(), paper, "")
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestExtractQuestionsPropagatesFailure(t *testing.T) {
	capErr := &capability.Error{Capability: capability.ExtractQuestions, Err: errors.New("unavailable")}
	caps := &fakeCaps{errs: map[capability.Name]error{capability.ExtractQuestions: capErr}}
	_, err := NewPipeline(caps).ExtractQuestions(context.Background(), paper, "")
	assert.Same(t, capErr, err)
	assert.Equal(t, 1, caps.count(capability.ExtractQuestions))
}

func TestGrade(t *testing.T) {
	caps := &fakeCaps{
		text:       "Force is mass times acceleration.",
		similarity: model.SimilarityResult{SimilarityScore: 0.8, Justification: "mentions both terms"},
		feedback:   model.FeedbackResult{Feedback: "Good answer."},
	}
	a, err := NewPipeline(caps).Grade(context.Background(), q1a, sheet)
	require.NoError(t, err)
	assert.Equal(t, model.Assessment{
		ExtractedText:   "Force is mass times acceleration.",
		SimilarityScore: 0.8,
		Justification:   "mentions both terms",
		Feedback:        "Good answer.",
	}, a)

	want := capability.AnswerRequest{
		StudentAnswer: "Force is mass times acceleration.",
		ModelAnswer:   "F = ma",
		Question:      "Define force.",
		Rubric:        "Keywords: mass, acceleration",
	}
	require.Len(t, caps.answers, 2)
	assert.Equal(t, want, caps.answers[0])
	assert.Equal(t, want, caps.answers[1])
}

func TestGradeOCRFailureSkipsFanOut(t *testing.T) {
	caps := &fakeCaps{errs: map[capability.Name]error{
		capability.ExtractText: &capability.Error{Capability: capability.ExtractText, Err: errors.New("timeout")},
	}}
	_, err := NewPipeline(caps).Grade(context.Background(), q1b, sheet)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageGrading, se.Stage)
	assert.Equal(t, capability.ExtractText, se.Step)

	var ce *capability.Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, caps.count(capability.ScoreSimilarity))
	assert.Equal(t, 0, caps.count(capability.GenerateFeedback))
}

func TestGradeWaitsForBothCalls(t *testing.T) {
	tests := []struct {
		name   string
		failed capability.Name
		slow   capability.Name
	}{
		{name: "similarity fails, feedback slow", failed: capability.ScoreSimilarity, slow: capability.GenerateFeedback},
		{name: "feedback fails, similarity slow", failed: capability.GenerateFeedback, slow: capability.ScoreSimilarity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := &fakeCaps{
				text:   "answer",
				errs:   map[capability.Name]error{tt.failed: errors.New("boom")},
				delays: map[capability.Name]time.Duration{tt.slow: 50 * time.Millisecond},
			}
			_, err := NewPipeline(caps).Grade(context.Background(), q1b, sheet)

			var se *StageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.failed, se.Step)
			assert.EqualValues(t, 2, caps.finished.Load(), "both calls settle before Grade returns")
		})
	}
}

func TestDeriveScore(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		maxMarks   float64
		want       int
	}{
		{"scenario", 0.8, 10, 8},
		{"zero", 0, 10, 0},
		{"full", 1, 5, 5},
		{"rounds half up", 0.5, 5, 3},
		{"rounds down", 0.44, 5, 2},
		{"fractional max never exceeded", 1, 2.5, 2},
		{"fractional max rounds within", 0.5, 2.5, 1},
		{"large max", 1, 1e6, 1000000},
		{"large max partial", 0.25, 1e6, 250000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveScore(tt.similarity, tt.maxMarks)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, float64(got), tt.maxMarks)
		})
	}
}

func TestDeriveGrade(t *testing.T) {
	g := DeriveGrade(model.Assessment{SimilarityScore: 0.8, Feedback: "Nice."}, 10)
	assert.Equal(t, model.FinalGrade{Score: 8, Feedback: "Nice."}, g)
}
