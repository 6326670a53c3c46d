package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/grading"
	"github.com/pavelanni/gradewise/internal/model"
)

type gradeReply struct {
	assessment model.Assessment
	err        error
}

// fakeStages answers Grade per question id. A question with a gate blocks
// until the gate is closed.
type fakeStages struct {
	extraction  model.ExtractionResult
	extractErr  error
	extractGate chan struct{}

	mu      sync.Mutex
	replies map[string]gradeReply
	gates   map[string]chan struct{}
	started chan string
	graded  []string
}

func (f *fakeStages) ExtractQuestions(_ context.Context, _ model.Document, _ string) (model.ExtractionResult, error) {
	if f.extractGate != nil {
		<-f.extractGate
	}
	return f.extraction, f.extractErr
}

func (f *fakeStages) Grade(_ context.Context, q model.Question, _ model.Document) (model.Assessment, error) {
	f.mu.Lock()
	gate := f.gates[q.ID]
	reply := f.replies[q.ID]
	f.graded = append(f.graded, q.ID)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- q.ID
	}
	if gate != nil {
		<-gate
	}
	return reply.assessment, reply.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []model.GradeRecord
	err     error
}

func (r *fakeRecorder) RecordGrade(_ context.Context, rec model.GradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func newReadyOrchestrator(t *testing.T, stages *fakeStages, rec Recorder) *Orchestrator {
	t.Helper()
	stages.extraction = twoQuestions
	o := New("s1", stages, rec)
	snap, err := o.SubmitPaper(context.Background(), paper, "physics")
	require.NoError(t, err)
	require.Equal(t, model.StateQuestionsReady, snap.State)
	return o
}

func TestOrchestratorScenario(t *testing.T) {
	stages := &fakeStages{replies: map[string]gradeReply{
		"Q1b": {assessment: model.Assessment{ExtractedText: "answer", SimilarityScore: 0.8, Feedback: "Good."}},
	}}
	rec := &fakeRecorder{}
	o := newReadyOrchestrator(t, stages, rec)
	ctx := context.Background()

	snap := o.Snapshot()
	require.Len(t, snap.Questions, 2)
	assert.Equal(t, "Q1a", snap.Questions[0].ID)
	assert.Equal(t, "Q1b", snap.Questions[1].ID)

	_, err := o.SelectQuestion("Q1b")
	require.NoError(t, err)
	snap, err = o.SubmitSheet(ctx, sheetB)
	require.NoError(t, err)
	assert.Equal(t, model.StateReviewing, snap.State)
	require.NotNil(t, snap.Final)
	assert.Equal(t, 8, snap.Final.Score)
	require.NotNil(t, snap.AIScore)
	assert.Equal(t, 8, *snap.AIScore)

	snap, saved, err := o.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateQuestionsReady, snap.State)
	assert.Nil(t, snap.ActiveQuestion)
	require.Len(t, rec.records, 1)
	assert.Equal(t, saved, rec.records[0])
	assert.Equal(t, "Q1b", saved.QuestionID)
	assert.Equal(t, 8, saved.FinalScore)
}

func TestOrchestratorEmptyResult(t *testing.T) {
	stages := &fakeStages{extractErr: grading.ErrNoQuestions}
	o := New("s1", stages, nil)
	snap, err := o.SubmitPaper(context.Background(), paper, "")
	assert.ErrorIs(t, err, grading.ErrNoQuestions)
	assert.Equal(t, model.StateIdle, snap.State)
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, model.FailureEmptyResult, snap.LastFailure.Kind)
}

func TestOrchestratorGradingFailure(t *testing.T) {
	stageErr := &grading.StageError{Stage: grading.StageGrading, Step: capability.ExtractText,
		Err: &capability.Error{Capability: capability.ExtractText, Err: errors.New("timeout")}}
	stages := &fakeStages{replies: map[string]gradeReply{"Q1a": {err: stageErr}}}
	o := newReadyOrchestrator(t, stages, nil)

	_, err := o.SelectQuestion("Q1a")
	require.NoError(t, err)
	snap, err := o.SubmitSheet(context.Background(), sheetA)
	assert.ErrorIs(t, err, stageErr)
	assert.Equal(t, model.StateQuestionsReady, snap.State)
	require.NotNil(t, snap.ActiveQuestion)
	assert.Equal(t, "Q1a", snap.ActiveQuestion.ID)
	assert.Nil(t, snap.Assessment)
	assert.Empty(t, snap.SheetName)
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, "extractText", snap.LastFailure.Capability)
}

func TestOrchestratorRejectsSecondAttempt(t *testing.T) {
	gate := make(chan struct{})
	stages := &fakeStages{
		replies: map[string]gradeReply{"Q1a": {assessment: model.Assessment{SimilarityScore: 1}}},
		gates:   map[string]chan struct{}{"Q1a": gate},
	}
	o := newReadyOrchestrator(t, stages, nil)
	ctx := context.Background()

	_, err := o.SelectQuestion("Q1a")
	require.NoError(t, err)
	snap, err := o.StartSheet(ctx, sheetA)
	require.NoError(t, err)
	assert.Equal(t, model.StateGrading, snap.State)
	assert.True(t, snap.InFlight)

	_, err = o.SubmitSheet(ctx, sheetB)
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	close(gate)
	o.Wait()
	snap = o.Snapshot()
	assert.Equal(t, model.StateReviewing, snap.State)
	assert.Equal(t, 5, snap.Final.Score)
	assert.Equal(t, []string{"Q1a"}, stages.graded)
}

// A result for Q1a arriving while Q1b is mid-grading, and again after Q1b
// completed, must never touch Q1b's fields.
func TestOrchestratorStaleAttempt(t *testing.T) {
	gateA := make(chan struct{})
	gateB := make(chan struct{})
	stages := &fakeStages{
		replies: map[string]gradeReply{
			"Q1a": {assessment: model.Assessment{ExtractedText: "stale", SimilarityScore: 0.2, Feedback: "for Q1a"}},
			"Q1b": {assessment: model.Assessment{ExtractedText: "fresh", SimilarityScore: 0.8, Feedback: "for Q1b"}},
		},
		gates:   map[string]chan struct{}{"Q1a": gateA, "Q1b": gateB},
		started: make(chan string, 2),
	}
	o := newReadyOrchestrator(t, stages, nil)
	ctx := context.Background()

	_, err := o.SelectQuestion("Q1a")
	require.NoError(t, err)

	type result struct {
		snap Snapshot
		err  error
	}
	staleDone := make(chan result, 1)
	go func() {
		snap, err := o.SubmitSheet(ctx, sheetA)
		staleDone <- result{snap, err}
	}()
	require.Equal(t, "Q1a", <-stages.started)

	_, err = o.Abandon()
	require.NoError(t, err)
	_, err = o.SelectQuestion("Q1b")
	require.NoError(t, err)
	_, err = o.StartSheet(ctx, sheetB)
	require.NoError(t, err)
	require.Equal(t, "Q1b", <-stages.started)

	close(gateA)
	stale := <-staleDone
	require.NoError(t, stale.err, "stale completion is dropped silently")
	assert.Equal(t, model.StateGrading, stale.snap.State)

	snap := o.Snapshot()
	assert.Equal(t, model.StateGrading, snap.State)
	assert.Equal(t, "Q1b", snap.ActiveQuestion.ID)
	assert.Equal(t, "b.jpg", snap.SheetName)
	assert.Nil(t, snap.Assessment)
	assert.Nil(t, snap.Final)

	close(gateB)
	o.Wait()
	snap = o.Snapshot()
	assert.Equal(t, model.StateReviewing, snap.State)
	assert.Equal(t, "fresh", snap.Assessment.ExtractedText)
	assert.Equal(t, 8, snap.Final.Score)
	assert.Equal(t, "for Q1b", snap.Final.Feedback)
}

func TestOrchestratorResetDuringAnalysis(t *testing.T) {
	gate := make(chan struct{})
	stages := &fakeStages{extraction: twoQuestions, extractGate: gate}
	o := New("s1", stages, nil)

	snap, err := o.StartPaper(context.Background(), paper, "")
	require.NoError(t, err)
	assert.Equal(t, model.StateAnalyzing, snap.State)

	snap = o.Reset()
	assert.Equal(t, model.StateIdle, snap.State)

	close(gate)
	o.Wait()
	snap = o.Snapshot()
	assert.Equal(t, model.StateIdle, snap.State)
	assert.Empty(t, snap.Questions)
}

func TestOrchestratorSaveRecorderFailure(t *testing.T) {
	stages := &fakeStages{replies: map[string]gradeReply{
		"Q1a": {assessment: model.Assessment{SimilarityScore: 0.6, Feedback: "ok"}},
	}}
	rec := &fakeRecorder{err: errors.New("disk full")}
	o := newReadyOrchestrator(t, stages, rec)
	ctx := context.Background()

	_, err := o.SelectQuestion("Q1a")
	require.NoError(t, err)
	_, err = o.SubmitSheet(ctx, sheetA)
	require.NoError(t, err)

	snap, _, err := o.Save(ctx)
	require.Error(t, err)
	assert.Equal(t, model.StateReviewing, snap.State)
	assert.Equal(t, 3, snap.Final.Score)
}

func TestOrchestratorEditAndGradeAnother(t *testing.T) {
	stages := &fakeStages{replies: map[string]gradeReply{
		"Q1b": {assessment: model.Assessment{SimilarityScore: 0.55, Feedback: "ok"}},
	}}
	o := newReadyOrchestrator(t, stages, nil)
	ctx := context.Background()

	_, err := o.SelectQuestion("Q1b")
	require.NoError(t, err)
	snap, err := o.SubmitSheet(ctx, sheetB)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Final.Score)

	_, err = o.EditGrade(11, "too many")
	assert.ErrorIs(t, err, ErrInvalidGrade)
	snap, err = o.EditGrade(4, "needs the third law wording")
	require.NoError(t, err)
	assert.Equal(t, model.FinalGrade{Score: 4, Feedback: "needs the third law wording"}, *snap.Final)

	snap, err = o.GradeAnother()
	require.NoError(t, err)
	assert.Equal(t, model.StateQuestionsReady, snap.State)
	assert.Equal(t, "Q1b", snap.ActiveQuestion.ID)
	assert.Nil(t, snap.Final)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&fakeStages{}, LogRecorder{})
	a := r.Create()
	b := r.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	require.NoError(t, r.Delete(a.ID()))
	_, err = r.Get(a.ID())
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, r.Delete(a.ID()), ErrUnknownSession)
	assert.Equal(t, 1, r.Len())
}
