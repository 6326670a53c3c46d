package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/gradewise/internal/model"
)

// Stages runs the two pipeline stages.
type Stages interface {
	ExtractQuestions(ctx context.Context, paper model.Document, subject string) (model.ExtractionResult, error)
	Grade(ctx context.Context, q model.Question, sheet model.Document) (model.Assessment, error)
}

// Recorder receives a grade once per save.
type Recorder interface {
	RecordGrade(ctx context.Context, rec model.GradeRecord) error
}

// Orchestrator owns one session. The lock is held only while a transition
// is applied; stage runs happen outside it.
type Orchestrator struct {
	stages   Stages
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	session model.Session
	wg      sync.WaitGroup
}

// New creates an orchestrator for an idle session.
func New(id string, stages Stages, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		stages:   stages,
		recorder: recorder,
		now:      time.Now,
		session:  NewSession(id),
	}
}

// ID returns the session id.
func (o *Orchestrator) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.ID
}

// Session returns a copy of the current session.
func (o *Orchestrator) Session() model.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Snapshot returns the presentation view of the current session.
func (o *Orchestrator) Snapshot() Snapshot {
	return NewSnapshot(o.Session())
}

// Wait blocks until every background stage run has been applied or discarded.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) apply(fn func(model.Session) (model.Session, error)) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := fn(o.session)
	if err != nil {
		return NewSnapshot(o.session), err
	}
	o.session = next
	return NewSnapshot(next), nil
}

// SubmitPaper analyzes a question paper and returns once the outcome is
// applied. An empty result or capability failure is returned as the error
// and also kept on the session.
func (o *Orchestrator) SubmitPaper(ctx context.Context, paper model.Document, subject string) (Snapshot, error) {
	a, err := o.beginAnalysis(paper, subject)
	if err != nil {
		return o.Snapshot(), err
	}
	return o.runAnalysis(ctx, a, paper, subject)
}

// StartPaper validates and begins analysis, then runs it in the background.
func (o *Orchestrator) StartPaper(ctx context.Context, paper model.Document, subject string) (Snapshot, error) {
	a, err := o.beginAnalysis(paper, subject)
	if err != nil {
		return o.Snapshot(), err
	}
	snap := o.Snapshot()
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.runAnalysis(ctx, a, paper, subject)
	}()
	return snap, nil
}

func (o *Orchestrator) beginAnalysis(paper model.Document, subject string) (model.Attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, a, err := BeginAnalysis(o.session, paper, subject)
	if err != nil {
		return a, err
	}
	o.session = next
	slog.Info("paper analysis started", "session", next.ID, "paper", paper.Name, "subject", subject)
	return a, nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context, a model.Attempt, paper model.Document, subject string) (Snapshot, error) {
	res, stageErr := o.stages.ExtractQuestions(ctx, paper, subject)

	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := CompleteAnalysis(o.session, a, res, stageErr)
	if errors.Is(err, ErrStaleAttempt) {
		slog.Debug("discarding stale analysis result", "session", o.session.ID, "seq", a.Seq)
		return NewSnapshot(o.session), nil
	}
	o.session = next
	if stageErr != nil {
		slog.Warn("paper analysis failed", "session", next.ID, "error", stageErr)
	}
	return NewSnapshot(next), stageErr
}

// SelectQuestion makes the question with the given id active.
func (o *Orchestrator) SelectQuestion(id string) (Snapshot, error) {
	return o.apply(func(s model.Session) (model.Session, error) {
		return SelectQuestion(s, id)
	})
}

// SubmitSheet grades a student sheet against the active question and
// returns once the outcome is applied.
func (o *Orchestrator) SubmitSheet(ctx context.Context, sheet model.Document) (Snapshot, error) {
	a, q, err := o.beginGrading(sheet)
	if err != nil {
		return o.Snapshot(), err
	}
	return o.runGrading(ctx, a, q, sheet)
}

// StartSheet validates and begins grading, then runs it in the background.
func (o *Orchestrator) StartSheet(ctx context.Context, sheet model.Document) (Snapshot, error) {
	a, q, err := o.beginGrading(sheet)
	if err != nil {
		return o.Snapshot(), err
	}
	snap := o.Snapshot()
	ctx = context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_, _ = o.runGrading(ctx, a, q, sheet)
	}()
	return snap, nil
}

func (o *Orchestrator) beginGrading(sheet model.Document) (model.Attempt, model.Question, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, a, err := BeginGrading(o.session, sheet)
	if err != nil {
		return a, model.Question{}, err
	}
	q, _ := next.ActiveQuestion()
	o.session = next
	slog.Info("grading started", "session", next.ID, "question_id", q.ID, "sheet", sheet.Name)
	return a, q, nil
}

func (o *Orchestrator) runGrading(ctx context.Context, a model.Attempt, q model.Question, sheet model.Document) (Snapshot, error) {
	assessment, stageErr := o.stages.Grade(ctx, q, sheet)

	o.mu.Lock()
	defer o.mu.Unlock()
	next, err := CompleteGrading(o.session, a, assessment, stageErr)
	if errors.Is(err, ErrStaleAttempt) {
		slog.Debug("discarding stale grading result",
			"session", o.session.ID, "question_id", a.QuestionID, "seq", a.Seq)
		return NewSnapshot(o.session), nil
	}
	o.session = next
	if stageErr != nil {
		slog.Warn("grading failed", "session", next.ID, "question_id", q.ID, "error", stageErr)
		return NewSnapshot(next), stageErr
	}
	slog.Info("grading finished", "session", next.ID, "question_id", q.ID, "score", next.Final.Score)
	return NewSnapshot(next), nil
}

// Abandon drops the in-flight grading attempt.
func (o *Orchestrator) Abandon() (Snapshot, error) {
	return o.apply(AbandonGrading)
}

// EditGrade overrides the final grade while reviewing.
func (o *Orchestrator) EditGrade(score int, feedback string) (Snapshot, error) {
	return o.apply(func(s model.Session) (model.Session, error) {
		return EditGrade(s, score, feedback)
	})
}

// Save hands the reviewed grade to the recorder. The session only moves on
// if the recorder accepts it.
func (o *Orchestrator) Save(ctx context.Context) (Snapshot, model.GradeRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	next, rec, err := Save(o.session, o.now())
	if err != nil {
		return NewSnapshot(o.session), rec, err
	}
	if o.recorder != nil {
		if err := o.recorder.RecordGrade(ctx, rec); err != nil {
			return NewSnapshot(o.session), rec, fmt.Errorf("recording grade: %w", err)
		}
	}
	o.session = next
	return NewSnapshot(next), rec, nil
}

// GradeAnother keeps the active question and clears the reviewed answer.
func (o *Orchestrator) GradeAnother() (Snapshot, error) {
	return o.apply(GradeAnother)
}

// Reset returns the session to Idle.
func (o *Orchestrator) Reset() Snapshot {
	snap, _ := o.apply(func(s model.Session) (model.Session, error) {
		return Reset(s), nil
	})
	return snap
}
