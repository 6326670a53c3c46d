package model

import (
	"strings"
	"time"
)

// Document is an opaque binary payload with its declared media type.
// Identity is the content; a Document is never modified after it is read.
type Document struct {
	Name      string `json:"name,omitempty"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// Empty reports whether the document carries no bytes.
func (d Document) Empty() bool {
	return len(d.Data) == 0
}

// Rubric is the ordered list of keywords expected in a complete answer.
type Rubric struct {
	Keywords []string `json:"keywords"`
}

// String renders the rubric as a single descriptive line, e.g. "Keywords: a, b, c".
// An empty rubric renders as the empty string.
func (r Rubric) String() string {
	if len(r.Keywords) == 0 {
		return ""
	}
	return "Keywords: " + strings.Join(r.Keywords, ", ")
}

// Question is one structured question extracted from a paper.
type Question struct {
	ID          string  `json:"question_id"`
	Text        string  `json:"question_text"`
	MaxMarks    float64 `json:"max_marks"`
	ModelAnswer string  `json:"model_answer"`
	Rubric      Rubric  `json:"rubric"`
}

// ExtractionResult holds questions in the order they appear in the paper.
type ExtractionResult struct {
	Questions []Question `json:"questions"`
}

// Find returns the question with the given id.
func (r ExtractionResult) Find(id string) (Question, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// SimilarityResult is the output of the similarity scoring capability.
type SimilarityResult struct {
	SimilarityScore float64 `json:"similarity_score"`
	Justification   string  `json:"justification"`
}

// FeedbackResult is the output of the feedback generation capability.
type FeedbackResult struct {
	Feedback string `json:"feedback"`
}

// Assessment bundles the outputs of one successful grading attempt.
type Assessment struct {
	ExtractedText   string  `json:"extracted_text"`
	SimilarityScore float64 `json:"similarity_score"`
	Justification   string  `json:"justification"`
	Feedback        string  `json:"feedback"`
}

// FinalGrade is seeded from the assessment and may be edited by the reviewer.
type FinalGrade struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// State is a grading session state.
type State string

const (
	StateIdle           State = "idle"
	StateAnalyzing      State = "paper_analyzing"
	StateQuestionsReady State = "questions_ready"
	StateGrading        State = "grading"
	StateReviewing      State = "reviewing"
)

// FailureKind classifies a user-visible failure.
type FailureKind string

const (
	FailureValidation  FailureKind = "validation"
	FailureCapability  FailureKind = "capability"
	FailureEmptyResult FailureKind = "empty_result"
	FailureInternal    FailureKind = "internal"
)

// Failure is the displayable error object kept on a session.
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Capability string      `json:"capability,omitempty"`
	Message    string      `json:"message"`
}

// Attempt identifies one in-flight pipeline run. A completion is applied only
// while the session still holds the same attempt.
type Attempt struct {
	Epoch      string `json:"epoch"`
	QuestionID string `json:"question_id,omitempty"`
	Seq        uint64 `json:"seq"`
}

// Session is the working state of one paper-analysis-and-grading interaction.
// Transition functions take a Session and return the next one.
type Session struct {
	ID               string            `json:"id"`
	Epoch            string            `json:"epoch"`
	State            State             `json:"state"`
	Subject          string            `json:"subject,omitempty"`
	Paper            *Document         `json:"paper,omitempty"`
	Extraction       *ExtractionResult `json:"extraction,omitempty"`
	ActiveQuestionID string            `json:"active_question_id,omitempty"`
	Sheet            *Document         `json:"sheet,omitempty"`
	Assessment       *Assessment       `json:"assessment,omitempty"`
	Final            *FinalGrade       `json:"final,omitempty"`
	LastFailure      *Failure          `json:"last_failure,omitempty"`
	InFlight         *Attempt          `json:"in_flight,omitempty"`
	Seq              uint64            `json:"seq"`
}

// ActiveQuestion resolves the active question id against the extraction result.
func (s Session) ActiveQuestion() (Question, bool) {
	if s.Extraction == nil || s.ActiveQuestionID == "" {
		return Question{}, false
	}
	return s.Extraction.Find(s.ActiveQuestionID)
}

// GradeRecord is what a recorder receives when a reviewer saves a grade.
type GradeRecord struct {
	ID              int64     `json:"id,omitempty"`
	SessionID       string    `json:"session_id"`
	Subject         string    `json:"subject,omitempty"`
	PaperName       string    `json:"paper_name,omitempty"`
	SheetName       string    `json:"sheet_name,omitempty"`
	QuestionID      string    `json:"question_id"`
	QuestionText    string    `json:"question_text"`
	MaxMarks        float64   `json:"max_marks"`
	SimilarityScore float64   `json:"similarity_score"`
	AIScore         int       `json:"ai_score"`
	AIFeedback      string    `json:"ai_feedback"`
	Justification   string    `json:"justification"`
	ExtractedText   string    `json:"extracted_text"`
	FinalScore      int       `json:"final_score"`
	FinalFeedback   string    `json:"final_feedback"`
	RecordedAt      time.Time `json:"recorded_at"`
}
