package capability

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/gradewise/internal/llm/prompts"
	"github.com/pavelanni/gradewise/internal/model"
)

// Request is an input schema.
type Request interface {
	Validate() error
}

// ExtractQuestionsRequest is the input of extractQuestions.
type ExtractQuestionsRequest struct {
	Document model.Document
	Subject  string
}

func (r ExtractQuestionsRequest) Validate() error {
	return validateDocument(r.Document)
}

// ExtractTextRequest is the input of extractText.
type ExtractTextRequest struct {
	Document model.Document
}

func (r ExtractTextRequest) Validate() error {
	return validateDocument(r.Document)
}

// AnswerRequest is the shared input of scoreSimilarity and generateFeedback.
// StudentAnswer may be empty: a blank sheet is still graded.
type AnswerRequest struct {
	StudentAnswer string
	ModelAnswer   string
	Question      string
	Rubric        string
}

func (r AnswerRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.New("question is required")
	}
	if strings.TrimSpace(r.ModelAnswer) == "" {
		return errors.New("model answer is required")
	}
	return nil
}

func (r AnswerRequest) promptData() prompts.AnswerData {
	return prompts.AnswerData{
		Question:      r.Question,
		StudentAnswer: r.StudentAnswer,
		ModelAnswer:   r.ModelAnswer,
		Rubric:        r.Rubric,
	}
}

func validateDocument(d model.Document) error {
	if d.Empty() {
		return errors.New("document is empty")
	}
	if d.MediaType == "" {
		return errors.New("document media type is required")
	}
	return nil
}

// wire is an output schema: the JSON shape a provider returns, decoded into
// the domain value T. Pointer fields detect missing required properties.
type wire[T any] interface {
	decode() (T, error)
}

// MaxMarksLimit is the largest max_marks an extracted question may carry.
const MaxMarksLimit = 1e6

type questionWire struct {
	ID          *string  `json:"question_id"`
	Text        *string  `json:"question_text"`
	MaxMarks    *float64 `json:"max_marks"`
	ModelAnswer *string  `json:"model_answer"`
	Rubric      *struct {
		Keywords []string `json:"keywords"`
	} `json:"rubric"`
}

type extractionWire struct {
	Questions *[]questionWire `json:"questions"`
}

func (w extractionWire) decode() (model.ExtractionResult, error) {
	if w.Questions == nil {
		return model.ExtractionResult{}, errors.New("questions is required")
	}
	seen := make(map[string]bool, len(*w.Questions))
	questions := make([]model.Question, 0, len(*w.Questions))
	for i, q := range *w.Questions {
		switch {
		case q.ID == nil || strings.TrimSpace(*q.ID) == "":
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: question_id is required", i)
		case q.Text == nil || strings.TrimSpace(*q.Text) == "":
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: question_text is required", i)
		case q.MaxMarks == nil:
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: max_marks is required", i)
		case math.IsNaN(*q.MaxMarks) || *q.MaxMarks <= 0 || *q.MaxMarks > MaxMarksLimit:
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: max_marks must be in (0, %g], got %v", i, float64(MaxMarksLimit), *q.MaxMarks)
		case q.ModelAnswer == nil || strings.TrimSpace(*q.ModelAnswer) == "":
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: model_answer is required", i)
		case q.Rubric == nil:
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: rubric is required", i)
		}
		id := strings.TrimSpace(*q.ID)
		if seen[id] {
			return model.ExtractionResult{}, fmt.Errorf("questions[%d]: duplicate question_id %q", i, id)
		}
		seen[id] = true

		keywords := make([]string, 0, len(q.Rubric.Keywords))
		for _, k := range q.Rubric.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				keywords = append(keywords, k)
			}
		}
		questions = append(questions, model.Question{
			ID:          id,
			Text:        *q.Text,
			MaxMarks:    *q.MaxMarks,
			ModelAnswer: *q.ModelAnswer,
			Rubric:      model.Rubric{Keywords: keywords},
		})
	}
	return model.ExtractionResult{Questions: questions}, nil
}

type textWire struct {
	ExtractedText *string `json:"extracted_text"`
}

func (w textWire) decode() (string, error) {
	if w.ExtractedText == nil {
		return "", errors.New("extracted_text is required")
	}
	return *w.ExtractedText, nil
}

type similarityWire struct {
	SimilarityScore *float64 `json:"similarity_score"`
	Justification   *string  `json:"justification"`
}

// decode rejects out-of-range scores; they are never clamped.
func (w similarityWire) decode() (model.SimilarityResult, error) {
	if w.SimilarityScore == nil {
		return model.SimilarityResult{}, errors.New("similarity_score is required")
	}
	if w.Justification == nil {
		return model.SimilarityResult{}, errors.New("justification is required")
	}
	s := *w.SimilarityScore
	if math.IsNaN(s) || s < 0 || s > 1 {
		return model.SimilarityResult{}, fmt.Errorf("similarity_score %v outside [0,1]", s)
	}
	return model.SimilarityResult{SimilarityScore: s, Justification: *w.Justification}, nil
}

type feedbackWire struct {
	Feedback *string `json:"feedback"`
}

func (w feedbackWire) decode() (model.FeedbackResult, error) {
	if w.Feedback == nil {
		return model.FeedbackResult{}, errors.New("feedback is required")
	}
	return model.FeedbackResult{Feedback: *w.Feedback}, nil
}
