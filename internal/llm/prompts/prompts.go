package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// ScoreVariant selects how strictly similarity is judged.
type ScoreVariant string

const (
	// ScoreStrict penalizes every missing rubric keyword.
	ScoreStrict ScoreVariant = "strict"
	// ScoreStandard is the default scoring variant.
	ScoreStandard ScoreVariant = "standard"
	// ScoreLenient gives credit for partially expressed ideas.
	ScoreLenient ScoreVariant = "lenient"
)

var validVariants = map[ScoreVariant]bool{
	ScoreStrict:   true,
	ScoreStandard: true,
	ScoreLenient:  true,
}

// IsValidVariant checks if a score variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[ScoreVariant(v)]
}

// Prompt is a rendered request: role instructions plus the user turn.
type Prompt struct {
	System string
	User   string
}

// AnswerData holds template data for the scoring and feedback prompts.
type AnswerData struct {
	Question      string
	StudentAnswer string
	ModelAnswer   string
	Rubric        string
}

type extractData struct {
	Subject string
}

type scoreData struct {
	AnswerData
	Variant ScoreVariant
}

// Builder renders capability prompts from the embedded templates.
type Builder struct {
	variant ScoreVariant
	tmpl    *template.Template
}

// New parses the embedded templates. An invalid variant is an error.
func New(variant ScoreVariant) (*Builder, error) {
	if !validVariants[variant] {
		return nil, fmt.Errorf("invalid score variant: %q", variant)
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Builder{variant: variant, tmpl: tmpl}, nil
}

// Variant returns the scoring variant the builder renders.
func (b *Builder) Variant() ScoreVariant {
	return b.variant
}

// ExtractQuestions builds the paper analysis prompt.
func (b *Builder) ExtractQuestions(subject string) (Prompt, error) {
	user, err := b.render("extract_questions.txt", extractData{Subject: strings.TrimSpace(subject)})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: "You are an assistant that analyzes exam question papers and structures their content as JSON.",
		User:   user,
	}, nil
}

// ExtractText builds the OCR prompt.
func (b *Builder) ExtractText() (Prompt, error) {
	user, err := b.render("extract_text.txt", nil)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: "You transcribe scanned handwritten and printed answer sheets verbatim.",
		User:   user,
	}, nil
}

// ScoreSimilarity builds the similarity scoring prompt.
func (b *Builder) ScoreSimilarity(d AnswerData) (Prompt, error) {
	d.StudentAnswer = sanitizeAnswer(d.StudentAnswer)
	user, err := b.render("score_similarity.txt", scoreData{AnswerData: d, Variant: b.variant})
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: "You evaluate the semantic similarity between a student's answer and a model answer.",
		User:   user,
	}, nil
}

// GenerateFeedback builds the feedback prompt.
func (b *Builder) GenerateFeedback(d AnswerData) (Prompt, error) {
	d.StudentAnswer = sanitizeAnswer(d.StudentAnswer)
	user, err := b.render("generate_feedback.txt", d)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: "You provide constructive feedback to students on their exam answers.",
		User:   user,
	}, nil
}

func (b *Builder) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
