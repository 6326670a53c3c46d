// Package capability wraps the four inference capabilities behind typed,
// schema-validated calls. Each call is issued at most once; a failure is
// reported as a single *Error naming the capability.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelanni/gradewise/internal/llm/prompts"
	"github.com/pavelanni/gradewise/internal/model"
)

// Name identifies a capability.
type Name string

const (
	ExtractQuestions Name = "extractQuestions"
	ExtractText      Name = "extractText"
	ScoreSimilarity  Name = "scoreSimilarity"
	GenerateFeedback Name = "generateFeedback"
)

var (
	// ErrInvalidInput means the request failed its input schema; no call was issued.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidOutput means the response failed its output schema.
	ErrInvalidOutput = errors.New("response violates output schema")
)

// Error is a Capability Failure.
type Error struct {
	Capability Name
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Capability, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Call is one rendered request handed to a provider.
type Call struct {
	Capability  Name
	System      string
	User        string
	Document    *model.Document
	Temperature float32
}

// Provider executes a call against a generative model and returns the raw
// JSON text of its answer.
type Provider interface {
	Name() string
	Generate(ctx context.Context, call Call) (string, error)
}

// Adapter implements the capabilities on top of a Provider.
type Adapter struct {
	provider Provider
	prompts  *prompts.Builder
	timeout  time.Duration
	limiter  *rate.Limiter
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

// WithRateLimit caps calls per second across all capabilities. A non-positive
// rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *Adapter) {
		if perSecond <= 0 {
			a.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewAdapter creates an Adapter.
func NewAdapter(p Provider, b *prompts.Builder, opts ...Option) *Adapter {
	a := &Adapter{provider: p, prompts: b}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ExtractQuestions turns a question paper into structured questions.
func (a *Adapter) ExtractQuestions(ctx context.Context, req ExtractQuestionsRequest) (model.ExtractionResult, error) {
	return invoke[model.ExtractionResult, extractionWire](ctx, a, ExtractQuestions, req, func() (Call, error) {
		p, err := a.prompts.ExtractQuestions(req.Subject)
		if err != nil {
			return Call{}, err
		}
		return Call{System: p.System, User: p.User, Document: &req.Document, Temperature: 0.2}, nil
	})
}

// ExtractText runs OCR over an answer sheet.
func (a *Adapter) ExtractText(ctx context.Context, req ExtractTextRequest) (string, error) {
	return invoke[string, textWire](ctx, a, ExtractText, req, func() (Call, error) {
		p, err := a.prompts.ExtractText()
		if err != nil {
			return Call{}, err
		}
		return Call{System: p.System, User: p.User, Document: &req.Document, Temperature: 0}, nil
	})
}

// ScoreSimilarity scores the student answer against the model answer.
func (a *Adapter) ScoreSimilarity(ctx context.Context, req AnswerRequest) (model.SimilarityResult, error) {
	return invoke[model.SimilarityResult, similarityWire](ctx, a, ScoreSimilarity, req, func() (Call, error) {
		p, err := a.prompts.ScoreSimilarity(req.promptData())
		if err != nil {
			return Call{}, err
		}
		return Call{System: p.System, User: p.User, Temperature: 0.1}, nil
	})
}

// GenerateFeedback writes feedback for the student answer.
func (a *Adapter) GenerateFeedback(ctx context.Context, req AnswerRequest) (model.FeedbackResult, error) {
	return invoke[model.FeedbackResult, feedbackWire](ctx, a, GenerateFeedback, req, func() (Call, error) {
		p, err := a.prompts.GenerateFeedback(req.promptData())
		if err != nil {
			return Call{}, err
		}
		return Call{System: p.System, User: p.User, Temperature: 0.5}, nil
	})
}

// invoke validates the request, issues exactly one provider call, and
// validates the response against the wire schema W.
func invoke[T any, W wire[T]](ctx context.Context, a *Adapter, name Name, req Request, build func() (Call, error)) (T, error) {
	var zero T
	if err := req.Validate(); err != nil {
		return zero, &Error{Capability: name, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	call, err := build()
	if err != nil {
		return zero, &Error{Capability: name, Err: err}
	}
	call.Capability = name

	raw, err := a.generate(ctx, call)
	if err != nil {
		return zero, &Error{Capability: name, Err: err}
	}

	var w W
	if err := json.Unmarshal([]byte(extractJSON(raw)), &w); err != nil {
		return zero, &Error{Capability: name, Err: fmt.Errorf("%w: %v", ErrInvalidOutput, err)}
	}
	out, err := w.decode()
	if err != nil {
		return zero, &Error{Capability: name, Err: fmt.Errorf("%w: %v", ErrInvalidOutput, err)}
	}
	return out, nil
}

func (a *Adapter) generate(ctx context.Context, call Call) (string, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := a.provider.Generate(ctx, call)
	if err != nil {
		slog.Warn("capability call failed",
			"capability", call.Capability, "provider", a.provider.Name(),
			"elapsed", time.Since(start), "error", err)
		return "", err
	}
	slog.Debug("capability response",
		"capability", call.Capability, "provider", a.provider.Name(),
		"elapsed", time.Since(start), "raw", raw)
	return raw, nil
}

// extractJSON strips a surrounding markdown fence and prose from a model
// answer. Fences inside the JSON itself are left alone.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl != -1 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}
