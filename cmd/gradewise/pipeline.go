package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/document"
	"github.com/pavelanni/gradewise/internal/gemini"
	"github.com/pavelanni/gradewise/internal/grading"
	"github.com/pavelanni/gradewise/internal/llm"
	"github.com/pavelanni/gradewise/internal/llm/prompts"
	"github.com/pavelanni/gradewise/internal/model"
	"github.com/pavelanni/gradewise/internal/workflow"
)

func addProviderFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("provider", "openai", "Inference provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the OpenAI-compatible endpoint")
	f.String("llm-model", "llava", "Vision-capable model name")
	f.Bool("llm-ping", true, "Check the OpenAI-compatible endpoint at startup")
	f.String("gemini-key", "", "Gemini API key (or GEMINI_API_KEY)")
	f.String("gemini-model", gemini.DefaultModel, "Gemini model name")
	f.Duration("call-timeout", 90*time.Second, "Timeout for a single inference call (0 = none)")
	f.Float64("rate-limit", 0, "Maximum inference calls per second (0 = unlimited)")
	f.Int("rate-burst", 1, "Inference call burst size")
	f.String("score-variant", string(prompts.ScoreStandard), "Similarity scoring strictness (strict, standard, lenient)")
	f.Int("max-pages", 20, "Maximum PDF pages accepted (0 = unlimited)")
	f.Int64("max-document-bytes", 20<<20, "Maximum document size in bytes (0 = unlimited)")
}

// buildPipeline wires the configured provider into the grading stages.
func buildPipeline(ctx context.Context, v *viper.Viper) (*grading.Pipeline, model.GraderInfo, error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("score-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid score-variant, using standard", "variant", variant)
		variant = string(prompts.ScoreStandard)
	}
	builder, err := prompts.New(prompts.ScoreVariant(variant))
	if err != nil {
		return nil, model.GraderInfo{}, fmt.Errorf("load prompts: %w", err)
	}

	info := model.GraderInfo{
		Provider:     strings.ToLower(v.GetString("provider")),
		ScoreVariant: variant,
	}
	var provider capability.Provider
	switch info.Provider {
	case "openai":
		info.Model = v.GetString("llm-model")
		c := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), info.Model)
		if v.GetBool("llm-ping") {
			if err := c.Ping(ctx); err != nil {
				return nil, info, fmt.Errorf("LLM health check: %w", err)
			}
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", info.Model)
		}
		provider = c
	case "gemini":
		info.Model = v.GetString("gemini-model")
		c, err := gemini.New(ctx, gemini.Config{APIKey: v.GetString("gemini-key"), Model: info.Model})
		if err != nil {
			return nil, info, fmt.Errorf("create gemini client: %w", err)
		}
		provider = c
	default:
		return nil, info, fmt.Errorf("unknown provider %q (want openai or gemini)", info.Provider)
	}

	adapter := capability.NewAdapter(provider, builder,
		capability.WithTimeout(v.GetDuration("call-timeout")),
		capability.WithRateLimit(v.GetFloat64("rate-limit"), v.GetInt("rate-burst")),
	)
	return grading.NewPipeline(adapter), info, nil
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract structured questions from a question paper",
		RunE:  runExtract,
	}
	f := cmd.Flags()
	f.StringP("paper", "p", "", "Question paper (image or PDF)")
	f.StringP("subject", "s", "", "Subject hint for extraction")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addProviderFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade one answer sheet against one question of a paper",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringP("paper", "p", "", "Question paper (image or PDF)")
	f.String("sheet", "", "Student answer sheet (image or PDF)")
	f.StringP("question", "q", "", "Question id to grade, e.g. Q1b")
	f.StringP("subject", "s", "", "Subject hint for extraction")
	f.Bool("save", false, "Record the grade after grading")
	f.String("db", "", "SQLite database for saved grades (empty = log only)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addProviderFlags(cmd)
	addLogFlags(cmd)
	_ = cmd.MarkFlagRequired("paper")
	_ = cmd.MarkFlagRequired("sheet")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func loadDocument(v *viper.Viper, key string) (model.Document, error) {
	doc, err := document.Load(v.GetString(key))
	if err != nil {
		return model.Document{}, err
	}
	if err := documentLimits(v).Check(doc); err != nil {
		return model.Document{}, fmt.Errorf("%s: %w", doc.Name, err)
	}
	return doc, nil
}

func runExtract(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	paper, err := loadDocument(v, "paper")
	if err != nil {
		return err
	}
	pipeline, _, err := buildPipeline(ctx, v)
	if err != nil {
		return err
	}
	res, err := pipeline.ExtractQuestions(ctx, paper, v.GetString("subject"))
	if err != nil {
		return err
	}
	return writeOutput(v.GetString("output"), res)
}

// gradeResult is what the grade command prints.
type gradeResult struct {
	Session workflow.Snapshot  `json:"session"`
	Saved   *model.GradeRecord `json:"saved,omitempty"`
}

// runGrade drives one session through the whole workflow without a server.
func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	paper, err := loadDocument(v, "paper")
	if err != nil {
		return err
	}
	sheet, err := loadDocument(v, "sheet")
	if err != nil {
		return err
	}

	pipeline, info, err := buildPipeline(ctx, v)
	if err != nil {
		return err
	}
	recorder, db, err := openRecorder(ctx, v, info)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	o := workflow.New("cli", pipeline, recorder)
	if _, err := o.SubmitPaper(ctx, paper, v.GetString("subject")); err != nil {
		if errors.Is(err, grading.ErrNoQuestions) {
			return fmt.Errorf("%s: %w", paper.Name, err)
		}
		return fmt.Errorf("analyze paper: %w", err)
	}
	if _, err := o.SelectQuestion(v.GetString("question")); err != nil {
		return err
	}
	snap, err := o.SubmitSheet(ctx, sheet)
	if err != nil {
		return fmt.Errorf("grade sheet: %w", err)
	}

	out := gradeResult{Session: snap}
	if v.GetBool("save") {
		_, rec, err := o.Save(ctx)
		if err != nil {
			return err
		}
		out.Saved = &rec
	}
	return writeOutput(v.GetString("output"), out)
}
