package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradewise/internal/document"
	"github.com/pavelanni/gradewise/internal/handler"
	appI18n "github.com/pavelanni/gradewise/internal/i18n"
	"github.com/pavelanni/gradewise/internal/model"
	"github.com/pavelanni/gradewise/internal/store"
	"github.com/pavelanni/gradewise/internal/workflow"
)

func main() {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradewise",
		Short: "Grade scanned answer sheets against AI-extracted model answers",
	}

	serve := serveCmd()
	root.AddCommand(serve, gradeCmd(), extractCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradewise --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the grading HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "", "SQLite database for saved grades (empty = log only)")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	addProviderFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export saved grades as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "gradewise.db", "SQLite database path")
	f.String("subject", "", "Only export grades for this subject")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradewise")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradewise")
	v.AddConfigPath("/etc/gradewise")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openRecorder returns the SQLite store when a database is configured and
// the log recorder otherwise. The store is nil in the latter case.
func openRecorder(ctx context.Context, v *viper.Viper, info model.GraderInfo) (workflow.Recorder, *store.Store, error) {
	path := v.GetString("db")
	if path == "" {
		return workflow.LogRecorder{}, nil, nil
	}
	db, err := store.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.SetGraderInfo(ctx, info); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("record grader info: %w", err)
	}
	return db, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	pipeline, info, err := buildPipeline(ctx, v)
	if err != nil {
		return err
	}

	recorder, db, err := openRecorder(ctx, v, info)
	if err != nil {
		return err
	}
	var grades handler.GradeStore
	if db != nil {
		defer db.Close()
		grades = db
	}

	sessions := workflow.NewRegistry(pipeline, recorder)
	h := handler.New(sessions, documentLimits(v), grades)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	slog.Info("starting server",
		"addr", addr,
		"provider", info.Provider,
		"model", info.Model,
		"score_variant", info.ScoreVariant,
		"lang", lang,
		"db", v.GetString("db"),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	sessions.Wait()
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportGrades(cmd.Context(), v.GetString("subject"))
	if err != nil {
		return fmt.Errorf("export grades: %w", err)
	}
	return writeOutput(v.GetString("output"), export)
}

// writeOutput writes v as indented JSON to path, or stdout for "" and "-".
func writeOutput(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if path == "" || path == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func documentLimits(v *viper.Viper) document.Limits {
	return document.Limits{
		MaxBytes: v.GetInt64("max-document-bytes"),
		MaxPages: v.GetInt("max-pages"),
	}
}
