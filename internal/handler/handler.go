// Package handler exposes grading sessions over a JSON HTTP API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/gradewise/internal/document"
	"github.com/pavelanni/gradewise/internal/i18n"
	"github.com/pavelanni/gradewise/internal/model"
	"github.com/pavelanni/gradewise/internal/store"
	"github.com/pavelanni/gradewise/internal/workflow"
)

// GradeStore reads recorded grades.
type GradeStore interface {
	ExportGrades(ctx context.Context, subject string) (model.GradeExport, error)
	GetGrade(ctx context.Context, id int64) (model.GradeRecord, error)
	ListSessionGrades(ctx context.Context, sessionID string) ([]model.GradeRecord, error)
	GradeCount(ctx context.Context) (int, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	sessions *workflow.Registry
	limits   document.Limits
	grades   GradeStore
}

// New creates a new Handler. grades may be nil when no database is configured.
func New(sessions *workflow.Registry, limits document.Limits, grades GradeStore) *Handler {
	return &Handler{sessions: sessions, limits: limits, grades: grades}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Delete("/", h.handleDeleteSession)
		r.Post("/paper", h.handleSubmitPaper)
		r.Post("/questions/{questionID}/select", h.handleSelectQuestion)
		r.Post("/sheet", h.handleSubmitSheet)
		r.Post("/abandon", h.handleAbandon)
		r.Put("/grade", h.handleEditGrade)
		r.Post("/save", h.handleSave)
		r.Post("/another", h.handleGradeAnother)
		r.Post("/reset", h.handleReset)
		r.Get("/grades", h.handleSessionGrades)
	})
	r.Get("/grades", h.handleExportGrades)
	r.Get("/grades/{gradeID}", h.handleGetGrade)
}

// sessionResponse wraps a snapshot with localized text for display.
type sessionResponse struct {
	Session workflow.Snapshot `json:"session"`
	Message string            `json:"message,omitempty"`
	Notice  string            `json:"notice,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, snap workflow.Snapshot, msg string) {
	resp := sessionResponse{Session: snap, Message: msg}
	if snap.LastFailure != nil {
		resp.Notice = i18n.Localize(r.Context(), failureMessage(*snap.LastFailure))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*workflow.Orchestrator, bool) {
	o, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err, nil)
		return nil, false
	}
	return o, true
}

func wantsWait(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"sessions":  h.sessions.Len(),
		"languages": i18n.Languages(),
	}
	if h.grades != nil {
		n, err := h.grades.GradeCount(r.Context())
		if err != nil {
			slog.Error("failed to count grades", "error", err)
			resp["status"] = "degraded"
		} else {
			resp["grades"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	o := h.sessions.Create()
	slog.Info("session created", "session", o.ID())
	respond(w, r, http.StatusCreated, o.Snapshot(), "")
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	respond(w, r, http.StatusOK, o.Snapshot(), "")
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmitPaper(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	up, err := h.readUpload(w, r, "paper")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	if !wantsWait(r) {
		snap, err := o.StartPaper(r.Context(), up.doc, up.subject)
		if err != nil {
			writeError(w, r, err, &snap)
			return
		}
		respond(w, r, http.StatusAccepted, snap, "")
		return
	}

	snap, err := o.SubmitPaper(r.Context(), up.doc, up.subject)
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, i18n.Tp(r.Context(), "QuestionsFound", len(snap.Questions)))
}

func (h *Handler) handleSelectQuestion(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := o.SelectQuestion(chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, "")
}

func (h *Handler) handleSubmitSheet(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	up, err := h.readUpload(w, r, "sheet")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	if !wantsWait(r) {
		snap, err := o.StartSheet(r.Context(), up.doc)
		if err != nil {
			writeError(w, r, err, &snap)
			return
		}
		respond(w, r, http.StatusAccepted, snap, "")
		return
	}

	snap, err := o.SubmitSheet(r.Context(), up.doc)
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, "")
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := o.Abandon()
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, "")
}

type gradeRequest struct {
	Score    *int   `json:"score"`
	Feedback string `json:"feedback"`
}

func (h *Handler) handleEditGrade(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Score == nil {
		writeError(w, r, errBadRequest, nil)
		return
	}
	snap, err := o.EditGrade(*req.Score, req.Feedback)
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, "")
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, rec, err := o.Save(r.Context())
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		sessionResponse
		Grade model.GradeRecord `json:"grade"`
	}{
		sessionResponse: sessionResponse{Session: snap, Message: i18n.T(r.Context(), "GradeSaved")},
		Grade:           rec,
	})
}

func (h *Handler) handleGradeAnother(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := o.GradeAnother()
	if err != nil {
		writeError(w, r, err, &snap)
		return
	}
	respond(w, r, http.StatusOK, snap, "")
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	o, ok := h.session(w, r)
	if !ok {
		return
	}
	respond(w, r, http.StatusOK, o.Reset(), "")
}

// gradeStore writes a 404 when no database is configured.
func (h *Handler) gradeStore(w http.ResponseWriter) (GradeStore, bool) {
	if h.grades == nil {
		http.Error(w, "grade storage is not configured", http.StatusNotFound)
		return nil, false
	}
	return h.grades, true
}

func (h *Handler) handleExportGrades(w http.ResponseWriter, r *http.Request) {
	grades, ok := h.gradeStore(w)
	if !ok {
		return
	}
	exp, err := grades.ExportGrades(r.Context(), r.URL.Query().Get("subject"))
	if err != nil {
		slog.Error("failed to export grades", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) handleGetGrade(w http.ResponseWriter, r *http.Request) {
	grades, ok := h.gradeStore(w)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "gradeID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid grade id", http.StatusBadRequest)
		return
	}
	g, err := grades.GetGrade(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("failed to load grade", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleSessionGrades lists what a session has saved. Grades outlive the
// session, so the session itself need not exist any more.
func (h *Handler) handleSessionGrades(w http.ResponseWriter, r *http.Request) {
	grades, ok := h.gradeStore(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "sessionID")
	list, err := grades.ListSessionGrades(r.Context(), id)
	if err != nil {
		slog.Error("failed to list session grades", "session", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []model.GradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "grades": list})
}
