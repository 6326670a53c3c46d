package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/document"
	"github.com/pavelanni/gradewise/internal/grading"
	"github.com/pavelanni/gradewise/internal/i18n"
	"github.com/pavelanni/gradewise/internal/model"
	"github.com/pavelanni/gradewise/internal/workflow"
)

var errBadRequest = errors.New("bad request")

type apiError struct {
	Kind       model.FailureKind `json:"kind"`
	Capability string            `json:"capability,omitempty"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail,omitempty"`
}

type errorResponse struct {
	Error   apiError           `json:"error"`
	Session *workflow.Snapshot `json:"session,omitempty"`
}

// classify maps an error to its HTTP status and localized message.
func classify(err error, snap *workflow.Snapshot) (int, model.FailureKind, i18n.Message) {
	state := ""
	maxMarks := 0.0
	if snap != nil {
		state = string(snap.State)
		if snap.ActiveQuestion != nil {
			maxMarks = snap.ActiveQuestion.MaxMarks
		}
	}
	v := model.FailureValidation
	switch {
	case errors.Is(err, workflow.ErrUnknownSession):
		return http.StatusNotFound, v, i18n.Message{ID: "SessionNotFound"}
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict, v, i18n.Message{ID: "InvalidTransition", Data: map[string]any{"State": state}}
	case errors.Is(err, workflow.ErrAttemptInFlight):
		return http.StatusConflict, v, i18n.Message{ID: "AttemptInFlight"}
	case errors.Is(err, workflow.ErrNoDocument), errors.Is(err, document.ErrEmpty):
		return http.StatusBadRequest, v, i18n.Message{ID: "NoDocument"}
	case errors.Is(err, document.ErrUnsupportedType):
		return http.StatusBadRequest, v, i18n.Message{ID: "UnsupportedDocument"}
	case errors.Is(err, document.ErrTooLarge):
		return http.StatusBadRequest, v, i18n.Message{ID: "DocumentTooLarge"}
	case errors.Is(err, document.ErrTooManyPages):
		return http.StatusBadRequest, v, i18n.Message{ID: "TooManyPages"}
	case errors.Is(err, workflow.ErrNoActiveQuestion):
		return http.StatusBadRequest, v, i18n.Message{ID: "NoActiveQuestion"}
	case errors.Is(err, workflow.ErrUnknownQuestion):
		return http.StatusBadRequest, v, i18n.Message{ID: "UnknownQuestion"}
	case errors.Is(err, workflow.ErrInvalidGrade):
		return http.StatusBadRequest, v, i18n.Message{ID: "InvalidGrade", Data: map[string]any{"Max": maxMarks}}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, v, i18n.Message{ID: "BadRequest"}
	}

	var (
		ce *capability.Error
		se *grading.StageError
	)
	if errors.Is(err, grading.ErrNoQuestions) || errors.As(err, &ce) || errors.As(err, &se) {
		f := workflow.FailureFrom(err)
		status := http.StatusBadGateway
		if f.Kind == model.FailureEmptyResult {
			status = http.StatusUnprocessableEntity
		}
		return status, f.Kind, failureMessage(f)
	}
	return http.StatusInternalServerError, model.FailureInternal, i18n.Message{ID: "RecordFailed"}
}

// failureMessage localizes a failure kept on a session.
func failureMessage(f model.Failure) i18n.Message {
	switch f.Kind {
	case model.FailureEmptyResult:
		return i18n.Message{ID: "NoQuestionsFound"}
	case model.FailureCapability:
		return i18n.Message{ID: "CapabilityFailed", Data: map[string]any{
			"Capability": f.Capability,
			"Message":    f.Message,
		}}
	}
	return i18n.Message{ID: "BadRequest"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, snap *workflow.Snapshot) {
	status, kind, msg := classify(err, snap)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	resp := errorResponse{
		Error: apiError{
			Kind:    kind,
			Message: i18n.Localize(r.Context(), msg),
			Detail:  err.Error(),
		},
		Session: snap,
	}
	if kind == model.FailureCapability {
		resp.Error.Capability = workflow.FailureFrom(err).Capability
	}
	writeJSON(w, status, resp)
}
