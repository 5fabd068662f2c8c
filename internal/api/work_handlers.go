package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/podrollup/internal/audience"
	"github.com/onnwee/podrollup/internal/middleware"
	"github.com/onnwee/podrollup/internal/recompute"
	"github.com/onnwee/podrollup/internal/summary"
	"github.com/onnwee/podrollup/internal/worklock"
)

// WorkRequest is the job request surface: an operation kind, a target path,
// and a flat string-parameter mapping.
type WorkRequest struct {
	OperationKind string            `json:"operationKind"`
	TargetPath    string            `json:"targetPath"`
	Parameters    map[string]string `json:"parameters"`
}

// WorkHandler serves POST /work/recompute-show-summaries.
type WorkHandler struct {
	coordinator *recompute.Coordinator
	lock        *worklock.Lock // nil disables job serialization
	logger      *slog.Logger
}

// NewWorkHandler creates the job endpoint handler. lock may be nil.
func NewWorkHandler(coordinator *recompute.Coordinator, lock *worklock.Lock, logger *slog.Logger) *WorkHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkHandler{coordinator: coordinator, lock: lock, logger: logger}
}

// ServeHTTP validates the request, takes the per-(show, month) lock when
// configured, and runs the job synchronously.
func (h *WorkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "POST required")
		return
	}

	var req WorkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "malformed JSON body")
		return
	}

	job, err := recompute.ParseJob(req.OperationKind, req.TargetPath, req.Parameters)
	if err != nil {
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if h.lock != nil {
		release, err := h.lock.Acquire(ctx, job.ShowUUID, job.Month)
		if errors.Is(err, worklock.ErrHeld) {
			ctx = middleware.SetErrorCode(ctx, ErrCodeConflict)
			WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, err.Error())
			return
		}
		if err != nil {
			ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "failed to acquire work lock")
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				h.logger.Error("failed to release work lock", "error", err)
			}
		}()
	}

	result, err := h.coordinator.Run(ctx, job)
	if err != nil {
		h.writeRunError(w, r, err)
		return
	}
	WriteJSON(w, ctx, result)
}

// writeRunError maps pipeline failures onto the error envelope.
func (h *WorkHandler) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, recompute.ErrInvalidInput), errors.Is(err, audience.ErrUnsupportedConfig):
		ctx = middleware.SetErrorCode(ctx, ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, summary.ErrMissingInput):
		ctx = middleware.SetErrorCode(ctx, ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, summary.ErrCorruptInput):
		ctx = middleware.SetErrorCode(ctx, ErrCodeCorruptInput)
		WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeCorruptInput, err.Error())
	default:
		h.logger.Error("recompute failed", "error", err)
		ctx = middleware.SetErrorCode(ctx, ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "recompute failed")
	}
}
