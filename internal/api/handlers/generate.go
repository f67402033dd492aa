package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"maintdesk/internal/core"
	"maintdesk/internal/pm"
	"maintdesk/internal/types"
)

// PassRunner runs a generation pass synchronously. Mirrors pm.Generator.
type PassRunner interface {
	RunPass(ctx context.Context, opts pm.PassOptions) (*types.PassReport, error)
}

// PassRequester enqueues an asynchronous generation pass. Mirrors
// queue.PassTrigger.
type PassRequester interface {
	RequestPass(ctx context.Context, payload types.PassPayload) error
}

// GenerateRequest is the request body for POST /v1/pm/generate. All fields
// are optional; an empty body runs a synchronous all-store pass as of today.
type GenerateRequest struct {
	// AsOf overrides "today" (ISO date) for deterministic runs and backfills.
	AsOf string `json:"as_of,omitempty"`
	// StoreID limits the pass to one store's schedules.
	StoreID string `json:"store_id,omitempty"`
	// Async enqueues the pass instead of running it in-request. Required
	// for large fleets; the synchronous path is bounded by the request
	// timeout.
	Async bool `json:"async,omitempty"`
	// RequestedBy identifies the operator for the pass history.
	RequestedBy string `json:"requested_by,omitempty"`
}

// GenerateAccepted is the response body for an async trigger.
type GenerateAccepted struct {
	Status  string `json:"status"`
	StoreID string `json:"store_id,omitempty"`
}

// GenerateHandler serves the on-demand generation endpoint.
type GenerateHandler struct {
	runner    PassRunner
	requester PassRequester
	logger    *slog.Logger
}

// NewGenerateHandler creates a GenerateHandler. The requester may be nil when
// no queue is configured; async requests then fail with a validation error.
func NewGenerateHandler(runner PassRunner, requester PassRequester, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{
		runner:    runner,
		requester: requester,
		logger:    logger,
	}
}

// RegisterRoutes mounts the generation route on the provided chi.Router.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/pm/generate", h.Generate)
}

// Generate handles POST /v1/pm/generate. Synchronous requests return the full
// pass report (200). Async requests enqueue the pass and return 202.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		// An absent body is a valid default-everything request.
		if !isEmptyBody(err) {
			core.Error(w, r, err)
			return
		}
	}

	asOf, err := parseAsOf(req.AsOf)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Async {
		h.generateAsync(w, r, req, asOf)
		return
	}

	report, err := h.runner.RunPass(r.Context(), pm.PassOptions{
		AsOf:    asOf,
		StoreID: req.StoreID,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}

func (h *GenerateHandler) generateAsync(w http.ResponseWriter, r *http.Request, req GenerateRequest, asOf time.Time) {
	if h.requester == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"async generation is not available: no pass queue configured",
			nil,
		))
		return
	}

	payload := types.PassPayload{
		Task:        types.TaskGenerationPass,
		StoreID:     req.StoreID,
		RequestedBy: req.RequestedBy,
	}
	if !asOf.IsZero() {
		t := asOf
		payload.ReferenceTime = &t
	}

	if err := h.requester.RequestPass(r.Context(), payload); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("generation pass enqueued",
		"store_id", req.StoreID,
		"requested_by", req.RequestedBy,
	)
	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: GenerateAccepted{
		Status:  "enqueued",
		StoreID: req.StoreID,
	}})
}

// isEmptyBody reports whether a DecodeJSON failure was caused by an absent
// request body rather than malformed JSON.
func isEmptyBody(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return errors.Is(appErr.Err, io.EOF)
}
