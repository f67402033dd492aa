// Package handlers contains the HTTP handler implementations for the
// maintdesk PM engine API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"maintdesk/internal/core"
	"maintdesk/internal/db"
	"maintdesk/internal/pm"
	"maintdesk/internal/types"
)

// ScheduleReader defines the data access contract for the read-only schedule
// endpoints. Mirrors the concrete db.ScheduleRepository methods used here.
type ScheduleReader interface {
	List(ctx context.Context, filter db.ScheduleFilter) ([]*types.PreventiveSchedule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.PreventiveSchedule, error)
}

// ScheduleView is a schedule augmented with its evaluated due state. The due
// fields are computed per request and never persisted.
type ScheduleView struct {
	*types.PreventiveSchedule
	Due types.DueInfo `json:"due"`
}

// ScheduleHandler serves the read-only schedule reporting endpoints.
type ScheduleHandler struct {
	schedules ScheduleReader
	clock     pm.Clock
	logger    *slog.Logger
}

// NewScheduleHandler creates a ScheduleHandler with the provided dependencies.
// A nil clock means the real UTC clock.
func NewScheduleHandler(schedules ScheduleReader, clock pm.Clock, logger *slog.Logger) *ScheduleHandler {
	if clock == nil {
		clock = pm.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{
		schedules: schedules,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the schedule routes on the provided chi.Router.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/pm/schedules", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{scheduleID}", h.Get)
	})
}

// List handles GET /v1/pm/schedules. Supports store_id, active_only, limit,
// and offset query parameters. Each schedule is returned with its due state
// evaluated against today.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseScheduleFilter(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	schedules, err := h.schedules.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	today := h.clock.Now()
	views := make([]ScheduleView, 0, len(schedules))
	for _, s := range schedules {
		views = append(views, ScheduleView{
			PreventiveSchedule: s,
			Due:                pm.Describe(s, today),
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: views})
}

// Get handles GET /v1/pm/schedules/{scheduleID}.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "scheduleID"))
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidID,
			"schedule id must be a valid UUID",
			err,
		))
		return
	}

	schedule, err := h.schedules.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view := ScheduleView{
		PreventiveSchedule: schedule,
		Due:                pm.Describe(schedule, h.clock.Now()),
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// maxPageSize caps the list page size.
const maxPageSize = 500

// parseScheduleFilter extracts and validates list query parameters.
func parseScheduleFilter(r *http.Request) (db.ScheduleFilter, error) {
	q := r.URL.Query()
	filter := db.ScheduleFilter{
		StoreID: q.Get("store_id"),
		Limit:   100,
	}

	if v := q.Get("active_only"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return filter, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"active_only must be a boolean",
				err,
			)
		}
		filter.ActiveOnly = active
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			return filter, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be an integer between 1 and "+strconv.Itoa(maxPageSize),
				err,
			)
		}
		filter.Limit = limit
	}

	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"offset must be a non-negative integer",
				err,
			)
		}
		filter.Offset = offset
	}

	return filter, nil
}

// parseAsOf parses an optional ISO date string used to override "today".
// Returns the zero time when the input is empty.
func parseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, types.NewAppError(
			types.ErrCodeValidationInvalidDate,
			"as_of must be an ISO date (YYYY-MM-DD)",
			err,
		)
	}
	return t.UTC(), nil
}
