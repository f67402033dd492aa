package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintdesk/internal/config"
	"maintdesk/internal/types"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(&config.Config{}, discardLogger())
	require.NoError(t, err)
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) APIErrorResponse {
	t.Helper()
	var resp APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestError_AppErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule not found", nil),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found_schedule",
		},
		{
			name:       "conflict",
			err:        types.NewAppError(types.ErrCodeConflictOccurrenceGenerated, "occurrence already generated", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "conflict_occurrence_generated",
		},
		{
			name:       "upstream",
			err:        types.NewAppError(types.ErrCodeUpstreamWorkOrders, "work order service unavailable", nil),
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_workorder_service_unavailable",
		},
		{
			name:       "generic error hides detail",
			err:        errors.New("pq: secret table missing"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_unexpected_error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(types.WithRequestID(req.Context(), "req-123"))

			Error(rec, req, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			resp := decodeErrorBody(t, rec)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
			assert.Equal(t, "req-123", resp.Error.RequestID)
			assert.NotContains(t, rec.Body.String(), "pq:")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		AsOf string `json:"as_of"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"as_of":"2025-01-05"}`))
		var p payload
		require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &p))
		assert.Equal(t, "2025-01-05", p.AsOf)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"asof":"x"}`))
		var p payload
		err := DecodeJSON(httptest.NewRecorder(), req, &p)
		require.Error(t, err)
		var appErr *types.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, errCodeValidationInvalidJSON, appErr.Code)
		assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus())
	})

	t.Run("empty body rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var p payload
		require.Error(t, DecodeJSON(httptest.NewRecorder(), req, &p))
	})

	t.Run("trailing value rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"as_of":"a"}{"as_of":"b"}`))
		var p payload
		require.Error(t, DecodeJSON(httptest.NewRecorder(), req, &p))
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	t.Run("propagates incoming header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "upstream-id")
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "upstream-id", seen)
		assert.Equal(t, "upstream-id", rec.Header().Get("X-Request-Id"))
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get("X-Request-Id"))
	})
}

func TestRecoverer(t *testing.T) {
	s := testServer(t)
	handler := s.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeErrorBody(t, rec)
	assert.Equal(t, string(types.ErrCodeInternalUnexpected), resp.Error.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestContextTimeoutMiddleware(t *testing.T) {
	handler := ContextTimeoutMiddleware(5 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline := r.Context().Deadline()
		assert.True(t, hasDeadline)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestMountRoutes_RegistrarsAndHealth(t *testing.T) {
	s := testServer(t)
	s.V1RouteRegistrars = append(s.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, map[string]string{"pong": "ok"})
		})
	})
	s.MountRoutes()

	t.Run("v1 route reachable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("health with no probes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})
}

func TestHandleHealth_ProbeFailure(t *testing.T) {
	s := testServer(t)
	s.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
		ProbeFunc{ProbeName: "queue", Fn: func(context.Context) error { return errors.New("connection refused") }},
	}

	rec := httptest.NewRecorder()
	s.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "healthy", resp.Components["database"].Status)
	assert.Equal(t, "unhealthy", resp.Components["queue"].Status)
}

func TestShutdown_RunsClosers(t *testing.T) {
	s := testServer(t)
	closed := false
	s.Closers = append(s.Closers, func() { closed = true })

	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, closed)
}
