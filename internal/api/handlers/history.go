package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"

	"maintdesk/internal/core"
	"maintdesk/internal/types"
)

// GenerationLedgerReader provides the ledger rows for the export endpoint.
// Mirrors db.LedgerRepository.
type GenerationLedgerReader interface {
	ListRecords(ctx context.Context, since time.Time, limit int) ([]types.GenerationRecord, error)
}

// maxExportRecords caps one export download.
const maxExportRecords = 50000

// HistoryHandler serves the generation-ledger export endpoint.
type HistoryHandler struct {
	ledger GenerationLedgerReader
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler with the provided dependencies.
func NewHistoryHandler(ledger GenerationLedgerReader, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{
		ledger: ledger,
		logger: logger,
	}
}

// RegisterRoutes mounts the history routes on the provided chi.Router.
func (h *HistoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/pm/history/export", h.Export)
}

// Export handles GET /v1/pm/history/export. It streams the generation ledger
// as gzip-compressed NDJSON, one record per line, for audit tooling. Query
// parameters: since (ISO date, default 90 days back) and limit.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	since := time.Now().UTC().AddDate(0, 0, -90)
	if v := q.Get("since"); v != "" {
		parsed, err := parseAsOf(v)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		since = parsed
	}

	limit := maxExportRecords
	if v := q.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > maxExportRecords {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be an integer between 1 and "+strconv.Itoa(maxExportRecords),
				err,
			))
			return
		}
		limit = parsed
	}

	records, err := h.ledger.ListRecords(r.Context(), since, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="pm-generation-ledger.ndjson.gz"`)
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			// Headers are already sent; all we can do is log and stop.
			h.logger.Error("ledger export write failed",
				"error", err,
				"request_id", types.GetRequestID(r.Context()),
			)
			break
		}
	}
	if err := gz.Close(); err != nil {
		h.logger.Error("ledger export flush failed", "error", err)
	}
}
