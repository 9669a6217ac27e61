package stats

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
)

// StatsHandler serves the combined historical + live population CSV.
type StatsHandler struct {
	live          *Manager
	historical    []Row
	excludedDates []string
	logger        *slog.Logger
}

func NewStatsHandler(live *Manager, historical []Row, excludedDates []string, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		live:          live,
		historical:    historical,
		excludedDates: excludedDates,
		logger:        logger,
	}
}

// GetStats handles GET /stats.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("StatsHandler").Start(r.Context(), "GetStats")
	defer span.End()

	body := Dump(h.historical, h.live.Rows(), h.excludedDates)

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to write stats body", slog.Any("error", err))
	}
}
