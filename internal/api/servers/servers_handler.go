package servers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"

	"github.com/scamphub/scamp-backend/app/observability/metrics"
	"github.com/scamphub/scamp-backend/internal/api"
)

// Sampler receives the player/server totals after every accepted report.
// The stats manager implements it; sampling is push-driven, not timed.
type Sampler interface {
	MaybeSample(now time.Time, playersOnline, serversOnline int)
}

// ServersHandler exposes the registry over HTTP.
type ServersHandler struct {
	registry *Registry
	sampler  Sampler
	logger   *slog.Logger
}

func NewServersHandler(registry *Registry, sampler Sampler, logger *slog.Logger) *ServersHandler {
	return &ServersHandler{
		registry: registry,
		sampler:  sampler,
		logger:   logger,
	}
}

// ReportServer handles POST /servers/{address}: a game server announcing
// itself. Responds with the literal body "Nice" that legacy servers expect.
func (h *ServersHandler) ReportServer(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ServersHandler").Start(r.Context(), "ReportServer")
	defer span.End()

	address := chi.URLParam(r, "address")

	var report Report
	if err := api.DecodeOptionalJSONBody(w, r, &report); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	_, err := h.registry.Upsert(address, report, reporterIP(r), now)
	if err != nil {
		var mismatch *IPMismatchError
		switch {
		case errors.Is(err, ErrBadAddress):
			api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		case errors.As(err, &mismatch):
			h.logger.WarnContext(ctx, "Server report from foreign IP",
				slog.String("claimed", mismatch.Expected), slog.String("actual", mismatch.Actual))
			api.ErrorResponse(w, r, http.StatusForbidden, err.Error())
		default:
			h.logger.ErrorContext(ctx, "Server report failed", slog.Any("error", err))
			api.ErrorResponse(w, r, http.StatusInternalServerError, "Failed to register server")
		}
		return
	}

	metrics.Get().ServerReportsTotal.Add(ctx, 1)

	snapshot := h.registry.Snapshot()
	online := 0
	for _, s := range snapshot {
		online += s.Online
	}
	h.sampler.MaybeSample(now, online, len(snapshot))

	api.WriteTextResponse(w, http.StatusOK, "Nice")
}

// GetServers handles GET /servers: the public server browser list.
func (h *ServersHandler) GetServers(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("ServersHandler").Start(r.Context(), "GetServers")
	defer span.End()

	api.WriteJSONResponse(w, r, http.StatusOK, h.registry.List(time.Now()))
}

// reporterIP extracts the peer IP. chi's RealIP middleware has already
// folded X-Forwarded-For into RemoteAddr by the time this runs.
func reporterIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
