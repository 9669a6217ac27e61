package servers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/scamphub/scamp-backend/app/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	os.Exit(m.Run())
}

type recordingSampler struct {
	calls   int
	players int
	servers int
}

func (s *recordingSampler) MaybeSample(now time.Time, playersOnline, serversOnline int) {
	s.calls++
	s.players = playersOnline
	s.servers = serversOnline
}

func newHandlerRouter(registry *Registry, sampler Sampler) chi.Router {
	handler := NewServersHandler(registry, sampler, slog.Default())
	r := chi.NewRouter()
	r.Post("/servers/{address}", handler.ReportServer)
	r.Get("/servers", handler.GetServers)
	return r
}

func postReport(router chi.Router, address, remoteAddr string, report any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if report != nil {
		_ = json.NewEncoder(&body).Encode(report)
	}
	req := httptest.NewRequest(http.MethodPost, "/servers/"+address, &body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestReportServerHandler(t *testing.T) {
	t.Run("AcceptedReportAnswersNice", func(t *testing.T) {
		registry := newTestRegistry()
		sampler := &recordingSampler{}
		router := newHandlerRouter(registry, sampler)

		w := postReport(router, "127.0.0.1:7777", "127.0.0.1:50000", map[string]any{
			"name": "my server", "maxPlayers": 64, "online": 12,
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Nice", w.Body.String())
		assert.Equal(t, 1, sampler.calls)
		assert.Equal(t, 12, sampler.players)
		assert.Equal(t, 1, sampler.servers)
	})

	t.Run("EmptyBodyIsFine", func(t *testing.T) {
		registry := newTestRegistry()
		router := newHandlerRouter(registry, &recordingSampler{})

		w := postReport(router, "127.0.0.1:7777", "127.0.0.1:50000", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Nice", w.Body.String())
	})

	t.Run("BadAddress", func(t *testing.T) {
		registry := newTestRegistry()
		sampler := &recordingSampler{}
		router := newHandlerRouter(registry, sampler)

		w := postReport(router, "localhost:7777", "127.0.0.1:50000", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Address must contain IP and port (i.e. 127.0.0.1:7777)")
		assert.Equal(t, 0, sampler.calls)
	})

	t.Run("ForeignReporterForbidden", func(t *testing.T) {
		registry := newTestRegistry()
		router := newHandlerRouter(registry, &recordingSampler{})

		w := postReport(router, "203.0.113.5:7777", "198.51.100.7:50000", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Your IP is expected to be 203.0.113.5, but it is 198.51.100.7")
	})
}

func TestGetServersHandler(t *testing.T) {
	registry := newTestRegistry()
	router := newHandlerRouter(registry, &recordingSampler{})

	w := postReport(router, "127.0.0.1:7777", "127.0.0.1:50000", map[string]any{"online": 3, "maxPlayers": 8})
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var list []Server
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	assert.Equal(t, "127.0.0.1", list[0].IP)
	assert.Equal(t, 7777, list[0].Port)
	assert.Equal(t, 3, list[0].Online)

	// The wire format must not leak internal bookkeeping.
	assert.NotContains(t, rec.Body.String(), "lastUpdate")
}
