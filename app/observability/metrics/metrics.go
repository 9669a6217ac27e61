package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	SignupsTotal          metric.Int64Counter
	LoginRequestsTotal    metric.Int64Counter
	ServerReportsTotal    metric.Int64Counter
	StatsSamplesTotal     metric.Int64Counter
	MailDispatchesTotal   metric.Int64Counter
	DbQueryErrorsTotal    metric.Int64Counter
	RequestDurationSecond metric.Float64Histogram
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("scamp-backend")
		var err error
		m := &AppMetrics{}

		m.SignupsTotal, err = meter.Int64Counter(
			"signups_total",
			metric.WithDescription("Total number of account creation requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create signups_total: %v", err)
		}

		m.LoginRequestsTotal, err = meter.Int64Counter(
			"login_requests_total",
			metric.WithDescription("Total number of login requests completed"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create login_requests_total: %v", err)
		}

		m.ServerReportsTotal, err = meter.Int64Counter(
			"server_reports_total",
			metric.WithDescription("Total number of accepted game server self-reports"),
			metric.WithUnit("{report}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create server_reports_total: %v", err)
		}

		m.StatsSamplesTotal, err = meter.Int64Counter(
			"stats_samples_total",
			metric.WithDescription("Total number of stats rows appended"),
			metric.WithUnit("{row}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create stats_samples_total: %v", err)
		}

		m.MailDispatchesTotal, err = meter.Int64Counter(
			"mail_dispatches_total",
			metric.WithDescription("Total number of outbound email dispatches"),
			metric.WithUnit("{message}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create mail_dispatches_total: %v", err)
		}

		m.DbQueryErrorsTotal, err = meter.Int64Counter(
			"db_query_errors_total",
			metric.WithDescription("Total number of database query errors"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_errors_total: %v", err)
		}

		m.RequestDurationSecond, err = meter.Float64Histogram(
			"request_duration_seconds",
			metric.WithDescription("Duration of HTTP requests in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create request_duration_seconds: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
