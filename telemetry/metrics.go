// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TenantRestarts     prometheus.Counter
	TenantHotPatches   prometheus.Counter
	MessagesDispatched prometheus.Counter
	CommandExecutions  prometheus.Counter
	CommandFailures    prometheus.Counter
	Reconnects         prometheus.Counter
	TokenRefreshes     prometheus.Counter
	HeistsStarted      prometheus.Counter
	HeistsResolved     prometheus.Counter
	HeistsCancelled    prometheus.Counter
	FeedRecords        prometheus.Counter

	// Gauges
	TenantsRunning prometheus.Gauge
	FeedPartitions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TenantRestarts = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_tenant_restarts_total", Help: "Number of full tenant bot restarts"})
		TenantHotPatches = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_tenant_hot_patches_total", Help: "Number of command-set hot patches applied without restart"})
		MessagesDispatched = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_messages_dispatched_total", Help: "Number of inbound chat messages dispatched to command pipelines"})
		CommandExecutions = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_command_executions_total", Help: "Number of commands that handled a message"})
		CommandFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_command_failures_total", Help: "Number of command executions that returned an error"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_transport_reconnects_total", Help: "Number of chat transport reconnect sequences"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_token_refreshes_total", Help: "Number of bot token refresh handshakes attempted"})
		HeistsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_heists_started_total", Help: "Number of heist rounds opened"})
		HeistsResolved = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_heists_resolved_total", Help: "Number of heist rounds resolved normally"})
		HeistsCancelled = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_heists_cancelled_total", Help: "Number of heist rounds cancelled"})
		FeedRecords = promauto.NewCounter(prometheus.CounterOpts{Name: "fleet_feed_records_total", Help: "Number of settings change-feed records processed"})
		TenantsRunning = promauto.NewGauge(prometheus.GaugeOpts{Name: "fleet_tenants_running", Help: "Current number of running tenant bots"})
		FeedPartitions = promauto.NewGauge(prometheus.GaugeOpts{Name: "fleet_feed_partitions", Help: "Current number of change-feed partitions being polled"})
	})
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
