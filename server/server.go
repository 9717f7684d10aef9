// Package server exposes the operational HTTP surface: liveness and
// readiness probes, the fleet status snapshot, and Prometheus metrics.
// Every request gets a correlation ID and, when tracing is enabled, a span.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamforge/botfleet/fleet"
	"github.com/streamforge/botfleet/telemetry"
)

// FleetStatus is the read-side view the status endpoint needs from the
// reconciler.
type FleetStatus interface {
	Status() []fleet.TenantStatus
}

// Handlers carries the endpoint dependencies.
type Handlers struct {
	db      *sql.DB
	fleet   FleetStatus
	started time.Time
}

// NewHandlers builds the endpoint set. fleet may be nil before the
// reconciler is up; the status endpoint then reports an empty fleet.
func NewHandlers(db *sql.DB, fleet FleetStatus) *Handlers {
	return &Handlers{db: db, fleet: fleet, started: time.Now()}
}

// NewMux returns the HTTP handler with all routes and middleware.
func NewMux(db *sql.DB, fleetStatus FleetStatus) http.Handler {
	h := NewHandlers(db, fleetStatus)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)
	mux.HandleFunc("/status", h.HandleStatus)

	return withCorrelation(mux)
}

// withCorrelation injects a correlation ID into the request context,
// echoes it back in the response and wraps the request in a span.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start",
			slog.String("method", r.Method), slog.String("path", r.URL.Path))

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		if recorder.statusCode >= 400 {
			telemetry.RecordError(span, fmt.Errorf("HTTP %d", recorder.statusCode))
		} else {
			telemetry.SetSpanSuccess(span)
		}
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, db *sql.DB, fleetStatus FleetStatus, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(db, fleetStatus),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// HandleHealthz answers liveness probes. The process serving the request
// is the whole check.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz answers readiness probes; not ready without a reachable
// settings store.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := h.db.PingContext(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":       "not_ready",
			"failed_check": "database",
			"error":        err.Error(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus serves the fleet snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var tenants []fleet.TenantStatus
	if h.fleet != nil {
		tenants = h.fleet.Status()
	}
	if tenants == nil {
		tenants = []fleet.TenantStatus{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"tenant_count":   len(tenants),
		"tenants":        tenants,
	})
}
