// Package fleet runs the reconciliation loop that keeps the set of live
// tenant bots in sync with the settings store and its change feed.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamforge/botfleet/events"
	"github.com/streamforge/botfleet/settings"
	"github.com/streamforge/botfleet/telemetry"
)

// Tenant is one running bot as the reconciler sees it. *bot.TenantBot
// satisfies it.
type Tenant interface {
	Run(ctx context.Context) error
	Shutdown()
	Done() <-chan struct{}
	ReloadCommands(next *settings.TenantSettings)
	Settings() *settings.TenantSettings
}

// SettingsSource is the snapshot side of the settings store.
// *settings.Store satisfies it.
type SettingsSource interface {
	Get(ctx context.Context, tenantID string) (*settings.TenantSettings, error)
	ScanActive(ctx context.Context) ([]*settings.TenantSettings, error)
}

// BotFactory builds a tenant bot from a settings snapshot.
type BotFactory func(ts *settings.TenantSettings) (Tenant, error)

// TenantStatus is one row of the fleet snapshot served over HTTP.
type TenantStatus struct {
	TenantID  string    `json:"tenant_id"`
	Channel   string    `json:"channel"`
	Features  int       `json:"features"`
	StartedAt time.Time `json:"started_at"`
	Restarts  int       `json:"restarts"`
}

type tenantEntry struct {
	bot       Tenant
	settings  *settings.TenantSettings
	startedAt time.Time
	restarts  int
}

// Reconciler owns the tenant-id to bot map. The map is only touched by the
// single reconciliation goroutine; the HTTP server reads the separate
// status snapshot.
type Reconciler struct {
	source       SettingsSource
	feed         settings.ChangeFeed
	factory      BotFactory
	publisher    events.Publisher
	pollInterval time.Duration
	logger       *slog.Logger

	tenants map[string]*tenantEntry
	cursors map[int]string

	statusMu sync.RWMutex
	status   map[string]TenantStatus

	// How long a stopping bot gets to release its connections before the
	// replacement starts.
	shutdownGrace time.Duration
}

// Config wires a Reconciler.
type Config struct {
	Source       SettingsSource
	Feed         settings.ChangeFeed
	Factory      BotFactory
	Publisher    events.Publisher
	PollInterval time.Duration
	Logger       *slog.Logger
}

// New builds a reconciler; nothing runs until Run.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Source == nil || cfg.Feed == nil || cfg.Factory == nil {
		return nil, errors.New("reconciler requires a source, a feed and a factory")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	telemetry.Init()
	return &Reconciler{
		source:        cfg.Source,
		feed:          cfg.Feed,
		factory:       cfg.Factory,
		publisher:     cfg.Publisher,
		pollInterval:  cfg.PollInterval,
		logger:        cfg.Logger,
		tenants:       make(map[string]*tenantEntry),
		cursors:       make(map[int]string),
		status:        make(map[string]TenantStatus),
		shutdownGrace: 10 * time.Second,
	}, nil
}

// Status returns the fleet snapshot, sorted by tenant id.
func (r *Reconciler) Status() []TenantStatus {
	r.statusMu.RLock()
	out := make([]TenantStatus, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, st)
	}
	r.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Run starts every active tenant, then polls the change feed until ctx is
// cancelled. On return all tenants are shut down.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.startup(ctx); err != nil {
		return err
	}

	partitions, err := r.feed.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list feed partitions: %w", err)
	}
	for _, p := range partitions {
		r.cursors[p] = ""
	}
	telemetry.FeedPartitions.Set(float64(len(r.cursors)))
	r.logger.Info("reconciler started",
		slog.Int("tenants", len(r.tenants)), slog.Int("partitions", len(r.cursors)))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.shutdownAll(ctx)
			return ctx.Err()
		case <-ticker.C:
			r.pollAll(ctx)
		}
	}
}

// startup scans active tenants and brings one bot up per tenant. A tenant
// that fails to start is logged and skipped; the store being unreachable
// is fatal.
func (r *Reconciler) startup(ctx context.Context) error {
	active, err := r.source.ScanActive(ctx)
	if err != nil {
		return fmt.Errorf("scan active tenants: %w", err)
	}
	for _, ts := range active {
		if err := r.startTenant(ctx, ts); err != nil {
			r.logger.Error("tenant failed to start",
				slog.String("tenant", ts.TenantID), slog.Any("err", err))
		}
	}
	return nil
}

// pollAll drains each partition once. Partition failures are isolated.
func (r *Reconciler) pollAll(ctx context.Context) {
	partitions := make([]int, 0, len(r.cursors))
	for p := range r.cursors {
		partitions = append(partitions, p)
	}
	sort.Ints(partitions)

	for _, p := range partitions {
		if ctx.Err() != nil {
			return
		}
		r.pollPartition(ctx, p)
	}
}

func (r *Reconciler) pollPartition(ctx context.Context, partition int) {
	records, next, err := r.feed.Poll(ctx, partition, r.cursors[partition])
	if err != nil {
		r.logger.Error("partition poll failed",
			slog.Int("partition", partition), slog.Any("err", err))
		return
	}
	if next == "" {
		// Exhausted feeds stop being polled.
		delete(r.cursors, partition)
		telemetry.FeedPartitions.Set(float64(len(r.cursors)))
		r.logger.Info("feed partition exhausted, dropping", slog.Int("partition", partition))
		return
	}
	r.cursors[partition] = next

	for _, rec := range records {
		telemetry.FeedRecords.Inc()
		r.apply(ctx, rec)
	}
}

// apply reconciles one change record against the live map. Failures only
// affect the record's tenant.
func (r *Reconciler) apply(ctx context.Context, rec settings.ChangeRecord) {
	corr := uuid.NewString()
	ctx = telemetry.WithCorrelation(ctx, corr)
	logger := r.logger.With(slog.String("tenant", rec.TenantID), slog.String("corr", corr))

	ts, err := r.source.Get(ctx, rec.TenantID)
	if rec.ChangeType == settings.ChangeDelete || errors.Is(err, settings.ErrNotFound) {
		r.stopTenant(ctx, rec.TenantID, logger)
		return
	}
	if err != nil {
		logger.Error("failed to load tenant snapshot", slog.Any("err", err))
		return
	}
	if !ts.IsActive {
		r.stopTenant(ctx, rec.TenantID, logger)
		return
	}

	entry, running := r.tenants[rec.TenantID]
	switch {
	case !running:
		if err := r.startTenant(ctx, ts); err != nil {
			logger.Error("tenant failed to start", slog.Any("err", err))
			return
		}
		logger.Info("tenant started")
	case settings.NeedsRestart(entry.settings, ts):
		if err := r.restartTenant(ctx, entry, ts, logger); err != nil {
			logger.Error("tenant restart failed", slog.Any("err", err))
		}
	default:
		entry.bot.ReloadCommands(ts)
		entry.settings = ts
		r.updateStatus(entry)
		r.publish(ctx, events.Event{Type: events.TenantPatched, TenantID: ts.TenantID, CorrelationID: corr})
		logger.Info("tenant hot-patched")
	}
}

func (r *Reconciler) startTenant(ctx context.Context, ts *settings.TenantSettings) error {
	bot, err := r.factory(ts)
	if err != nil {
		return fmt.Errorf("build bot: %w", err)
	}
	entry := &tenantEntry{bot: bot, settings: ts, startedAt: time.Now()}
	r.tenants[ts.TenantID] = entry
	go func() {
		if err := bot.Run(context.Background()); err != nil {
			r.logger.Error("tenant bot exited", slog.String("tenant", ts.TenantID), slog.Any("err", err))
		}
	}()
	r.updateStatus(entry)
	r.publish(ctx, events.Event{Type: events.TenantStarted, TenantID: ts.TenantID, CorrelationID: telemetry.GetCorrelation(ctx)})
	return nil
}

// restartTenant tears the old bot down completely before the replacement
// connects, so the channel is never joined twice.
func (r *Reconciler) restartTenant(ctx context.Context, entry *tenantEntry, ts *settings.TenantSettings, logger *slog.Logger) error {
	restarts := entry.restarts + 1
	r.awaitShutdown(entry.bot, ts.TenantID)
	delete(r.tenants, ts.TenantID)

	bot, err := r.factory(ts)
	if err != nil {
		r.removeStatus(ts.TenantID)
		return fmt.Errorf("rebuild bot: %w", err)
	}
	next := &tenantEntry{bot: bot, settings: ts, startedAt: time.Now(), restarts: restarts}
	r.tenants[ts.TenantID] = next
	go func() {
		if err := bot.Run(context.Background()); err != nil {
			r.logger.Error("tenant bot exited", slog.String("tenant", ts.TenantID), slog.Any("err", err))
		}
	}()
	r.updateStatus(next)
	telemetry.TenantRestarts.Inc()
	r.publish(ctx, events.Event{Type: events.TenantRestarted, TenantID: ts.TenantID, CorrelationID: telemetry.GetCorrelation(ctx)})
	logger.Info("tenant restarted", slog.Int("restarts", restarts))
	return nil
}

func (r *Reconciler) stopTenant(ctx context.Context, tenantID string, logger *slog.Logger) {
	entry, ok := r.tenants[tenantID]
	if !ok {
		return
	}
	r.awaitShutdown(entry.bot, tenantID)
	delete(r.tenants, tenantID)
	r.removeStatus(tenantID)
	r.publish(ctx, events.Event{Type: events.TenantStopped, TenantID: tenantID, CorrelationID: telemetry.GetCorrelation(ctx)})
	logger.Info("tenant stopped")
}

func (r *Reconciler) awaitShutdown(bot Tenant, tenantID string) {
	bot.Shutdown()
	select {
	case <-bot.Done():
	case <-time.After(r.shutdownGrace):
		r.logger.Warn("tenant shutdown exceeded grace period", slog.String("tenant", tenantID))
	}
}

func (r *Reconciler) shutdownAll(ctx context.Context) {
	for id, entry := range r.tenants {
		r.awaitShutdown(entry.bot, id)
		delete(r.tenants, id)
		r.removeStatus(id)
	}
	r.logger.Info("all tenants stopped")
}

func (r *Reconciler) publish(ctx context.Context, event events.Event) {
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Error("event publish failed",
			slog.String("type", event.Type), slog.String("tenant", event.TenantID), slog.Any("err", err))
	}
}

func (r *Reconciler) updateStatus(entry *tenantEntry) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	r.status[entry.settings.TenantID] = TenantStatus{
		TenantID:  entry.settings.TenantID,
		Channel:   entry.settings.ChannelName,
		Features:  len(entry.settings.Features),
		StartedAt: entry.startedAt,
		Restarts:  entry.restarts,
	}
}

func (r *Reconciler) removeStatus(tenantID string) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	delete(r.status, tenantID)
}
