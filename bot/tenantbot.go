package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/streamforge/botfleet/settings"
	"github.com/streamforge/botfleet/telemetry"
)

// TenantBot is one tenant's running bot: a supervised chat connection plus
// the command pipelines built from the tenant's settings. Inbound messages
// fan out to every pipeline concurrently; a slow or failing command never
// blocks the others. Cosmetic settings changes are applied in place with
// ReloadCommands, everything else goes through a full restart upstream.
type TenantBot struct {
	tenantID string
	channel  string
	sup      *Supervisor
	deps     CommandDeps
	logger   *slog.Logger

	mu        sync.RWMutex
	settings  *settings.TenantSettings
	pipelines []*Pipeline
	runCtx    context.Context

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewTenantBot assembles a bot for the tenant. supCfg describes the
// connection; its channel and follow dispatch are filled in here.
// deps.Transport is replaced with the supervised connection handle.
func NewTenantBot(ts *settings.TenantSettings, supCfg SupervisorConfig, deps CommandDeps, logger *slog.Logger) (*TenantBot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("tenant", ts.TenantID), slog.String("channel", ts.ChannelName))

	b := &TenantBot{
		tenantID: ts.TenantID,
		channel:  ts.ChannelName,
		settings: ts,
		logger:   logger,
		runCtx:   context.Background(),
		done:     make(chan struct{}),
	}

	if supCfg.Channel == "" {
		supCfg.Channel = ts.ChannelName
	}
	supCfg.OnFollow = b.dispatchFollow
	if supCfg.Logger == nil {
		supCfg.Logger = logger
	}
	sup, err := NewSupervisor(supCfg)
	if err != nil {
		return nil, err
	}
	b.sup = sup

	deps.Transport = sup.Transport()
	if deps.Logger == nil {
		deps.Logger = logger
	}
	b.deps = deps
	b.pipelines = BuildCommands(ts, deps)

	sup.Transport().OnMessage(b.dispatch)
	return b, nil
}

// TenantID identifies the tenant this bot serves.
func (b *TenantBot) TenantID() string { return b.tenantID }

// Settings returns the configuration the bot currently runs with.
func (b *TenantBot) Settings() *settings.TenantSettings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Done is closed when Run has returned.
func (b *TenantBot) Done() <-chan struct{} { return b.done }

// Run connects and serves until ctx is cancelled or Shutdown is called.
func (b *TenantBot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.runCtx = ctx
	b.cancel = cancel
	b.mu.Unlock()

	telemetry.TenantsRunning.Inc()
	defer telemetry.TenantsRunning.Dec()
	defer close(b.done)

	err := b.sup.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown stops the bot. Safe to call more than once and before Run.
func (b *TenantBot) Shutdown() {
	b.stopOnce.Do(func() {
		b.mu.RLock()
		cancel := b.cancel
		b.mu.RUnlock()
		if cancel != nil {
			cancel()
		} else {
			close(b.done)
		}
		b.logger.Info("tenant bot shutting down")
	})
}

// ReloadCommands rebuilds the command pipelines from next without touching
// the connection. Callers are responsible for only sending settings whose
// changes are hot-patchable.
func (b *TenantBot) ReloadCommands(next *settings.TenantSettings) {
	pipelines := BuildCommands(next, b.deps)
	b.mu.Lock()
	b.settings = next
	b.pipelines = pipelines
	b.mu.Unlock()
	telemetry.TenantHotPatches.Inc()
	b.logger.Info("command set reloaded", slog.Int("pipelines", len(pipelines)))
}

// dispatch fans one inbound message out to all pipelines.
func (b *TenantBot) dispatch(msg InboundMessage) {
	b.mu.RLock()
	ctx := b.runCtx
	pipelines := b.pipelines
	b.mu.RUnlock()

	telemetry.MessagesDispatched.Inc()
	for _, p := range pipelines {
		go func(p *Pipeline, msg InboundMessage) {
			p.Handle(ctx, &msg)
		}(p, msg)
	}
}

func (b *TenantBot) dispatchFollow(ctx context.Context, username, userID string) {
	b.mu.RLock()
	pipelines := b.pipelines
	b.mu.RUnlock()

	for _, p := range pipelines {
		go p.HandleFollow(ctx, username, userID)
	}
}
