package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/streamforge/botfleet/settings"
	"github.com/streamforge/botfleet/telemetry"
)

// Command is one configured capability bound to a tenant. ProcessMessage
// returns true when the message matched the command's trigger and was acted
// on; false means the message was not for this command and must not burn
// its cooldowns.
type Command interface {
	Feature() settings.FeatureConfig
	ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error)
}

// FollowHandler is implemented by commands that react to new followers.
type FollowHandler interface {
	HandleFollow(ctx context.Context, username, userID string)
}

// LiveProbe reports whether the tenant is currently broadcasting.
type LiveProbe interface {
	IsLive(ctx context.Context) (bool, error)
}

// LiveProbeFunc adapts a function to LiveProbe.
type LiveProbeFunc func(ctx context.Context) (bool, error)

func (f LiveProbeFunc) IsLive(ctx context.Context) (bool, error) { return f(ctx) }

// Pipeline gates one command instance: enabled, availability, permission
// and cooldown checks run in order, short-circuiting on the first denial.
// Errors from the command never propagate to the dispatcher.
type Pipeline struct {
	cmd       Command
	feature   settings.FeatureConfig
	cooldowns *CooldownTracker
	probe     LiveProbe
	transport ChatTransport
	channel   string
	logger    *slog.Logger

	now func() time.Time
}

// NewPipeline wraps a command with its execution gates.
func NewPipeline(cmd Command, probe LiveProbe, transport ChatTransport, channel string, logger *slog.Logger) *Pipeline {
	telemetry.Init()
	f := cmd.Feature()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cmd:       cmd,
		feature:   f,
		cooldowns: NewCooldownTracker(f.GlobalCooldownSeconds, f.UserCooldownSeconds),
		probe:     probe,
		transport: transport,
		channel:   channel,
		logger:    logger.With(slog.String("feature", f.ID), slog.String("kind", string(f.Kind))),
		now:       time.Now,
	}
}

// Feature returns the configuration this pipeline was built from.
func (p *Pipeline) Feature() settings.FeatureConfig { return p.feature }

// Handle runs the message through the gates and executes the command. A
// command reporting the inconsistent not-joined transport state gets a
// channel rejoin instead of an error log.
func (p *Pipeline) Handle(ctx context.Context, msg *InboundMessage) {
	if !p.feature.Enabled {
		return
	}
	if !p.available(ctx) {
		return
	}
	if !UserHasPermission(p.feature.Permission, msg) {
		return
	}
	if !p.cooldowns.TryConsume(p.now(), msg.Username) {
		return
	}
	handled, err := p.cmd.ProcessMessage(ctx, msg)
	if err != nil {
		telemetry.CommandFailures.Inc()
		if errors.Is(err, ErrBadChannelState) {
			p.logger.Warn("transport reports not joined, rejoining channel", slog.String("channel", p.channel))
			p.transport.Join(p.channel)
			return
		}
		p.logger.Error("command failed", slog.Any("err", err))
		return
	}
	if handled {
		telemetry.CommandExecutions.Inc()
		p.cooldowns.Record(p.now(), msg.Username)
	}
}

// HandleFollow forwards a follow event when the command reacts to them.
// Follow events skip the message gates; they carry no sender roles.
func (p *Pipeline) HandleFollow(ctx context.Context, username, userID string) {
	if !p.feature.Enabled {
		return
	}
	fh, ok := p.cmd.(FollowHandler)
	if !ok {
		return
	}
	fh.HandleFollow(ctx, username, userID)
}

// availability failures read as not available; a flaky probe must not crash
// the dispatch path.
func (p *Pipeline) available(ctx context.Context) bool {
	switch p.feature.Availability {
	case settings.AvailabilityOnline:
		if p.probe == nil {
			return false
		}
		live, err := p.probe.IsLive(ctx)
		if err != nil {
			p.logger.Debug("live probe failed", slog.Any("err", err))
			return false
		}
		return live
	case settings.AvailabilityOffline, settings.AvailabilityBoth:
		return true
	default:
		return false
	}
}
