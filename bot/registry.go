package bot

import (
	"fmt"
	"log/slog"

	"github.com/streamforge/botfleet/ledger"
	"github.com/streamforge/botfleet/settings"
)

// CommandDeps carries the shared integrations commands are built on. Test
// code injects fakes; production wiring fills these from the tenant's
// settings and the fleet-wide clients.
type CommandDeps struct {
	Transport ChatTransport
	Probe     LiveProbe
	Clips     ClipCreator

	// Rewards ledger; built from the tenant credentials when nil.
	Ledger        PointsLedger
	LedgerBaseURL string

	// Optional overrides, mainly for tests. When nil the commands build
	// their HTTP integrations from their own options.
	Player    SongPlayer
	Generator AnswerGenerator

	Logger *slog.Logger
}

// BuildCommands constructs one gated pipeline per configured feature. A
// feature whose command cannot be built is logged and skipped so a single
// bad configuration never takes down the tenant's other commands.
func BuildCommands(ts *settings.TenantSettings, deps CommandDeps) []*Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("tenant", ts.TenantID))

	pipelines := make([]*Pipeline, 0, len(ts.Features))
	for _, feature := range ts.Features {
		cmd, err := buildCommand(ts, feature, deps, logger)
		if err != nil {
			logger.Error("skipping feature, command construction failed",
				slog.String("feature", feature.ID),
				slog.String("kind", string(feature.Kind)),
				slog.Any("err", err))
			continue
		}
		pipelines = append(pipelines, NewPipeline(cmd, deps.Probe, deps.Transport, ts.ChannelName, logger))
	}
	return pipelines
}

func buildCommand(ts *settings.TenantSettings, feature settings.FeatureConfig, deps CommandDeps, logger *slog.Logger) (Command, error) {
	switch feature.Kind {
	case settings.KindBanHate:
		return NewBanHateCommand(feature, deps.Transport, logger)
	case settings.KindHeist:
		lg := deps.Ledger
		if lg == nil {
			if ts.LedgerChannelID == "" || ts.LedgerJWT == "" {
				return nil, fmt.Errorf("heist feature %s has no rewards ledger credentials", feature.ID)
			}
			lg = &ledger.Client{BaseURL: deps.LedgerBaseURL, ChannelID: ts.LedgerChannelID, JWT: ts.LedgerJWT}
		}
		return NewHeistGame(feature, deps.Transport, lg, ts.ChannelName, logger)
	case settings.KindClip, settings.KindAdvancedClip:
		if deps.Clips == nil {
			return nil, fmt.Errorf("clip feature %s has no clip API client", feature.ID)
		}
		return NewClipCommand(feature, deps.Clips, deps.Probe, deps.Transport, ts.BroadcasterID, ts.ChannelName)
	case settings.KindSongRequest:
		return NewSongRequestCommand(feature, deps.Player, deps.Transport)
	case settings.KindAskMeAnything:
		return NewAskMeAnythingCommand(feature, deps.Generator, deps.Transport, ts.ChannelName, logger)
	default:
		// KindGeneric and any kind without a dedicated implementation
		// behave as plain call-and-response commands.
		return NewGenericCommand(feature, deps.Transport)
	}
}
