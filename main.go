// Command botfleet runs a multi-tenant Twitch chat bot fleet.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the fleet reconciler, which boots one supervised bot per
//     active tenant and follows the settings change feed for updates.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streamforge/botfleet/bot"
	"github.com/streamforge/botfleet/config"
	"github.com/streamforge/botfleet/crypto"
	"github.com/streamforge/botfleet/db"
	"github.com/streamforge/botfleet/events"
	"github.com/streamforge/botfleet/fleet"
	"github.com/streamforge/botfleet/ledger"
	"github.com/streamforge/botfleet/server"
	"github.com/streamforge/botfleet/settings"
	"github.com/streamforge/botfleet/telemetry"
	"github.com/streamforge/botfleet/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("botfleet", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Credential encryption for the settings store. Without a key the
	// store falls back to plaintext credentials.
	var enc crypto.Encryptor
	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		aes, err := crypto.NewAESEncryptor(encKey)
		if err != nil {
			slog.Error("invalid ENCRYPTION_KEY", slog.Any("err", err))
			os.Exit(1)
		}
		enc = aes
	} else {
		slog.Warn("ENCRYPTION_KEY not set, storing credentials in plaintext")
	}

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations")
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx, database); err != nil {
		cancelMigrate()
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	cancelMigrate()

	store := settings.NewStore(database, enc, cfg.FeedPartitions)
	feed := settings.NewPostgresFeed(database, cfg.FeedPartitions)

	// Fleet lifecycle events go to AMQP when a broker is configured.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Error("amqp publisher setup failed", slog.Any("err", err))
			os.Exit(1)
		}
		publisher = amqpPub
		slog.Info("publishing fleet events", slog.String("exchange", cfg.AMQPExchange))
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("failed to close event publisher", slog.Any("err", err))
		}
	}()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconciler, err := fleet.New(fleet.Config{
		Source:       store,
		Feed:         feed,
		Factory:      tenantFactory(cfg, store),
		Publisher:    publisher,
		PollInterval: cfg.FeedPollInterval,
	})
	if err != nil {
		slog.Error("reconciler setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	go func() {
		if err := reconciler.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("reconciler exited with error", slog.Any("err", err))
		}
	}()

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, database, reconciler, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// defaultBotTenantID is the reserved settings row that carries refreshed
// credentials for the fleet-wide default bot identity. It is never active,
// so the reconciler ignores it.
const defaultBotTenantID = "fleet:default-bot"

// tokenStore is the slice of the settings store the refresh callback needs.
type tokenStore interface {
	Persist(ctx context.Context, ts *settings.TenantSettings) error
}

// tokenSink receives the refreshed access token for the live API client.
type tokenSink interface {
	SetUserToken(token string)
}

// persistTokensFunc builds the supervisor callback that stores a refreshed
// token pair. The running bot's settings snapshot is read-only once built,
// so own-credential tenants persist a copy carrying the new tokens; the
// shared default identity goes under its reserved row.
func persistTokensFunc(store tokenStore, api tokenSink, ts *settings.TenantSettings, ownCreds bool, username string) func(ctx context.Context, access, refresh string) error {
	return func(ctx context.Context, access, refresh string) error {
		api.SetUserToken(access)
		if !ownCreds {
			return store.Persist(ctx, &settings.TenantSettings{
				TenantID:        defaultBotTenantID,
				BotUsername:     username,
				BotOAuthToken:   access,
				BotRefreshToken: refresh,
			})
		}
		updated := *ts
		updated.BotOAuthToken = access
		updated.BotRefreshToken = refresh
		return store.Persist(ctx, &updated)
	}
}

// tenantFactory builds the per-tenant bot constructor the reconciler calls.
// Each bot gets its own Helix client bound to the tenant's bot identity, or
// the fleet-wide default identity for tenants without their own credentials.
func tenantFactory(cfg *config.Config, store *settings.Store) fleet.BotFactory {
	return func(ts *settings.TenantSettings) (fleet.Tenant, error) {
		username := ts.BotUsername
		oauthToken := ts.BotOAuthToken
		refreshToken := ts.BotRefreshToken
		ownCreds := !ts.UsesDefaultBot()
		if !ownCreds {
			if err := cfg.ValidateDefaultBot(); err != nil {
				return nil, fmt.Errorf("tenant %s: %w", ts.TenantID, err)
			}
			username = cfg.DefaultBotUsername
			oauthToken = cfg.DefaultBotOAuthToken
			refreshToken = cfg.DefaultBotRefreshToken
			// Prefer credentials refreshed by an earlier run over the env pair.
			loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if saved, err := store.Get(loadCtx, defaultBotTenantID); err == nil && saved.BotOAuthToken != "" {
				oauthToken = saved.BotOAuthToken
				refreshToken = saved.BotRefreshToken
			}
			cancel()
		}

		api, err := twitchapi.New(twitchapi.Options{
			ClientID:        cfg.TwitchClientID,
			ClientSecret:    cfg.TwitchClientSecret,
			UserAccessToken: oauthToken,
		})
		if err != nil {
			return nil, fmt.Errorf("tenant %s: helix client: %w", ts.TenantID, err)
		}

		logger := slog.Default().With(slog.String("tenant", ts.TenantID))

		// Bans and the follow feed need the bot's user id as moderator.
		// Best effort; the bot still chats without it.
		botUserID := ""
		lookupCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if id, err := api.GetUserID(lookupCtx, username); err != nil {
			logger.Warn("bot user id lookup failed, ban and follow features degraded", slog.Any("err", err))
		} else {
			botUserID = id
		}
		cancel()

		supCfg := bot.SupervisorConfig{
			Transport: func(token string) bot.ChatTransport {
				return bot.NewTwitchTransport(username, token, api, ts.BroadcasterID, botUserID)
			},
			OAuthToken:   oauthToken,
			RefreshToken: refreshToken,
			Refresher:    api,
			PersistTokens: persistTokensFunc(store, api, ts, ownCreds, username),
		}
		if cfg.TwitchClientID != "" && botUserID != "" {
			supCfg.FollowFeed = func(accessToken string) bot.FollowFeed {
				return bot.NewEventSubFeed(cfg.TwitchClientID, accessToken, ts.BroadcasterID, botUserID, logger)
			}
		}

		deps := bot.CommandDeps{
			Probe: bot.LiveProbeFunc(func(pctx context.Context) (bool, error) {
				return api.IsLive(pctx, ts.BroadcasterID)
			}),
			Clips:         api,
			LedgerBaseURL: cfg.LedgerBaseURL,
			Logger:        logger,
		}
		// Tenants with a ledger channel but no tenant-scoped JWT fall back
		// to the fleet credential.
		if ts.LedgerJWT == "" && ts.LedgerChannelID != "" && cfg.LedgerJWT != "" {
			deps.Ledger = &ledger.Client{BaseURL: cfg.LedgerBaseURL, ChannelID: ts.LedgerChannelID, JWT: cfg.LedgerJWT}
		}

		return bot.NewTenantBot(ts, supCfg, deps, logger)
	}
}
