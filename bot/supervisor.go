package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamforge/botfleet/telemetry"
)

// TokenRefresher exchanges a refresh token for a new user token pair.
type TokenRefresher interface {
	RefreshUserToken(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// TransportFactory builds a fresh chat connection for the given token.
// The supervisor calls it once per connection attempt so a refreshed token
// always reaches the next connection.
type TransportFactory func(oauthToken string) ChatTransport

// FollowFeedFactory builds the follow-event feed for the given token.
type FollowFeedFactory func(accessToken string) FollowFeed

// SupervisorConfig wires one tenant's connection lifecycle.
type SupervisorConfig struct {
	Channel   string
	Transport TransportFactory

	// Optional follow-event side channel, restarted with each connection.
	FollowFeed FollowFeedFactory
	OnFollow   func(ctx context.Context, username, userID string)

	// Token handling. Refresher and PersistTokens may be nil; login
	// failures then only back off and retry.
	OAuthToken    string
	RefreshToken  string
	Refresher     TokenRefresher
	PersistTokens func(ctx context.Context, access, refresh string) error

	// Reconnect delay after an unexpected disconnect. Defaults to 30s.
	Backoff time.Duration

	Logger *slog.Logger
}

// Supervisor owns a tenant's chat connection: it connects, joins the
// channel, and heals the connection when it drops. A credential rejection
// triggers a token refresh and an immediate rebuild; anything else waits
// out the backoff first. Commands talk to the connection through
// Transport(), which routes to whichever connection is current.
type Supervisor struct {
	cfg    SupervisorConfig
	routed *routedTransport
	logger *slog.Logger

	mu           sync.Mutex
	running      bool
	oauthToken   string
	refreshToken string
}

// NewSupervisor prepares a supervisor; nothing connects until Run.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Transport == nil {
		return nil, errors.New("supervisor requires a transport factory")
	}
	if cfg.Channel == "" {
		return nil, errors.New("supervisor requires a channel")
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	telemetry.Init()
	return &Supervisor{
		cfg:          cfg,
		routed:       &routedTransport{},
		logger:       logger.With(slog.String("channel", cfg.Channel)),
		oauthToken:   cfg.OAuthToken,
		refreshToken: cfg.RefreshToken,
	}, nil
}

// Transport returns the stable handle commands and dispatchers hold. It
// survives reconnects; handlers registered on it are re-applied to every
// new connection.
func (s *Supervisor) Transport() ChatTransport { return s.routed }

// Run drives the connection loop until ctx is cancelled. Only one Run may
// be active per supervisor.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrLoginFailed) {
			if s.refreshTokens(ctx) {
				// Fresh credentials, rebuild right away.
				continue
			}
		}
		telemetry.Reconnects.Inc()
		s.logger.Warn("chat connection lost, backing off", slog.Any("err", err), slog.Duration("backoff", s.cfg.Backoff))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Backoff):
		}
	}
}

// connectOnce builds a connection for the current token and blocks on it.
func (s *Supervisor) connectOnce(ctx context.Context) error {
	s.mu.Lock()
	token := s.oauthToken
	s.mu.Unlock()

	inner := s.cfg.Transport(token)
	s.routed.swap(inner, s.cfg.Channel)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.FollowFeed != nil && s.cfg.OnFollow != nil {
		feed := s.cfg.FollowFeed(token)
		go func() {
			if err := feed.Listen(connCtx, func(username, userID string) {
				s.cfg.OnFollow(connCtx, username, userID)
			}); err != nil && connCtx.Err() == nil {
				s.logger.Warn("follow feed ended", slog.Any("err", err))
			}
		}()
	}

	// Unblock Connect on shutdown.
	go func() {
		<-connCtx.Done()
		if err := inner.Disconnect(); err != nil {
			s.logger.Debug("disconnect", slog.Any("err", err))
		}
	}()

	s.logger.Info("connecting to chat")
	return inner.Connect()
}

// refreshTokens swaps the token pair after a login rejection. Reports
// whether new credentials are in place.
func (s *Supervisor) refreshTokens(ctx context.Context) bool {
	s.mu.Lock()
	refresh := s.refreshToken
	s.mu.Unlock()
	if s.cfg.Refresher == nil || refresh == "" {
		s.logger.Error("login rejected and no refresh token available")
		return false
	}

	telemetry.TokenRefreshes.Inc()
	access, next, err := s.cfg.Refresher.RefreshUserToken(ctx, refresh)
	if err != nil {
		s.logger.Error("token refresh failed", slog.Any("err", err))
		return false
	}
	s.mu.Lock()
	s.oauthToken = access
	s.refreshToken = next
	s.mu.Unlock()
	s.logger.Info("bot token refreshed")

	if s.cfg.PersistTokens != nil {
		if err := s.cfg.PersistTokens(ctx, access, next); err != nil {
			// The in-memory pair still works for this process.
			s.logger.Error("failed to persist refreshed tokens", slog.Any("err", err))
		}
	}
	return true
}

// routedTransport is the connection handle that outlives reconnects. It
// forwards calls to the current connection and replays registered handlers
// onto each new one, joining the channel on connect.
type routedTransport struct {
	mu        sync.RWMutex
	inner     ChatTransport
	channel   string
	onMessage func(InboundMessage)
	onConnect func()
	onJoined  func(channel string)
}

func (r *routedTransport) swap(inner ChatTransport, channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inner = inner
	r.channel = channel
	if r.onMessage != nil {
		inner.OnMessage(r.onMessage)
	}
	onConnect := r.onConnect
	inner.OnConnect(func() {
		inner.Join(channel)
		if onConnect != nil {
			onConnect()
		}
	})
	if r.onJoined != nil {
		inner.OnJoined(r.onJoined)
	}
}

func (r *routedTransport) current() ChatTransport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inner
}

func (r *routedTransport) Connect() error {
	if t := r.current(); t != nil {
		return t.Connect()
	}
	return errors.New("no connection")
}

func (r *routedTransport) Disconnect() error {
	if t := r.current(); t != nil {
		return t.Disconnect()
	}
	return nil
}

func (r *routedTransport) Join(channel string) {
	if t := r.current(); t != nil {
		t.Join(channel)
	}
}

func (r *routedTransport) Say(channel, text string) {
	if t := r.current(); t != nil {
		t.Say(channel, text)
	}
}

func (r *routedTransport) Reply(channel, parentMessageID, text string) {
	if t := r.current(); t != nil {
		t.Reply(channel, parentMessageID, text)
	}
}

func (r *routedTransport) Ban(ctx context.Context, userID, username, reason string) error {
	if t := r.current(); t != nil {
		return t.Ban(ctx, userID, username, reason)
	}
	return fmt.Errorf("ban %s: no connection", username)
}

func (r *routedTransport) OnMessage(handler func(InboundMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMessage = handler
	if r.inner != nil {
		r.inner.OnMessage(handler)
	}
}

func (r *routedTransport) OnConnect(handler func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = handler
	if r.inner != nil {
		inner, channel := r.inner, r.channel
		inner.OnConnect(func() {
			inner.Join(channel)
			handler()
		})
	}
}

func (r *routedTransport) OnJoined(handler func(channel string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoined = handler
	if r.inner != nil {
		r.inner.OnJoined(handler)
	}
}
