// Package twitchapi wraps the Twitch Helix API for the needs of the fleet:
// stream liveness probes, clip creation, moderation bans, user id resolution,
// and the user token refresh handshake.
package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nicklaw5/helix/v2"
)

// Client is a thin, concurrency-safe wrapper around one helix client bound to
// one user access token (a tenant's bot identity or the fleet default).
type Client struct {
	clientID     string
	clientSecret string

	mu    sync.RWMutex
	helix *helix.Client
}

// Options configures a Client. APIBaseURL is only set by tests.
type Options struct {
	ClientID        string
	ClientSecret    string
	UserAccessToken string
	APIBaseURL      string
	HTTPClient      *http.Client
}

// New creates a Helix API client for one bot identity.
func New(opts Options) (*Client, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("twitchapi: missing client id")
	}
	hopts := &helix.Options{
		ClientID:        opts.ClientID,
		ClientSecret:    opts.ClientSecret,
		UserAccessToken: strings.TrimPrefix(opts.UserAccessToken, "oauth:"),
	}
	if opts.APIBaseURL != "" {
		hopts.APIBaseURL = opts.APIBaseURL
	}
	if opts.HTTPClient != nil {
		hopts.HTTPClient = opts.HTTPClient
	}
	hc, err := helix.NewClient(hopts)
	if err != nil {
		return nil, fmt.Errorf("twitchapi: new helix client: %w", err)
	}
	return &Client{clientID: opts.ClientID, clientSecret: opts.ClientSecret, helix: hc}, nil
}

// SetUserToken swaps the user access token on the live client, e.g. after a
// refresh handshake. Safe for concurrent use.
func (c *Client) SetUserToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.helix.SetUserAccessToken(strings.TrimPrefix(token, "oauth:"))
}

func (c *Client) client() *helix.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.helix
}

// IsLive reports whether the given broadcaster is currently streaming.
// The helix library does not thread contexts through requests; ctx is accepted
// for interface symmetry with the rest of the codebase.
func (c *Client) IsLive(ctx context.Context, broadcasterID string) (bool, error) {
	_ = ctx
	if broadcasterID == "" {
		return false, fmt.Errorf("twitchapi: broadcaster id empty")
	}
	resp, err := c.client().GetStreams(&helix.StreamsParams{UserIDs: []string{broadcasterID}})
	if err != nil {
		return false, fmt.Errorf("twitchapi: GetStreams: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("twitchapi: GetStreams failed (%d: %s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	return len(resp.Data.Streams) > 0, nil
}

// GetUserID resolves a login name to its user id.
func (c *Client) GetUserID(ctx context.Context, login string) (string, error) {
	_ = ctx
	if login == "" {
		return "", fmt.Errorf("twitchapi: login empty")
	}
	resp, err := c.client().GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return "", fmt.Errorf("twitchapi: GetUsers: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitchapi: GetUsers failed (%d: %s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.Users) == 0 {
		return "", fmt.Errorf("twitchapi: user not found: %s", login)
	}
	return resp.Data.Users[0].ID, nil
}

// CreateClip creates a clip of the broadcaster's live stream and returns its URL.
func (c *Client) CreateClip(ctx context.Context, broadcasterID string) (string, error) {
	_ = ctx
	resp, err := c.client().CreateClip(&helix.CreateClipParams{BroadcasterID: broadcasterID})
	if err != nil {
		return "", fmt.Errorf("twitchapi: CreateClip: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("twitchapi: CreateClip failed (%d: %s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if len(resp.Data.ClipEditURLs) == 0 {
		return "", fmt.Errorf("twitchapi: CreateClip returned no clip")
	}
	// The edit URL minus its /edit suffix is the public clip URL.
	return strings.TrimSuffix(resp.Data.ClipEditURLs[0].EditURL, "/edit"), nil
}

// BanUser bans a user from the broadcaster's chat via the moderation API.
func (c *Client) BanUser(ctx context.Context, broadcasterID, moderatorID, userID, reason string) error {
	_ = ctx
	resp, err := c.client().BanUser(&helix.BanUserParams{
		BroadcasterID: broadcasterID,
		ModeratorId:   moderatorID,
		Body: helix.BanUserRequestBody{
			UserId: userID,
			Reason: reason,
		},
	})
	if err != nil {
		return fmt.Errorf("twitchapi: BanUser: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twitchapi: BanUser failed (%d: %s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	return nil
}

// RefreshUserToken exchanges a refresh token for fresh credentials and swaps
// the new access token onto the live client.
func (c *Client) RefreshUserToken(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	_ = ctx
	if refreshToken == "" {
		return "", "", fmt.Errorf("twitchapi: refresh token empty")
	}
	resp, err := c.client().RefreshUserAccessToken(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("twitchapi: RefreshUserAccessToken: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("twitchapi: refresh failed (%d: %s) %s", resp.StatusCode, resp.Error, resp.ErrorMessage)
	}
	if resp.Data.AccessToken == "" {
		return "", "", fmt.Errorf("twitchapi: refresh returned empty access token")
	}
	c.SetUserToken(resp.Data.AccessToken)
	return resp.Data.AccessToken, resp.Data.RefreshToken, nil
}
