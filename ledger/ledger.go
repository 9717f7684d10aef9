// Package ledger is a minimal client for the rewards-ledger service that holds
// per-user point balances (StreamElements-compatible points API).
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// User is a ledger account snapshot.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Points      int64  `json:"points"`
}

// Client talks to one channel's points ledger.
type Client struct {
	BaseURL    string
	ChannelID  string
	JWT        string
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.JWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.JWT)
	}
	return c.http().Do(req)
}

// GetUser fetches a user's point balance.
func (c *Client) GetUser(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("ledger: username empty")
	}
	u := fmt.Sprintf("%s/points/%s/%s", c.BaseURL, url.PathEscape(c.ChannelID), url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger: get user: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		// Unknown users have an implicit zero balance.
		return &User{Username: username, DisplayName: username, Points: 0}, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ledger: get user failed: %s: %s", resp.Status, string(b))
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("ledger: decode user: %w", err)
	}
	if user.Username == "" {
		user.Username = username
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	return &user, nil
}

// AdjustPoints adds delta (which may be negative) to a user's balance.
func (c *Client) AdjustPoints(ctx context.Context, username string, delta int64) error {
	if username == "" {
		return fmt.Errorf("ledger: username empty")
	}
	u := fmt.Sprintf("%s/points/%s/%s/%d", c.BaseURL, url.PathEscape(c.ChannelID), url.PathEscape(username), delta)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("ledger: adjust points: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger: adjust points failed: %s: %s", resp.Status, string(b))
	}
	return nil
}
