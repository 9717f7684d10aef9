package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/streamforge/botfleet/settings"
)

// SongPlayer is the music-integration boundary: what is playing now and
// queueing a request.
type SongPlayer interface {
	CurrentTrack(ctx context.Context) (title, artist string, playing bool, err error)
	Request(ctx context.Context, query string) (track string, err error)
}

// HTTPSongPlayer talks to the music-integration service over its small
// JSON API.
type HTTPSongPlayer struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (p *HTTPSongPlayer) http() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

func (p *HTTPSongPlayer) CurrentTrack(ctx context.Context) (string, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/player/current", nil)
	if err != nil {
		return "", "", false, err
	}
	resp, err := p.http().Do(req)
	if err != nil {
		return "", "", false, fmt.Errorf("current track: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNoContent {
		return "", "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", false, fmt.Errorf("current track: unexpected status %s", resp.Status)
	}
	var body struct {
		Title   string `json:"title"`
		Artist  string `json:"artist"`
		Playing bool   `json:"playing"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", false, fmt.Errorf("current track: decode: %w", err)
	}
	return body.Title, body.Artist, body.Playing, nil
}

func (p *HTTPSongPlayer) Request(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/player/queue", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("queue song: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("queue song: unexpected status %s", resp.Status)
	}
	var body struct {
		Track string `json:"track"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("queue song: decode: %w", err)
	}
	return body.Track, nil
}

var (
	songRe        = regexp.MustCompile(`^!song$`)
	songRequestRe = regexp.MustCompile(`^!sr (.+)$`)
)

// SongRequestCommand answers !song with the current track and queues
// !sr <query> requests through the music integration.
type SongRequestCommand struct {
	feature   settings.FeatureConfig
	opts      settings.SongRequestOptions
	player    SongPlayer
	transport ChatTransport
}

func NewSongRequestCommand(feature settings.FeatureConfig, player SongPlayer, transport ChatTransport) (*SongRequestCommand, error) {
	opts := settings.DefaultSongRequestOptions()
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if player == nil && opts.PlayerBaseURL != "" {
		player = &HTTPSongPlayer{BaseURL: opts.PlayerBaseURL}
	}
	if player == nil {
		return nil, fmt.Errorf("song request feature %s has no player_base_url", feature.ID)
	}
	return &SongRequestCommand{feature: feature, opts: opts, player: player, transport: transport}, nil
}

func (s *SongRequestCommand) Feature() settings.FeatureConfig { return s.feature }

func (s *SongRequestCommand) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	text := strings.TrimSpace(msg.Text)
	lower := strings.ToLower(text)
	switch {
	case songRe.MatchString(lower):
		title, artist, playing, err := s.player.CurrentTrack(ctx)
		if err != nil {
			return true, fmt.Errorf("song request: %w", err)
		}
		if !playing {
			s.transport.Reply(msg.Channel, msg.MessageID, "Nothing is currently playing.")
			return true, nil
		}
		s.transport.Reply(msg.Channel, msg.MessageID, fmt.Sprintf("%s %s by %s", s.opts.MessageBeforeSong, title, artist))
		return true, nil
	case songRequestRe.MatchString(lower):
		// Preserve the original casing of the query.
		query := strings.TrimSpace(text[len("!sr "):])
		track, err := s.player.Request(ctx, query)
		if err != nil {
			s.transport.Reply(msg.Channel, msg.MessageID, "Could not queue that request, sorry.")
			return true, fmt.Errorf("song request %q: %w", query, err)
		}
		s.transport.Reply(msg.Channel, msg.MessageID, fmt.Sprintf("Queued up: %s", track))
		return true, nil
	}
	return false, nil
}
