package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/streamforge/botfleet/settings"
)

// ClipCreator creates a clip of the live stream and returns its URL.
// *twitchapi.Client satisfies it.
type ClipCreator interface {
	CreateClip(ctx context.Context, broadcasterID string) (string, error)
}

// ClipSubmitter forwards a clip to an external submission endpoint.
type ClipSubmitter interface {
	Submit(ctx context.Context, clipURL, featuredName string) error
}

// HTTPClipSubmitter posts the clip as an HTML form, the interface the
// external submission site actually exposes.
type HTTPClipSubmitter struct {
	URL        string
	HTTPClient *http.Client
}

func (s *HTTPClipSubmitter) Submit(ctx context.Context, clipURL, featuredName string) error {
	form := url.Values{
		"clip_link":     {clipURL},
		"featured_name": {featuredName},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit clip: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("submit clip: unexpected status %s", resp.Status)
	}
	return nil
}

var (
	clipRe       = regexp.MustCompile(`^!clip$`)
	clipSubmitRe = regexp.MustCompile(`^!clip submit$`)
)

type clipRecord struct {
	url string
	at  time.Time
}

// ClipCommand creates stream clips on request and remembers each user's
// most recent clip. The advanced variant additionally forwards remembered
// clips to an external submission endpoint; moderators without a clip of
// their own may submit the newest one.
type ClipCommand struct {
	feature       settings.FeatureConfig
	opts          settings.ClipOptions
	creator       ClipCreator
	probe         LiveProbe
	transport     ChatTransport
	submitter     ClipSubmitter
	broadcasterID string
	channelName   string
	advanced      bool

	mu     sync.Mutex
	recent map[string]clipRecord

	now func() time.Time
}

func NewClipCommand(feature settings.FeatureConfig, creator ClipCreator, probe LiveProbe, transport ChatTransport, broadcasterID, channelName string) (*ClipCommand, error) {
	var opts settings.ClipOptions
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	advanced := feature.Kind == settings.KindAdvancedClip
	if advanced && opts.SubmitURL == "" {
		return nil, fmt.Errorf("advanced clip feature %s has no submit_url", feature.ID)
	}
	c := &ClipCommand{
		feature:       feature,
		opts:          opts,
		creator:       creator,
		probe:         probe,
		transport:     transport,
		broadcasterID: broadcasterID,
		channelName:   channelName,
		advanced:      advanced,
		recent:        make(map[string]clipRecord),
		now:           time.Now,
	}
	if advanced {
		c.submitter = &HTTPClipSubmitter{URL: opts.SubmitURL}
	}
	return c, nil
}

func (c *ClipCommand) Feature() settings.FeatureConfig { return c.feature }

func (c *ClipCommand) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case clipRe.MatchString(text):
		return true, c.createClip(ctx, msg)
	case c.advanced && clipSubmitRe.MatchString(text):
		return true, c.submitClip(ctx, msg)
	}
	return false, nil
}

func (c *ClipCommand) createClip(ctx context.Context, msg *InboundMessage) error {
	live, err := c.probe.IsLive(ctx)
	if err != nil {
		c.transport.Say(msg.Channel, "Stream was NOT successfully clipped.")
		return fmt.Errorf("clip live probe: %w", err)
	}
	if !live {
		c.transport.Say(msg.Channel, "Cannot create clip for an offline stream.")
		return nil
	}
	clipURL, err := c.creator.CreateClip(ctx, c.broadcasterID)
	if err != nil {
		c.transport.Say(msg.Channel, "Stream was NOT successfully clipped.")
		return fmt.Errorf("create clip: %w", err)
	}
	c.mu.Lock()
	c.recent[strings.ToLower(msg.Username)] = clipRecord{url: clipURL, at: c.now()}
	c.mu.Unlock()
	c.transport.Say(msg.Channel, "Clip created successfully "+clipURL)
	if c.advanced {
		c.transport.Say(msg.Channel, fmt.Sprintf("@%s you can submit this clip to %s for consideration by typing \"!clip submit\" in chat.",
			msg.DisplayName, c.siteName()))
	}
	return nil
}

func (c *ClipCommand) submitClip(ctx context.Context, msg *InboundMessage) error {
	key := strings.ToLower(msg.Username)

	c.mu.Lock()
	rec, ok := c.recent[key]
	if !ok && msg.IsMod {
		// Moderators may push the newest clip anyone created.
		for owner, candidate := range c.recent {
			if candidate.at.After(rec.at) {
				rec, ok = candidate, true
				key = owner
			}
		}
	}
	c.mu.Unlock()

	if !ok {
		c.transport.Say(msg.Channel, fmt.Sprintf("Sorry %s, there are currently no clips you can submit to %s, please use !clip and then try again.",
			msg.DisplayName, c.siteName()))
		return nil
	}
	if err := c.submitter.Submit(ctx, rec.url, c.channelName); err != nil {
		c.transport.Say(msg.Channel, fmt.Sprintf("An error occurred submitting your clip to %s, please try again.", c.siteName()))
		return fmt.Errorf("submit clip: %w", err)
	}
	c.mu.Lock()
	delete(c.recent, key)
	c.mu.Unlock()
	c.transport.Say(msg.Channel, fmt.Sprintf("%s, your clip has been successfully submitted to %s!", msg.DisplayName, c.siteName()))
	return nil
}

func (c *ClipCommand) siteName() string {
	if c.opts.SubmitSiteName != "" {
		return c.opts.SubmitSiteName
	}
	return "the clip showcase"
}
