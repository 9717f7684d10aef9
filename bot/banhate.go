package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/streamforge/botfleet/settings"
)

// BanHateCommand bans configured username patterns on sight, whether they
// chat or follow, and bans first-time chatters opening with known spam
// phrases. It never replies in chat; the ban itself is the response.
type BanHateCommand struct {
	feature   settings.FeatureConfig
	opts      settings.BanHateOptions
	transport ChatTransport
	logger    *slog.Logger
}

func NewBanHateCommand(feature settings.FeatureConfig, transport ChatTransport, logger *slog.Logger) (*BanHateCommand, error) {
	opts := settings.DefaultBanHateOptions()
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BanHateCommand{feature: feature, opts: opts, transport: transport, logger: logger}, nil
}

func (b *BanHateCommand) Feature() settings.FeatureConfig { return b.feature }

func (b *BanHateCommand) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	if b.matchesBannedName(msg.Username) {
		if err := b.transport.Ban(ctx, msg.UserID, msg.Username, b.opts.BanReason); err != nil {
			return false, fmt.Errorf("ban %s: %w", msg.Username, err)
		}
		b.logger.Info("banned user by name pattern", slog.String("user", msg.Username))
		return true, nil
	}
	if msg.IsFirstMessage && b.matchesSpam(msg.Text) {
		if err := b.transport.Ban(ctx, msg.UserID, msg.Username, b.opts.SpamReason); err != nil {
			return false, fmt.Errorf("ban %s: %w", msg.Username, err)
		}
		b.logger.Info("banned first-time chatter for spam", slog.String("user", msg.Username))
		return true, nil
	}
	return false, nil
}

// HandleFollow bans matching usernames the moment they follow.
func (b *BanHateCommand) HandleFollow(ctx context.Context, username, userID string) {
	if !b.matchesBannedName(username) {
		return
	}
	if err := b.transport.Ban(ctx, userID, username, b.opts.BanReason); err != nil {
		b.logger.Error("ban on follow failed", slog.String("user", username), slog.Any("err", err))
		return
	}
	b.logger.Info("banned follower by name pattern", slog.String("user", username))
}

func (b *BanHateCommand) matchesBannedName(username string) bool {
	lower := strings.ToLower(username)
	for _, fragment := range b.opts.BannedUsernameFragments {
		if fragment != "" && strings.Contains(lower, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

func (b *BanHateCommand) matchesSpam(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range b.opts.SpamPhrases {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
