package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/streamforge/botfleet/twitchapi"
)

var (
	// ErrLoginFailed is returned by Connect when the chat service rejects
	// the bot's credentials. The supervisor reacts with a token refresh.
	ErrLoginFailed = errors.New("chat login failed")

	// ErrBadChannelState marks the transient transport fault where the
	// client believes it initialized but never joined the channel. The
	// pipeline reacts with a rejoin instead of logging an error.
	ErrBadChannelState = errors.New("channel in inconsistent join state")
)

// ChatTransport is the behavioral contract the command runtime needs from a
// chat connection. Connect blocks until the connection ends and returns
// ErrLoginFailed (possibly wrapped) on credential rejection. Handlers must
// be registered before Connect.
type ChatTransport interface {
	Connect() error
	Disconnect() error
	Join(channel string)
	Say(channel, text string)
	Reply(channel, parentMessageID, text string)
	Ban(ctx context.Context, userID, username, reason string) error
	OnMessage(handler func(InboundMessage))
	OnConnect(handler func())
	OnJoined(handler func(channel string))
}

// TwitchTransport adapts a go-twitch-irc client to ChatTransport. Bans go
// through the Helix moderation API since the IRC ban command is gone.
type TwitchTransport struct {
	client        *twitch.Client
	api           *twitchapi.Client
	broadcasterID string
	botUserID     string
}

// NewTwitchTransport creates a transport chatting as username. The token is
// normalized to the oauth: prefix the IRC server expects. api, together
// with the broadcaster and bot user ids, backs the Ban operation and may be
// nil for tenants without ban-capable features.
func NewTwitchTransport(username, oauthToken string, api *twitchapi.Client, broadcasterID, botUserID string) *TwitchTransport {
	token := oauthToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return &TwitchTransport{
		client:        twitch.NewClient(username, token),
		api:           api,
		broadcasterID: broadcasterID,
		botUserID:     botUserID,
	}
}

// Connect blocks until the connection closes.
func (t *TwitchTransport) Connect() error {
	err := t.client.Connect()
	if err != nil && errors.Is(err, twitch.ErrLoginAuthenticationFailed) {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return err
}

func (t *TwitchTransport) Disconnect() error {
	return t.client.Disconnect()
}

func (t *TwitchTransport) Join(channel string) {
	t.client.Join(strings.ToLower(channel))
}

func (t *TwitchTransport) Say(channel, text string) {
	t.client.Say(strings.ToLower(channel), text)
}

func (t *TwitchTransport) Reply(channel, parentMessageID, text string) {
	t.client.Reply(strings.ToLower(channel), parentMessageID, text)
}

// Ban removes a user via the Helix moderation API.
func (t *TwitchTransport) Ban(ctx context.Context, userID, username, reason string) error {
	if t.api == nil {
		return fmt.Errorf("ban %s: no api client configured", username)
	}
	return t.api.BanUser(ctx, t.broadcasterID, t.botUserID, userID, reason)
}

func (t *TwitchTransport) OnMessage(handler func(InboundMessage)) {
	t.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		handler(inboundFromPrivate(msg))
	})
}

func (t *TwitchTransport) OnConnect(handler func()) {
	t.client.OnConnect(handler)
}

func (t *TwitchTransport) OnJoined(handler func(channel string)) {
	t.client.OnUserJoinMessage(func(msg twitch.UserJoinMessage) {
		handler(msg.Channel)
	})
}

func inboundFromPrivate(msg twitch.PrivateMessage) InboundMessage {
	_, isBroadcaster := msg.User.Badges["broadcaster"]
	_, isMod := msg.User.Badges["moderator"]
	_, isVip := msg.User.Badges["vip"]
	_, isSub := msg.User.Badges["subscriber"]
	return InboundMessage{
		Channel:        msg.Channel,
		UserID:         msg.User.ID,
		Username:       msg.User.Name,
		DisplayName:    msg.User.DisplayName,
		Text:           msg.Message,
		MessageID:      msg.ID,
		IsSubscriber:   isSub,
		IsVip:          isVip,
		IsMod:          isMod,
		IsBroadcaster:  isBroadcaster,
		IsFirstMessage: msg.Tags["first-msg"] == "1",
	}
}
