package bot

import (
	"context"
	"encoding/json"
	"log/slog"

	eventsub "github.com/joeyak/go-twitch-eventsub/v3"
)

// FollowFeed is the behavioral contract for the event-subscription side of a
// tenant's connections. Listen blocks until the underlying connection ends
// or ctx is cancelled, invoking onFollow once per new follower.
type FollowFeed interface {
	Listen(ctx context.Context, onFollow func(username, userID string)) error
}

// EventSubFeed subscribes to channel.follow over a Twitch EventSub
// websocket session.
type EventSubFeed struct {
	clientID      string
	accessToken   string
	broadcasterID string
	moderatorID   string
	logger        *slog.Logger
}

// NewEventSubFeed creates a follow feed for one broadcaster. moderatorID is
// the bot's own user id; channel.follow requires a moderator condition.
func NewEventSubFeed(clientID, accessToken, broadcasterID, moderatorID string, logger *slog.Logger) *EventSubFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSubFeed{
		clientID:      clientID,
		accessToken:   accessToken,
		broadcasterID: broadcasterID,
		moderatorID:   moderatorID,
		logger:        logger,
	}
}

// Listen connects the websocket, subscribes on welcome and dispatches
// follow notifications. A failed subscription is logged and leaves the
// session connected; the tenant simply sees no follow events.
func (f *EventSubFeed) Listen(ctx context.Context, onFollow func(username, userID string)) error {
	client := eventsub.NewClient()

	client.OnWelcome(func(msg eventsub.WelcomeMessage) {
		_, err := eventsub.SubscribeEvent(eventsub.SubscribeRequest{
			SessionID:   msg.Payload.Session.ID,
			ClientID:    f.clientID,
			AccessToken: f.accessToken,
			Event:       eventsub.SubChannelFollow,
			Condition: map[string]string{
				"broadcaster_user_id": f.broadcasterID,
				"moderator_user_id":   f.moderatorID,
			},
		})
		if err != nil {
			f.logger.Error("follow subscription failed",
				slog.String("broadcaster_id", f.broadcasterID), slog.Any("err", err))
			return
		}
		f.logger.Info("subscribed to follow events", slog.String("broadcaster_id", f.broadcasterID))
	})

	client.OnNotification(func(msg eventsub.NotificationMessage) {
		if msg.Payload.Subscription.Type != eventsub.SubChannelFollow {
			return
		}
		var evt eventsub.EventChannelFollow
		if err := json.Unmarshal(*msg.Payload.Event, &evt); err != nil {
			f.logger.Error("failed to parse follow event", slog.Any("err", err))
			return
		}
		onFollow(evt.User.UserLogin, evt.User.UserID)
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close()
		case <-done:
		}
	}()
	return client.Connect()
}
