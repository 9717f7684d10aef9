package bot

// InboundMessage is one chat event, immutable once constructed. Role flags
// reflect the sender's badges at send time.
type InboundMessage struct {
	Channel     string
	UserID      string
	Username    string
	DisplayName string
	Text        string
	MessageID   string

	IsSubscriber   bool
	IsVip          bool
	IsMod          bool
	IsBroadcaster  bool
	IsFirstMessage bool
}
