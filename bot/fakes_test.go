package bot

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamforge/botfleet/ledger"
	"github.com/streamforge/botfleet/settings"
)

// fakeTransport records outbound traffic for assertions.
type fakeTransport struct {
	mu      sync.Mutex
	says    []string
	replies []string
	joins   []string
	bans    []string
	banErr  error

	onMessage func(InboundMessage)
	onConnect func()
	onJoined  func(string)
}

func (f *fakeTransport) Connect() error    { return nil }
func (f *fakeTransport) Disconnect() error { return nil }

func (f *fakeTransport) Join(channel string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, channel)
}

func (f *fakeTransport) Say(channel, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, text)
}

func (f *fakeTransport) Reply(channel, parentMessageID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
}

func (f *fakeTransport) Ban(ctx context.Context, userID, username, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.banErr != nil {
		return f.banErr
	}
	f.bans = append(f.bans, username)
	return nil
}

func (f *fakeTransport) OnMessage(handler func(InboundMessage)) { f.onMessage = handler }
func (f *fakeTransport) OnConnect(handler func())               { f.onConnect = handler }
func (f *fakeTransport) OnJoined(handler func(string))          { f.onJoined = handler }

func (f *fakeTransport) allSays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.says...)
}

func (f *fakeTransport) allReplies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func (f *fakeTransport) allBans() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bans...)
}

func (f *fakeTransport) saidContaining(substr string) bool {
	for _, s := range f.allSays() {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

type adjustment struct {
	username string
	delta    int64
}

// fakeLedger is an in-memory points store.
type fakeLedger struct {
	mu          sync.Mutex
	balances    map[string]int64
	adjustments []adjustment
	getErr      error
	adjustErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (f *fakeLedger) GetUser(ctx context.Context, username string) (*ledger.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	key := strings.ToLower(username)
	return &ledger.User{Username: key, DisplayName: username, Points: f.balances[key]}, nil
}

func (f *fakeLedger) AdjustPoints(ctx context.Context, username string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.adjustErr != nil {
		return f.adjustErr
	}
	key := strings.ToLower(username)
	f.balances[key] += delta
	f.adjustments = append(f.adjustments, adjustment{username: key, delta: delta})
	return nil
}

func (f *fakeLedger) allAdjustments() []adjustment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adjustment(nil), f.adjustments...)
}

func (f *fakeLedger) balance(username string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[strings.ToLower(username)]
}

func chatMessage(username, text string) *InboundMessage {
	return &InboundMessage{
		Channel:     "testchannel",
		UserID:      "uid-" + username,
		Username:    username,
		DisplayName: strings.ToUpper(username[:1]) + username[1:],
		Text:        text,
		MessageID:   "msg-1",
	}
}

func testFeature(t *testing.T, kind settings.FeatureKind, options any) settings.FeatureConfig {
	t.Helper()
	f := settings.FeatureConfig{
		ID:           "feat-" + string(kind),
		Kind:         kind,
		Enabled:      true,
		Permission:   settings.PermissionEveryone,
		Availability: settings.AvailabilityBoth,
	}
	if options != nil {
		raw, err := json.Marshal(options)
		if err != nil {
			t.Fatalf("marshal options: %v", err)
		}
		f.Options = raw
	}
	return f
}

// eventually polls until cond holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
