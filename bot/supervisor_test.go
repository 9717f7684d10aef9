package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// scriptedTransport either fails Connect with a canned error or blocks
// until Disconnect.
type scriptedTransport struct {
	fakeTransport
	connectErr error
	release    chan struct{}
	closeOnce  sync.Once
}

func newScriptedTransport(connectErr error) *scriptedTransport {
	return &scriptedTransport{connectErr: connectErr, release: make(chan struct{})}
}

func (s *scriptedTransport) Connect() error {
	if s.connectErr != nil {
		return s.connectErr
	}
	<-s.release
	return errors.New("connection closed")
}

func (s *scriptedTransport) Disconnect() error {
	s.closeOnce.Do(func() { close(s.release) })
	return nil
}

// transportScript hands out scripted transports in order, recording the
// token used for each connection attempt. Attempts beyond the script block
// until disconnected.
type transportScript struct {
	mu         sync.Mutex
	errs       []error
	tokens     []string
	transports []*scriptedTransport
}

func (s *transportScript) factory(token string) ChatTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if len(s.transports) < len(s.errs) {
		err = s.errs[len(s.transports)]
	}
	tr := newScriptedTransport(err)
	s.tokens = append(s.tokens, token)
	s.transports = append(s.transports, tr)
	return tr
}

func (s *transportScript) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transports)
}

func (s *transportScript) tokenAt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.tokens) {
		return ""
	}
	return s.tokens[i]
}

type fakeRefresher struct {
	mu      sync.Mutex
	access  string
	refresh string
	err     error
	seen    []string
}

func (f *fakeRefresher) RefreshUserToken(ctx context.Context, refreshToken string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, refreshToken)
	return f.access, f.refresh, f.err
}

func TestSupervisorRefreshesTokenOnLoginRejection(t *testing.T) {
	script := &transportScript{errs: []error{ErrLoginFailed}}
	refresher := &fakeRefresher{access: "fresh-token", refresh: "fresh-refresh"}

	var persistMu sync.Mutex
	var persisted []string
	sup, err := NewSupervisor(SupervisorConfig{
		Channel:      "testchannel",
		Transport:    script.factory,
		OAuthToken:   "stale-token",
		RefreshToken: "stale-refresh",
		Refresher:    refresher,
		PersistTokens: func(ctx context.Context, access, refresh string) error {
			persistMu.Lock()
			defer persistMu.Unlock()
			persisted = append(persisted, access, refresh)
			return nil
		},
		Backoff: time.Hour, // a refresh must not wait this out
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	eventually(t, func() bool { return script.attempts() >= 2 }, "no rebuild after login rejection")
	if got := script.tokenAt(0); got != "stale-token" {
		t.Errorf("first attempt token = %q", got)
	}
	if got := script.tokenAt(1); got != "fresh-token" {
		t.Errorf("second attempt token = %q, want the refreshed one", got)
	}
	refresher.mu.Lock()
	seen := append([]string(nil), refresher.seen...)
	refresher.mu.Unlock()
	if len(seen) != 1 || seen[0] != "stale-refresh" {
		t.Errorf("refresh calls = %v", seen)
	}
	persistMu.Lock()
	defer persistMu.Unlock()
	if len(persisted) != 2 || persisted[0] != "fresh-token" || persisted[1] != "fresh-refresh" {
		t.Errorf("persisted = %v", persisted)
	}
}

func TestSupervisorBacksOffAfterDisconnect(t *testing.T) {
	script := &transportScript{errs: []error{errors.New("read: connection reset")}}
	sup, err := NewSupervisor(SupervisorConfig{
		Channel:    "testchannel",
		Transport:  script.factory,
		OAuthToken: "token",
		Backoff:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	eventually(t, func() bool { return script.attempts() >= 2 }, "no reconnect after disconnect")
	if got := script.tokenAt(1); got != "token" {
		t.Errorf("reconnect token = %q, want unchanged", got)
	}
}

func TestSupervisorLoginRejectionWithoutRefreshTokenBacksOff(t *testing.T) {
	script := &transportScript{errs: []error{ErrLoginFailed}}
	sup, err := NewSupervisor(SupervisorConfig{
		Channel:    "testchannel",
		Transport:  script.factory,
		OAuthToken: "token",
		Backoff:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()

	eventually(t, func() bool { return script.attempts() >= 2 }, "no retry after login rejection")
}

func TestSupervisorSingleFlight(t *testing.T) {
	script := &transportScript{}
	sup, err := NewSupervisor(SupervisorConfig{
		Channel:    "testchannel",
		Transport:  script.factory,
		OAuthToken: "token",
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sup.Run(ctx) }()
	eventually(t, func() bool { return script.attempts() == 1 }, "first Run never connected")

	if err := sup.Run(ctx); err == nil {
		t.Fatal("second Run should refuse to start")
	}
}

func TestSupervisorStopsOnContextCancel(t *testing.T) {
	script := &transportScript{}
	sup, err := NewSupervisor(SupervisorConfig{
		Channel:    "testchannel",
		Transport:  script.factory,
		OAuthToken: "token",
	})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	eventually(t, func() bool { return script.attempts() == 1 }, "never connected")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRoutedTransportReplaysHandlers(t *testing.T) {
	routed := &routedTransport{}

	var got []InboundMessage
	routed.OnMessage(func(msg InboundMessage) { got = append(got, msg) })

	inner := &fakeTransport{}
	routed.swap(inner, "testchannel")

	if inner.onMessage == nil {
		t.Fatal("message handler not replayed onto the new connection")
	}
	inner.onMessage(InboundMessage{Text: "hello"})
	if len(got) != 1 || got[0].Text != "hello" {
		t.Errorf("got = %v", got)
	}

	// Connecting joins the channel.
	if inner.onConnect == nil {
		t.Fatal("connect handler not installed")
	}
	inner.onConnect()
	inner.mu.Lock()
	joins := append([]string(nil), inner.joins...)
	inner.mu.Unlock()
	if len(joins) != 1 || joins[0] != "testchannel" {
		t.Errorf("joins = %v", joins)
	}
}

func TestRoutedTransportSurvivesSwap(t *testing.T) {
	routed := &routedTransport{}
	var count int
	routed.OnMessage(func(InboundMessage) { count++ })

	first := &fakeTransport{}
	routed.swap(first, "testchannel")
	second := &fakeTransport{}
	routed.swap(second, "testchannel")

	second.onMessage(InboundMessage{})
	if count != 1 {
		t.Errorf("count = %d, handler lost across swap", count)
	}

	routed.Say("testchannel", "hi")
	if len(second.allSays()) != 1 {
		t.Error("Say did not reach the current connection")
	}
	if len(first.allSays()) != 0 {
		t.Error("Say reached a stale connection")
	}
}
