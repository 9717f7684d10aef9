package bot

import (
	"context"
	"testing"
	"time"

	"github.com/streamforge/botfleet/settings"
)

func newTenantBotForTest(t *testing.T, ts *settings.TenantSettings) (*TenantBot, *transportScript) {
	t.Helper()
	script := &transportScript{}
	b, err := NewTenantBot(ts, SupervisorConfig{
		Transport:  script.factory,
		OAuthToken: "token",
		Backoff:    5 * time.Millisecond,
	}, CommandDeps{Generator: &fakeGenerator{answer: "ok"}}, nil)
	if err != nil {
		t.Fatalf("NewTenantBot: %v", err)
	}
	return b, script
}

func TestTenantBotFansMessagesOutToAllPipelines(t *testing.T) {
	first := testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "links", Output: "out-one"})
	first.ID = "cmd-one"
	second := testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "links", Output: "out-two"})
	second.ID = "cmd-two"
	b, _ := newTenantBotForTest(t, tenantForTest(first, second))

	// Commands speak through the supervised handle; give it a connection.
	sink := &fakeTransport{}
	b.sup.routed.swap(sink, "testchannel")

	b.dispatch(*chatMessage("alice", "!links"))

	eventually(t, func() bool {
		return sink.saidContaining("out-one") && sink.saidContaining("out-two")
	}, "both pipelines should answer the shared trigger")
}

func TestTenantBotFollowFanOut(t *testing.T) {
	ama := testFeature(t, settings.KindAskMeAnything, settings.AskMeAnythingOptions{ReactToFollows: true})
	b, _ := newTenantBotForTest(t, tenantForTest(ama))

	sink := &fakeTransport{}
	b.sup.routed.swap(sink, "testchannel")

	b.dispatchFollow(context.Background(), "newfan", "uid-1")
	eventually(t, func() bool { return sink.saidContaining("ok") }, "follow never reached the command")
}

func TestTenantBotReloadCommands(t *testing.T) {
	first := testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "links", Output: "out-one"})
	b, _ := newTenantBotForTest(t, tenantForTest(first))

	next := tenantForTest(
		testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "links", Output: "patched"}),
		testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "socials", Output: "socials-out"}),
	)
	next.Features[1].ID = "second"
	b.ReloadCommands(next)

	if got := b.Settings(); got != next {
		t.Error("Settings() should reflect the reloaded configuration")
	}
	b.mu.RLock()
	count := len(b.pipelines)
	b.mu.RUnlock()
	if count != 2 {
		t.Errorf("pipelines = %d, want 2", count)
	}

	sink := &fakeTransport{}
	b.sup.routed.swap(sink, "testchannel")
	b.dispatch(*chatMessage("alice", "!links"))
	eventually(t, func() bool { return sink.saidContaining("patched") }, "reloaded command did not take over")
	if sink.saidContaining("out-one") {
		t.Error("stale pipeline still answering after reload")
	}
}

func TestTenantBotRunAndShutdown(t *testing.T) {
	b, script := newTenantBotForTest(t, tenantForTest(
		testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "hi", Output: "hello"})))

	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(context.Background()) }()
	eventually(t, func() bool { return script.attempts() == 1 }, "bot never connected")

	b.Shutdown()
	b.Shutdown() // idempotent

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v after shutdown, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after shutdown")
	}
	select {
	case <-b.Done():
	default:
		t.Error("Done() should be closed after Run returns")
	}
}
