package bot

import (
	"context"
	"testing"

	"github.com/streamforge/botfleet/settings"
)

func tenantForTest(features ...settings.FeatureConfig) *settings.TenantSettings {
	return &settings.TenantSettings{
		TenantID:      "tenant-1",
		DisplayName:   "Test Tenant",
		ChannelName:   "testchannel",
		BroadcasterID: "b123",
		IsActive:      true,
		Features:      features,
	}
}

func TestBuildCommandsOnePipelinePerFeature(t *testing.T) {
	ts := tenantForTest(
		testFeature(t, settings.KindBanHate, nil),
		testFeature(t, settings.KindHeist, nil),
		testFeature(t, settings.KindClip, nil),
		testFeature(t, settings.KindSongRequest, settings.SongRequestOptions{PlayerBaseURL: "https://player.example.com"}),
		testFeature(t, settings.KindAskMeAnything, nil),
		testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "hi", Output: "hello"}),
	)
	deps := CommandDeps{
		Transport: &fakeTransport{},
		Clips:     &fakeClipCreator{urls: []string{"x"}},
		Ledger:    newFakeLedger(),
		Generator: &fakeGenerator{answer: "ok"},
	}

	pipelines := BuildCommands(ts, deps)
	if len(pipelines) != len(ts.Features) {
		t.Fatalf("pipelines = %d, want %d", len(pipelines), len(ts.Features))
	}
	for i, p := range pipelines {
		if p.Feature().ID != ts.Features[i].ID {
			t.Errorf("pipeline %d serves %s, want %s", i, p.Feature().ID, ts.Features[i].ID)
		}
	}
}

func TestBuildCommandsIsolatesBrokenFeature(t *testing.T) {
	bad := testFeature(t, settings.KindGeneric, settings.GenericOptions{
		TriggerRegexes: []string{"([unclosed"},
		Output:         "never",
	})
	bad.ID = "bad-regex"
	good := testFeature(t, settings.KindGeneric, settings.GenericOptions{TriggerWord: "hi", Output: "hello"})

	pipelines := BuildCommands(tenantForTest(bad, good), CommandDeps{Transport: &fakeTransport{}})
	if len(pipelines) != 1 {
		t.Fatalf("pipelines = %d, want the broken feature skipped", len(pipelines))
	}
	if pipelines[0].Feature().ID != good.ID {
		t.Errorf("surviving pipeline = %s", pipelines[0].Feature().ID)
	}
}

func TestBuildCommandsHeistNeedsLedgerCredentials(t *testing.T) {
	ts := tenantForTest(testFeature(t, settings.KindHeist, nil))

	if got := len(BuildCommands(ts, CommandDeps{Transport: &fakeTransport{}})); got != 0 {
		t.Errorf("pipelines = %d, heist without ledger credentials should be skipped", got)
	}

	ts.LedgerChannelID = "chan123"
	ts.LedgerJWT = "jwt"
	if got := len(BuildCommands(ts, CommandDeps{Transport: &fakeTransport{}, LedgerBaseURL: "https://ledger.example.com"})); got != 1 {
		t.Errorf("pipelines = %d, tenant credentials should build the ledger client", got)
	}
}

func TestBuildCommandsClipNeedsCreator(t *testing.T) {
	ts := tenantForTest(testFeature(t, settings.KindClip, nil))
	if got := len(BuildCommands(ts, CommandDeps{Transport: &fakeTransport{}})); got != 0 {
		t.Errorf("pipelines = %d, clip without an API client should be skipped", got)
	}
}

func TestBuildCommandsUnknownKindFallsBackToGeneric(t *testing.T) {
	feature := testFeature(t, settings.FeatureKind("coinflip"), settings.GenericOptions{
		TriggerWord: "coinflip",
		Output:      "Heads!",
	})
	ts := tenantForTest(feature)
	transport := &fakeTransport{}

	pipelines := BuildCommands(ts, CommandDeps{Transport: transport})
	if len(pipelines) != 1 {
		t.Fatalf("pipelines = %d, want 1 (generic fallback)", len(pipelines))
	}
	pipelines[0].Handle(context.Background(), chatMessage("alice", "!coinflip"))
	if !transport.saidContaining("Heads!") {
		t.Error("fallback command did not reply with the configured output")
	}
}
