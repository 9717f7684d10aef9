package bot

import (
	"context"
	"testing"

	"github.com/streamforge/botfleet/settings"
)

func newGenericForTest(t *testing.T, opts settings.GenericOptions) (*GenericCommand, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	cmd, err := NewGenericCommand(testFeature(t, settings.KindGeneric, opts), transport)
	if err != nil {
		t.Fatalf("NewGenericCommand: %v", err)
	}
	return cmd, transport
}

func TestGenericCommandTriggers(t *testing.T) {
	opts := settings.GenericOptions{
		TriggerWord:            "discord",
		AdditionalTriggerWords: []string{"dc"},
		TriggerRegexes:         []string{`what('s| is|s) the discord`},
		Output:                 "Join us at example.chat/invite",
	}

	cases := []struct {
		name string
		text string
		want bool
	}{
		{"exact word", "!discord", true},
		{"word with args", "!discord please", true},
		{"mixed case", "!DiScOrD", true},
		{"alias", "!dc", true},
		{"regex", "hey whats the discord link?", true},
		{"regex case insensitive", "WHAT IS THE DISCORD", true},
		{"prefix of word", "!disc", false},
		{"word inside sentence", "I love discord", false},
		{"unrelated", "!uptime", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, transport := newGenericForTest(t, opts)
			handled, err := cmd.ProcessMessage(context.Background(), chatMessage("alice", tc.text))
			if err != nil {
				t.Fatalf("ProcessMessage: %v", err)
			}
			if handled != tc.want {
				t.Errorf("handled = %v, want %v", handled, tc.want)
			}
			if tc.want && !transport.saidContaining(opts.Output) {
				t.Error("matched trigger did not produce the output")
			}
		})
	}
}

func TestGenericCommandRespondsOncePerMessage(t *testing.T) {
	cmd, transport := newGenericForTest(t, settings.GenericOptions{
		TriggerWord:            "socials",
		AdditionalTriggerWords: []string{"socials"},
		Output:                 "all the links",
	})
	if _, err := cmd.ProcessMessage(context.Background(), chatMessage("alice", "!socials")); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if got := len(transport.allSays()); got != 1 {
		t.Errorf("says = %d, want 1", got)
	}
}

func TestGenericCommandRejectsBadRegex(t *testing.T) {
	transport := &fakeTransport{}
	feature := testFeature(t, settings.KindGeneric, settings.GenericOptions{
		TriggerRegexes: []string{"([unclosed"},
		Output:         "never",
	})
	if _, err := NewGenericCommand(feature, transport); err == nil {
		t.Fatal("expected construction error for malformed regex")
	}
}
