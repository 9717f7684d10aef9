package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/streamforge/botfleet/settings"
)

type fakeGenerator struct {
	answer    string
	err       error
	questions []string
}

func (f *fakeGenerator) Answer(ctx context.Context, question string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.questions = append(f.questions, question)
	return f.answer, nil
}

func newAMAForTest(t *testing.T, gen *fakeGenerator, opts settings.AskMeAnythingOptions) (*AskMeAnythingCommand, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	cmd, err := NewAskMeAnythingCommand(testFeature(t, settings.KindAskMeAnything, opts), gen, transport, "testchannel", nil)
	if err != nil {
		t.Fatalf("NewAskMeAnythingCommand: %v", err)
	}
	return cmd, transport
}

func TestAskRepliesWithAnswer(t *testing.T) {
	gen := &fakeGenerator{answer: "42, obviously."}
	cmd, transport := newAMAForTest(t, gen, settings.AskMeAnythingOptions{})

	handled, err := cmd.ProcessMessage(context.Background(), chatMessage("alice", "!ask what is the meaning of life?"))
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !handled {
		t.Error("!ask should be handled")
	}
	if len(gen.questions) != 1 || gen.questions[0] != "what is the meaning of life?" {
		t.Errorf("questions = %v", gen.questions)
	}
	replies := transport.allReplies()
	if len(replies) != 1 || replies[0] != "42, obviously." {
		t.Errorf("replies = %v", replies)
	}
}

func TestAskGeneratorFailure(t *testing.T) {
	cmd, transport := newAMAForTest(t, &fakeGenerator{err: errors.New("model unavailable")}, settings.AskMeAnythingOptions{})

	handled, err := cmd.ProcessMessage(context.Background(), chatMessage("alice", "!ask anything"))
	if !handled || err == nil {
		t.Fatal("generator failure should be handled and surface the error")
	}
	replies := transport.allReplies()
	if len(replies) != 1 || !strings.Contains(replies[0], "no answer") {
		t.Errorf("replies = %v", replies)
	}
}

func TestFirstTimeChatterGreeting(t *testing.T) {
	gen := &fakeGenerator{answer: "Welcome in, Alice!"}
	cmd, transport := newAMAForTest(t, gen, settings.AskMeAnythingOptions{ReactToFirstTimeChatters: true})

	msg := chatMessage("alice", "hi everyone")
	msg.IsFirstMessage = true
	handled, err := cmd.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if !handled {
		t.Error("first-time greeting should be handled")
	}
	if len(transport.allReplies()) != 1 {
		t.Errorf("replies = %v", transport.allReplies())
	}
	if len(gen.questions) != 1 || !strings.Contains(gen.questions[0], "Alice") {
		t.Errorf("questions = %v", gen.questions)
	}
}

func TestFirstTimeChatterGreetingDisabled(t *testing.T) {
	cmd, transport := newAMAForTest(t, &fakeGenerator{answer: "hi"}, settings.AskMeAnythingOptions{})

	msg := chatMessage("alice", "hi everyone")
	msg.IsFirstMessage = true
	handled, err := cmd.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if handled || len(transport.allReplies()) != 0 {
		t.Error("greeting is off by default")
	}
}

func TestFollowThankYou(t *testing.T) {
	gen := &fakeGenerator{answer: "Thanks for the follow!"}
	cmd, transport := newAMAForTest(t, gen, settings.AskMeAnythingOptions{ReactToFollows: true})

	cmd.HandleFollow(context.Background(), "newfan", "uid-7")

	says := transport.allSays()
	if len(says) != 1 || says[0] != "Thanks for the follow!" {
		t.Errorf("says = %v", says)
	}
}

func TestFollowIgnoredWhenDisabled(t *testing.T) {
	cmd, transport := newAMAForTest(t, &fakeGenerator{answer: "hi"}, settings.AskMeAnythingOptions{})
	cmd.HandleFollow(context.Background(), "newfan", "uid-7")
	if len(transport.allSays()) != 0 {
		t.Error("follow reactions are off by default")
	}
}

func TestAskRequiresGeneratorOrURL(t *testing.T) {
	feature := testFeature(t, settings.KindAskMeAnything, settings.AskMeAnythingOptions{})
	if _, err := NewAskMeAnythingCommand(feature, nil, &fakeTransport{}, "testchannel", nil); err == nil {
		t.Fatal("expected construction error without a generator")
	}
}
