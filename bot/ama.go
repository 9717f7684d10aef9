package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/streamforge/botfleet/settings"
)

// AnswerGenerator is the text-generation boundary for the ask-me-anything
// command.
type AnswerGenerator interface {
	Answer(ctx context.Context, question string) (string, error)
}

// HTTPAnswerGenerator posts questions to the answer service.
type HTTPAnswerGenerator struct {
	BaseURL    string
	Prompt     string
	HTTPClient *http.Client
}

func (g *HTTPAnswerGenerator) Answer(ctx context.Context, question string) (string, error) {
	payload, err := json.Marshal(map[string]string{"question": question, "prompt": g.Prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/answer", strings.NewReader(string(payload)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("answer: unexpected status %s", resp.Status)
	}
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("answer: decode: %w", err)
	}
	return body.Answer, nil
}

var askRe = regexp.MustCompile(`^!ask (.+)$`)

// AskMeAnythingCommand forwards !ask questions to the answer service and
// optionally greets first-time chatters and new followers.
type AskMeAnythingCommand struct {
	feature   settings.FeatureConfig
	opts      settings.AskMeAnythingOptions
	generator AnswerGenerator
	transport ChatTransport
	channel   string
	logger    *slog.Logger
}

func NewAskMeAnythingCommand(feature settings.FeatureConfig, generator AnswerGenerator, transport ChatTransport, channel string, logger *slog.Logger) (*AskMeAnythingCommand, error) {
	var opts settings.AskMeAnythingOptions
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if generator == nil && opts.AnswerBaseURL != "" {
		generator = &HTTPAnswerGenerator{BaseURL: opts.AnswerBaseURL, Prompt: opts.AdditionalPrompt}
	}
	if generator == nil {
		return nil, fmt.Errorf("ask-me-anything feature %s has no answer_base_url", feature.ID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AskMeAnythingCommand{feature: feature, opts: opts, generator: generator, transport: transport, channel: channel, logger: logger}, nil
}

func (a *AskMeAnythingCommand) Feature() settings.FeatureConfig { return a.feature }

func (a *AskMeAnythingCommand) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	text := strings.TrimSpace(msg.Text)
	if m := askRe.FindStringSubmatch(text); m != nil {
		answer, err := a.generator.Answer(ctx, m[1])
		if err != nil {
			a.transport.Reply(msg.Channel, msg.MessageID, "I have no answer for that right now, sorry.")
			return true, fmt.Errorf("ask: %w", err)
		}
		a.transport.Reply(msg.Channel, msg.MessageID, answer)
		return true, nil
	}
	if msg.IsFirstMessage && a.opts.ReactToFirstTimeChatters {
		greeting, err := a.generator.Answer(ctx,
			fmt.Sprintf("Give a short, friendly welcome to %s, who just chatted for the first time. They said: %s", msg.DisplayName, text))
		if err != nil {
			return false, fmt.Errorf("welcome first-time chatter: %w", err)
		}
		a.transport.Reply(msg.Channel, msg.MessageID, greeting)
		return true, nil
	}
	return false, nil
}

// HandleFollow greets new followers when configured to.
func (a *AskMeAnythingCommand) HandleFollow(ctx context.Context, username, userID string) {
	if !a.opts.ReactToFollows {
		return
	}
	greeting, err := a.generator.Answer(ctx, fmt.Sprintf("Give a short, friendly thank-you to %s for following the channel.", username))
	if err != nil {
		a.logger.Error("follow greeting failed", slog.String("user", username), slog.Any("err", err))
		return
	}
	a.transport.Say(a.channel, greeting)
}
