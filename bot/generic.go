package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/streamforge/botfleet/settings"
)

// GenericCommand is the fallback for feature kinds without a dedicated
// implementation: it matches literal trigger words or configured regular
// expressions and replies with a fixed message. The first matching trigger
// wins; further checks are skipped.
type GenericCommand struct {
	feature   settings.FeatureConfig
	opts      settings.GenericOptions
	regexes   []*regexp.Regexp
	transport ChatTransport
}

// NewGenericCommand compiles the trigger set. A malformed regex fails
// construction so the registry can isolate the bad feature.
func NewGenericCommand(feature settings.FeatureConfig, transport ChatTransport) (*GenericCommand, error) {
	var opts settings.GenericOptions
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	regexes := make([]*regexp.Regexp, 0, len(opts.TriggerRegexes))
	for _, expr := range opts.TriggerRegexes {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("compile trigger regex %q for feature %s: %w", expr, feature.ID, err)
		}
		regexes = append(regexes, re)
	}
	return &GenericCommand{feature: feature, opts: opts, regexes: regexes, transport: transport}, nil
}

func (g *GenericCommand) Feature() settings.FeatureConfig { return g.feature }

func (g *GenericCommand) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	if g.matchesWord(msg.Text, g.opts.TriggerWord) {
		g.transport.Say(msg.Channel, g.opts.Output)
		return true, nil
	}
	for _, alias := range g.opts.AdditionalTriggerWords {
		if g.matchesWord(msg.Text, alias) {
			g.transport.Say(msg.Channel, g.opts.Output)
			return true, nil
		}
	}
	for _, re := range g.regexes {
		if re.MatchString(msg.Text) {
			g.transport.Say(msg.Channel, g.opts.Output)
			return true, nil
		}
	}
	return false, nil
}

// matchesWord accepts "!word" exactly or "!word <args>", case-insensitively.
func (g *GenericCommand) matchesWord(text, word string) bool {
	if word == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	trigger := "!" + strings.ToLower(word)
	return lower == trigger || strings.HasPrefix(lower, trigger+" ")
}
