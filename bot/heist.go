package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamforge/botfleet/ledger"
	"github.com/streamforge/botfleet/settings"
	"github.com/streamforge/botfleet/telemetry"
)

// PointsLedger is the rewards-ledger contract wagering commands need.
// *ledger.Client satisfies it.
type PointsLedger interface {
	GetUser(ctx context.Context, username string) (*ledger.User, error)
	AdjustPoints(ctx context.Context, username string, delta int64) error
}

// HeistPhase is the round state machine.
type HeistPhase int

const (
	HeistIdle HeistPhase = iota
	HeistAccepting
	HeistResolving
	HeistCooldown
)

// HeistParticipant is one wager in a round. Won stays nil until the round
// resolves; the rez flags only matter once the participant has moved to the
// previous-round list.
type HeistParticipant struct {
	Username    string
	DisplayName string
	Wager       int64
	Won         *bool
	UsedRez     bool
	WasRezzed   bool
}

var (
	heistJoinRe   = regexp.MustCompile(`^!heist (\d+)$`)
	heistAllRe    = regexp.MustCompile(`^!heist all$`)
	heistCancelRe = regexp.MustCompile(`^!heist cancel$`)
	heistUndoRe   = regexp.MustCompile(`^!heist undo$`)
	heistRezRe    = regexp.MustCompile(`^!rez @?(\S+)$`)
)

// HeistGame is the timed group-wager command. All state transitions are
// serialized by the game mutex; ledger calls happen outside the lock so a
// slow ledger cannot stall sibling joins longer than necessary. The round
// counter invalidates stale timers: a timer firing after its round was
// cancelled or resolved is a no-op.
type HeistGame struct {
	feature   settings.FeatureConfig
	opts      settings.HeistOptions
	transport ChatTransport
	ledger    PointsLedger
	channel   string
	logger    *slog.Logger

	mu            sync.Mutex
	phase         HeistPhase
	round         int
	cooldownUntil time.Time
	participants  []*HeistParticipant
	previous      []*HeistParticipant
	timer         *time.Timer

	now  func() time.Time
	roll func() int // uniform in [1,99], compared against the win chance
}

// NewHeistGame builds the game from its feature payload, filling defaults
// for absent fields.
func NewHeistGame(feature settings.FeatureConfig, transport ChatTransport, lg PointsLedger, channel string, logger *slog.Logger) (*HeistGame, error) {
	telemetry.Init()
	opts := settings.DefaultHeistOptions()
	if err := feature.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeistGame{
		feature:   feature,
		opts:      opts,
		transport: transport,
		ledger:    lg,
		channel:   channel,
		logger:    logger.With(slog.String("feature", feature.ID)),
		now:       time.Now,
		roll:      func() int { return rand.IntN(99) + 1 },
	}, nil
}

func (g *HeistGame) Feature() settings.FeatureConfig { return g.feature }

// Phase reports the current round state. Idle with an unexpired cooldown
// reads as Cooldown.
func (g *HeistGame) Phase() HeistPhase {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phase == HeistIdle && g.now().Before(g.cooldownUntil) {
		return HeistCooldown
	}
	return g.phase
}

func (g *HeistGame) ProcessMessage(ctx context.Context, msg *InboundMessage) (bool, error) {
	text := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case heistJoinRe.MatchString(text):
		wager, err := strconv.ParseInt(heistJoinRe.FindStringSubmatch(text)[1], 10, 64)
		if err != nil {
			return false, nil
		}
		return g.join(ctx, msg, wager, false)
	case heistAllRe.MatchString(text):
		return g.join(ctx, msg, 0, true)
	case heistCancelRe.MatchString(text):
		if msg.IsMod || msg.IsBroadcaster {
			g.cancel(ctx)
		}
		return true, nil
	case heistUndoRe.MatchString(text):
		return g.undo(ctx, msg)
	case heistRezRe.MatchString(text):
		return g.rez(ctx, msg, heistRezRe.FindStringSubmatch(text)[1])
	}
	return false, nil
}

// join validates the wager, reserves a participant slot under the lock and
// deducts the wager afterwards. The first join of a round opens it and arms
// the countdown timer.
func (g *HeistGame) join(ctx context.Context, msg *InboundMessage, wager int64, isAll bool) (bool, error) {
	user, err := g.ledger.GetUser(ctx, msg.Username)
	if err != nil {
		return false, fmt.Errorf("heist: get balance for %s: %w", msg.Username, err)
	}

	g.mu.Lock()
	now := g.now()
	if g.phase == HeistResolving {
		g.mu.Unlock()
		return true, nil
	}
	if g.phase == HeistIdle && now.Before(g.cooldownUntil) {
		remaining := int(g.cooldownUntil.Sub(now).Seconds())
		g.mu.Unlock()
		g.say(fmt.Sprintf("%s: %d seconds remaining.", g.opts.WaitForCooldownMessage, remaining))
		return true, nil
	}
	if g.findParticipant(g.participants, msg.Username) != nil {
		g.mu.Unlock()
		g.say(g.render(g.opts.AlreadyJoinedMessage, msg.DisplayName))
		return true, nil
	}
	if isAll {
		wager = min(user.Points, int64(g.opts.MaxAmount))
		if wager < 1 {
			wager = 1
		}
	} else {
		if wager > user.Points {
			g.mu.Unlock()
			g.say(strings.ReplaceAll(g.render(g.opts.NotEnoughPointsMessage, msg.DisplayName), "{points}", strconv.FormatInt(user.Points, 10)))
			return true, nil
		}
		if wager > int64(g.opts.MaxAmount) {
			g.mu.Unlock()
			g.say(g.render(g.opts.OverMaxPointsMessage, msg.DisplayName))
			return true, nil
		}
		if wager < int64(g.opts.MinEntries) {
			g.mu.Unlock()
			g.say(g.render(g.opts.UnderMinPointsMessage, msg.DisplayName))
			return true, nil
		}
	}

	p := &HeistParticipant{
		Username:    strings.ToLower(msg.Username),
		DisplayName: msg.DisplayName,
		Wager:       wager,
	}
	g.participants = append(g.participants, p)
	count := len(g.participants)
	opening := g.phase != HeistAccepting
	if opening {
		g.phase = HeistAccepting
		g.round++
		round := g.round
		g.timer = time.AfterFunc(time.Duration(g.opts.StartDelaySeconds)*time.Second, func() {
			g.resolve(round)
		})
	}
	g.mu.Unlock()

	if err := g.ledger.AdjustPoints(ctx, p.Username, -wager); err != nil {
		g.mu.Lock()
		g.removeParticipant(p.Username)
		if len(g.participants) == 0 && g.phase == HeistAccepting {
			g.round++
			if g.timer != nil {
				g.timer.Stop()
			}
			g.phase = HeistIdle
			g.cooldownUntil = g.now()
		}
		g.mu.Unlock()
		return false, fmt.Errorf("heist: deduct wager for %s: %w", p.Username, err)
	}

	if opening {
		telemetry.HeistsStarted.Inc()
		g.say(g.render(g.opts.OnFirstEntryMessage, msg.DisplayName))
	} else {
		g.say(g.render(g.opts.OnEntryMessage, msg.DisplayName))
		if count == 8 {
			g.say(g.opts.OnSuperHeistMessage)
		}
	}
	return true, nil
}

// resolve settles the round identified by round. A stale round number means
// the round was cancelled or already settled and the timer is a no-op.
func (g *HeistGame) resolve(round int) {
	ctx := context.Background()

	g.mu.Lock()
	if g.phase != HeistAccepting || g.round != round {
		g.mu.Unlock()
		return
	}
	g.phase = HeistResolving
	participants := g.participants
	g.mu.Unlock()

	for _, p := range participants {
		won := g.roll() < g.opts.WinChancePercent
		p.Won = &won
	}

	g.say(g.opts.OnStartMessage)
	if len(participants) >= 8 {
		g.say(g.opts.OnSuperHeistMessage)
	}
	g.announceOutcome(participants)
	g.payWinners(ctx, participants)

	winners, losers := 0, 0
	for _, p := range participants {
		if *p.Won {
			winners++
		} else {
			losers++
		}
	}
	if winners > 0 && losers > 0 {
		g.say(g.opts.RezAnnouncementMessage)
	}

	g.mu.Lock()
	g.previous = participants
	g.participants = nil
	g.phase = HeistIdle
	g.cooldownUntil = g.now().Add(time.Duration(g.opts.CooldownSeconds) * time.Second)
	g.mu.Unlock()
	telemetry.HeistsResolved.Inc()
}

// cancel refunds every active participant and waives the usual cooldown.
func (g *HeistGame) cancel(ctx context.Context) {
	g.mu.Lock()
	if g.phase != HeistAccepting {
		g.mu.Unlock()
		return
	}
	g.round++
	if g.timer != nil {
		g.timer.Stop()
	}
	refunds := g.participants
	g.previous = refunds
	g.participants = nil
	g.phase = HeistIdle
	g.cooldownUntil = g.now()
	g.mu.Unlock()

	for _, p := range refunds {
		if err := g.ledger.AdjustPoints(ctx, p.Username, p.Wager); err != nil {
			g.logger.Error("heist refund failed", slog.String("user", p.Username), slog.Any("err", err))
		}
	}
	g.say(g.opts.CancelledMessage)
	telemetry.HeistsCancelled.Inc()
}

// undo refunds the caller's wager and removes them from the round,
// cancelling it outright when nobody is left.
func (g *HeistGame) undo(ctx context.Context, msg *InboundMessage) (bool, error) {
	g.mu.Lock()
	if g.phase != HeistAccepting {
		g.mu.Unlock()
		return true, nil
	}
	p := g.findParticipant(g.participants, msg.Username)
	if p == nil {
		g.mu.Unlock()
		g.say(g.render(g.opts.UndoNotJoinedMessage, msg.DisplayName))
		return true, nil
	}
	g.removeParticipant(p.Username)
	emptied := len(g.participants) == 0
	if emptied {
		g.round++
		if g.timer != nil {
			g.timer.Stop()
		}
		g.previous = nil
		g.phase = HeistIdle
		g.cooldownUntil = g.now()
	}
	g.mu.Unlock()

	if err := g.ledger.AdjustPoints(ctx, p.Username, p.Wager); err != nil {
		return true, fmt.Errorf("heist: refund %s: %w", p.Username, err)
	}
	g.say(g.render(g.opts.UndoneMessage, msg.DisplayName))
	if emptied {
		g.say(g.opts.CancelledMessage)
		telemetry.HeistsCancelled.Inc()
	}
	return true, nil
}

// rez lets a winner of the previous round gamble their winnings to restore
// a fallen participant's wager. Every guard has its own rejection message.
func (g *HeistGame) rez(ctx context.Context, msg *InboundMessage, targetName string) (bool, error) {
	g.mu.Lock()
	if g.phase == HeistAccepting || g.phase == HeistResolving {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, you cannot rez someone while a heist is still in progress!", msg.DisplayName))
		return true, nil
	}
	rezzer := g.findParticipant(g.previous, msg.Username)
	if rezzer == nil {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, only people who participated in the last heist can rez!", msg.DisplayName))
		return true, nil
	}
	if rezzer.Won == nil || !*rezzer.Won {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, you cannot rez if you lost the last heist!", msg.DisplayName))
		return true, nil
	}
	target := g.findParticipant(g.previous, targetName)
	if target == nil {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, you cannot rez someone who did not participate in the last heist!", msg.DisplayName))
		return true, nil
	}
	if target.Won != nil && *target.Won {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, you cannot rez someone who won the last heist!", msg.DisplayName))
		return true, nil
	}
	if target.WasRezzed {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, %s has already been rezzed.", msg.DisplayName, target.DisplayName))
		return true, nil
	}
	if rezzer.UsedRez {
		g.mu.Unlock()
		g.say(fmt.Sprintf("Sorry %s, you can only rez one person per heist!", msg.DisplayName))
		return true, nil
	}

	success := g.roll() < g.opts.WinChancePercent
	rezzer.UsedRez = true
	if success {
		target.WasRezzed = true
	}
	winnings := rezzer.Wager
	recovered := target.Wager
	g.mu.Unlock()

	if success {
		g.say(fmt.Sprintf("%s swooped in and sacrificed half of their heist winnings (%d) to bring back %s from the dead and recover their original bet (%d)!",
			rezzer.DisplayName, winnings/2, target.DisplayName, recovered))
		if err := g.ledger.AdjustPoints(ctx, rezzer.Username, -(winnings / 2)); err != nil {
			return true, fmt.Errorf("heist: rez debit for %s: %w", rezzer.Username, err)
		}
		if err := g.ledger.AdjustPoints(ctx, target.Username, recovered); err != nil {
			return true, fmt.Errorf("heist: rez credit for %s: %w", target.Username, err)
		}
	} else {
		g.say(fmt.Sprintf("%s got stunned while trying to rez %s and lost all their winnings (%d)!",
			rezzer.DisplayName, target.DisplayName, winnings))
		if err := g.ledger.AdjustPoints(ctx, rezzer.Username, -winnings); err != nil {
			return true, fmt.Errorf("heist: rez forfeit for %s: %w", rezzer.Username, err)
		}
	}
	return true, nil
}

func (g *HeistGame) announceOutcome(participants []*HeistParticipant) {
	allWon, allLost := true, true
	var fallen []string
	for _, p := range participants {
		if *p.Won {
			allLost = false
		} else {
			allWon = false
			fallen = append(fallen, p.DisplayName)
		}
	}
	fallenList := ""
	if len(fallen) > 0 {
		fallenList = " " + strings.Join(fallen, ", ")
	}
	solo := len(participants) == 1
	switch {
	case allWon:
		if solo {
			g.say(g.render(g.opts.SoloWinMessage, participants[0].DisplayName))
		} else {
			g.say(g.opts.GroupAllWinMessage)
		}
	case allLost:
		if solo {
			g.say(g.render(g.opts.SoloLossMessage, participants[0].DisplayName))
		} else {
			g.say(strings.ReplaceAll(g.opts.GroupAllLoseMessage, "{fallen}", fallenList))
		}
	default:
		g.say(strings.ReplaceAll(g.opts.GroupPartialWinMessage, "{fallen}", fallenList))
	}
}

// payWinners credits 2x the wager, doubled again for rounds of eight or
// more, and announces the totals.
func (g *HeistGame) payWinners(ctx context.Context, participants []*HeistParticipant) {
	var results []string
	for _, p := range participants {
		if !*p.Won {
			continue
		}
		payout := p.Wager * 2
		if len(participants) >= 8 {
			payout *= 2
		}
		if err := g.ledger.AdjustPoints(ctx, p.Username, payout); err != nil {
			g.logger.Error("heist payout failed", slog.String("user", p.Username), slog.Any("err", err))
			continue
		}
		results = append(results, fmt.Sprintf("%s (%d)", p.DisplayName, payout))
	}
	if len(results) > 0 {
		g.say("Result: " + strings.Join(results, ", "))
	}
}

func (g *HeistGame) findParticipant(list []*HeistParticipant, username string) *HeistParticipant {
	needle := strings.ToLower(username)
	for _, p := range list {
		if p.Username == needle {
			return p
		}
	}
	return nil
}

// removeParticipant must be called with the lock held.
func (g *HeistGame) removeParticipant(username string) {
	for i, p := range g.participants {
		if p.Username == username {
			g.participants = append(g.participants[:i], g.participants[i+1:]...)
			return
		}
	}
}

// render substitutes the common placeholders in a message template.
func (g *HeistGame) render(tmpl, displayName string) string {
	r := strings.NewReplacer(
		"{user}", displayName,
		"{minentries}", strconv.Itoa(g.opts.MinEntries),
		"{maxamount}", strconv.Itoa(g.opts.MaxAmount),
	)
	return r.Replace(tmpl)
}

func (g *HeistGame) say(text string) {
	g.transport.Say(g.channel, text)
}
