package settings

// Kind-specific option payloads. Each command decodes its payload from
// FeatureConfig.Options over a default-filled value, so absent fields keep
// their defaults. Message templates use {user}, {points}, {minentries},
// {maxamount} and {fallen} placeholders substituted at send time.

// HeistOptions configures the group-wager mini-game.
type HeistOptions struct {
	StartDelaySeconds int `json:"start_delay_seconds,omitempty"`
	CooldownSeconds   int `json:"cooldown_seconds,omitempty"`
	WinChancePercent  int `json:"win_chance_percent,omitempty"`
	MinEntries        int `json:"min_entries,omitempty"`
	MaxAmount         int `json:"max_amount,omitempty"`

	OnFirstEntryMessage    string `json:"on_first_entry_message,omitempty"`
	OnEntryMessage         string `json:"on_entry_message,omitempty"`
	OnStartMessage         string `json:"on_start_message,omitempty"`
	OnSuperHeistMessage    string `json:"on_super_heist_message,omitempty"`
	GroupAllWinMessage     string `json:"group_all_win_message,omitempty"`
	GroupAllLoseMessage    string `json:"group_all_lose_message,omitempty"`
	GroupPartialWinMessage string `json:"group_partial_win_message,omitempty"`
	SoloWinMessage         string `json:"solo_win_message,omitempty"`
	SoloLossMessage        string `json:"solo_loss_message,omitempty"`
	CancelledMessage       string `json:"cancelled_message,omitempty"`
	WaitForCooldownMessage string `json:"wait_for_cooldown_message,omitempty"`
	AlreadyJoinedMessage   string `json:"already_joined_message,omitempty"`
	NotEnoughPointsMessage string `json:"not_enough_points_message,omitempty"`
	OverMaxPointsMessage   string `json:"over_max_points_message,omitempty"`
	UnderMinPointsMessage  string `json:"under_min_points_message,omitempty"`
	UndoneMessage          string `json:"undone_message,omitempty"`
	UndoNotJoinedMessage   string `json:"undo_not_joined_message,omitempty"`
	RezAnnouncementMessage string `json:"rez_announcement_message,omitempty"`
}

// DefaultHeistOptions returns the stock heist configuration.
func DefaultHeistOptions() HeistOptions {
	return HeistOptions{
		StartDelaySeconds:      120,
		CooldownSeconds:        300,
		WinChancePercent:       50,
		MinEntries:             10,
		MaxAmount:              1000,
		OnFirstEntryMessage:    "{user} is putting together a crew for a heist! Type !heist <amount> or !heist all to join in!",
		OnEntryMessage:         "{user} has joined the crew!",
		OnStartMessage:         "The crew is geared up and the heist begins!",
		OnSuperHeistMessage:    "This is a big one! With a crew this size, winners get double the payout!",
		GroupAllWinMessage:     "Flawless job! The whole crew made it out with the loot!",
		GroupAllLoseMessage:    "The heist went sideways and nobody made it out.{fallen}",
		GroupPartialWinMessage: "Some of the crew made it out, but we lost:{fallen}",
		SoloWinMessage:         "{user} pulled off a solo heist and got away clean!",
		SoloLossMessage:        "{user} went in alone and got caught. Tough break.",
		CancelledMessage:       "The heist was called off. All wagers have been refunded.",
		WaitForCooldownMessage: "The cops are still on high alert, wait for things to cool down",
		AlreadyJoinedMessage:   "{user}, you are already in the crew!",
		NotEnoughPointsMessage: "Sorry {user}, you only have {points} points.",
		OverMaxPointsMessage:   "Sorry {user}, the maximum wager is {maxamount} points.",
		UnderMinPointsMessage:  "Sorry {user}, the minimum wager is {minentries} points.",
		UndoneMessage:          "{user} backed out of the heist and got their wager back.",
		UndoNotJoinedMessage:   "{user}, you are not part of the crew.",
		RezAnnouncementMessage: "This heist isn't over yet! Winners can !rez <user> for a chance to revive a fallen crew member, sacrificing half of their winnings to recover the fallen's bet. A failed rez forfeits all winnings.",
	}
}

// BanHateOptions configures the automatic ban command.
type BanHateOptions struct {
	// Usernames containing any of these fragments are banned on sight,
	// whether they chat or follow.
	BannedUsernameFragments []string `json:"banned_username_fragments,omitempty"`
	// First-time chatters whose message contains any of these phrases
	// are banned as spam.
	SpamPhrases []string `json:"spam_phrases,omitempty"`
	BanReason   string   `json:"ban_reason,omitempty"`
	SpamReason  string   `json:"spam_reason,omitempty"`
}

// DefaultBanHateOptions returns the stock ban configuration.
func DefaultBanHateOptions() BanHateOptions {
	return BanHateOptions{
		SpamPhrases: []string{"buy followers", " followers", " viewers", " views"},
		BanReason:   "We don't tolerate hate in this channel. Goodbye.",
		SpamReason:  "We don't want what you are selling.. go away.",
	}
}

// ClipOptions configures the clip command. SubmitURL names the external
// submission endpoint used by the advanced variant; SubmitSiteName appears
// in user-facing messages.
type ClipOptions struct {
	SubmitURL      string `json:"submit_url,omitempty"`
	SubmitSiteName string `json:"submit_site_name,omitempty"`
}

// SongRequestOptions configures the song commands. PlayerBaseURL points at
// the music-integration service.
type SongRequestOptions struct {
	PlayerBaseURL     string `json:"player_base_url,omitempty"`
	MessageBeforeSong string `json:"message_before_song,omitempty"`
}

// DefaultSongRequestOptions returns the stock song configuration.
func DefaultSongRequestOptions() SongRequestOptions {
	return SongRequestOptions{MessageBeforeSong: "Currently playing:"}
}

// AskMeAnythingOptions configures the answer-generation command.
type AskMeAnythingOptions struct {
	AnswerBaseURL            string `json:"answer_base_url,omitempty"`
	AdditionalPrompt         string `json:"additional_prompt,omitempty"`
	ReactToFirstTimeChatters bool   `json:"react_to_first_time_chatters,omitempty"`
	ReactToFollows           bool   `json:"react_to_follows,omitempty"`
}

// GenericOptions configures the fallback trigger/response command.
type GenericOptions struct {
	TriggerWord            string   `json:"trigger_word,omitempty"`
	AdditionalTriggerWords []string `json:"additional_trigger_words,omitempty"`
	TriggerRegexes         []string `json:"trigger_regexes,omitempty"`
	Output                 string   `json:"output,omitempty"`
}
