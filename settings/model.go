// Package settings defines tenant configuration: which channel a bot serves,
// the identity it chats as, and the set of features enabled for it. The
// settings store owns these records; running bots hold read-only snapshots
// that are replaced wholesale on update.
package settings

import (
	"encoding/json"
	"fmt"
)

// PermissionLevel orders the role required to run a command. Higher levels
// include every role below them when checked against a user's role flags.
type PermissionLevel int

const (
	PermissionEveryone PermissionLevel = iota
	PermissionLoyalUser
	PermissionSubscriber
	PermissionVip
	PermissionMod
	PermissionSuperMod
	PermissionBroadcaster
)

var permissionNames = map[PermissionLevel]string{
	PermissionEveryone:    "everyone",
	PermissionLoyalUser:   "loyal_user",
	PermissionSubscriber:  "subscriber",
	PermissionVip:         "vip",
	PermissionMod:         "mod",
	PermissionSuperMod:    "super_mod",
	PermissionBroadcaster: "broadcaster",
}

func (p PermissionLevel) String() string {
	if s, ok := permissionNames[p]; ok {
		return s
	}
	return fmt.Sprintf("permission(%d)", int(p))
}

// MarshalText renders the level as its lowercase name for JSON payloads.
func (p PermissionLevel) MarshalText() ([]byte, error) {
	s, ok := permissionNames[p]
	if !ok {
		return nil, fmt.Errorf("unknown permission level %d", int(p))
	}
	return []byte(s), nil
}

func (p *PermissionLevel) UnmarshalText(text []byte) error {
	for level, name := range permissionNames {
		if name == string(text) {
			*p = level
			return nil
		}
	}
	return fmt.Errorf("unknown permission level %q", string(text))
}

// Availability controls whether a command runs only while the stream is
// live, only while it is offline, or always.
type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
	AvailabilityBoth    Availability = "both"
)

// FeatureKind names a command implementation. Kinds without a dedicated
// implementation fall back to the generic trigger/response command.
type FeatureKind string

const (
	KindBanHate       FeatureKind = "ban_hate"
	KindHeist         FeatureKind = "heist"
	KindClip          FeatureKind = "clip"
	KindAdvancedClip  FeatureKind = "advanced_clip"
	KindSongRequest   FeatureKind = "song_request"
	KindAskMeAnything FeatureKind = "ask_me_anything"
	KindGeneric       FeatureKind = "generic"
)

// FeatureConfig configures one command for one tenant. ID is stable for the
// feature's lifetime within the tenant; Options carries the kind-specific
// payload, opaque to the pipeline.
type FeatureConfig struct {
	ID                    string          `json:"id"`
	Kind                  FeatureKind     `json:"kind"`
	Enabled               bool            `json:"enabled"`
	Permission            PermissionLevel `json:"permission"`
	Availability          Availability    `json:"availability"`
	GlobalCooldownSeconds int             `json:"global_cooldown_seconds"`
	UserCooldownSeconds   int             `json:"user_cooldown_seconds"`
	Options               json.RawMessage `json:"options,omitempty"`
}

// DecodeOptions unmarshals the kind-specific payload into v. A missing
// payload leaves v untouched so callers can pre-fill defaults.
func (f *FeatureConfig) DecodeOptions(v any) error {
	if len(f.Options) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Options, v); err != nil {
		return fmt.Errorf("decode %s options for feature %s: %w", f.Kind, f.ID, err)
	}
	return nil
}

// rebootRequired reports whether a field change between two versions of the
// same feature invalidates running connections. Changing the kind swaps the
// command implementation; everything else (cooldowns, permission, messages)
// is applied by rebuilding the command list on a live connection.
func (f *FeatureConfig) rebootRequired(other *FeatureConfig) bool {
	return f.Kind != other.Kind
}

// TenantSettings is the full configuration snapshot for one tenant.
// Bot credential fields may be stored encrypted; the store transparently
// decrypts on load. Empty bot credentials mean the fleet-wide default
// identity is used.
type TenantSettings struct {
	TenantID        string          `json:"tenant_id"`
	DisplayName     string          `json:"display_name"`
	ChannelName     string          `json:"channel_name"`
	BroadcasterID   string          `json:"broadcaster_id"`
	BotUsername     string          `json:"bot_username,omitempty"`
	BotOAuthToken   string          `json:"bot_oauth_token,omitempty"`
	BotRefreshToken string          `json:"bot_refresh_token,omitempty"`
	LedgerChannelID string          `json:"ledger_channel_id,omitempty"`
	LedgerJWT       string          `json:"ledger_jwt,omitempty"`
	IsActive        bool            `json:"is_active"`
	Features        []FeatureConfig `json:"features"`
}

// UsesDefaultBot reports whether the tenant relies on the fleet-wide
// default bot identity instead of its own credentials.
func (s *TenantSettings) UsesDefaultBot() bool {
	return s.BotUsername == "" || s.BotOAuthToken == ""
}

// Feature returns the feature with the given id, or nil.
func (s *TenantSettings) Feature(id string) *FeatureConfig {
	for i := range s.Features {
		if s.Features[i].ID == id {
			return &s.Features[i]
		}
	}
	return nil
}

// RebootRequiredChanged reports whether identity or connection fields
// changed between two snapshots. Changes to these fields invalidate the
// tenant's live chat and event connections.
func (s *TenantSettings) RebootRequiredChanged(next *TenantSettings) bool {
	return s.ChannelName != next.ChannelName ||
		s.BroadcasterID != next.BroadcasterID ||
		s.BotUsername != next.BotUsername ||
		s.BotOAuthToken != next.BotOAuthToken ||
		s.BotRefreshToken != next.BotRefreshToken
}

// FeatureSetChanged reports whether any feature was added, removed, or had
// a reboot-required field change value between the two feature lists.
func FeatureSetChanged(old, next []FeatureConfig) bool {
	oldByID := make(map[string]*FeatureConfig, len(old))
	for i := range old {
		oldByID[old[i].ID] = &old[i]
	}
	nextByID := make(map[string]*FeatureConfig, len(next))
	for i := range next {
		nextByID[next[i].ID] = &next[i]
	}
	for id, of := range oldByID {
		nf, ok := nextByID[id]
		if !ok {
			return true
		}
		if of.rebootRequired(nf) {
			return true
		}
	}
	for id := range nextByID {
		if _, ok := oldByID[id]; !ok {
			return true
		}
	}
	return false
}

// NeedsRestart decides between a full tenant restart and a hot patch of the
// command set for a settings update.
func NeedsRestart(old, next *TenantSettings) bool {
	return old.RebootRequiredChanged(next) || FeatureSetChanged(old.Features, next.Features)
}

// ChangeType classifies a change-feed record.
type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

// ChangeRecord is one entry in the settings change feed.
type ChangeRecord struct {
	ID         int64
	Partition  int
	TenantID   string
	ChangeType ChangeType
}
