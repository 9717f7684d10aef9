package bot

import "github.com/streamforge/botfleet/settings"

// UserHasPermission checks the sender's role flags against the required
// level. Each level grants every level above it in the role hierarchy, so
// a moderator passes subscriber-gated commands. LoyalUser and SuperMod are
// reserved levels with no granting role yet; they deny everyone until the
// watch-time and editor systems land.
func UserHasPermission(level settings.PermissionLevel, msg *InboundMessage) bool {
	switch level {
	case settings.PermissionEveryone:
		return true
	case settings.PermissionLoyalUser:
		return false
	case settings.PermissionSubscriber:
		return msg.IsSubscriber || msg.IsVip || msg.IsMod || msg.IsBroadcaster
	case settings.PermissionVip:
		return msg.IsVip || msg.IsMod || msg.IsBroadcaster
	case settings.PermissionMod:
		return msg.IsMod || msg.IsBroadcaster
	case settings.PermissionSuperMod:
		return false
	case settings.PermissionBroadcaster:
		return msg.IsBroadcaster
	}
	return false
}
