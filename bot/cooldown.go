// Package bot implements the per-tenant command runtime: the dispatch
// pipeline that gates inbound chat messages, the command implementations,
// and the connection supervisor that keeps a tenant's transports alive.
package bot

import (
	"strings"
	"sync"
	"time"
)

// CooldownTracker rate limits one command, globally and per user. Checking
// and recording are separate so a command that declines a message (wrong
// trigger, malformed input) does not burn the cooldown window.
type CooldownTracker struct {
	global  time.Duration
	perUser time.Duration

	mu         sync.Mutex
	lastGlobal time.Time
	lastUser   map[string]time.Time
}

// NewCooldownTracker creates a tracker with cooldowns given in seconds.
// Zero disables the corresponding gate.
func NewCooldownTracker(globalSeconds, userSeconds int) *CooldownTracker {
	return &CooldownTracker{
		global:   time.Duration(globalSeconds) * time.Second,
		perUser:  time.Duration(userSeconds) * time.Second,
		lastUser: make(map[string]time.Time),
	}
}

// TryConsume reports whether the command may run at now for the given user.
// The global window is checked first; the per-user window only applies when
// the user has a prior recorded execution.
func (c *CooldownTracker) TryConsume(now time.Time, userKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.lastGlobal.Add(c.global)) {
		return false
	}
	if last, ok := c.lastUser[strings.ToLower(userKey)]; ok && now.Before(last.Add(c.perUser)) {
		return false
	}
	return true
}

// Record stores an execution timestamp for both windows. Called only after
// the command reports it actually handled the message.
func (c *CooldownTracker) Record(now time.Time, userKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastGlobal = now
	c.lastUser[strings.ToLower(userKey)] = now
}
