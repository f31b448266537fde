// Package visibility implements the double-gate decision logic for
// transaction detail sharing, plus the toggle cooldown checker used on
// both the group gate and per-user preferences.
//
// Detail visibility requires BOTH the group-level gate and the viewing
// record owner's per-group preference to be enabled. Statistics
// aggregates are never gated; membership alone contributes them.
package visibility

import (
	"time"
)

const (
	// GroupCooldown limits how often the owner may flip the group's
	// sharing_enabled gate.
	GroupCooldown = 15 * time.Minute

	// PreferenceCooldown limits how often a member may flip their own
	// share_details preference in a group.
	PreferenceCooldown = 5 * time.Minute

	// DailyToggleLimit caps toggles per local calendar day, per actor,
	// independently of the cooldown window.
	DailyToggleLimit = 3
)

// DetailsVisible reports whether a record owner's line-item details may
// be shown to other members. Both gates default closed.
func DetailsVisible(sharingEnabled, shareDetails bool) bool {
	return sharingEnabled && shareDetails
}

// ToggleState is the cooldown bookkeeping stored alongside each
// toggleable flag.
type ToggleState struct {
	LastToggleAt     *time.Time
	ToggleCountToday int
	CountResetAt     *time.Time
}

// Reason explains a rejected toggle.
type Reason string

const (
	ReasonCooldown   Reason = "COOLDOWN"
	ReasonDailyLimit Reason = "DAILY_LIMIT"
)

// Decision is the outcome of a toggle attempt check.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Wait is the remaining cooldown, set only for ReasonCooldown.
	Wait time.Duration
}

// CanToggle checks a toggle attempt at `now` against `state` under the
// given cooldown. A toggle exactly at LastToggleAt+cooldown is allowed.
// The daily cap applies only while the stored reset timestamp is still
// in the future; a stale reset timestamp means the counter no longer
// counts against today.
func CanToggle(state ToggleState, now time.Time, cooldown time.Duration) Decision {
	if state.LastToggleAt != nil {
		readyAt := state.LastToggleAt.Add(cooldown)
		if now.Before(readyAt) {
			return Decision{Reason: ReasonCooldown, Wait: readyAt.Sub(now)}
		}
	}

	if state.CountResetAt != nil && now.Before(*state.CountResetAt) &&
		state.ToggleCountToday >= DailyToggleLimit {
		return Decision{Reason: ReasonDailyLimit}
	}

	return Decision{Allowed: true}
}

// ApplyToggle returns the state after a successful toggle at `now`.
// The daily counter resets to 1 (this toggle counts) when the stored
// reset timestamp has passed; the next reset is the following local
// midnight in loc. The caller persists the returned state atomically
// with the flag flip.
func ApplyToggle(state ToggleState, now time.Time, loc *time.Location) ToggleState {
	t := now
	next := state

	next.LastToggleAt = &t
	if state.CountResetAt == nil || !now.Before(*state.CountResetAt) {
		reset := nextMidnight(now, loc)
		next.ToggleCountToday = 1
		next.CountResetAt = &reset
	} else {
		next.ToggleCountToday = state.ToggleCountToday + 1
	}

	return next
}

func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
