package visibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetailsVisible(t *testing.T) {
	tests := []struct {
		sharingEnabled bool
		shareDetails   bool
		want           bool
	}{
		{false, false, false},
		{false, true, false},
		{true, false, false},
		{true, true, true},
	}

	for _, tt := range tests {
		got := DetailsVisible(tt.sharingEnabled, tt.shareDetails)
		assert.Equal(t, tt.want, got,
			"sharingEnabled=%v shareDetails=%v", tt.sharingEnabled, tt.shareDetails)
	}
}

func TestCanToggleCooldownBoundary(t *testing.T) {
	last := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	state := ToggleState{LastToggleAt: &last}

	// One millisecond before the cooldown elapses: rejected with the
	// remaining wait.
	early := last.Add(PreferenceCooldown).Add(-time.Millisecond)
	d := CanToggle(state, early, PreferenceCooldown)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, time.Millisecond, d.Wait)

	// Exactly at lastToggleAt + cooldown: allowed.
	exact := last.Add(PreferenceCooldown)
	d = CanToggle(state, exact, PreferenceCooldown)
	assert.True(t, d.Allowed)
}

func TestCanToggleNeverToggled(t *testing.T) {
	d := CanToggle(ToggleState{}, time.Now(), GroupCooldown)
	assert.True(t, d.Allowed)
}

func TestCanToggleDailyLimit(t *testing.T) {
	now := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	last := now.Add(-time.Hour)
	reset := now.Add(6 * time.Hour)

	state := ToggleState{
		LastToggleAt:     &last,
		ToggleCountToday: DailyToggleLimit,
		CountResetAt:     &reset,
	}

	d := CanToggle(state, now, PreferenceCooldown)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonDailyLimit, d.Reason)

	// Once the reset timestamp has passed, the stale counter no longer
	// applies even though it still reads 3.
	afterReset := reset.Add(time.Minute)
	d = CanToggle(state, afterReset, PreferenceCooldown)
	assert.True(t, d.Allowed)
}

func TestApplyToggleResetsCounterToOne(t *testing.T) {
	loc := time.UTC
	last := time.Date(2024, 6, 1, 23, 0, 0, 0, loc)
	reset := time.Date(2024, 6, 2, 0, 0, 0, 0, loc)

	state := ToggleState{
		LastToggleAt:     &last,
		ToggleCountToday: DailyToggleLimit,
		CountResetAt:     &reset,
	}

	// First toggle after the reset boundary: counter becomes 1, not 0,
	// and the next reset moves to the following midnight.
	now := time.Date(2024, 6, 2, 8, 30, 0, 0, loc)
	next := ApplyToggle(state, now, loc)

	assert.Equal(t, 1, next.ToggleCountToday)
	assert.Equal(t, now, *next.LastToggleAt)
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, loc), *next.CountResetAt)
}

func TestApplyToggleIncrementsWithinDay(t *testing.T) {
	loc := time.UTC
	last := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)
	reset := time.Date(2024, 6, 2, 0, 0, 0, 0, loc)

	state := ToggleState{
		LastToggleAt:     &last,
		ToggleCountToday: 1,
		CountResetAt:     &reset,
	}

	now := last.Add(time.Hour)
	next := ApplyToggle(state, now, loc)

	assert.Equal(t, 2, next.ToggleCountToday)
	assert.Equal(t, reset, *next.CountResetAt)
}

func TestApplyToggleFirstEver(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, loc)

	next := ApplyToggle(ToggleState{}, now, loc)

	assert.Equal(t, 1, next.ToggleCountToday)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, loc), *next.CountResetAt)
}
