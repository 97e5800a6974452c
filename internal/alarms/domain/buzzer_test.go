package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	retry := 30 * time.Second
	fresh := now.Add(-5 * time.Second)
	stale := now.Add(-time.Minute)

	cases := []struct {
		name    string
		state   BuzzerState
		at      time.Time
		alarmed bool
		want    Decision
	}{
		{"inactive stays quiet", BuzzerInactive, stale, false, Decision{Kind: DecisionNone, Target: BuzzerInactive}},
		{"active stays on", BuzzerActive, stale, true, Decision{Kind: DecisionNone, Target: BuzzerActive}},
		{"activate", BuzzerInactive, stale, true, Decision{Kind: DecisionTransition, Pending: BuzzerPendingActive, Target: BuzzerActive, Command: CommandActivate}},
		{"deactivate", BuzzerActive, stale, false, Decision{Kind: DecisionTransition, Pending: BuzzerPendingInactive, Target: BuzzerInactive, Command: CommandDeactivate}},
		{"fresh claim waits", BuzzerPendingActive, fresh, true, Decision{Kind: DecisionWait, Target: BuzzerActive}},
		{"fresh claim waits even if fleet cleared", BuzzerPendingActive, fresh, false, Decision{Kind: DecisionWait, Target: BuzzerInactive}},
		{"stale claim retried", BuzzerPendingActive, stale, true, Decision{Kind: DecisionTransition, Pending: BuzzerPendingActive, Target: BuzzerActive, Command: CommandActivate}},
		{"stale claim reversed", BuzzerPendingInactive, stale, true, Decision{Kind: DecisionTransition, Pending: BuzzerPendingActive, Target: BuzzerActive, Command: CommandActivate}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(SignalState{Signal: SignalTemperature, State: tc.state, UpdatedAt: tc.at}, tc.alarmed, now, retry)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestConfirmedActive(t *testing.T) {
	assert.True(t, SignalState{State: BuzzerActive}.ConfirmedActive())
	assert.True(t, SignalState{State: BuzzerPendingInactive}.ConfirmedActive())
	assert.False(t, SignalState{State: BuzzerPendingActive}.ConfirmedActive())
	assert.False(t, SignalState{State: BuzzerInactive}.ConfirmedActive())
}
