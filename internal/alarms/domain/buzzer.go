package alarms

import (
	"context"
	"time"
)

// BuzzerState is the fleet buzzer state for one signal.
type BuzzerState string

const (
	BuzzerInactive        BuzzerState = "inactive"
	BuzzerActive          BuzzerState = "active"
	BuzzerPendingActive   BuzzerState = "pending_active"
	BuzzerPendingInactive BuzzerState = "pending_inactive"
)

// Valid reports whether s is a known state.
func (s BuzzerState) Valid() bool {
	switch s {
	case BuzzerInactive, BuzzerActive, BuzzerPendingActive, BuzzerPendingInactive:
		return true
	}
	return false
}

// Pending reports whether a command for s is in flight or unconfirmed.
func (s BuzzerState) Pending() bool {
	return s == BuzzerPendingActive || s == BuzzerPendingInactive
}

// pendingFor returns the in-flight marker for a stable target.
func pendingFor(target BuzzerState) BuzzerState {
	if target == BuzzerActive {
		return BuzzerPendingActive
	}
	return BuzzerPendingInactive
}

// SignalState is the versioned persisted record for one signal.
type SignalState struct {
	Signal    Signal
	State     BuzzerState
	Version   int64
	UpdatedAt time.Time
}

// ConfirmedActive reports the last actuator state known to be delivered.
func (s SignalState) ConfirmedActive() bool {
	return s.State == BuzzerActive || s.State == BuzzerPendingInactive
}

// FleetBuzzerState is the singleton over both signals.
type FleetBuzzerState struct {
	Temperature SignalState
	Humidity    SignalState
}

// For returns the record for signal.
func (f FleetBuzzerState) For(signal Signal) SignalState {
	if signal == SignalHumidity {
		return f.Humidity
	}
	return f.Temperature
}

// BuzzerRepository persists the fleet buzzer singleton.
type BuzzerRepository interface {
	Get(ctx context.Context) (FleetBuzzerState, error)
	// CompareAndSet moves signal to next only if the stored record still has
	// expected.State and expected.Version. The version is incremented on success.
	CompareAndSet(ctx context.Context, expected SignalState, next BuzzerState, at time.Time) (bool, error)
}

// Command is the actuator instruction for a transition.
type Command string

const (
	CommandActivate   Command = "activate"
	CommandDeactivate Command = "deactivate"
)

// DecisionKind classifies the outcome of Decide.
type DecisionKind int

const (
	// DecisionNone means the stored state already matches the fleet.
	DecisionNone DecisionKind = iota
	// DecisionWait means another evaluation holds a fresh pending claim.
	DecisionWait
	// DecisionTransition means claim Pending, send Command, then confirm Target.
	DecisionTransition
)

// Decision is what the state machine wants done for one signal.
type Decision struct {
	Kind    DecisionKind
	Pending BuzzerState
	Target  BuzzerState
	Command Command
}

// Decide computes the transition for current given the fleet aggregate.
// Pending claims younger than retryAfter belong to an in-flight dispatch;
// older ones are treated as failed and re-claimed.
func Decide(current SignalState, fleetAlarmed bool, now time.Time, retryAfter time.Duration) Decision {
	target := BuzzerInactive
	command := CommandDeactivate
	if fleetAlarmed {
		target = BuzzerActive
		command = CommandActivate
	}
	if current.State == target {
		return Decision{Kind: DecisionNone, Target: target}
	}
	if current.State.Pending() && now.Sub(current.UpdatedAt) < retryAfter {
		return Decision{Kind: DecisionWait, Target: target}
	}
	return Decision{
		Kind:    DecisionTransition,
		Pending: pendingFor(target),
		Target:  target,
		Command: command,
	}
}
