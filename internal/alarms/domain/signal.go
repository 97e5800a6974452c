package alarms

import "fmt"

// Signal is one independently tracked alarm condition.
type Signal string

const (
	SignalTemperature Signal = "temperature"
	SignalHumidity    Signal = "humidity"
)

// Signals lists every tracked signal in evaluation order.
var Signals = []Signal{SignalTemperature, SignalHumidity}

// ParseSignal validates a signal name.
func ParseSignal(value string) (Signal, error) {
	switch Signal(value) {
	case SignalTemperature, SignalHumidity:
		return Signal(value), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSignal, value)
	}
}

// Valid reports whether s is a tracked signal.
func (s Signal) Valid() bool {
	return s == SignalTemperature || s == SignalHumidity
}
